package device

import (
	"fmt"

	"github.com/skobkin/koradgo/internal/protocol"
)

const (
	// ISETn? answers with six bytes: five characters of value followed by
	// a stray byte that has to be drained.
	currentSetReplyLen  = 6
	currentSetValueLen  = 5
	voltageSetReplyLen  = 5
	outputValueReplyLen = 5
)

// Channel controls one output channel.
type Channel struct {
	proto  *protocol.Channel
	Number int
}

// Current returns the current limit set-point in amperes.
func (c Channel) Current() (float64, bool, error) {
	reply, err := c.proto.SendReceive(fmt.Sprintf("ISET%d?", c.Number), currentSetReplyLen)
	if err != nil {
		return 0, false, err
	}
	if len(reply) > currentSetValueLen {
		reply = reply[:currentSetValueLen]
	}
	v, ok := parseFloat(reply)
	return v, ok, nil
}

func (c Channel) SetCurrent(amps float64) error {
	return c.proto.Send(fmt.Sprintf("ISET%d:%05.3f", c.Number, amps))
}

// Voltage returns the voltage set-point in volts.
func (c Channel) Voltage() (float64, bool, error) {
	return c.queryFloat(fmt.Sprintf("VSET%d?", c.Number), voltageSetReplyLen)
}

func (c Channel) SetVoltage(volts float64) error {
	return c.proto.Send(fmt.Sprintf("VSET%d:%05.2f", c.Number, volts))
}

// OutputCurrent returns the measured output current in amperes.
func (c Channel) OutputCurrent() (float64, bool, error) {
	return c.queryFloat(fmt.Sprintf("IOUT%d?", c.Number), outputValueReplyLen)
}

// OutputVoltage returns the measured output voltage in volts.
func (c Channel) OutputVoltage() (float64, bool, error) {
	return c.queryFloat(fmt.Sprintf("VOUT%d?", c.Number), outputValueReplyLen)
}

func (c Channel) queryFloat(command string, replyLen int) (float64, bool, error) {
	reply, err := c.proto.SendReceive(command, replyLen)
	if err != nil {
		return 0, false, err
	}
	v, ok := parseFloat(reply)
	return v, ok, nil
}
