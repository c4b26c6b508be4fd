package device

import (
	"fmt"

	"github.com/skobkin/koradgo/internal/protocol"
)

// Memory is one of the M1-M5 preset slots.
//
// To store a preset: Recall the slot, set voltage and current, then Save.
type Memory struct {
	proto  *protocol.Channel
	Number int
}

// Recall loads the slot's voltage and current.
func (m Memory) Recall() error {
	return m.proto.Send(fmt.Sprintf("RCL%d", m.Number))
}

// Save stores the present voltage and current into the slot.
func (m Memory) Save() error {
	return m.proto.Send(fmt.Sprintf("SAV%d", m.Number))
}

type OnOffButton struct {
	proto      *protocol.Channel
	onCommand  string
	offCommand string
}

func (b OnOffButton) On() error {
	return b.proto.Send(b.onCommand)
}

func (b OnOffButton) Off() error {
	return b.proto.Send(b.offCommand)
}

// Set switches the button on or off.
func (b OnOffButton) Set(on bool) error {
	if on {
		return b.On()
	}
	return b.Off()
}
