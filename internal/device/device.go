// Package device maps power supply operations onto protocol commands.
//
// Replies that cannot be parsed, including empty replies after a timeout, are
// reported as "no value" rather than as errors: the serial link is expected to
// glitch now and then. Nothing here retries; a caller that needs a value can
// repeat the query.
package device

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/skobkin/koradgo/internal/protocol"
	"github.com/skobkin/koradgo/internal/status"
	"github.com/skobkin/koradgo/internal/transport"
)

const (
	ChannelCount = 2
	MemoryCount  = 5
)

// ErrUnknownTracking is returned by Track for values outside the defined set.
var ErrUnknownTracking = errors.New("unknown tracking mode")

type Device struct {
	transport transport.Transport
	proto     *protocol.Channel

	channels []Channel
	memories []Memory

	beep   OnOffButton
	output OnOffButton
	ocp    OnOffButton
	ovp    OnOffButton
}

// New wires a device on top of tr. The transport is not opened here.
func New(tr transport.Transport, opts protocol.Options) *Device {
	d := &Device{
		transport: tr,
		proto:     protocol.NewChannel(tr, opts),
	}

	d.channels = make([]Channel, 0, ChannelCount)
	for i := 1; i <= ChannelCount; i++ {
		d.channels = append(d.channels, Channel{proto: d.proto, Number: i})
	}
	d.memories = make([]Memory, 0, MemoryCount)
	for i := 1; i <= MemoryCount; i++ {
		d.memories = append(d.memories, Memory{proto: d.proto, Number: i})
	}

	d.beep = OnOffButton{proto: d.proto, onCommand: "BEEP1", offCommand: "BEEP0"}
	d.output = OnOffButton{proto: d.proto, onCommand: "OUT1", offCommand: "OUT0"}
	d.ocp = OnOffButton{proto: d.proto, onCommand: "OCP1", offCommand: "OCP0"}
	d.ovp = OnOffButton{proto: d.proto, onCommand: "OVP1", offCommand: "OVP0"}

	return d
}

func (d *Device) Open(ctx context.Context) error {
	return d.transport.Open(ctx)
}

func (d *Device) Close() error {
	return d.transport.Close()
}

func (d *Device) IsOpen() bool {
	return d.transport.IsOpen()
}

// Channels returns output channels 1 and 2. Single channel models ignore
// commands for channel 2.
func (d *Device) Channels() []Channel {
	return d.channels
}

// Channel returns the 1-based channel n.
func (d *Device) Channel(n int) (Channel, error) {
	if n < 1 || n > len(d.channels) {
		return Channel{}, fmt.Errorf("channel %d out of range 1-%d", n, len(d.channels))
	}
	return d.channels[n-1], nil
}

// Memories returns memory slots M1 through M5.
func (d *Device) Memories() []Memory {
	return d.memories
}

// Memory returns the 1-based memory slot n.
func (d *Device) Memory(n int) (Memory, error) {
	if n < 1 || n > len(d.memories) {
		return Memory{}, fmt.Errorf("memory %d out of range 1-%d", n, len(d.memories))
	}
	return d.memories[n-1], nil
}

func (d *Device) Beep() OnOffButton {
	return d.beep
}

func (d *Device) Output() OnOffButton {
	return d.output
}

func (d *Device) OverCurrentProtection() OnOffButton {
	return d.ocp
}

func (d *Device) OverVoltageProtection() OnOffButton {
	return d.ovp
}

// Model returns the identification string, e.g. "KORADKA3005PV2.0".
func (d *Device) Model() (string, error) {
	return d.proto.SendReceive("*IDN?", protocol.NoFixedLength)
}

// Status queries the status byte. ok is false when the device did not answer.
// Undefined bit patterns are returned as *status.DecodeError.
func (d *Device) Status() (status.Snapshot, bool, error) {
	if err := d.proto.Send("STATUS?"); err != nil {
		return status.Snapshot{}, false, err
	}
	raw, ok, err := d.proto.ReadRaw()
	if err != nil {
		return status.Snapshot{}, false, err
	}
	if !ok {
		return status.Snapshot{}, false, nil
	}

	snapshot, err := status.Decode(raw)
	if err != nil {
		return status.Snapshot{}, false, err
	}
	return snapshot, true, nil
}

// Track sets the tracking mode. The wire code for parallel is 2 even though
// the status byte reports it as 3.
func (d *Device) Track(t status.Tracking) error {
	var command string
	switch t {
	case status.Independent:
		command = "TRACK0"
	case status.Series:
		command = "TRACK1"
	case status.Parallel:
		command = "TRACK2"
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTracking, t)
	}
	return d.proto.Send(command)
}

// parseFloat parses a numeric reply; ok is false for anything malformed.
func parseFloat(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
