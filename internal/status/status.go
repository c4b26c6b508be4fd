// Package status decodes the single status byte returned by the STATUS? query.
// No IO. No side effects.
package status

import "fmt"

// ChannelMode is the regulation mode of an output channel.
type ChannelMode uint8

const (
	ConstantCurrent ChannelMode = 0
	ConstantVoltage ChannelMode = 1
)

func (m ChannelMode) String() string {
	switch m {
	case ConstantCurrent:
		return "constant_current"
	case ConstantVoltage:
		return "constant_voltage"
	default:
		return fmt.Sprintf("channel_mode(%d)", uint8(m))
	}
}

// OnOffState is a two-state flag reported by the device.
type OnOffState uint8

const (
	Off OnOffState = 0
	On  OnOffState = 1
)

func (s OnOffState) String() string {
	switch s {
	case Off:
		return "off"
	case On:
		return "on"
	default:
		return fmt.Sprintf("on_off(%d)", uint8(s))
	}
}

// Tracking is the multi-channel tracking mode. The valid codes are not
// contiguous: 2 is not used by the firmware.
type Tracking uint8

const (
	Independent Tracking = 0
	Series      Tracking = 1
	Parallel    Tracking = 3
)

func (t Tracking) String() string {
	switch t {
	case Independent:
		return "independent"
	case Series:
		return "series"
	case Parallel:
		return "parallel"
	default:
		return fmt.Sprintf("tracking(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the defined tracking modes.
func (t Tracking) Valid() bool {
	switch t {
	case Independent, Series, Parallel:
		return true
	default:
		return false
	}
}
