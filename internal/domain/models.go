package domain

import (
	"time"

	"github.com/skobkin/koradgo/internal/status"
)

// Reading is one sampling round of a single output channel. Nil fields mean
// the device gave no usable value for that query.
type Reading struct {
	TakenAt       time.Time
	Channel       int
	SetVoltage    *float64
	SetCurrent    *float64
	OutputVoltage *float64
	OutputCurrent *float64
}

// Complete reports whether every query in the round produced a value.
func (r Reading) Complete() bool {
	return r.SetVoltage != nil && r.SetCurrent != nil && r.OutputVoltage != nil && r.OutputCurrent != nil
}

// Power returns the output power in watts when both measurements are known.
func (r Reading) Power() (float64, bool) {
	if r.OutputVoltage == nil || r.OutputCurrent == nil {
		return 0, false
	}
	return *r.OutputVoltage * *r.OutputCurrent, true
}

// StatusRecord is a decoded status byte with the time it was read.
type StatusRecord struct {
	TakenAt time.Time
	Status  status.Snapshot
}

// LinkState describes the serial link lifecycle as seen by the monitor.
type LinkState string

const (
	LinkStateDisconnected LinkState = "disconnected"
	LinkStateConnecting   LinkState = "connecting"
	LinkStateConnected    LinkState = "connected"
	LinkStateReconnecting LinkState = "reconnecting"
)

// LinkEvent is a bus event snapshot of the current link state.
type LinkEvent struct {
	State     LinkState
	Port      string
	Model     string
	Err       string
	Timestamp time.Time
}
