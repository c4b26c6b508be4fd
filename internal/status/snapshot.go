package status

import "fmt"

// Snapshot is the decoded form of one status byte. It is a plain value:
// snapshots decoded from the same byte compare equal.
type Snapshot struct {
	Channel1 ChannelMode
	Channel2 ChannelMode
	Tracking Tracking
	Beep     OnOffState
	// Lock mirrors bit 5 as-is. Some documentation describes 0 as locked;
	// the raw bit value is kept until verified on hardware.
	Lock   OnOffState
	Output OnOffState
	Raw    byte
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"Channel 1: %s, Channel 2: %s, Tracking: %s, Beep: %s, Lock: %s, Output: %s",
		s.Channel1, s.Channel2, s.Tracking, s.Beep, s.Lock, s.Output,
	)
}
