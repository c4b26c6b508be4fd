package status

import "fmt"

// Status byte layout.
//
//	Bit   Item      Description
//	0     CH1       0=CC mode, 1=CV mode
//	1     CH2       0=CC mode, 1=CV mode
//	2, 3  Tracking  00=Independent, 01=Series, 11=Parallel
//	4     Beep      0=Off, 1=On
//	5     Lock      raw bit, see Snapshot.Lock
//	6     Output    0=Off, 1=On
//	7     N/A
const (
	bitChannel1    = 0
	bitChannel2    = 1
	shiftTracking  = 2
	maskTracking   = 0x3
	bitBeep        = 4
	bitLock        = 5
	bitOutput      = 6
	trackingUnused = 2
)

// DecodeError reports a status byte carrying a bit pattern with no defined meaning.
type DecodeError struct {
	Raw   byte
	Field string
	Value uint8
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode status 0x%02X: undefined %s value %d", e.Raw, e.Field, e.Value)
}

// Decode converts a raw status byte into a Snapshot.
func Decode(b byte) (Snapshot, error) {
	trackingBits := (b >> shiftTracking) & maskTracking
	if trackingBits == trackingUnused {
		return Snapshot{}, &DecodeError{Raw: b, Field: "tracking", Value: trackingBits}
	}

	return Snapshot{
		Channel1: ChannelMode(bit(b, bitChannel1)),
		Channel2: ChannelMode(bit(b, bitChannel2)),
		Tracking: Tracking(trackingBits),
		Beep:     OnOffState(bit(b, bitBeep)),
		Lock:     OnOffState(bit(b, bitLock)),
		Output:   OnOffState(bit(b, bitOutput)),
		Raw:      b,
	}, nil
}

func bit(b byte, n uint) uint8 {
	return (b >> n) & 1
}
