// Package platform holds OS-specific helpers.
package platform

import (
	"errors"
	"strings"
)

// ErrPortInUse indicates another process already owns the serial port lock.
var ErrPortInUse = errors.New("serial port is in use by another process")

// ErrPortLockUnsupported indicates the current platform has no lock backend implementation.
var ErrPortLockUnsupported = errors.New("port lock unsupported")

// PortLock is an acquired exclusive claim on a serial port. It only
// coordinates processes that take the same lock; it does not stop other
// programs from opening the device.
type PortLock interface {
	Release() error
}

// AcquirePortLock claims portName for this process without blocking.
func AcquirePortLock(portName string) (PortLock, error) {
	return acquirePortLock(normalizeLockComponent(portName, "port"))
}

// normalizeLockComponent turns "/dev/ttyACM0" into "dev_ttyACM0".
func normalizeLockComponent(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	normalized := strings.Trim(b.String(), "_-.")
	if normalized == "" {
		return fallback
	}

	return normalized
}
