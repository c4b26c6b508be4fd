// Package transport owns the physical serial link to the power supply.
//
// A transport is exclusively owned by one protocol channel at a time. The
// internal mutex only protects the port handle; it does not make interleaved
// request/response exchanges from several goroutines safe.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotOpen is returned by I/O operations on a closed transport.
var ErrNotOpen = errors.New("transport is not open")

type Transport interface {
	Name() string
	Open(ctx context.Context) error
	Close() error
	IsOpen() bool
	WriteAll(p []byte) error
	ReceiveByte() (byte, bool, error)
}

// Fault is a transport-level failure. The connection should be considered
// unusable until it is reopened.
type Fault struct {
	Op   string
	Port string
	Err  error
}

func (e *Fault) Error() string {
	return fmt.Sprintf("%s serial port %q: %v", e.Op, e.Port, e.Err)
}

func (e *Fault) Unwrap() error {
	return e.Err
}
