package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultBaudRate    = 9600
	DefaultReadTimeout = time.Second
)

// Port is the subset of serial.Port used by SerialTransport.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Opener opens a serial port. It exists so tests can run without hardware.
type Opener func(name string, mode *serial.Mode) (Port, error)

func openSerialPort(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

type Options struct {
	BaudRate    int
	ReadTimeout time.Duration
	// Trace logs every byte sent and received at debug level.
	Trace  bool
	Logger *slog.Logger
	Opener Opener
}

type SerialTransport struct {
	portName    string
	baudRate    int
	readTimeout time.Duration
	trace       bool
	logger      *slog.Logger
	opener      Opener

	mu   sync.Mutex
	port Port
}

func NewSerialTransport(portName string, opts Options) *SerialTransport {
	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.Opener == nil {
		opts.Opener = openSerialPort
	}

	return &SerialTransport{
		portName:    portName,
		baudRate:    opts.BaudRate,
		readTimeout: opts.ReadTimeout,
		trace:       opts.Trace,
		logger:      transportLogger(opts.Logger, "serial", "port", portName),
		opener:      opts.Opener,
	}
}

func (t *SerialTransport) Name() string {
	return "serial"
}

func (t *SerialTransport) PortName() string {
	return t.portName
}

func (t *SerialTransport) BaudRate() int {
	return t.baudRate
}

func (t *SerialTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// Open opens the serial port as 8N1 at the configured baud rate. Opening an
// already open transport is a no-op.
func (t *SerialTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.portName == "" {
		return &Fault{Op: "open", Port: t.portName, Err: errors.New("serial port is empty")}
	}

	port, err := t.opener(t.portName, &serial.Mode{
		BaudRate: t.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return &Fault{Op: "open", Port: t.portName, Err: err}
	}
	if err := port.SetReadTimeout(t.readTimeout); err != nil {
		_ = port.Close()
		return &Fault{Op: "open", Port: t.portName, Err: fmt.Errorf("set read timeout: %w", err)}
	}
	t.port = port
	t.logger.Debug("serial port opened", "baud", t.baudRate, "read_timeout", t.readTimeout)

	return nil
}

// Close releases the port. Closing a closed transport is a no-op.
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	if err != nil {
		return &Fault{Op: "close", Port: t.portName, Err: err}
	}
	t.logger.Debug("serial port closed")

	return nil
}

func (t *SerialTransport) WriteAll(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return &Fault{Op: "write", Port: t.portName, Err: ErrNotOpen}
	}

	if err := writeFull(t.port, p); err != nil {
		return &Fault{Op: "write", Port: t.portName, Err: err}
	}
	if t.trace {
		for _, b := range p {
			t.logger.Debug("write", "value", b, "ascii", asciiRendering(b))
		}
	}

	return nil
}

// ReceiveByte reads one byte within the read timeout. A timeout is reported as
// ok=false with a nil error.
func (t *SerialTransport) ReceiveByte() (byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return 0, false, &Fault{Op: "read", Port: t.portName, Err: ErrNotOpen}
	}

	var buf [1]byte
	n, err := t.port.Read(buf[:])
	if err != nil {
		return 0, false, &Fault{Op: "read", Port: t.portName, Err: err}
	}
	if n == 0 {
		if t.trace {
			t.logger.Debug("read: timeout")
		}
		return 0, false, nil
	}
	if t.trace {
		t.logger.Debug("read", "value", buf[0], "ascii", asciiRendering(buf[0]))
	}

	return buf[0], true, nil
}

func writeFull(w io.Writer, buf []byte) error {
	written := 0
	for written < len(buf) {
		n, err := w.Write(buf[written:])
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		written += n
	}
	return nil
}
