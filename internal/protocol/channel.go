// Package protocol implements the command/response exchange with the power
// supply on top of a byte-level link.
//
// Commands are short ASCII strings sent without a terminator. Replies are
// ASCII strings terminated by a zero byte, except for queries whose firmware
// reply has no terminator; those must be bounded by the caller with the known
// reply width. Some queries leave one extra byte behind (ISETn? sends six bytes
// for a five character value), and that byte ends up at the front of the next
// reply unless it is drained. A command must never be sent before the previous
// reply has been fully read.
package protocol

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultSettleInterval is the pause before every command. The firmware drops
// or garbles commands that arrive faster than this.
const DefaultSettleInterval = 100 * time.Millisecond

// NoFixedLength reads a reply until the zero terminator or a timeout.
const NoFixedLength = 0

// ErrInvalidCommand is returned for empty or non-ASCII commands.
var ErrInvalidCommand = errors.New("invalid command")

// Link is the byte-level transport a Channel talks through.
type Link interface {
	WriteAll(p []byte) error
	// ReceiveByte returns ok=false with a nil error on read timeout.
	ReceiveByte() (b byte, ok bool, err error)
}

// Clock provides the settle pause.
type Clock interface {
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

type Options struct {
	SettleInterval time.Duration
	Clock          Clock
	// Trace logs every outgoing command at debug level.
	Trace  bool
	Logger *slog.Logger
}

// Channel is not safe for concurrent use. Each call is one complete
// request/response unit and blocks for the settle pause plus the read.
type Channel struct {
	link   Link
	settle time.Duration
	clock  Clock
	trace  bool
	logger *slog.Logger
}

func NewChannel(link Link, opts Options) *Channel {
	if opts.SettleInterval <= 0 {
		opts.SettleInterval = DefaultSettleInterval
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Channel{
		link:   link,
		settle: opts.SettleInterval,
		clock:  opts.Clock,
		trace:  opts.Trace,
		logger: opts.Logger.With("component", "protocol"),
	}
}

// Send waits for the settle interval and writes the command as-is. Link
// errors are returned unwrapped.
func (c *Channel) Send(command string) error {
	if err := validateCommand(command); err != nil {
		return err
	}
	if c.trace {
		c.logger.Debug("send", "command", command)
	}

	c.clock.Sleep(c.settle)
	return c.link.WriteAll([]byte(command))
}

// ReadReply collects reply bytes until a zero byte, until expected bytes have
// been read (when expected > 0), or until the link times out. The terminator is
// consumed but not returned. After a fixed-length stop the next byte stays
// unread. A timeout yields whatever was collected so far, possibly "".
func (c *Channel) ReadReply(expected int) (string, error) {
	var sb strings.Builder
	for {
		b, ok, err := c.link.ReceiveByte()
		if err != nil {
			return sb.String(), err
		}
		if !ok || b == 0 {
			break
		}
		sb.WriteByte(b)
		if expected > 0 && sb.Len() == expected {
			break
		}
	}

	return sb.String(), nil
}

// ReadRaw reads a single unterminated byte, as sent in reply to STATUS?.
func (c *Channel) ReadRaw() (byte, bool, error) {
	return c.link.ReceiveByte()
}

func (c *Channel) SendReceive(command string, expected int) (string, error) {
	if err := c.Send(command); err != nil {
		return "", err
	}

	return c.ReadReply(expected)
}

func validateCommand(command string) error {
	if command == "" {
		return fmt.Errorf("%w: empty", ErrInvalidCommand)
	}
	for i := 0; i < len(command); i++ {
		if command[i] == 0 || command[i] > 0x7f {
			return fmt.Errorf("%w: byte 0x%02X at %d in %q", ErrInvalidCommand, command[i], i, command)
		}
	}

	return nil
}
