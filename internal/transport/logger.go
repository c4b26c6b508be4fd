package transport

import (
	"log/slog"
	"strconv"
)

func transportLogger(base *slog.Logger, name string, attrs ...any) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	logger := base.With("component", "transport", "transport", name)
	if len(attrs) == 0 {
		return logger
	}

	return logger.With(attrs...)
}

// asciiRendering renders b the way it would appear on a terminal, quoting
// control characters.
func asciiRendering(b byte) string {
	if b >= 0x20 && b < 0x7f {
		return string(rune(b))
	}

	return strconv.QuoteToASCII(string(rune(b)))
}
