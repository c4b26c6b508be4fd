package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/skobkin/koradgo/internal/config"
)

// Manager owns the process logger and the optional log file.
type Manager struct {
	mu     sync.RWMutex
	out    io.Writer
	logger *slog.Logger
	file   *os.File
}

func NewManager() *Manager {
	return NewManagerWithOutput(os.Stderr)
}

// NewManagerWithOutput logs to out instead of stderr. Stdout is left to
// command output.
func NewManagerWithOutput(out io.Writer) *Manager {
	m := &Manager{out: out}
	m.logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}))

	return m
}

// Configure applies the logging section. When serial tracing is on the level
// is lowered to debug, otherwise the trace would be filtered out.
func (m *Manager) Configure(cfg config.AppConfig, filePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file != nil {
		_ = m.file.Close()
		m.file = nil
	}

	level, err := parseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	if cfg.Connection.Trace {
		level = slog.LevelDebug
	}

	writer := m.out
	if cfg.Logging.LogToFile {
		cleanPath := filepath.Clean(filePath)
		// #nosec G304 -- path is resolved by app runtime and points to user config dir.
		file, err := os.OpenFile(cleanPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		m.file = file
		writer = newFanoutWriter(m.out, file)
	}

	m.logger = slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(m.logger)

	return nil
}

func (m *Manager) Logger(component string) *slog.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.logger.With("component", component)
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			return err
		}
		m.file = nil
	}

	return nil
}

func parseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug", "trace":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level: %q", raw)
	}
}

// fanoutWriter keeps writing to the remaining destinations when one fails, so
// a broken terminal does not lose the log file.
type fanoutWriter struct {
	writers []io.Writer
}

func newFanoutWriter(writers ...io.Writer) io.Writer {
	filtered := make([]io.Writer, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			filtered = append(filtered, w)
		}
	}

	return &fanoutWriter{writers: filtered}
}

func (w *fanoutWriter) Write(p []byte) (int, error) {
	var firstErr error
	wroteAny := false
	for _, dst := range w.writers {
		n, err := dst.Write(p)
		switch {
		case err != nil:
		case n != len(p):
			err = io.ErrShortWrite
		default:
			wroteAny = true
			continue
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	if wroteAny || firstErr == nil {
		return len(p), nil
	}
	return 0, firstErr
}
