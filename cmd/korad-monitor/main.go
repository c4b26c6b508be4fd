package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/skobkin/koradgo/internal/app"
	"github.com/skobkin/koradgo/internal/bus"
	"github.com/skobkin/koradgo/internal/config"
	"github.com/skobkin/koradgo/internal/device"
	"github.com/skobkin/koradgo/internal/domain"
	"github.com/skobkin/koradgo/internal/logging"
	"github.com/skobkin/koradgo/internal/monitor"
	"github.com/skobkin/koradgo/internal/persistence"
	"github.com/skobkin/koradgo/internal/platform"
	"github.com/skobkin/koradgo/internal/protocol"
	"github.com/skobkin/koradgo/internal/transport"
)

const (
	onceReplyWait     = 2 * time.Second
	historyTimeLayout = "2006-01-02 15:04:05"
)

type flags struct {
	configPath string
	port       string
	interval   time.Duration
	dbPath     string
	once       bool
	trace      bool
	history    int
	clearDB    bool
}

func main() {
	if err := run(); err != nil {
		slog.Error("run korad-monitor", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "config file (default: user config dir)")
	flag.StringVar(&f.port, "port", "", "serial port, e.g. /dev/ttyACM0")
	flag.DurationVar(&f.interval, "interval", 0, "sampling interval, e.g. 2s")
	flag.StringVar(&f.dbPath, "db", "", "sqlite file for readings (empty: config value, '-' disables)")
	flag.BoolVar(&f.once, "once", false, "sample once, print and exit")
	flag.BoolVar(&f.trace, "trace", false, "log every byte on the serial line")
	flag.IntVar(&f.history, "history", 0, "print the last N recorded readings per channel and exit")
	flag.BoolVar(&f.clearDB, "clear-db", false, "delete all recorded readings and statuses and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := app.ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	if f.configPath == "" {
		f.configPath = paths.ConfigFile
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(&cfg, f)
	if f.history > 0 || f.clearDB {
		return runOffline(ctx, os.Stdout, cfg, f)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg, paths.LogFile); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logMgr.Logger("cli")
	logger.Info("starting", "version", app.Banner(), "port", cfg.Connection.SerialPort)

	portLock, err := platform.AcquirePortLock(cfg.Connection.SerialPort)
	switch {
	case errors.Is(err, platform.ErrPortInUse):
		return fmt.Errorf("%s: %w", cfg.Connection.SerialPort, err)
	case errors.Is(err, platform.ErrPortLockUnsupported):
		logger.Warn("port lock unavailable, continuing without it", "error", err)
	case err != nil:
		return fmt.Errorf("lock serial port: %w", err)
	default:
		defer func() {
			if releaseErr := portLock.Release(); releaseErr != nil {
				logger.Warn("release port lock", "error", releaseErr)
			}
		}()
	}

	tr := transport.NewSerialTransport(cfg.Connection.SerialPort, transport.Options{
		BaudRate:    cfg.Connection.SerialBaud,
		ReadTimeout: cfg.Connection.ReadTimeout,
		Trace:       cfg.Connection.Trace,
		Logger:      logMgr.Logger("transport"),
	})
	dev := device.New(tr, protocol.Options{
		SettleInterval: cfg.Connection.SettleInterval,
		Trace:          cfg.Connection.Trace,
		Logger:         logMgr.Logger("protocol"),
	})
	defer func() {
		if closeErr := dev.Close(); closeErr != nil {
			logger.Warn("close device", "error", closeErr)
		}
	}()

	b := bus.New(logMgr.Logger("bus"), 0)
	defer b.Close()

	if f.once {
		return sampleOnce(ctx, os.Stdout, cfg, dev, b)
	}

	store := monitor.Store{}
	if cfg.Monitor.DBPath != "" {
		db, err := persistence.Open(ctx, cfg.Monitor.DBPath)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		defer closeDB(logger, db)

		writerCtx, stopWriter := context.WithCancel(context.Background())
		writer := persistence.NewWriterQueue(logMgr.Logger("persistence"), 0)
		writer.Start(writerCtx)
		defer func() {
			stopWriter()
			<-writer.Done()
		}()

		store = monitor.Store{
			Queue:    writer,
			Readings: persistence.NewReadingRepo(db),
			Statuses: persistence.NewStatusRepo(db),
		}
		logger.Info("recording readings", "db", cfg.Monitor.DBPath)
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	watchDone := watch(watchCtx, b, logMgr.Logger("monitor"))
	defer func() {
		stopWatch()
		<-watchDone
	}()

	sampler := monitor.NewSampler(logMgr.Logger("sampler"), dev, b, store, monitor.Options{
		Port:         cfg.Connection.SerialPort,
		Interval:     cfg.Monitor.Interval,
		Channels:     cfg.Monitor.Channels,
		RecordStatus: cfg.Monitor.StatusEnabled(),
		Retention:    cfg.Monitor.Retention,
	})
	sampler.Run(ctx)
	logger.Info("stopped")

	return nil
}

func applyFlags(cfg *config.AppConfig, f flags) {
	if port := strings.TrimSpace(f.port); port != "" {
		cfg.Connection.SerialPort = port
	}
	if f.interval > 0 {
		cfg.Monitor.Interval = f.interval
	}
	switch db := strings.TrimSpace(f.dbPath); db {
	case "":
	case "-":
		cfg.Monitor.DBPath = ""
	default:
		cfg.Monitor.DBPath = db
	}
	if f.trace {
		cfg.Connection.Trace = true
	}
	cfg.FillMissingDefaults()
}

func sampleOnce(ctx context.Context, out io.Writer, cfg config.AppConfig, dev *device.Device, b bus.MessageBus) error {
	if err := dev.Open(ctx); err != nil {
		return err
	}
	model, err := dev.Model()
	if err != nil {
		return fmt.Errorf("identify device: %w", err)
	}
	_, _ = fmt.Fprintf(out, "model: %s\n", displayModel(model))

	readingSub := b.Subscribe(monitor.TopicReading)
	statusSub := b.Subscribe(monitor.TopicStatus)
	defer b.Unsubscribe(readingSub)
	defer b.Unsubscribe(statusSub)

	sampler := monitor.NewSampler(slog.Default(), dev, b, monitor.Store{}, monitor.Options{
		Port:         cfg.Connection.SerialPort,
		Channels:     cfg.Monitor.Channels,
		RecordStatus: cfg.Monitor.StatusEnabled(),
	})
	if err := sampler.RunOnce(ctx); err != nil {
		return err
	}

	for range cfg.Monitor.Channels {
		select {
		case raw := <-readingSub:
			if r, ok := raw.(domain.Reading); ok {
				_, _ = fmt.Fprintln(out, formatReading(r))
			}
		case <-time.After(onceReplyWait):
			return fmt.Errorf("reading was not delivered")
		}
	}
	if cfg.Monitor.StatusEnabled() {
		select {
		case raw := <-statusSub:
			if rec, ok := raw.(domain.StatusRecord); ok {
				_, _ = fmt.Fprintf(out, "status: %s (raw 0x%02X)\n", rec.Status, rec.Status.Raw)
			}
		case <-time.After(onceReplyWait):
			_, _ = fmt.Fprintln(out, "status: n/a")
		}
	}

	return nil
}

// watch logs bus traffic until ctx is done. The returned channel is closed once
// every subscription is released, which must happen before the bus is closed.
func watch(ctx context.Context, b bus.MessageBus, logger *slog.Logger) <-chan struct{} {
	linkSub := b.Subscribe(monitor.TopicLinkState)
	readingSub := b.Subscribe(monitor.TopicReading)
	statusSub := b.Subscribe(monitor.TopicStatus)
	done := make(chan struct{})

	go func() {
		defer close(done)
		var last domain.StatusRecord
		for {
			select {
			case <-ctx.Done():
				b.Unsubscribe(linkSub)
				b.Unsubscribe(readingSub)
				b.Unsubscribe(statusSub)
				return
			case raw := <-linkSub:
				if ev, ok := raw.(domain.LinkEvent); ok {
					logger.Info("link", "state", ev.State, "port", ev.Port, "model", ev.Model, "error", ev.Err)
				}
			case raw := <-readingSub:
				if r, ok := raw.(domain.Reading); ok {
					logger.Info("reading", "line", formatReading(r))
				}
			case raw := <-statusSub:
				rec, ok := raw.(domain.StatusRecord)
				if !ok || rec.Status == last.Status {
					continue
				}
				last = rec
				logger.Info("status changed", "status", rec.Status.String(), "raw", fmt.Sprintf("0x%02X", rec.Status.Raw))
			}
		}
	}()

	return done
}

// runOffline handles the database maintenance modes that never touch the
// serial port.
func runOffline(ctx context.Context, out io.Writer, cfg config.AppConfig, f flags) error {
	if cfg.Monitor.DBPath == "" {
		return errors.New("no database configured: set monitor.db_path or -db")
	}
	db, err := persistence.Open(ctx, cfg.Monitor.DBPath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer closeDB(slog.Default(), db)

	if f.clearDB {
		if err := persistence.ClearDatabase(ctx, db); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "cleared %s\n", cfg.Monitor.DBPath)
	}
	if f.history > 0 {
		return printHistory(ctx, out, persistence.NewReadingRepo(db), persistence.NewStatusRepo(db), cfg.Monitor.Channels, f.history)
	}

	return nil
}

func printHistory(
	ctx context.Context,
	out io.Writer,
	readings domain.ReadingRepository,
	statuses domain.StatusRepository,
	channels []int,
	limit int,
) error {
	for _, ch := range channels {
		items, err := readings.ListRecent(ctx, ch, limit)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			_, _ = fmt.Fprintf(out, "CH%d: no readings\n", ch)
			continue
		}
		for _, r := range items {
			_, _ = fmt.Fprintf(out, "%s %s\n", r.TakenAt.Format(historyTimeLayout), formatReading(r))
		}
	}

	rec, ok, err := statuses.Latest(ctx)
	if err != nil {
		return err
	}
	if !ok {
		_, _ = fmt.Fprintln(out, "status: n/a")
		return nil
	}
	_, _ = fmt.Fprintf(out, "%s status: %s (raw 0x%02X)\n", rec.TakenAt.Format(historyTimeLayout), rec.Status, rec.Status.Raw)

	return nil
}

func formatReading(r domain.Reading) string {
	line := fmt.Sprintf("CH%d set %s / %s  out %s / %s",
		r.Channel,
		formatValue(r.SetVoltage, "V", 2),
		formatValue(r.SetCurrent, "A", 3),
		formatValue(r.OutputVoltage, "V", 2),
		formatValue(r.OutputCurrent, "A", 3),
	)
	if p, ok := r.Power(); ok {
		line += fmt.Sprintf("  %.3fW", p)
	}
	return line
}

func formatValue(v *float64, unit string, precision int) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.*f%s", precision, *v, unit)
}

func displayModel(model string) string {
	if model = strings.TrimSpace(model); model == "" {
		return "n/a"
	}
	return model
}

func closeDB(logger *slog.Logger, db *sql.DB) {
	if err := db.Close(); err != nil {
		logger.Warn("close sqlite", "error", err)
	}
}
