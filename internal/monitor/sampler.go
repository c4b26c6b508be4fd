// Package monitor periodically samples a power supply, publishes the samples
// on the bus and hands them to the sqlite writer.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skobkin/koradgo/internal/bus"
	"github.com/skobkin/koradgo/internal/device"
	"github.com/skobkin/koradgo/internal/domain"
	"github.com/skobkin/koradgo/internal/status"
)

const (
	defaultInterval   = 2 * time.Second
	defaultBackoff    = time.Second
	defaultMaxBackoff = 15 * time.Second
	pruneEvery        = 10 * time.Minute
)

// Device is the part of *device.Device the sampler uses.
type Device interface {
	Open(ctx context.Context) error
	Close() error
	Model() (string, error)
	Status() (status.Snapshot, bool, error)
	Channel(n int) (device.Channel, error)
}

// Enqueuer runs writes asynchronously; *persistence.WriterQueue implements it.
type Enqueuer interface {
	Enqueue(name string, fn func(context.Context) error) bool
}

// Store is where samples are persisted. A zero Store disables persistence.
type Store struct {
	Queue    Enqueuer
	Readings domain.ReadingRepository
	Statuses domain.StatusRepository
}

func (s Store) enabled() bool {
	return s.Queue != nil && s.Readings != nil && s.Statuses != nil
}

type Options struct {
	Port         string
	Interval     time.Duration
	Channels     []int
	RecordStatus bool
	// InitialBackoff and MaxBackoff bound the reconnect delay.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Retention drops stored history older than this. Zero keeps everything.
	Retention time.Duration
	Now       func() time.Time
}

// Sampler owns the device for the duration of Run. It is the only user of the
// serial link, so its rounds never interleave.
type Sampler struct {
	logger *slog.Logger
	dev    Device
	bus    bus.MessageBus
	store  Store
	opts   Options

	lastPrune time.Time
}

func NewSampler(logger *slog.Logger, dev Device, b bus.MessageBus, store Store, opts Options) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if len(opts.Channels) == 0 {
		opts.Channels = []int{1}
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Sampler{
		logger: logger,
		dev:    dev,
		bus:    b,
		store:  store,
		opts:   opts,
	}
}

// Run keeps the link open and samples until ctx is cancelled. Transport
// faults close the device and reopen it with a growing delay.
func (s *Sampler) Run(ctx context.Context) {
	backoff := s.opts.InitialBackoff
	for {
		if err := ctx.Err(); err != nil {
			s.publishLink(domain.LinkStateDisconnected, "", nil)
			return
		}

		s.publishLink(domain.LinkStateConnecting, "", nil)
		model, err := s.connect(ctx)
		if err != nil {
			s.logger.Error("open device failed", "port", s.opts.Port, "error", err)
			s.publishLink(domain.LinkStateReconnecting, "", err)
			if !sleepWithContext(ctx, backoff) {
				s.publishLink(domain.LinkStateDisconnected, "", nil)
				return
			}
			backoff = nextBackoff(backoff, s.opts.MaxBackoff)
			continue
		}

		backoff = s.opts.InitialBackoff
		s.logger.Info("device connected", "port", s.opts.Port, "model", model)
		s.publishLink(domain.LinkStateConnected, model, nil)

		err = s.sampleLoop(ctx)
		if closeErr := s.dev.Close(); closeErr != nil {
			s.logger.Warn("close device", "error", closeErr)
		}
		if ctx.Err() != nil {
			s.publishLink(domain.LinkStateDisconnected, "", nil)
			return
		}

		s.logger.Warn("sampling stopped", "error", err)
		s.publishLink(domain.LinkStateReconnecting, "", err)
		if !sleepWithContext(ctx, backoff) {
			s.publishLink(domain.LinkStateDisconnected, "", nil)
			return
		}
		backoff = nextBackoff(backoff, s.opts.MaxBackoff)
	}
}

func (s *Sampler) connect(ctx context.Context) (string, error) {
	if err := s.dev.Open(ctx); err != nil {
		return "", err
	}
	model, err := s.dev.Model()
	if err != nil {
		_ = s.dev.Close()
		return "", fmt.Errorf("identify device: %w", err)
	}
	return model, nil
}

func (s *Sampler) sampleLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			return err
		}
		s.maybePrune()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce samples every configured channel and, when enabled, the status
// byte. Missing values and undefined status bytes are logged and skipped; only
// link failures are returned.
func (s *Sampler) RunOnce(ctx context.Context) error {
	for _, n := range s.opts.Channels {
		if err := ctx.Err(); err != nil {
			return err
		}
		reading, err := s.readChannel(n)
		if err != nil {
			return fmt.Errorf("sample channel %d: %w", n, err)
		}
		if !reading.Complete() {
			s.logger.Debug("incomplete reading", "channel", n)
		}
		s.bus.Publish(TopicReading, reading)
		s.persistReading(reading)
	}

	if !s.opts.RecordStatus {
		return nil
	}
	snapshot, ok, err := s.dev.Status()
	var decErr *status.DecodeError
	switch {
	case errors.As(err, &decErr):
		s.logger.Warn("undefined status byte", "raw", fmt.Sprintf("0x%02X", decErr.Raw), "error", err)
		return nil
	case err != nil:
		return fmt.Errorf("sample status: %w", err)
	case !ok:
		s.logger.Debug("no status reply")
		return nil
	}

	rec := domain.StatusRecord{TakenAt: s.opts.Now(), Status: snapshot}
	s.bus.Publish(TopicStatus, rec)
	s.persistStatus(rec)

	return nil
}

func (s *Sampler) readChannel(n int) (domain.Reading, error) {
	ch, err := s.dev.Channel(n)
	if err != nil {
		return domain.Reading{}, err
	}

	reading := domain.Reading{TakenAt: s.opts.Now(), Channel: n}
	queries := []struct {
		dst **float64
		fn  func() (float64, bool, error)
	}{
		{dst: &reading.SetVoltage, fn: ch.Voltage},
		{dst: &reading.SetCurrent, fn: ch.Current},
		{dst: &reading.OutputVoltage, fn: ch.OutputVoltage},
		{dst: &reading.OutputCurrent, fn: ch.OutputCurrent},
	}
	for _, q := range queries {
		v, ok, err := q.fn()
		if err != nil {
			return domain.Reading{}, err
		}
		if ok {
			*q.dst = &v
		}
	}

	return reading, nil
}

func (s *Sampler) persistReading(r domain.Reading) {
	if !s.store.enabled() {
		return
	}
	s.store.Queue.Enqueue("insert reading", func(ctx context.Context) error {
		_, err := s.store.Readings.Insert(ctx, r)
		return err
	})
}

func (s *Sampler) persistStatus(r domain.StatusRecord) {
	if !s.store.enabled() {
		return
	}
	s.store.Queue.Enqueue("insert status", func(ctx context.Context) error {
		_, err := s.store.Statuses.Insert(ctx, r)
		return err
	})
}

// maybePrune queues deletion of history older than the retention window, at
// most once per pruneEvery.
func (s *Sampler) maybePrune() {
	if s.opts.Retention <= 0 || !s.store.enabled() {
		return
	}
	now := s.opts.Now()
	if !s.lastPrune.IsZero() && now.Sub(s.lastPrune) < pruneEvery {
		return
	}
	s.lastPrune = now

	cutoff := now.Add(-s.opts.Retention)
	s.store.Queue.Enqueue("prune history", func(ctx context.Context) error {
		readings, err := s.store.Readings.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return err
		}
		statuses, err := s.store.Statuses.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return err
		}
		if readings > 0 || statuses > 0 {
			s.logger.Info("pruned history", "cutoff", cutoff, "readings", readings, "statuses", statuses)
		}
		return nil
	})
}

func (s *Sampler) publishLink(state domain.LinkState, model string, err error) {
	ev := domain.LinkEvent{
		State:     state,
		Port:      s.opts.Port,
		Model:     model,
		Timestamp: s.opts.Now(),
	}
	if err != nil {
		ev.Err = err.Error()
	}
	s.bus.Publish(TopicLinkState, ev)
}

func nextBackoff(cur, limit time.Duration) time.Duration {
	next := cur * 2
	if next > limit {
		return limit
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
