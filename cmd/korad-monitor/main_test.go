package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skobkin/koradgo/internal/bus"
	"github.com/skobkin/koradgo/internal/config"
	"github.com/skobkin/koradgo/internal/device"
	"github.com/skobkin/koradgo/internal/domain"
	"github.com/skobkin/koradgo/internal/monitor"
	"github.com/skobkin/koradgo/internal/persistence"
	"github.com/skobkin/koradgo/internal/protocol"
	"github.com/skobkin/koradgo/internal/status"
)

func TestApplyFlags(t *testing.T) {
	cfg := config.Default()
	cfg.Monitor.DBPath = "/var/lib/korad.db"

	applyFlags(&cfg, flags{port: " /dev/ttyACM0 ", interval: 5 * time.Second, trace: true})
	if cfg.Connection.SerialPort != "/dev/ttyACM0" {
		t.Fatalf("unexpected port: %q", cfg.Connection.SerialPort)
	}
	if cfg.Monitor.Interval != 5*time.Second {
		t.Fatalf("unexpected interval: %s", cfg.Monitor.Interval)
	}
	if !cfg.Connection.Trace {
		t.Fatalf("expected trace to be enabled")
	}
	if cfg.Monitor.DBPath != "/var/lib/korad.db" {
		t.Fatalf("expected db path from config to be kept, got %q", cfg.Monitor.DBPath)
	}

	applyFlags(&cfg, flags{dbPath: "-"})
	if cfg.Monitor.DBPath != "" {
		t.Fatalf("expected '-' to disable recording, got %q", cfg.Monitor.DBPath)
	}
	applyFlags(&cfg, flags{dbPath: "/tmp/other.db"})
	if cfg.Monitor.DBPath != "/tmp/other.db" {
		t.Fatalf("unexpected db path: %q", cfg.Monitor.DBPath)
	}
}

func TestFormatReading(t *testing.T) {
	v, i := 12.0, 0.25
	tests := []struct {
		name string
		in   domain.Reading
		want string
	}{
		{
			name: "output values with power",
			in:   domain.Reading{Channel: 1, SetVoltage: &v, SetCurrent: &i, OutputVoltage: &v, OutputCurrent: &i},
			want: "CH1 set 12.00V / 0.250A  out 12.00V / 0.250A  3.000W",
		},
		{
			name: "missing values",
			in:   domain.Reading{Channel: 2, SetVoltage: &v},
			want: "CH2 set 12.00V / n/a  out n/a / n/a",
		},
	}

	for _, tc := range tests {
		if got := formatReading(tc.in); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

type noSleep struct{}

func (noSleep) Sleep(time.Duration) {}

type replyTransport struct {
	open    bool
	replies map[string][]byte
	rx      []byte
}

func (t *replyTransport) Name() string { return "fake" }

func (t *replyTransport) Open(context.Context) error {
	t.open = true
	return nil
}

func (t *replyTransport) Close() error {
	t.open = false
	return nil
}

func (t *replyTransport) IsOpen() bool { return t.open }

func (t *replyTransport) WriteAll(p []byte) error {
	t.rx = append(t.rx, t.replies[string(p)]...)
	return nil
}

func (t *replyTransport) ReceiveByte() (byte, bool, error) {
	if len(t.rx) == 0 {
		return 0, false, nil
	}
	b := t.rx[0]
	t.rx = t.rx[1:]
	return b, true, nil
}

func TestSampleOncePrintsReadingAndStatus(t *testing.T) {
	tr := &replyTransport{replies: map[string][]byte{
		"*IDN?":   []byte("KORADKA3005PV2.0\x00"),
		"VSET1?":  []byte("05.00"),
		"ISET1?":  []byte("0.5000"),
		"VOUT1?":  []byte("05.00"),
		"IOUT1?":  []byte("0.100"),
		"STATUS?": {0x41},
	}}
	dev := device.New(tr, protocol.Options{Clock: noSleep{}})
	b := bus.New(nil, 0)
	defer b.Close()

	cfg := config.Default()
	cfg.Connection.SerialPort = "/dev/fake"

	var out bytes.Buffer
	if err := sampleOnce(context.Background(), &out, cfg, dev, b); err != nil {
		t.Fatalf("sample once: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"model: KORADKA3005PV2.0",
		"CH1 set 5.00V / 0.500A  out 5.00V / 0.100A  0.500W",
		"status: Channel 1: constant_voltage, Channel 2: constant_current, Tracking: independent, Beep: off, Lock: off, Output: on (raw 0x41)",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	if !tr.open {
		t.Fatalf("sampleOnce must leave closing to the caller")
	}
}

func seedHistoryDB(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "readings.db")
	db, err := persistence.Open(ctx, path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer func() { _ = db.Close() }()

	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.Local)
	readings := persistence.NewReadingRepo(db)
	for i, volts := range []float64{4.0, 5.0} {
		v, a := volts, 0.5
		r := domain.Reading{TakenAt: base.Add(time.Duration(i) * time.Minute), Channel: 1, SetVoltage: &v, SetCurrent: &a, OutputVoltage: &v, OutputCurrent: &a}
		if _, err := readings.Insert(ctx, r); err != nil {
			t.Fatalf("insert reading: %v", err)
		}
	}
	snapshot, err := status.Decode(0x41)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := persistence.NewStatusRepo(db).Insert(ctx, domain.StatusRecord{TakenAt: base.Add(time.Minute), Status: snapshot}); err != nil {
		t.Fatalf("insert status: %v", err)
	}

	return path
}

func TestRunOfflinePrintsHistory(t *testing.T) {
	cfg := config.Default()
	cfg.Monitor.DBPath = seedHistoryDB(t)
	cfg.Monitor.Channels = []int{1, 2}

	var out bytes.Buffer
	if err := runOffline(context.Background(), &out, cfg, flags{history: 1}); err != nil {
		t.Fatalf("run offline: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"2026-10-18 09:01:00 CH1 set 5.00V / 0.500A  out 5.00V / 0.500A  2.500W",
		"CH2: no readings",
		"2026-10-18 09:01:00 status: Channel 1: constant_voltage",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "4.00V") {
		t.Fatalf("expected only the newest reading with limit 1:\n%s", got)
	}
}

func TestRunOfflineClearsDatabase(t *testing.T) {
	cfg := config.Default()
	cfg.Monitor.DBPath = seedHistoryDB(t)

	var out bytes.Buffer
	if err := runOffline(context.Background(), &out, cfg, flags{clearDB: true, history: 5}); err != nil {
		t.Fatalf("run offline: %v", err)
	}

	got := out.String()
	for _, want := range []string{"cleared " + cfg.Monitor.DBPath, "CH1: no readings", "status: n/a"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRunOfflineRequiresDatabase(t *testing.T) {
	cfg := config.Default()
	if err := runOffline(context.Background(), io.Discard, cfg, flags{history: 3}); err == nil {
		t.Fatalf("expected error without db path")
	}
}

func TestWatchReleasesSubscriptionsBeforeBusClose(t *testing.T) {
	b := bus.New(nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := watch(ctx, b, slog.New(slog.NewTextHandler(io.Discard, nil)))

	b.Publish(monitor.TopicLinkState, domain.LinkEvent{State: domain.LinkStateConnected, Port: "/dev/fake"})
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("watch did not stop")
	}

	closed := make(chan struct{})
	go func() {
		b.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("bus close blocked")
	}
}
