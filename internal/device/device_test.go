package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/skobkin/koradgo/internal/protocol"
	"github.com/skobkin/koradgo/internal/status"
	"github.com/skobkin/koradgo/internal/transport"
)

type noSleep struct{}

func (noSleep) Sleep(time.Duration) {}

// fakeTransport answers each written command from a reply table. Replies are
// appended to the receive buffer, so undrained bytes leak into later reads the
// same way they do on the wire.
type fakeTransport struct {
	open     bool
	replies  map[string][]byte
	rx       []byte
	commands []string
	writeErr error
}

func newFakeTransport(replies map[string][]byte) *fakeTransport {
	return &fakeTransport{open: true, replies: replies}
}

func (t *fakeTransport) Name() string { return "fake" }

func (t *fakeTransport) Open(context.Context) error {
	t.open = true
	return nil
}

func (t *fakeTransport) Close() error {
	t.open = false
	return nil
}

func (t *fakeTransport) IsOpen() bool { return t.open }

func (t *fakeTransport) WriteAll(p []byte) error {
	if t.writeErr != nil {
		return t.writeErr
	}
	cmd := string(p)
	t.commands = append(t.commands, cmd)
	t.rx = append(t.rx, t.replies[cmd]...)
	return nil
}

func (t *fakeTransport) ReceiveByte() (byte, bool, error) {
	if len(t.rx) == 0 {
		return 0, false, nil
	}
	b := t.rx[0]
	t.rx = t.rx[1:]
	return b, true, nil
}

var _ transport.Transport = (*fakeTransport)(nil)

func newTestDevice(replies map[string][]byte) (*Device, *fakeTransport) {
	tr := newFakeTransport(replies)
	return New(tr, protocol.Options{Clock: noSleep{}}), tr
}

func TestDeviceModel(t *testing.T) {
	d, tr := newTestDevice(map[string][]byte{"*IDN?": []byte("KORADKA3005PV2.0\x00")})

	model, err := d.Model()
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	if model != "KORADKA3005PV2.0" {
		t.Fatalf("unexpected model: %q", model)
	}
	if len(tr.commands) != 1 || tr.commands[0] != "*IDN?" {
		t.Fatalf("unexpected commands: %v", tr.commands)
	}
}

func TestChannelCurrentDrainsStrayByte(t *testing.T) {
	d, _ := newTestDevice(map[string][]byte{
		"ISET1?": []byte("1.2349"),
		"VSET1?": []byte("12.34"),
	})
	ch := d.Channels()[0]

	current, ok, err := ch.Current()
	if err != nil || !ok {
		t.Fatalf("current: ok=%v err=%v", ok, err)
	}
	if current != 1.234 {
		t.Fatalf("expected 1.234, got %v", current)
	}

	voltage, ok, err := ch.Voltage()
	if err != nil || !ok {
		t.Fatalf("voltage: ok=%v err=%v", ok, err)
	}
	if voltage != 12.34 {
		t.Fatalf("expected 12.34 without stray prefix, got %v", voltage)
	}
}

func TestChannelOutputs(t *testing.T) {
	d, tr := newTestDevice(map[string][]byte{
		"VOUT2?": []byte("05.01"),
		"IOUT2?": []byte("0.120"),
	})
	ch, err := d.Channel(2)
	if err != nil {
		t.Fatalf("channel: %v", err)
	}

	v, ok, err := ch.OutputVoltage()
	if err != nil || !ok || v != 5.01 {
		t.Fatalf("output voltage: v=%v ok=%v err=%v", v, ok, err)
	}
	i, ok, err := ch.OutputCurrent()
	if err != nil || !ok || i != 0.12 {
		t.Fatalf("output current: i=%v ok=%v err=%v", i, ok, err)
	}
	if len(tr.commands) != 2 || tr.commands[0] != "VOUT2?" || tr.commands[1] != "IOUT2?" {
		t.Fatalf("unexpected commands: %v", tr.commands)
	}
}

func TestChannelMalformedAndMissingReplies(t *testing.T) {
	d, _ := newTestDevice(map[string][]byte{
		"VOUT1?": []byte("ab.cd"),
	})
	ch := d.Channels()[0]

	if v, ok, err := ch.OutputVoltage(); err != nil || ok || v != 0 {
		t.Fatalf("malformed reply: expected no value, got v=%v ok=%v err=%v", v, ok, err)
	}
	if v, ok, err := ch.OutputCurrent(); err != nil || ok || v != 0 {
		t.Fatalf("timeout: expected no value, got v=%v ok=%v err=%v", v, ok, err)
	}
}

func TestChannelSetters(t *testing.T) {
	d, tr := newTestDevice(nil)
	ch := d.Channels()[0]

	if err := ch.SetVoltage(12.34); err != nil {
		t.Fatalf("set voltage: %v", err)
	}
	if err := ch.SetVoltage(3.3); err != nil {
		t.Fatalf("set voltage: %v", err)
	}
	if err := ch.SetCurrent(1.234); err != nil {
		t.Fatalf("set current: %v", err)
	}
	if err := ch.SetCurrent(0.1); err != nil {
		t.Fatalf("set current: %v", err)
	}

	want := []string{"VSET1:12.34", "VSET1:03.30", "ISET1:1.234", "ISET1:0.100"}
	assertCommands(t, tr.commands, want)
}

func TestDeviceStatus(t *testing.T) {
	d, _ := newTestDevice(map[string][]byte{"STATUS?": {0x51}})

	snapshot, ok, err := d.Status()
	if err != nil || !ok {
		t.Fatalf("status: ok=%v err=%v", ok, err)
	}
	want := status.Snapshot{
		Channel1: status.ConstantVoltage,
		Channel2: status.ConstantCurrent,
		Tracking: status.Independent,
		Beep:     status.On,
		Lock:     status.Off,
		Output:   status.On,
		Raw:      0x51,
	}
	if snapshot != want {
		t.Fatalf("expected %+v, got %+v", want, snapshot)
	}
}

func TestDeviceStatusUndefinedTracking(t *testing.T) {
	d, _ := newTestDevice(map[string][]byte{"STATUS?": {0x08}})

	_, ok, err := d.Status()
	var decErr *status.DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("expected decode error, got %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false on decode error")
	}
}

func TestDeviceStatusTimeout(t *testing.T) {
	d, _ := newTestDevice(nil)

	_, ok, err := d.Status()
	if err != nil {
		t.Fatalf("timeout must not be an error, got %v", err)
	}
	if ok {
		t.Fatalf("expected no status on timeout")
	}
}

func TestDeviceTrack(t *testing.T) {
	d, tr := newTestDevice(nil)

	for _, mode := range []status.Tracking{status.Independent, status.Series, status.Parallel} {
		if err := d.Track(mode); err != nil {
			t.Fatalf("track %s: %v", mode, err)
		}
	}
	if err := d.Track(status.Tracking(2)); !errors.Is(err, ErrUnknownTracking) {
		t.Fatalf("expected ErrUnknownTracking, got %v", err)
	}

	assertCommands(t, tr.commands, []string{"TRACK0", "TRACK1", "TRACK2"})
}

func TestDeviceButtonsAndMemories(t *testing.T) {
	d, tr := newTestDevice(nil)

	steps := []func() error{
		d.Output().On,
		d.Output().Off,
		d.Beep().On,
		d.Beep().Off,
		d.OverCurrentProtection().On,
		d.OverCurrentProtection().Off,
		d.OverVoltageProtection().On,
		func() error { return d.OverVoltageProtection().Set(false) },
		d.Memories()[0].Recall,
		d.Memories()[4].Save,
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	assertCommands(t, tr.commands, []string{
		"OUT1", "OUT0", "BEEP1", "BEEP0", "OCP1", "OCP0", "OVP1", "OVP0", "RCL1", "SAV5",
	})
}

func TestDeviceRanges(t *testing.T) {
	d, _ := newTestDevice(nil)

	if len(d.Channels()) != ChannelCount || len(d.Memories()) != MemoryCount {
		t.Fatalf("unexpected counts: channels=%d memories=%d", len(d.Channels()), len(d.Memories()))
	}
	for _, n := range []int{0, 3} {
		if _, err := d.Channel(n); err == nil {
			t.Fatalf("expected error for channel %d", n)
		}
	}
	for _, n := range []int{0, 6} {
		if _, err := d.Memory(n); err == nil {
			t.Fatalf("expected error for memory %d", n)
		}
	}
	m, err := d.Memory(3)
	if err != nil || m.Number != 3 {
		t.Fatalf("memory 3: m=%+v err=%v", m, err)
	}
}

func TestDeviceTransportFaultPropagates(t *testing.T) {
	d, tr := newTestDevice(nil)
	fault := &transport.Fault{Op: "write", Port: "/dev/ttyACM0", Err: transport.ErrNotOpen}
	tr.writeErr = fault

	if _, err := d.Model(); !errors.Is(err, transport.ErrNotOpen) {
		t.Fatalf("expected transport fault from Model, got %v", err)
	}
	if _, _, err := d.Channels()[0].OutputVoltage(); !errors.Is(err, transport.ErrNotOpen) {
		t.Fatalf("expected transport fault from OutputVoltage, got %v", err)
	}
	if _, _, err := d.Status(); !errors.Is(err, transport.ErrNotOpen) {
		t.Fatalf("expected transport fault from Status, got %v", err)
	}
}

func TestDeviceLifecycle(t *testing.T) {
	d, tr := newTestDevice(nil)
	tr.open = false

	if err := d.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if !d.IsOpen() {
		t.Fatalf("expected device to be open")
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if d.IsOpen() {
		t.Fatalf("expected device to be closed")
	}
}

func TestParseFloat(t *testing.T) {
	tests := []struct {
		raw    string
		want   float64
		wantOK bool
	}{
		{raw: "12.34", want: 12.34, wantOK: true},
		{raw: " 0.120", want: 0.12, wantOK: true},
		{raw: "", wantOK: false},
		{raw: "1.2.3", wantOK: false},
		{raw: "KORAD", wantOK: false},
	}
	for _, tc := range tests {
		got, ok := parseFloat(tc.raw)
		if ok != tc.wantOK || got != tc.want {
			t.Fatalf("%q: expected (%v, %v), got (%v, %v)", tc.raw, tc.want, tc.wantOK, got, ok)
		}
	}
}

func assertCommands(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected commands %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("command %d: expected %q, got %q (all: %v)", i, want[i], got[i], got)
		}
	}
}
