package sleep

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
)

type fakeBus struct {
	mu      sync.Mutex
	matches int
	ch      chan<- *dbus.Signal
	removed bool
}

func (b *fakeBus) AddMatchSignal(...dbus.MatchOption) error {
	b.mu.Lock()
	b.matches++
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) Signal(ch chan<- *dbus.Signal) {
	b.mu.Lock()
	b.ch = ch
	b.mu.Unlock()
}

func (b *fakeBus) RemoveSignal(chan<- *dbus.Signal) {
	b.mu.Lock()
	b.removed = true
	b.mu.Unlock()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMonitor_WakeOnResume(t *testing.T) {
	bus := &fakeBus{}
	m, err := NewMonitorOn(bus, testLogger())
	if err != nil {
		t.Fatalf("NewMonitorOn() error = %v", err)
	}
	defer m.Close()

	if bus.matches != 2 {
		t.Fatalf("AddMatchSignal called %d times, want 2", bus.matches)
	}

	bus.ch <- &dbus.Signal{Name: prepareForSleep, Body: []interface{}{true}}
	bus.ch <- &dbus.Signal{Name: prepareForShutdown, Body: []interface{}{true}}
	select {
	case <-m.Wake():
		t.Fatal("wake reported before resume")
	case <-time.After(50 * time.Millisecond):
	}

	bus.ch <- &dbus.Signal{Name: prepareForSleep, Body: []interface{}{false}}
	select {
	case <-m.Wake():
	case <-time.After(5 * time.Second):
		t.Fatal("no wake after resume signal")
	}
}

func TestMonitor_IgnoresMalformedSignals(t *testing.T) {
	m := &Monitor{wake: make(chan struct{}, 1), log: testLogger()}

	m.handle(nil)
	m.handle(&dbus.Signal{Name: prepareForSleep})
	m.handle(&dbus.Signal{Name: prepareForSleep, Body: []interface{}{"false"}})

	select {
	case <-m.wake:
		t.Fatal("malformed signal produced a wake")
	default:
	}
}

func TestMonitor_CoalescesWakes(t *testing.T) {
	m := &Monitor{wake: make(chan struct{}, 1), log: testLogger()}
	resume := &dbus.Signal{Name: prepareForSleep, Body: []interface{}{false}}

	m.handle(resume)
	m.handle(resume)

	if len(m.wake) != 1 {
		t.Fatalf("pending wakes = %d, want 1", len(m.wake))
	}
}
