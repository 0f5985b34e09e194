package supply

import (
	"context"
	"errors"
	"sync"

	"github.com/cptspacemanspiff/syspower/internal/uevent"
)

// ErrNoEvents is returned by Monitor.Read when no change is pending.
var ErrNoEvents = uevent.ErrNoEvents

// ErrOverflow is returned by Monitor.Read when changes were lost. Callers
// should re-read every supply and keep reading.
var ErrOverflow = uevent.ErrOverflow

// ErrClosed is returned when a monitor is used after its last reference
// was released.
var ErrClosed = errors.New("power supply monitor closed")

// EventConn is a filtered uevent connection.
type EventConn interface {
	Fd() int
	Read() (*uevent.Event, error)
	Wait(ctx context.Context) error
	Close() error
}

// Hub hands out one shared power supply monitor and tears it down when the
// last holder closes it.
type Hub struct {
	dial func() (EventConn, error)

	mu  sync.Mutex
	mon *Monitor
}

// NewHub returns a hub that listens on the kernel uevent socket.
func NewHub() *Hub {
	return &Hub{dial: func() (EventConn, error) {
		return uevent.Dial(uevent.Filter{Subsystem: "power_supply"})
	}}
}

// NewHubWith returns a hub that obtains its connection from dial.
func NewHubWith(dial func() (EventConn, error)) *Hub {
	return &Hub{dial: dial}
}

// Open returns the shared monitor, creating it on first use. Every Open
// must be paired with a Close.
func (h *Hub) Open() (*Monitor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.mon == nil {
		conn, err := h.dial()
		if err != nil {
			return nil, err
		}
		h.mon = &Monitor{hub: h, conn: conn}
	}
	h.mon.refs++
	return h.mon, nil
}

// Refs returns the number of open references to the shared monitor.
func (h *Hub) Refs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mon == nil {
		return 0
	}
	return h.mon.refs
}

// Monitor reports power supply changes. All holders read from the same
// stream, so an event is seen by whichever holder reads it first.
type Monitor struct {
	hub  *Hub
	conn EventConn
	refs int
}

// Fd returns the descriptor to poll for readability.
func (m *Monitor) Fd() int { return m.conn.Fd() }

// ReadEvent returns the next pending power supply event, or ErrNoEvents.
func (m *Monitor) ReadEvent() (*uevent.Event, error) {
	if m.closed() {
		return nil, ErrClosed
	}
	return m.conn.Read()
}

// Read returns the name of the next supply that changed, or ErrNoEvents.
func (m *Monitor) Read() (string, error) {
	ev, err := m.ReadEvent()
	if err != nil {
		return "", err
	}
	return ev.Name(), nil
}

// Wait blocks until an event is pending or ctx is done.
func (m *Monitor) Wait(ctx context.Context) error {
	if m.closed() {
		return ErrClosed
	}
	return m.conn.Wait(ctx)
}

func (m *Monitor) closed() bool {
	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()
	return m.refs == 0
}

// Close releases one reference. The socket is closed with the last one.
func (m *Monitor) Close() error {
	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()

	if m.refs == 0 {
		return ErrClosed
	}
	m.refs--
	if m.refs > 0 {
		return nil
	}
	if m.hub.mon == m {
		m.hub.mon = nil
	}
	return m.conn.Close()
}
