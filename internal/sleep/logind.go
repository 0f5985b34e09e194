package sleep

import (
	"log/slog"

	"github.com/godbus/dbus/v5"
)

const (
	loginManager       = "org.freedesktop.login1.Manager"
	prepareForSleep    = loginManager + ".PrepareForSleep"
	prepareForShutdown = loginManager + ".PrepareForShutdown"
)

// SignalConn is the part of a bus connection the monitor uses.
type SignalConn interface {
	AddMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
}

// Monitor listens for systemd-logind PrepareForSleep signals and reports
// each resume on a channel, so a daemon can read the wakeup reason while it
// is still current.
type Monitor struct {
	conn SignalConn
	done chan struct{}
	wake chan struct{}
	log  *slog.Logger
}

// NewMonitor connects to the system bus and starts listening.
func NewMonitor(logger *slog.Logger) (*Monitor, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	return NewMonitorOn(conn, logger)
}

// NewMonitorOn starts a monitor on an existing connection.
func NewMonitorOn(conn SignalConn, logger *slog.Logger) (*Monitor, error) {
	for _, member := range []string{"PrepareForSleep", "PrepareForShutdown"} {
		err := conn.AddMatchSignal(
			dbus.WithMatchInterface(loginManager),
			dbus.WithMatchMember(member),
		)
		if err != nil {
			return nil, err
		}
	}

	m := &Monitor{
		conn: conn,
		done: make(chan struct{}),
		wake: make(chan struct{}, 1),
		log:  logger,
	}
	ch := make(chan *dbus.Signal, 16)
	conn.Signal(ch)
	go m.listen(ch)
	return m, nil
}

// Wake returns a channel that receives a value each time the system resumes.
func (m *Monitor) Wake() <-chan struct{} {
	return m.wake
}

// Close stops the monitor.
func (m *Monitor) Close() {
	close(m.done)
}

func (m *Monitor) listen(ch chan *dbus.Signal) {
	defer m.conn.RemoveSignal(ch)

	for {
		select {
		case sig := <-ch:
			m.handle(sig)
		case <-m.done:
			return
		}
	}
}

func (m *Monitor) handle(sig *dbus.Signal) {
	if sig == nil || len(sig.Body) < 1 {
		return
	}
	active, ok := sig.Body[0].(bool)
	if !ok {
		return
	}

	switch sig.Name {
	case prepareForShutdown:
		if active {
			m.log.Info("system preparing for shutdown", "topic", "sleep")
		}
	case prepareForSleep:
		if active {
			m.log.Info("system going to sleep", "topic", "sleep")
			return
		}
		m.log.Info("system woke up", "topic", "sleep")
		select {
		case m.wake <- struct{}{}:
		default:
		}
	}
}
