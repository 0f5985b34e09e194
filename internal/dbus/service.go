package dbus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	godbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/cptspacemanspiff/syspower/internal/storage"
	"github.com/cptspacemanspiff/syspower/internal/syspower"
)

const (
	busName   = "org.syspower.Manager"
	objPath   = "/org/syspower/Manager"
	ifaceName = "org.syspower.Manager"

	maxRangeSeconds = 366 * 86400
)

const introspectXML = `
<node>
  <interface name="` + ifaceName + `">
    <method name="ListWakeupSources">
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="SetWakeup">
      <arg direction="in" type="s" name="name"/>
      <arg direction="in" type="b" name="enabled"/>
    </method>
    <method name="RebuildWakeupSources">
      <arg direction="out" type="u" name="count"/>
    </method>
    <method name="WakeLock">
      <arg direction="in" type="s" name="name"/>
      <arg direction="in" type="u" name="timeout_ms"/>
    </method>
    <method name="WakeUnlock">
      <arg direction="in" type="s" name="name"/>
    </method>
    <method name="GetSupplies">
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetSupplyHistory">
      <arg direction="in" type="s" name="name"/>
      <arg direction="in" type="x" name="from_epoch"/>
      <arg direction="in" type="x" name="to_epoch"/>
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetResumeEvents">
      <arg direction="in" type="x" name="from_epoch"/>
      <arg direction="in" type="x" name="to_epoch"/>
      <arg direction="out" type="s" name="json"/>
    </method>
  </interface>
` + introspect.IntrospectDataString + `
</node>`

// Service exposes the power manager over D-Bus.
type Service struct {
	sys   *syspower.System
	store *storage.DB
	log   *slog.Logger
}

// NewService creates a new D-Bus service.
func NewService(sys *syspower.System, store *storage.DB, logger *slog.Logger) *Service {
	return &Service{sys: sys, store: store, log: logger}
}

// Export registers the service on the system bus.
func (s *Service) Export() (*godbus.Conn, error) {
	conn, err := godbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}

	conn.Export(s, objPath, ifaceName)
	conn.Export(introspect.Introspectable(introspectXML), objPath, "org.freedesktop.DBus.Introspectable")

	reply, err := conn.RequestName(busName, godbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf("request name: %w", err)
	}
	if reply != godbus.RequestNameReplyPrimaryOwner {
		return nil, fmt.Errorf("name %s already taken", busName)
	}

	return conn, nil
}

func validateTimeRange(from, to int64) *godbus.Error {
	if from < 0 {
		return godbus.MakeFailedError(fmt.Errorf("from_epoch must not be negative"))
	}
	if to < from {
		return godbus.MakeFailedError(fmt.Errorf("to_epoch must not be before from_epoch"))
	}
	if to-from > maxRangeSeconds {
		return godbus.MakeFailedError(fmt.Errorf("time range must not exceed %d seconds", maxRangeSeconds))
	}
	return nil
}

func marshal(v any) (string, *godbus.Error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return string(data), nil
}

type wakeupSource struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Enabled bool   `json:"enabled"`
}

// ListWakeupSources returns every cached wakeup source with its state as
// JSON.
func (s *Service) ListWakeupSources() (string, *godbus.Error) {
	sources, err := s.sys.Wakeup.Sources()
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	out := make([]wakeupSource, 0, len(sources))
	for _, src := range sources {
		enabled, err := s.sys.Wakeup.Enabled(src.Name)
		if err != nil {
			s.log.Warn("read wakeup state", "topic", "dbus", "name", src.Name, "err", err)
		}
		out = append(out, wakeupSource{Name: src.Name, Path: src.Path, Enabled: enabled})
	}
	return marshal(out)
}

// SetWakeup enables or disables a wakeup source.
func (s *Service) SetWakeup(name string, enabled bool) *godbus.Error {
	if err := s.sys.Wakeup.SetEnabled(name, enabled); err != nil {
		return godbus.MakeFailedError(err)
	}
	s.log.Info("wakeup source changed", "topic", "dbus", "name", name, "enabled", enabled)
	change := storage.WakeupChange{Timestamp: time.Now().Unix(), Name: name, Enabled: enabled}
	if err := s.store.InsertWakeupChange(change); err != nil {
		s.log.Error("record wakeup change", "topic", "storage", "err", err)
	}
	return nil
}

// RebuildWakeupSources rescans the device tree and returns the number of
// wakeup sources found.
func (s *Service) RebuildWakeupSources() (uint32, *godbus.Error) {
	if err := s.sys.Wakeup.Rebuild(); err != nil {
		s.log.Warn("rebuild wakeup cache", "topic", "dbus", "err", err)
	}
	sources, err := s.sys.Wakeup.Sources()
	if err != nil {
		return 0, godbus.MakeFailedError(err)
	}
	return uint32(len(sources)), nil
}

// WakeLock acquires a kernel wake lock.
func (s *Service) WakeLock(name string, timeoutMs uint32) *godbus.Error {
	if name == "" {
		return godbus.MakeFailedError(fmt.Errorf("wake lock name must not be empty"))
	}
	if err := s.sys.Sleep.WakeLock(name, time.Duration(timeoutMs)*time.Millisecond); err != nil {
		return godbus.MakeFailedError(err)
	}
	return nil
}

// WakeUnlock releases a kernel wake lock.
func (s *Service) WakeUnlock(name string) *godbus.Error {
	if name == "" {
		return godbus.MakeFailedError(fmt.Errorf("wake lock name must not be empty"))
	}
	if err := s.sys.Sleep.WakeUnlock(name); err != nil {
		return godbus.MakeFailedError(err)
	}
	return nil
}

// GetSupplies returns a snapshot of every power supply as JSON.
func (s *Service) GetSupplies() (string, *godbus.Error) {
	infos, err := s.sys.Supplies.All()
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return marshal(infos)
}

// GetSupplyHistory returns stored samples and events in a time range as
// JSON. An empty name selects every supply.
func (s *Service) GetSupplyHistory(name string, fromEpoch, toEpoch int64) (string, *godbus.Error) {
	if err := validateTimeRange(fromEpoch, toEpoch); err != nil {
		return "", err
	}
	samples, err := s.store.SupplySamplesInRange(name, fromEpoch, toEpoch)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	events, err := s.store.SupplyEventsInRange(fromEpoch, toEpoch)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	if name != "" {
		filtered := events[:0]
		for _, e := range events {
			if e.Name == name {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	if samples == nil {
		samples = []storage.SupplySample{}
	}
	if events == nil {
		events = []storage.SupplyEvent{}
	}
	return marshal(map[string]any{"samples": samples, "events": events})
}

// GetResumeEvents returns resume events in a time range as JSON.
func (s *Service) GetResumeEvents(fromEpoch, toEpoch int64) (string, *godbus.Error) {
	if err := validateTimeRange(fromEpoch, toEpoch); err != nil {
		return "", err
	}
	events, err := s.store.ResumeEventsInRange(fromEpoch, toEpoch)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	if events == nil {
		events = []storage.ResumeEvent{}
	}
	return marshal(events)
}
