package dbus

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	godbus "github.com/godbus/dbus/v5"

	"github.com/cptspacemanspiff/syspower/internal/config"
	"github.com/cptspacemanspiff/syspower/internal/storage"
	"github.com/cptspacemanspiff/syspower/internal/supply"
	"github.com/cptspacemanspiff/syspower/internal/syspower"
)

func writeTestFile(t *testing.T, path, contents string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newTestService(t *testing.T) (*Service, *storage.DB, *config.Config) {
	t.Helper()

	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	cfg.Paths = config.PathsConfig{
		DevicesDir:     filepath.Join(root, "devices"),
		PowerDir:       filepath.Join(root, "power"),
		IRQDir:         filepath.Join(root, "irq"),
		PowerSupplyDir: filepath.Join(root, "power_supply"),
		RTCDevice:      filepath.Join(root, "rtc0"),
	}
	lid := filepath.Join(cfg.Paths.DevicesDir, "platform/PNP0C0D:00")
	writeTestFile(t, filepath.Join(lid, "power/wakeup"), "enabled\n")
	if err := os.Symlink(root, filepath.Join(lid, "driver")); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, filepath.Join(cfg.Paths.PowerDir, "wake_lock"), "")
	writeTestFile(t, filepath.Join(cfg.Paths.PowerDir, "wake_unlock"), "")
	writeTestFile(t, filepath.Join(cfg.Paths.PowerSupplyDir, "AC/type"), "Mains\n")
	writeTestFile(t, filepath.Join(cfg.Paths.PowerSupplyDir, "AC/online"), "1\n")

	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("db.Close() error = %v", err)
		}
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sys := syspower.New(cfg, logger)
	t.Cleanup(func() { sys.Close() })
	return NewService(sys, db, logger), db, cfg
}

func TestService_InvalidTimeRanges(t *testing.T) {
	svc, _, _ := newTestService(t)

	tests := []struct {
		name string
		call func() *godbus.Error
	}{
		{
			name: "GetSupplyHistory negative from",
			call: func() *godbus.Error {
				_, err := svc.GetSupplyHistory("", -1, 0)
				return err
			},
		},
		{
			name: "GetSupplyHistory to before from",
			call: func() *godbus.Error {
				_, err := svc.GetSupplyHistory("BAT0", 10, 9)
				return err
			},
		},
		{
			name: "GetSupplyHistory range too large",
			call: func() *godbus.Error {
				_, err := svc.GetSupplyHistory("", 0, 86400*367)
				return err
			},
		},
		{
			name: "GetResumeEvents negative from",
			call: func() *godbus.Error {
				_, err := svc.GetResumeEvents(-1, 0)
				return err
			},
		},
		{
			name: "GetResumeEvents to before from",
			call: func() *godbus.Error {
				_, err := svc.GetResumeEvents(10, 9)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); err == nil {
				t.Fatal("expected D-Bus error, got nil")
			}
		})
	}
}

func TestService_WakeupSources(t *testing.T) {
	svc, db, _ := newTestService(t)

	out, derr := svc.ListWakeupSources()
	if derr != nil {
		t.Fatalf("ListWakeupSources() error = %v", derr)
	}
	var sources []wakeupSource
	if err := json.Unmarshal([]byte(out), &sources); err != nil {
		t.Fatalf("unmarshal %q: %v", out, err)
	}
	if len(sources) != 1 || sources[0].Name != "PNP0C0D:00" || !sources[0].Enabled {
		t.Fatalf("ListWakeupSources() = %+v", sources)
	}

	if derr := svc.SetWakeup("PNP0C0D:00", false); derr != nil {
		t.Fatalf("SetWakeup() error = %v", derr)
	}
	changes, err := db.WakeupChangesInRange(0, 1<<62)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].Enabled {
		t.Fatalf("recorded changes = %+v", changes)
	}
	if derr := svc.SetWakeup("nonexistent", true); derr == nil {
		t.Fatal("SetWakeup(nonexistent) succeeded")
	}

	n, derr := svc.RebuildWakeupSources()
	if derr != nil || n != 1 {
		t.Fatalf("RebuildWakeupSources() = %d, %v, want 1", n, derr)
	}
}

func TestService_WakeLocks(t *testing.T) {
	svc, _, cfg := newTestService(t)

	if derr := svc.WakeLock("backup", 2000); derr != nil {
		t.Fatalf("WakeLock() error = %v", derr)
	}
	if derr := svc.WakeUnlock("backup"); derr != nil {
		t.Fatalf("WakeUnlock() error = %v", derr)
	}
	if derr := svc.WakeLock("", 0); derr == nil {
		t.Fatal("WakeLock(\"\") succeeded")
	}

	data, err := os.ReadFile(filepath.Join(cfg.Paths.PowerDir, "wake_lock"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "backup 2000000000\n" {
		t.Fatalf("wake_lock = %q", data)
	}
}

func TestService_SuccessJSONShapes(t *testing.T) {
	svc, db, _ := newTestService(t)

	sample := storage.SupplySample{Timestamp: 100, Name: "BAT0", Type: "Battery", Status: "Full", CapacityPct: supply.Known(100)}
	if err := db.InsertSupplySamples([]storage.SupplySample{sample}); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertSupplyEvent(storage.SupplyEvent{Timestamp: 100, Name: "AC", Action: "change"}); err != nil {
		t.Fatal(err)
	}

	supplies, derr := svc.GetSupplies()
	if derr != nil {
		t.Fatalf("GetSupplies() error = %v", derr)
	}
	if !strings.Contains(supplies, `"type":"Mains"`) {
		t.Fatalf("GetSupplies() = %s", supplies)
	}

	history, derr := svc.GetSupplyHistory("BAT0", 0, 200)
	if derr != nil {
		t.Fatalf("GetSupplyHistory() error = %v", derr)
	}
	var shape struct {
		Samples []storage.SupplySample `json:"samples"`
		Events  []storage.SupplyEvent  `json:"events"`
	}
	if err := json.Unmarshal([]byte(history), &shape); err != nil {
		t.Fatalf("unmarshal %q: %v", history, err)
	}
	if len(shape.Samples) != 1 || shape.Samples[0].CapacityPct != supply.Known(100) {
		t.Fatalf("samples = %+v", shape.Samples)
	}
	if len(shape.Events) != 0 {
		t.Fatalf("events for BAT0 = %+v, want none", shape.Events)
	}

	resumes, derr := svc.GetResumeEvents(0, 200)
	if derr != nil {
		t.Fatalf("GetResumeEvents() error = %v", derr)
	}
	if resumes != "[]" {
		t.Fatalf("GetResumeEvents() = %s, want []", resumes)
	}
}
