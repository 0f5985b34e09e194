package supply

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
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

func writeSupply(t *testing.T, dir, name string, attrs map[string]string) {
	t.Helper()

	for k, v := range attrs {
		writeTestFile(t, filepath.Join(dir, name, k), v+"\n")
	}
}

func newTestSupplies(t *testing.T) *Supplies {
	t.Helper()

	dir := t.TempDir()
	writeSupply(t, dir, "AC", map[string]string{
		"type":   "Mains",
		"online": "1",
	})
	writeSupply(t, dir, "BAT0", map[string]string{
		"type":               "Battery",
		"present":            "1",
		"status":             "Discharging",
		"health":             "Good",
		"capacity":           "61",
		"capacity_alert_min": "5",
		"current_now":        "-1523000",
		"voltage_now":        "12345000",
		"voltage_max":        "13200000",
		"uevent": strings.Join([]string{
			"POWER_SUPPLY_NAME=BAT0",
			"POWER_SUPPLY_MANUFACTURER=SMP",
			"POWER_SUPPLY_MODEL_NAME=5B10W13930",
			"POWER_SUPPLY_SERIAL_NUMBER=1234",
			"POWER_SUPPLY_TECHNOLOGY=Li-poly",
			"POWER_SUPPLY_CYCLE_COUNT=87",
			"POWER_SUPPLY_CHARGE_FULL_DESIGN=5000000",
			"POWER_SUPPLY_CHARGE_FULL=4500000",
		}, "\n"),
	})
	writeSupply(t, dir, "ucsi-source-psy-USBC000:001", map[string]string{
		"type":   "USB",
		"online": "0",
		"status": "Not charging",
	})
	return NewSupplies(dir)
}

func TestNamesAndAt(t *testing.T) {
	s := newTestSupplies(t)

	want := []string{"AC", "BAT0", "ucsi-source-psy-USBC000:001"}
	got, err := s.Names()
	if err != nil {
		t.Fatalf("Names() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Names() mismatch (-want +got):\n%s", diff)
	}

	for i, name := range want {
		got, err := s.At(i)
		if err != nil || got != name {
			t.Fatalf("At(%d) = %q, %v, want %q", i, got, err, name)
		}
	}
	if _, err := s.At(len(want)); !errors.Is(err, ErrEnd) {
		t.Fatalf("At(%d) error = %v, want ErrEnd", len(want), err)
	}
}

func TestNames_MissingClassDir(t *testing.T) {
	s := NewSupplies(filepath.Join(t.TempDir(), "nope"))
	if _, err := s.Names(); err == nil {
		t.Fatal("Names() succeeded without a class directory")
	}
}

func TestCapacity(t *testing.T) {
	s := newTestSupplies(t)

	c := s.Capacity("BAT0")
	if !c.Known || c.Value != 61 {
		t.Fatalf("Capacity(BAT0) = %+v, want 61", c)
	}

	missing := s.Capacity("AC")
	if missing.Known {
		t.Fatalf("Capacity(AC) = %+v, want unknown", missing)
	}
	if got := missing.Or(CapacitySentinel); got != 255 {
		t.Fatalf("Capacity(AC).Or(sentinel) = %d, want 255", got)
	}
	if got := s.CapacityAlertMin("BAT0"); got != Known(5) {
		t.Fatalf("CapacityAlertMin(BAT0) = %+v, want 5", got)
	}
	if got := s.CapacityAlertMax("BAT0"); got.Known {
		t.Fatalf("CapacityAlertMax(BAT0) = %+v, want unknown", got)
	}
}

func TestTypeAndStatus(t *testing.T) {
	s := newTestSupplies(t)

	tests := []struct {
		name   string
		typ    Type
		status Status
	}{
		{"AC", TypeMains, StatusUnknown},
		{"BAT0", TypeBattery, StatusDischarging},
		{"ucsi-source-psy-USBC000:001", TypeUSB, StatusNotCharging},
		{"missing", TypeUnknown, StatusUnknown},
	}
	for _, tc := range tests {
		if got := s.Type(tc.name); got != tc.typ {
			t.Fatalf("Type(%s) = %v, want %v", tc.name, got, tc.typ)
		}
		if got := s.Status(tc.name); got != tc.status {
			t.Fatalf("Status(%s) = %v, want %v", tc.name, got, tc.status)
		}
	}
}

func TestParseType(t *testing.T) {
	tests := map[string]Type{
		"Battery":  TypeBattery,
		"UPS":      TypeUPS,
		"Mains":    TypeMains,
		"USB":      TypeUSB,
		"USB_PD":   TypeUSB,
		"Wireless": TypeWireless,
		"Cpu":      TypeUnknown,
	}
	for in, want := range tests {
		if got := ParseType(in); got != want {
			t.Fatalf("ParseType(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPresentFallsBackToOnline(t *testing.T) {
	s := newTestSupplies(t)

	tests := []struct {
		name string
		want bool
	}{
		{"BAT0", true},
		{"AC", true},
		{"ucsi-source-psy-USBC000:001", false},
	}
	for _, tc := range tests {
		got, err := s.Present(tc.name)
		if err != nil {
			t.Fatalf("Present(%s) error = %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("Present(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}
	if _, err := s.Present("missing"); !errors.Is(err, errors.ErrUnsupported) {
		t.Fatalf("Present(missing) error = %v, want ErrUnsupported", err)
	}
}

func TestHealth(t *testing.T) {
	s := newTestSupplies(t)

	if got, err := s.Health("BAT0"); err != nil || got != "Good" {
		t.Fatalf("Health(BAT0) = %q, %v, want Good", got, err)
	}
	if _, err := s.Health("AC"); err == nil {
		t.Fatal("Health(AC) succeeded without a health attribute")
	}
}

func TestCurrentAndVoltage(t *testing.T) {
	s := newTestSupplies(t)

	if got := s.Current("BAT0", Now); got != Known(1523) {
		t.Fatalf("Current(BAT0, Now) = %+v, want 1523", got)
	}
	if got := s.Current("BAT0", Avg); got.Known {
		t.Fatalf("Current(BAT0, Avg) = %+v, want unknown", got)
	}
	if got := s.Voltage("BAT0", Now); got != Known(12345) {
		t.Fatalf("Voltage(BAT0, Now) = %+v, want 12345", got)
	}
	if got := s.Voltage("BAT0", Max); got != Known(13200) {
		t.Fatalf("Voltage(BAT0, Max) = %+v, want 13200", got)
	}
	if got := s.Voltage("AC", Now).Or(0); got != 0 {
		t.Fatalf("Voltage(AC, Now).Or(0) = %d, want 0", got)
	}
}

func TestInfo(t *testing.T) {
	s := newTestSupplies(t)

	info, err := s.Info("BAT0")
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info.Timestamp <= 0 {
		t.Fatalf("Timestamp = %d, want > 0", info.Timestamp)
	}
	if info.Type != TypeBattery || info.Status != StatusDischarging || !info.Present {
		t.Fatalf("Info() = %+v", info)
	}
	// 12345 mV * 1523 mA
	if got := info.PowerNowMW; got != Known(18801) {
		t.Fatalf("PowerNowMW = %+v, want 18801", got)
	}
	want := &Identity{
		Manufacturer:        "SMP",
		Model:               "5B10W13930",
		Serial:              "1234",
		Technology:          "Li-poly",
		CycleCount:          87,
		ChargeFullDesignUAH: 5000000,
		ChargeFullUAH:       4500000,
	}
	if diff := cmp.Diff(want, info.Identity); diff != "" {
		t.Fatalf("Identity mismatch (-want +got):\n%s", diff)
	}

	ac, err := s.Info("AC")
	if err != nil {
		t.Fatal(err)
	}
	if ac.Identity != nil {
		t.Fatalf("AC has identity %+v", ac.Identity)
	}

	if _, err := s.Info("missing"); err == nil {
		t.Fatal("Info(missing) succeeded")
	}
}

func TestInfoJSON(t *testing.T) {
	s := newTestSupplies(t)

	info, err := s.Info("AC")
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(info)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["type"] != "Mains" {
		t.Fatalf("type = %v, want Mains", m["type"])
	}
	if m["capacity_pct"] != nil {
		t.Fatalf("capacity_pct = %v, want null", m["capacity_pct"])
	}
	if m["online"] != true {
		t.Fatalf("online = %v, want true", m["online"])
	}
}

func TestReadingJSON(t *testing.T) {
	var r Reading
	if err := json.Unmarshal([]byte("42"), &r); err != nil || r != Known(42) {
		t.Fatalf("Unmarshal(42) = %+v, %v", r, err)
	}
	if err := json.Unmarshal([]byte("null"), &r); err != nil || r.Known {
		t.Fatalf("Unmarshal(null) = %+v, %v", r, err)
	}
	if r.String() != "n/a" || Known(-3).String() != "-3" {
		t.Fatalf("String() = %q, %q", r.String(), Known(-3).String())
	}
}
