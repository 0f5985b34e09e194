// Package supply queries power supplies under /sys/class/power_supply and
// watches them for hotplug and state changes.
package supply

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cptspacemanspiff/syspower/internal/sysfs"
)

// DefaultDir is the power supply class directory.
const DefaultDir = "/sys/class/power_supply"

// CapacitySentinel is the value older consumers expect for a capacity that
// could not be read.
const CapacitySentinel = 255

// ErrEnd is returned by At past the last supply.
var ErrEnd = errors.New("no more power supplies")

// Reading is an integer attribute value that may be unknown.
type Reading struct {
	Value int64
	Known bool
}

// Known returns a known reading of v.
func Known(v int64) Reading { return Reading{Value: v, Known: true} }

// Or returns the value, or fallback when the reading is unknown.
func (r Reading) Or(fallback int64) int64 {
	if !r.Known {
		return fallback
	}
	return r.Value
}

func (r Reading) String() string {
	if !r.Known {
		return "n/a"
	}
	return strconv.FormatInt(r.Value, 10)
}

// MarshalJSON encodes an unknown reading as null.
func (r Reading) MarshalJSON() ([]byte, error) {
	if !r.Known {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(r.Value, 10)), nil
}

// UnmarshalJSON accepts a number or null.
func (r *Reading) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*r = Reading{}
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("decode reading: %w", err)
	}
	*r = Known(v)
	return nil
}

// Type is the kind of a power supply.
type Type int

const (
	TypeUnknown Type = iota
	TypeBattery
	TypeUPS
	TypeMains
	TypeUSB
	TypeWireless
)

var typeNames = [...]string{
	TypeUnknown:  "Unknown",
	TypeBattery:  "Battery",
	TypeUPS:      "UPS",
	TypeMains:    "Mains",
	TypeUSB:      "USB",
	TypeWireless: "Wireless",
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return typeNames[TypeUnknown]
	}
	return typeNames[t]
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// ParseType maps a kernel type string to a Type. The legacy USB charger
// types (USB_DCP, USB_C, ...) map to TypeUSB.
func ParseType(s string) Type {
	for t, name := range typeNames {
		if s == name {
			return Type(t)
		}
	}
	if strings.HasPrefix(s, "USB") {
		return TypeUSB
	}
	return TypeUnknown
}

// Status is the charging state of a supply.
type Status int

const (
	StatusUnknown Status = iota
	StatusCharging
	StatusDischarging
	StatusNotCharging
	StatusFull
)

var statusNames = [...]string{
	StatusUnknown:     "Unknown",
	StatusCharging:    "Charging",
	StatusDischarging: "Discharging",
	StatusNotCharging: "Not charging",
	StatusFull:        "Full",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return statusNames[StatusUnknown]
	}
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ParseStatus maps a kernel status string to a Status.
func ParseStatus(s string) Status {
	for st, name := range statusNames {
		if s == name {
			return Status(st)
		}
	}
	return StatusUnknown
}

// Kind selects the now, average or maximum variant of an attribute.
type Kind int

const (
	Now Kind = iota
	Avg
	Max
)

func (k Kind) suffix() string {
	switch k {
	case Avg:
		return "_avg"
	case Max:
		return "_max"
	default:
		return "_now"
	}
}

// Supplies reads power supply attributes. Nothing is cached; every query
// reads sysfs again.
type Supplies struct {
	dir string
}

// NewSupplies returns a reader for the supplies listed in dir.
func NewSupplies(dir string) *Supplies {
	if dir == "" {
		dir = DefaultDir
	}
	return &Supplies{dir: dir}
}

// Dir returns the sysfs directory of the named supply.
func (s *Supplies) Dir(name string) string {
	return filepath.Join(s.dir, name)
}

// Names lists the supplies in directory order.
func (s *Supplies) Names() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list power supplies: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// At returns the name of the supply at position i, or ErrEnd.
func (s *Supplies) At(i int) (string, error) {
	names, err := s.Names()
	if err != nil {
		return "", err
	}
	if i < 0 || i >= len(names) {
		return "", ErrEnd
	}
	return names[i], nil
}

func (s *Supplies) reading(name, attr string) Reading {
	v, err := sysfs.ReadInt(s.Dir(name), attr)
	if err != nil {
		return Reading{}
	}
	return Known(v)
}

func (s *Supplies) flag(name, attr string) (bool, error) {
	v, err := sysfs.ReadInt(s.Dir(name), attr)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// Present reports whether the supply is present, falling back to its
// online attribute when it has no present attribute.
func (s *Supplies) Present(name string) (bool, error) {
	ok, err := s.flag(name, "present")
	if err == nil {
		return ok, nil
	}
	return s.flag(name, "online")
}

// Online reports whether the supply is connected.
func (s *Supplies) Online(name string) (bool, error) {
	return s.flag(name, "online")
}

// Type returns the kind of the supply.
func (s *Supplies) Type(name string) Type {
	v, err := sysfs.ReadAttribute(s.Dir(name), "type")
	if err != nil {
		return TypeUnknown
	}
	return ParseType(strings.TrimSpace(v))
}

// Status returns the charging state of the supply.
func (s *Supplies) Status(name string) Status {
	v, err := sysfs.ReadAttribute(s.Dir(name), "status")
	if err != nil {
		return StatusUnknown
	}
	return ParseStatus(strings.TrimSpace(v))
}

// Health returns the kernel health string ("Good", "Overheat", ...).
func (s *Supplies) Health(name string) (string, error) {
	v, err := sysfs.ReadAttribute(s.Dir(name), "health")
	if err != nil {
		return "", fmt.Errorf("read health of %s: %w", name, err)
	}
	return strings.TrimSpace(v), nil
}

// Capacity returns the charge level in percent.
func (s *Supplies) Capacity(name string) Reading {
	return s.reading(name, "capacity")
}

// CapacityAlertMin returns the low capacity alert threshold in percent.
func (s *Supplies) CapacityAlertMin(name string) Reading {
	return s.reading(name, "capacity_alert_min")
}

// CapacityAlertMax returns the high capacity alert threshold in percent.
func (s *Supplies) CapacityAlertMax(name string) Reading {
	return s.reading(name, "capacity_alert_max")
}

func milli(r Reading, abs bool) Reading {
	if !r.Known {
		return r
	}
	v := r.Value
	if abs && v < 0 {
		v = -v
	}
	return Known(v / 1000)
}

// Current returns the current in mA. The sign is dropped since drivers
// disagree on it.
func (s *Supplies) Current(name string, k Kind) Reading {
	return milli(s.reading(name, "current"+k.suffix()), true)
}

// Voltage returns the voltage in mV.
func (s *Supplies) Voltage(name string, k Kind) Reading {
	return milli(s.reading(name, "voltage"+k.suffix()), false)
}

// Power returns the power draw in mW.
func (s *Supplies) Power(name string, k Kind) Reading {
	return milli(s.reading(name, "power"+k.suffix()), true)
}
