package supply

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Info is a snapshot of every attribute of one supply.
type Info struct {
	Timestamp        int64   `json:"timestamp"`
	Name             string  `json:"name"`
	Type             Type    `json:"type"`
	Status           Status  `json:"status"`
	Present          bool    `json:"present"`
	Online           bool    `json:"online"`
	Health           string  `json:"health,omitempty"`
	CapacityPct      Reading `json:"capacity_pct"`
	CapacityAlertMin Reading `json:"capacity_alert_min"`
	CapacityAlertMax Reading `json:"capacity_alert_max"`
	CurrentNowMA     Reading `json:"current_now_ma"`
	CurrentAvgMA     Reading `json:"current_avg_ma"`
	CurrentMaxMA     Reading `json:"current_max_ma"`
	VoltageNowMV     Reading `json:"voltage_now_mv"`
	VoltageAvgMV     Reading `json:"voltage_avg_mv"`
	VoltageMaxMV     Reading `json:"voltage_max_mv"`
	PowerNowMW       Reading `json:"power_now_mw"`

	Identity *Identity `json:"identity,omitempty"`
}

// Identity describes a battery pack, from its uevent file.
type Identity struct {
	Manufacturer        string `json:"manufacturer"`
	Model               string `json:"model"`
	Serial              string `json:"serial"`
	Technology          string `json:"technology"`
	CycleCount          int64  `json:"cycle_count"`
	ChargeFullDesignUAH int64  `json:"charge_full_design_uah"`
	ChargeFullUAH       int64  `json:"charge_full_uah"`
}

// Info reads a snapshot of the named supply.
func (s *Supplies) Info(name string) (*Info, error) {
	if _, err := os.Stat(s.Dir(name)); err != nil {
		return nil, fmt.Errorf("power supply %s: %w", name, err)
	}

	info := &Info{
		Timestamp:        time.Now().Unix(),
		Name:             name,
		Type:             s.Type(name),
		Status:           s.Status(name),
		CapacityPct:      s.Capacity(name),
		CapacityAlertMin: s.CapacityAlertMin(name),
		CapacityAlertMax: s.CapacityAlertMax(name),
		CurrentNowMA:     s.Current(name, Now),
		CurrentAvgMA:     s.Current(name, Avg),
		CurrentMaxMA:     s.Current(name, Max),
		VoltageNowMV:     s.Voltage(name, Now),
		VoltageAvgMV:     s.Voltage(name, Avg),
		VoltageMaxMV:     s.Voltage(name, Max),
		PowerNowMW:       s.Power(name, Now),
	}
	info.Present, _ = s.Present(name)
	info.Online, _ = s.Online(name)
	info.Health, _ = s.Health(name)

	// Many batteries only report voltage and current.
	if !info.PowerNowMW.Known && info.VoltageNowMV.Known && info.CurrentNowMA.Known {
		info.PowerNowMW = Known(info.VoltageNowMV.Value * info.CurrentNowMA.Value / 1000)
	}

	if info.Type == TypeBattery {
		info.Identity = s.identity(name)
	}
	return info, nil
}

// All returns a snapshot of every supply.
func (s *Supplies) All() ([]*Info, error) {
	names, err := s.Names()
	if err != nil {
		return nil, err
	}
	out := make([]*Info, 0, len(names))
	for _, name := range names {
		info, err := s.Info(name)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

func (s *Supplies) identity(name string) *Identity {
	data, err := os.ReadFile(filepath.Join(s.Dir(name), "uevent"))
	if err != nil {
		return nil
	}
	props := parseUevent(string(data))
	id := &Identity{
		Manufacturer: props["POWER_SUPPLY_MANUFACTURER"],
		Model:        props["POWER_SUPPLY_MODEL_NAME"],
		Serial:       props["POWER_SUPPLY_SERIAL_NUMBER"],
		Technology:   props["POWER_SUPPLY_TECHNOLOGY"],
	}
	id.CycleCount, _ = strconv.ParseInt(props["POWER_SUPPLY_CYCLE_COUNT"], 10, 64)
	id.ChargeFullDesignUAH, _ = strconv.ParseInt(props["POWER_SUPPLY_CHARGE_FULL_DESIGN"], 10, 64)
	id.ChargeFullUAH, _ = strconv.ParseInt(props["POWER_SUPPLY_CHARGE_FULL"], 10, 64)
	return id
}

func parseUevent(data string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(data, "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			props[k] = v
		}
	}
	return props
}
