package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultPath is where syspowerd looks for its configuration.
const DefaultPath = "/etc/syspower/config.toml"

const (
	minMaxSources            = 0
	maxMaxSources            = 65536
	minCacheTTLSeconds       = 0
	maxCacheTTLSeconds       = 86400
	minRebuildIntervalMillis = 0
	maxRebuildIntervalMillis = 60000
	minRebuildBurst          = 1
	maxRebuildBurst          = 100
	minSampleIntervalSeconds = 1
	maxSampleIntervalSeconds = 3600
	minRetentionDays         = 1
	maxRetentionDays         = 3650
	minCleanupIntervalHours  = 1
	maxCleanupIntervalHours  = 720
)

type Config struct {
	Paths   PathsConfig   `toml:"paths"`
	Wakeup  WakeupConfig  `toml:"wakeup"`
	Storage StorageConfig `toml:"storage"`
	Daemon  DaemonConfig  `toml:"daemon"`
	Cleanup CleanupConfig `toml:"cleanup"`
}

// PathsConfig locates the kernel interfaces. Tests and containers point
// them somewhere other than /sys and /dev.
type PathsConfig struct {
	DevicesDir     string `toml:"devices_dir"`
	PowerDir       string `toml:"power_dir"`
	IRQDir         string `toml:"irq_dir"`
	PowerSupplyDir string `toml:"power_supply_dir"`
	RTCDevice      string `toml:"rtc_device"`
}

type WakeupConfig struct {
	// MaxSources caps the wakeup source cache; 0 means unbounded.
	MaxSources int `toml:"max_sources"`
	// CacheTTLSeconds expires the cache; 0 means it never expires.
	CacheTTLSeconds int `toml:"cache_ttl_seconds"`
	// RebuildIntervalMillis spaces out rebuilds after invalidation; 0
	// disables rate limiting.
	RebuildIntervalMillis int `toml:"rebuild_interval_ms"`
	RebuildBurst          int `toml:"rebuild_burst"`
}

type StorageConfig struct {
	DBPath string `toml:"db_path"`
}

type DaemonConfig struct {
	SampleIntervalSeconds int `toml:"sample_interval_seconds"`
}

type CleanupConfig struct {
	RetentionDays int `toml:"retention_days"`
	IntervalHours int `toml:"interval_hours"`
}

// CacheTTL returns the cache expiry as a duration.
func (w WakeupConfig) CacheTTL() time.Duration {
	return time.Duration(w.CacheTTLSeconds) * time.Second
}

// RebuildInterval returns the minimum spacing of cache rebuilds.
func (w WakeupConfig) RebuildInterval() time.Duration {
	return time.Duration(w.RebuildIntervalMillis) * time.Millisecond
}

func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			DevicesDir:     "/sys/devices",
			PowerDir:       "/sys/power",
			IRQDir:         "/sys/kernel/irq",
			PowerSupplyDir: "/sys/class/power_supply",
			RTCDevice:      "/dev/rtc",
		},
		Wakeup: WakeupConfig{
			MaxSources:            0,
			CacheTTLSeconds:       0,
			RebuildIntervalMillis: 1000,
			RebuildBurst:          1,
		},
		Storage: StorageConfig{
			DBPath: "/var/lib/syspower/history.db",
		},
		Daemon: DaemonConfig{
			SampleIntervalSeconds: 60,
		},
		Cleanup: CleanupConfig{
			RetentionDays: 30,
			IntervalHours: 24,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return NormalizeAndValidate(cfg)
}

// LoadOrDefault loads path, falling back to the defaults when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

func NormalizeAndValidate(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}

	sanitized := *cfg

	paths := []struct {
		name  string
		value *string
	}{
		{"paths.devices_dir", &sanitized.Paths.DevicesDir},
		{"paths.power_dir", &sanitized.Paths.PowerDir},
		{"paths.irq_dir", &sanitized.Paths.IRQDir},
		{"paths.power_supply_dir", &sanitized.Paths.PowerSupplyDir},
		{"paths.rtc_device", &sanitized.Paths.RTCDevice},
		{"storage.db_path", &sanitized.Storage.DBPath},
	}
	for _, p := range paths {
		cleaned, err := sanitizePath(p.name, *p.value)
		if err != nil {
			return nil, err
		}
		*p.value = cleaned
	}

	ranges := []struct {
		name     string
		value    int
		min, max int
	}{
		{"wakeup.max_sources", sanitized.Wakeup.MaxSources, minMaxSources, maxMaxSources},
		{"wakeup.cache_ttl_seconds", sanitized.Wakeup.CacheTTLSeconds, minCacheTTLSeconds, maxCacheTTLSeconds},
		{"wakeup.rebuild_interval_ms", sanitized.Wakeup.RebuildIntervalMillis, minRebuildIntervalMillis, maxRebuildIntervalMillis},
		{"wakeup.rebuild_burst", sanitized.Wakeup.RebuildBurst, minRebuildBurst, maxRebuildBurst},
		{"daemon.sample_interval_seconds", sanitized.Daemon.SampleIntervalSeconds, minSampleIntervalSeconds, maxSampleIntervalSeconds},
		{"cleanup.retention_days", sanitized.Cleanup.RetentionDays, minRetentionDays, maxRetentionDays},
		{"cleanup.interval_hours", sanitized.Cleanup.IntervalHours, minCleanupIntervalHours, maxCleanupIntervalHours},
	}
	for _, r := range ranges {
		if err := validateRange(r.name, r.value, r.min, r.max); err != nil {
			return nil, err
		}
	}

	return &sanitized, nil
}

func Save(path string, cfg *Config) error {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return fmt.Errorf("config path must not be empty")
	}

	sanitized, err := NormalizeAndValidate(cfg)
	if err != nil {
		return err
	}

	var data bytes.Buffer
	if err := toml.NewEncoder(&data).Encode(sanitized); err != nil {
		return fmt.Errorf("encode config TOML: %w", err)
	}

	dir := filepath.Dir(trimmedPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".config-*.toml")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data.Bytes()); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmpFile.Chmod(0o644); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, trimmedPath); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	tmpPath = ""

	return nil
}

func sanitizePath(name, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%s must not be empty", name)
	}
	cleaned := filepath.Clean(trimmed)
	if !filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%s must be an absolute path, got %q", name, value)
	}
	return cleaned, nil
}

func validateRange(name string, value, min, max int) error {
	if value < min || value > max {
		return fmt.Errorf("%s must be between %d and %d, got %d", name, min, max, value)
	}

	return nil
}
