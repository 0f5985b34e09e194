// Package syspower ties the power management components together around
// one configuration. Every stateful piece (open descriptors, the wakeup
// source cache, the shared supply monitor) lives in a System value, so
// several independent instances can coexist.
package syspower

import (
	"errors"
	"io"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/cptspacemanspiff/syspower/internal/config"
	"github.com/cptspacemanspiff/syspower/internal/rtc"
	"github.com/cptspacemanspiff/syspower/internal/sleep"
	"github.com/cptspacemanspiff/syspower/internal/supply"
	"github.com/cptspacemanspiff/syspower/internal/uevent"
	"github.com/cptspacemanspiff/syspower/internal/wakeup"
)

// System owns the power management state of one process.
type System struct {
	Sleep    *sleep.Controller
	Alarm    *rtc.Alarm
	Wakeup   *wakeup.Cache
	Supplies *supply.Supplies
	Monitors *supply.Hub

	cfg *config.Config
	log *slog.Logger
}

// New builds a System from cfg. Nothing is opened until first use.
func New(cfg *config.Config, logger *slog.Logger) *System {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var limiter *rate.Limiter
	if iv := cfg.Wakeup.RebuildInterval(); iv > 0 {
		limiter = rate.NewLimiter(rate.Every(iv), cfg.Wakeup.RebuildBurst)
	}

	return &System{
		Sleep: sleep.NewController(sleep.Paths{
			PowerDir: cfg.Paths.PowerDir,
			IRQDir:   cfg.Paths.IRQDir,
		}, logger),
		Alarm: rtc.NewAlarm(cfg.Paths.RTCDevice, logger),
		Wakeup: wakeup.NewCache(cfg.Paths.DevicesDir, wakeup.Options{
			Capacity: cfg.Wakeup.MaxSources,
			TTL:      cfg.Wakeup.CacheTTL(),
			Limiter:  limiter,
			Logger:   logger,
		}),
		Supplies: supply.NewSupplies(cfg.Paths.PowerSupplyDir),
		Monitors: supply.NewHub(),
		cfg:      cfg,
		log:      logger,
	}
}

// Config returns the configuration the System was built from.
func (s *System) Config() *config.Config { return s.cfg }

// WatchHotplug starts invalidating the wakeup source cache on device
// hotplug. The caller stops it.
func (s *System) WatchHotplug() (*wakeup.Invalidator, error) {
	conn, err := uevent.Dial(uevent.Filter{Actions: wakeup.HotplugActions})
	if err != nil {
		return nil, err
	}
	return wakeup.NewInvalidator(s.Wakeup, conn), nil
}

// Close releases the descriptors held by the System.
func (s *System) Close() error {
	return errors.Join(s.Sleep.Close(), s.Alarm.Close())
}
