package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cptspacemanspiff/syspower/internal/config"
	"github.com/cptspacemanspiff/syspower/internal/storage"
	"github.com/cptspacemanspiff/syspower/internal/supply"
	"github.com/cptspacemanspiff/syspower/internal/syspower"
)

// Ticks further apart than this many sample intervals mean the machine
// was asleep in between.
const wallClockJump = 3

// recorder writes what the daemon observes into the history database.
type recorder struct {
	sys   *syspower.System
	store *storage.DB
	now   func() time.Time

	supplyLog  *slog.Logger
	sleepLog   *slog.Logger
	storageLog *slog.Logger

	mu        sync.Mutex
	retention time.Duration
	sample    time.Duration
	cleanup   time.Duration
}

func newRecorder(sys *syspower.System, store *storage.DB, logger *slog.Logger) *recorder {
	r := &recorder{
		sys:        sys,
		store:      store,
		now:        time.Now,
		supplyLog:  logger.With("topic", "supply"),
		sleepLog:   logger.With("topic", "sleep"),
		storageLog: logger.With("topic", "storage"),
	}
	r.apply(sys.Config())
	return r
}

// apply takes the reloadable settings from cfg.
func (r *recorder) apply(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retention = time.Duration(cfg.Cleanup.RetentionDays) * 24 * time.Hour
	r.sample = time.Duration(cfg.Daemon.SampleIntervalSeconds) * time.Second
	r.cleanup = time.Duration(cfg.Cleanup.IntervalHours) * time.Hour
	r.sys.Wakeup.SetTTL(cfg.Wakeup.CacheTTL())
}

func (r *recorder) intervals() (sample, cleanup time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sample, r.cleanup
}

// recordResume stores why the system last woke up. A reason that cannot
// be read is stored with its error so the resume itself is not lost.
func (r *recorder) recordResume() error {
	ev := storage.ResumeEvent{Timestamp: r.now().Unix()}
	reason, err := r.sys.Sleep.WakeupReason()
	if err != nil {
		ev.Error = err.Error()
		r.sleepLog.Debug("wakeup reason unavailable", "err", err)
	} else {
		ev.IRQ = supply.Known(reason.IRQ)
		ev.Actions = reason.Actions
		r.sleepLog.Info("resumed", "reason", reason.String())
	}
	// Devices may have come and gone while asleep.
	r.sys.Wakeup.Invalidate()
	return r.store.InsertResumeEvent(ev)
}

// sampleSupplies stores one sample of every power supply.
func (r *recorder) sampleSupplies() (int, error) {
	infos, err := r.sys.Supplies.All()
	if err != nil {
		return 0, err
	}
	samples := make([]storage.SupplySample, 0, len(infos))
	for _, info := range infos {
		samples = append(samples, storage.SampleFromInfo(info))
		r.supplyLog.Debug("sample",
			"name", info.Name,
			"status", info.Status.String(),
			"capacity_pct", info.CapacityPct.String(),
			"power_mw", info.PowerNowMW.String())
	}
	if err := r.store.InsertSupplySamples(samples); err != nil {
		return 0, err
	}
	return len(samples), nil
}

// recordSupplyChange stores a supply uevent together with a fresh sample
// of that supply.
func (r *recorder) recordSupplyChange(name, action string) error {
	ts := r.now().Unix()
	if err := r.store.InsertSupplyEvent(storage.SupplyEvent{Timestamp: ts, Name: name, Action: action}); err != nil {
		return err
	}
	info, err := r.sys.Supplies.Info(name)
	if err != nil {
		// Removed supplies have nothing left to sample.
		r.supplyLog.Debug("supply gone", "name", name, "err", err)
		return nil
	}
	r.supplyLog.Info("supply changed", "name", name, "action", action, "status", info.Status.String())
	return r.store.InsertSupplySamples([]storage.SupplySample{storage.SampleFromInfo(info)})
}

// pruneHistory deletes rows older than the retention period.
func (r *recorder) pruneHistory() (int64, error) {
	r.mu.Lock()
	retention := r.retention
	r.mu.Unlock()

	cutoff := r.now().Add(-retention).Unix()
	n, err := r.store.DeleteOlderThan(cutoff)
	if err != nil {
		return 0, err
	}
	r.storageLog.Info("pruned history", "rows", n, "before", cutoff)
	return n, nil
}

// runSampler samples supplies on a ticker. A tick that arrives much later
// than expected is treated as a resume, which catches sleeps that logind
// did not announce.
func (r *recorder) runSampler(ctx context.Context) error {
	interval, _ := r.intervals()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastTick := r.now().Round(0) // Strip monotonic so Sub uses wall clock across suspend
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := r.now().Round(0)
			if gap := now.Sub(lastTick); gap > wallClockJump*interval {
				r.sleepLog.Info("wall-clock jump detected", "gap_secs", int(gap.Seconds()))
				if err := r.recordResume(); err != nil {
					r.storageLog.Error("store resume event", "err", err)
				}
			}
			lastTick = now

			if _, err := r.sampleSupplies(); err != nil {
				r.storageLog.Error("store supply samples", "err", err)
			}
			if next, _ := r.intervals(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// runResumes records a resume for every wake announced on wake.
func (r *recorder) runResumes(ctx context.Context, wake <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-wake:
			if err := r.recordResume(); err != nil {
				r.storageLog.Error("store resume event", "err", err)
			}
		}
	}
}

// runSupplyEvents records power supply uevents until ctx is done.
func (r *recorder) runSupplyEvents(ctx context.Context) error {
	mon, err := r.sys.Monitors.Open()
	if err != nil {
		r.supplyLog.Warn("supply monitor unavailable", "err", err)
		return nil
	}
	defer mon.Close()

	for {
		if err := mon.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for {
			ev, err := mon.ReadEvent()
			if errors.Is(err, supply.ErrNoEvents) {
				break
			}
			if errors.Is(err, supply.ErrOverflow) {
				r.supplyLog.Warn("supply events lost, resampling")
				if _, err := r.sampleSupplies(); err != nil {
					r.storageLog.Error("store supply samples", "err", err)
				}
				continue
			}
			if err != nil {
				return err
			}
			if err := r.recordSupplyChange(ev.Name(), ev.Action); err != nil {
				r.storageLog.Error("store supply event", "err", err)
			}
		}
	}
}

// runCleanup prunes the history once at start and then periodically.
func (r *recorder) runCleanup(ctx context.Context) error {
	if _, err := r.pruneHistory(); err != nil {
		r.storageLog.Error("prune history", "err", err)
	}
	_, interval := r.intervals()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.pruneHistory(); err != nil {
				r.storageLog.Error("prune history", "err", err)
			}
			if _, next := r.intervals(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}
