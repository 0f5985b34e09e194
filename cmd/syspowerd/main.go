// Command syspowerd records power supply history and resume events and
// serves the power management interface on the system bus.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"golang.org/x/sync/errgroup"

	"github.com/cptspacemanspiff/syspower/internal/config"
	dbussvc "github.com/cptspacemanspiff/syspower/internal/dbus"
	"github.com/cptspacemanspiff/syspower/internal/sleep"
	"github.com/cptspacemanspiff/syspower/internal/storage"
	"github.com/cptspacemanspiff/syspower/internal/syspower"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the configuration file")
	verbose := flag.Bool("verbose", false, "enable all verbose logging (equivalent to -log=all)")
	logFlag := flag.String("log", "", "comma-separated log topics: supply,wakeup,sleep,dbus,storage (or 'all')")
	resetDB := flag.Bool("reset-db", false, "delete the database and start fresh")
	flag.Parse()

	logger := slog.New(newTopicHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}),
		*verbose, *logFlag))

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		logger.Error("load config", "path", *configPath, "err", err)
		os.Exit(1)
	}

	dbPath := cfg.Storage.DBPath
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		logger.Error("create data dir", "err", err)
		os.Exit(1)
	}

	if *resetDB {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
				logger.Error("delete database", "err", err)
				os.Exit(1)
			}
		}
		logger.Info("database deleted", "path", dbPath)
		return
	}

	if err := run(*configPath, cfg, logger); err != nil {
		logger.Error("syspowerd failed", "err", err)
		os.Exit(1)
	}
}

func run(configPath string, cfg *config.Config, logger *slog.Logger) error {
	store, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	sys := syspower.New(cfg, logger)
	defer sys.Close()

	conn, err := dbussvc.NewService(sys, store, logger.With("topic", "dbus")).Export()
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Info("D-Bus service registered", "name", "org.syspower.Manager")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec := newRecorder(sys, store, logger)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return rec.runSampler(ctx) })
	g.Go(func() error { return rec.runCleanup(ctx) })
	g.Go(func() error { return rec.runSupplyEvents(ctx) })

	sleepLog := logger.With("topic", "sleep")
	if mon, err := sleep.NewMonitor(sleepLog); err != nil {
		logger.Warn("sleep monitor unavailable", "err", err)
	} else {
		defer mon.Close()
		g.Go(func() error { return rec.runResumes(ctx, mon.Wake()) })
	}

	if inv, err := sys.WatchHotplug(); err != nil {
		logger.Warn("hotplug watch unavailable", "err", err)
	} else {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return inv.Stop()
			case <-inv.Dead():
				// The cache still works without hotplug; it only goes stale.
				logger.Warn("hotplug watch stopped", "err", inv.Stop())
				return nil
			}
		})
	}

	g.Go(func() error {
		return watchConfig(ctx, configPath, reloadDebounce, func() error {
			next, err := config.LoadOrDefault(configPath)
			if err != nil {
				return err
			}
			rec.apply(next)
			logger.Info("config reloaded", "path", configPath)
			return nil
		}, logger)
	})

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Debug("sd_notify ready", "err", err)
	}
	logger.Info("syspowerd started", "sample_interval_secs", cfg.Daemon.SampleIntervalSeconds)

	err = g.Wait()
	logger.Info("shutting down")
	if _, nerr := daemon.SdNotify(false, daemon.SdNotifyStopping); nerr != nil {
		logger.Debug("sd_notify stopping", "err", nerr)
	}
	return err
}
