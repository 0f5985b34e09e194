package wakeup

import (
	"context"
	"errors"

	"gopkg.in/tomb.v2"

	"github.com/cptspacemanspiff/syspower/internal/uevent"
)

// EventSource is the part of a uevent connection the invalidator needs.
type EventSource interface {
	Read() (*uevent.Event, error)
	Wait(ctx context.Context) error
	Close() error
}

// HotplugActions are the uevent actions that change the set of devices.
var HotplugActions = []string{"add", "remove", "bind", "unbind"}

// Invalidator marks a cache stale whenever a device is added, removed,
// bound or unbound.
type Invalidator struct {
	cache *Cache
	src   EventSource
	tomb  tomb.Tomb
}

// NewInvalidator starts draining src into cache. src is closed by Stop.
func NewInvalidator(cache *Cache, src EventSource) *Invalidator {
	inv := &Invalidator{cache: cache, src: src}
	inv.tomb.Go(inv.run)
	return inv
}

func (inv *Invalidator) run() error {
	ctx := inv.tomb.Context(nil)
	for {
		if err := inv.src.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for {
			ev, err := inv.src.Read()
			if errors.Is(err, uevent.ErrNoEvents) {
				break
			}
			if errors.Is(err, uevent.ErrOverflow) {
				inv.cache.log.Warn("hotplug events lost", "topic", "wakeup")
				inv.cache.Invalidate()
				continue
			}
			if err != nil {
				return err
			}
			inv.cache.log.Debug("device hotplug", "topic", "wakeup", "action", ev.Action, "devpath", ev.DevPath)
			inv.cache.Invalidate()
		}
	}
}

// Stop terminates the invalidator and closes its event source.
func (inv *Invalidator) Stop() error {
	inv.tomb.Kill(nil)
	err := inv.tomb.Wait()
	if cerr := inv.src.Close(); err == nil {
		err = cerr
	}
	return err
}

// Dead is closed when the invalidator stops, on Stop or on a read error.
func (inv *Invalidator) Dead() <-chan struct{} {
	return inv.tomb.Dead()
}

// Err returns the reason the invalidator died, if it did.
func (inv *Invalidator) Err() error {
	return inv.tomb.Err()
}
