package wakeup

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cptspacemanspiff/syspower/internal/sysfs"
)

// ErrNotFound is returned when no cached source has the requested name.
var ErrNotFound = errors.New("wakeup source not found")

// CapacityError is returned by Rebuild when the tree holds more wakeup
// sources than the configured capacity. The first Capacity sources are
// still installed.
type CapacityError struct {
	Capacity int
	Found    int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("found %d wakeup sources, capacity is %d", e.Found, e.Capacity)
}

// Options tunes a Cache. The zero value gives an unbounded cache that is
// built once and only refreshed by explicit Rebuild calls.
type Options struct {
	// Capacity limits the number of installed sources. Zero means no limit.
	Capacity int
	// TTL marks the snapshot stale after this long. Zero means never.
	TTL time.Duration
	// Limiter throttles rebuilds triggered by staleness. Nil means no limit.
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

// Cache is a name index of the wakeup sources found under a device root.
type Cache struct {
	root string
	opts Options
	log  *slog.Logger
	now  func() time.Time

	mu        sync.Mutex
	sources   []Source
	index     map[string]int
	populated bool
	stale     bool
	builtAt   time.Time
	scans     int
}

// NewCache returns an empty cache over root (normally /sys/devices).
func NewCache(root string, opts Options) *Cache {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Cache{root: root, opts: opts, log: log, now: time.Now}
}

// Rebuild scans the device tree and replaces the snapshot.
func (c *Cache) Rebuild() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rebuildLocked()
}

func (c *Cache) rebuildLocked() error {
	c.scans++
	found, err := Scan(c.root)
	if err != nil {
		return fmt.Errorf("scan wakeup sources: %w", err)
	}

	var capErr error
	if c.opts.Capacity > 0 && len(found) > c.opts.Capacity {
		capErr = &CapacityError{Capacity: c.opts.Capacity, Found: len(found)}
		found = found[:c.opts.Capacity]
	}

	index := make(map[string]int, len(found))
	for i, s := range found {
		if _, dup := index[s.Name]; !dup {
			index[s.Name] = i
		}
	}
	c.sources = found
	c.index = index
	c.populated = true
	c.stale = false
	c.builtAt = c.now()
	c.log.Debug("wakeup cache rebuilt", "topic", "wakeup", "sources", len(found))
	return capErr
}

// ensureLocked builds the snapshot if it was never built, or rebuilds it if
// it went stale and the limiter allows. A capacity error still leaves a
// usable snapshot and is only logged here.
func (c *Cache) ensureLocked() error {
	if c.populated && !c.expiredLocked() {
		return nil
	}
	if c.populated && c.opts.Limiter != nil && !c.opts.Limiter.Allow() {
		return nil
	}
	err := c.rebuildLocked()
	var capErr *CapacityError
	if errors.As(err, &capErr) {
		c.log.Warn("wakeup cache truncated", "topic", "wakeup", "err", err)
		return nil
	}
	return err
}

func (c *Cache) expiredLocked() bool {
	if c.stale {
		return true
	}
	return c.opts.TTL > 0 && c.now().Sub(c.builtAt) >= c.opts.TTL
}

// Invalidate marks the snapshot stale; the next access rebuilds it.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
}

// SetTTL changes the snapshot lifetime. Zero disables expiry.
func (c *Cache) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	c.opts.TTL = ttl
	c.mu.Unlock()
}

// Scans returns the number of tree scans performed so far.
func (c *Cache) Scans() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scans
}

// Lookup returns the first source named name, building the snapshot first
// if needed.
func (c *Cache) Lookup(name string) (Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLocked(); err != nil {
		return Source{}, err
	}
	i, ok := c.index[name]
	if !ok {
		return Source{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return c.sources[i], nil
}

// Source returns the source at position i of the current snapshot. The
// boolean is false past the last source. Positions are only meaningful
// until the next rebuild.
func (c *Cache) Source(i int) (Source, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLocked(); err != nil {
		return Source{}, false, err
	}
	if i < 0 || i >= len(c.sources) {
		return Source{}, false, nil
	}
	return c.sources[i], true, nil
}

// Sources returns a copy of the current snapshot.
func (c *Cache) Sources() ([]Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLocked(); err != nil {
		return nil, err
	}
	out := make([]Source, len(c.sources))
	copy(out, c.sources)
	return out, nil
}

// Enabled reports whether the named source's power/wakeup reads exactly
// "enabled".
func (c *Cache) Enabled(name string) (bool, error) {
	s, err := c.Lookup(name)
	if err != nil {
		return false, err
	}
	v, err := sysfs.ReadAttribute(s.Path, "power/wakeup")
	if err != nil {
		return false, fmt.Errorf("read wakeup state of %s: %w", name, err)
	}
	return v == "enabled", nil
}

// SetEnabled writes "enabled" or "disabled" to the named source's
// power/wakeup.
func (c *Cache) SetEnabled(name string, enabled bool) error {
	s, err := c.Lookup(name)
	if err != nil {
		return err
	}
	v := "disabled"
	if enabled {
		v = "enabled"
	}
	if err := sysfs.WriteAttribute(s.Path, "power/wakeup", v); err != nil {
		return fmt.Errorf("set wakeup state of %s: %w", name, err)
	}
	return nil
}
