// Package sleep drives the kernel's global sleep states: autosleep,
// suspend, wake locks and the last wakeup reason.
package sleep

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cptspacemanspiff/syspower/internal/sysfs"
)

// ErrInvalidType is returned for a sleep type outside the known set.
var ErrInvalidType = fmt.Errorf("invalid sleep type: %w", unix.EINVAL)

// Type is a system sleep state.
type Type int

const (
	Freeze Type = iota
	Standby
	Mem
	Hibernate
)

var tokens = [...]string{
	Freeze:    "freeze",
	Standby:   "standby",
	Mem:       "mem",
	Hibernate: "disk",
}

// String returns the kernel token for t, or "" if t is invalid.
func (t Type) String() string {
	if !t.Valid() {
		return ""
	}
	return tokens[t]
}

// Valid reports whether t is one of the known sleep types.
func (t Type) Valid() bool {
	return t >= Freeze && t <= Hibernate
}

// ParseType accepts a kernel token or "hibernate".
func ParseType(s string) (Type, error) {
	if s == "hibernate" {
		return Hibernate, nil
	}
	for t, tok := range tokens {
		if s == tok {
			return Type(t), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidType, s)
}

// Paths locates the control files. Zero fields take the default location.
type Paths struct {
	PowerDir string // /sys/power
	IRQDir   string // /sys/kernel/irq
}

// Controller writes the /sys/power control files. Descriptors are opened
// on first use and kept until Close.
type Controller struct {
	powerDir string
	irqDir   string
	log      *slog.Logger

	autosleep  *sysfs.Knob
	state      *sysfs.Knob
	wakeLock   *sysfs.Knob
	wakeUnlock *sysfs.Knob
	wakeupIRQ  *sysfs.Knob
}

// NewController returns a controller for the files under p.
func NewController(p Paths, logger *slog.Logger) *Controller {
	if p.PowerDir == "" {
		p.PowerDir = "/sys/power"
	}
	if p.IRQDir == "" {
		p.IRQDir = "/sys/kernel/irq"
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Controller{
		powerDir:   p.PowerDir,
		irqDir:     p.IRQDir,
		log:        logger,
		autosleep:  sysfs.NewKnob(p.PowerDir, "autosleep", unix.O_WRONLY),
		state:      sysfs.NewKnob(p.PowerDir, "state", unix.O_WRONLY),
		wakeLock:   sysfs.NewKnob(p.PowerDir, "wake_lock", unix.O_WRONLY),
		wakeUnlock: sysfs.NewKnob(p.PowerDir, "wake_unlock", unix.O_WRONLY),
		wakeupIRQ:  sysfs.NewKnob(p.PowerDir, "pm_wakeup_irq", unix.O_RDONLY),
	}
}

// AutosleepEnable makes the kernel enter t whenever no wake lock is held.
func (c *Controller) AutosleepEnable(t Type) error {
	if !t.Valid() {
		return ErrInvalidType
	}
	if err := c.autosleep.Write(t.String()); err != nil {
		return fmt.Errorf("enable autosleep: %w", err)
	}
	c.log.Info("autosleep enabled", "topic", "sleep", "type", t)
	return nil
}

// AutosleepDisable turns autosleep off.
func (c *Controller) AutosleepDisable() error {
	if err := c.autosleep.Write("off"); err != nil {
		return fmt.Errorf("disable autosleep: %w", err)
	}
	c.log.Info("autosleep disabled", "topic", "sleep")
	return nil
}

// Autosleep returns the current autosleep mode as reported by the kernel.
func (c *Controller) Autosleep() (string, error) {
	v, err := sysfs.ReadAttribute(c.powerDir, "autosleep")
	if err != nil {
		return "", fmt.Errorf("read autosleep: %w", err)
	}
	return strings.TrimSpace(v), nil
}

// WakeLock acquires the named wake lock. A non-zero timeout makes the
// kernel drop the lock after that long.
func (c *Controller) WakeLock(name string, timeout time.Duration) error {
	line := name
	if timeout > 0 {
		line = name + " " + strconv.FormatInt(timeout.Nanoseconds(), 10)
	}
	if err := c.wakeLock.Write(line); err != nil {
		return fmt.Errorf("wake lock %s: %w", name, err)
	}
	return nil
}

// WakeUnlock releases the named wake lock.
func (c *Controller) WakeUnlock(name string) error {
	if err := c.wakeUnlock.Write(name); err != nil {
		return fmt.Errorf("wake unlock %s: %w", name, err)
	}
	return nil
}

// Suspend puts the system into t and returns after resume. If ctx is done
// before the transition starts nothing is written. If ctx is cancelled
// while suspended, Suspend returns ctx.Err() and the transition finishes
// in the background.
func (c *Controller) Suspend(ctx context.Context, t Type) error {
	if !t.Valid() {
		return ErrInvalidType
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.log.Info("suspending", "topic", "sleep", "type", t)
	done := make(chan error, 1)
	go func() {
		done <- c.state.Write(t.String())
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("suspend to %s: %w", t, err)
		}
		c.log.Info("resumed", "topic", "sleep", "type", t)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// States returns the sleep types the kernel advertises in /sys/power/state.
func (c *Controller) States() ([]Type, error) {
	v, err := sysfs.ReadAttribute(c.powerDir, "state")
	if err != nil {
		return nil, fmt.Errorf("read sleep states: %w", err)
	}
	var out []Type
	for _, f := range strings.Fields(v) {
		if t, err := ParseType(f); err == nil {
			out = append(out, t)
		}
	}
	return out, nil
}

// Reason identifies the interrupt that woke the system.
type Reason struct {
	IRQ     int64  `json:"irq"`
	Actions string `json:"actions"`
}

func (r Reason) String() string {
	return fmt.Sprintf("irq %d (%s)", r.IRQ, r.Actions)
}

// WakeupReason returns the interrupt that caused the last resume. It is
// only meaningful right after a resume.
func (c *Controller) WakeupReason() (Reason, error) {
	v, err := c.wakeupIRQ.Read()
	if err != nil {
		return Reason{}, fmt.Errorf("read wakeup irq: %w", err)
	}
	irq, err := strconv.ParseInt(strings.TrimSpace(v), 0, 64)
	if err != nil {
		return Reason{}, fmt.Errorf("parse wakeup irq %q: %w", v, err)
	}
	actions, err := sysfs.ReadAttribute(filepath.Join(c.irqDir, strconv.FormatInt(irq, 10)), "actions")
	if err != nil {
		return Reason{}, fmt.Errorf("read actions of irq %d: %w", irq, err)
	}
	return Reason{IRQ: irq, Actions: actions}, nil
}

// Close releases every descriptor the controller opened.
func (c *Controller) Close() error {
	var first error
	for _, k := range []*sysfs.Knob{c.autosleep, c.state, c.wakeLock, c.wakeUnlock, c.wakeupIRQ} {
		if err := k.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
