package main

import (
	"fmt"
	"slices"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/cptspacemanspiff/syspower/internal/rtc"
	"github.com/cptspacemanspiff/syspower/internal/sleep"
)

func init() {
	addCommand("nap", "Suspend, optionally waking after a delay", `
The nap command suspends the system to standby, or to memory when standby
is not available. With a delay the RTC alarm is programmed first so the
system wakes by itself. The wakeup reason is printed after resume.
`, func() flags.Commander { return &cmdNap{} })
	addCommand("autosleep", "Show or set the autosleep mode", `
Without an argument the current autosleep mode is printed. Otherwise the
kernel is told to enter the given sleep type (freeze, standby, mem or
disk) whenever no wake lock is held, or to stop doing so with "off".
`, func() flags.Commander { return &cmdAutosleep{} })
	addCommand("lock", "Acquire a wake lock", "", func() flags.Commander { return &cmdLock{} })
	addCommand("unlock", "Release a wake lock", "", func() flags.Commander { return &cmdUnlock{} })
	addCommand("reason", "Show what woke the system last", "", func() flags.Commander { return &cmdReason{} })
}

type cmdNap struct {
	Positional struct {
		Seconds uint `positional-arg-name:"<seconds>"`
	} `positional-args:"yes"`
}

// napType prefers standby and falls back to suspend to memory.
func napType(states []sleep.Type) (sleep.Type, error) {
	for _, t := range []sleep.Type{sleep.Standby, sleep.Mem} {
		if slices.Contains(states, t) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("neither standby nor mem sleep is supported")
}

func (c *cmdNap) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	sys, err := openSystem()
	if err != nil {
		return err
	}
	defer sys.Close()

	states, err := sys.Sleep.States()
	if err != nil {
		return err
	}
	t, err := napType(states)
	if err != nil {
		return err
	}

	ctx, cancel := interruptible()
	defer cancel()
	if c.Positional.Seconds > 0 {
		at, err := sys.Alarm.Set(ctx, c.Positional.Seconds, false)
		if err != nil {
			return fmt.Errorf("cannot set wake alarm: %w", err)
		}
		fmt.Fprintf(Stdout, "wake alarm set for %s\n", rtc.FormatTime(at))
	}
	if err := sys.Sleep.Suspend(ctx, t); err != nil {
		return err
	}
	printReason(sys.Sleep)
	return nil
}

type cmdAutosleep struct {
	Positional struct {
		Mode string `positional-arg-name:"<type|off>"`
	} `positional-args:"yes"`
}

func (c *cmdAutosleep) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	sys, err := openSystem()
	if err != nil {
		return err
	}
	defer sys.Close()

	switch c.Positional.Mode {
	case "":
		mode, err := sys.Sleep.Autosleep()
		if err != nil {
			return err
		}
		fmt.Fprintln(Stdout, mode)
		return nil
	case "off":
		return sys.Sleep.AutosleepDisable()
	}
	t, err := sleep.ParseType(c.Positional.Mode)
	if err != nil {
		return err
	}
	return sys.Sleep.AutosleepEnable(t)
}

type cmdLock struct {
	Timeout    uint `long:"timeout" value-name:"<ms>" description:"Release the lock automatically after this many milliseconds"`
	Positional struct {
		Name string `positional-arg-name:"<name>" required:"yes"`
	} `positional-args:"yes"`
}

func (c *cmdLock) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	sys, err := openSystem()
	if err != nil {
		return err
	}
	defer sys.Close()
	return sys.Sleep.WakeLock(c.Positional.Name, time.Duration(c.Timeout)*time.Millisecond)
}

type cmdUnlock struct {
	Positional struct {
		Name string `positional-arg-name:"<name>" required:"yes"`
	} `positional-args:"yes"`
}

func (c *cmdUnlock) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	sys, err := openSystem()
	if err != nil {
		return err
	}
	defer sys.Close()
	return sys.Sleep.WakeUnlock(c.Positional.Name)
}

type cmdReason struct{}

func (c *cmdReason) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	sys, err := openSystem()
	if err != nil {
		return err
	}
	defer sys.Close()
	printReason(sys.Sleep)
	return nil
}

func printReason(c *sleep.Controller) {
	reason, err := c.WakeupReason()
	if err != nil {
		fmt.Fprintf(Stdout, "wakeup reason unavailable: %v\n", err)
		return
	}
	fmt.Fprintf(Stdout, "woken by %s\n", reason)
}
