package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/jessevdk/go-flags"

	"github.com/cptspacemanspiff/syspower/internal/rtc"
)

// ErrExtraArgs is returned when a command gets arguments it does not take.
var ErrExtraArgs = errors.New("too many arguments for command")

func init() {
	addCommand("alarm", "Program the RTC wake alarm", `
The alarm command sets the RTC alarm the given number of seconds from the
current RTC time and enables the alarm interrupt. With --wait it blocks
until the alarm fires, and 0 seconds programs the current RTC time. With
--clear the alarm interrupt is disabled, and without arguments the
programmed alarm time is shown.
`, func() flags.Commander { return &cmdAlarm{} })
}

type cmdAlarm struct {
	Wait       bool `long:"wait" description:"Wait for the alarm to fire"`
	Clear      bool `long:"clear" description:"Disable the alarm interrupt"`
	Positional struct {
		Seconds string `positional-arg-name:"<seconds>"`
	} `positional-args:"yes"`
}

type alarmAction int

const (
	alarmShow alarmAction = iota
	alarmSet
	alarmClear
)

// action decides what the flags and argument ask for. An explicit 0 sets
// the alarm to the current RTC time.
func (c *cmdAlarm) action() (alarmAction, uint, error) {
	if c.Positional.Seconds == "" {
		switch {
		case c.Clear && c.Wait:
			return 0, 0, errors.New("cannot wait for a cleared alarm")
		case c.Clear:
			return alarmClear, 0, nil
		case c.Wait:
			return 0, 0, errors.New("--wait needs <seconds>")
		}
		return alarmShow, 0, nil
	}
	if c.Clear {
		return 0, 0, errors.New("cannot both set and clear the alarm")
	}
	seconds, err := strconv.ParseUint(c.Positional.Seconds, 10, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid number of seconds %q", c.Positional.Seconds)
	}
	return alarmSet, uint(seconds), nil
}

func (c *cmdAlarm) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	action, seconds, err := c.action()
	if err != nil {
		return err
	}
	sys, err := openSystem()
	if err != nil {
		return err
	}
	defer sys.Close()

	switch action {
	case alarmClear:
		return sys.Alarm.Clear()
	case alarmShow:
		at, err := sys.Alarm.Pending()
		if err != nil {
			return err
		}
		fmt.Fprintf(Stdout, "alarm at %s\n", rtc.FormatTime(at))
		return nil
	}

	ctx, cancel := interruptible()
	defer cancel()
	at, err := sys.Alarm.Set(ctx, seconds, c.Wait)
	if err != nil {
		return err
	}
	if c.Wait {
		fmt.Fprintf(Stdout, "alarm fired at %s\n", rtc.FormatTime(at))
	} else {
		fmt.Fprintf(Stdout, "alarm set for %s\n", rtc.FormatTime(at))
	}
	return nil
}
