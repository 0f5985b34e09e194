package rtc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"
)

// DefaultDevice is the RTC used when none is configured.
const DefaultDevice = "/dev/rtc"

const secondsPerDay = 24 * 60 * 60

// AddSeconds returns t advanced by seconds, carrying into minutes and
// hours. The hour wraps at 24 and the date is left unchanged.
func AddSeconds(t unix.RTCTime, seconds uint) unix.RTCTime {
	total := int64(t.Sec) + int64(seconds%secondsPerDay)
	t.Sec = int32(total % 60)
	mins := int64(t.Min) + total/60
	t.Min = int32(mins % 60)
	hour := int64(t.Hour) + mins/60
	t.Hour = int32(hour % 24)
	return t
}

// FormatTime renders the time of day of t as HH:MM:SS.
func FormatTime(t unix.RTCTime) string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Min, t.Sec)
}

// Alarm programs the RTC alarm. The device is opened on first use and
// kept open until Close.
type Alarm struct {
	path string
	open func(path string) (Device, error)
	log  *slog.Logger

	mu  sync.Mutex
	dev Device
}

// NewAlarm returns an alarm on the RTC at path.
func NewAlarm(path string, logger *slog.Logger) *Alarm {
	return newAlarm(path, OpenDevice, logger)
}

func newAlarm(path string, open func(string) (Device, error), logger *slog.Logger) *Alarm {
	if path == "" {
		path = DefaultDevice
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Alarm{path: path, open: open, log: logger}
}

func (a *Alarm) device() (Device, error) {
	if a.dev != nil {
		return a.dev, nil
	}
	dev, err := a.open(a.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", a.path, err)
	}
	a.dev = dev
	return dev, nil
}

// Set arms the alarm seconds from the current RTC time and returns the
// programmed time. With wait, Set blocks until the alarm fires or ctx is
// done.
func (a *Alarm) Set(ctx context.Context, seconds uint, wait bool) (unix.RTCTime, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	dev, err := a.device()
	if err != nil {
		return unix.RTCTime{}, err
	}
	now, err := dev.ReadTime()
	if err != nil {
		return unix.RTCTime{}, err
	}
	at := AddSeconds(now, seconds)

	if err := dev.SetUpdateInterrupt(false); err != nil {
		return unix.RTCTime{}, err
	}
	if err := dev.SetAlarm(at); err != nil {
		return unix.RTCTime{}, err
	}
	if err := dev.SetAlarmInterrupt(true); err != nil {
		return unix.RTCTime{}, err
	}
	a.log.Info("rtc alarm set", "topic", "sleep", "now", FormatTime(now), "at", FormatTime(at))

	if wait {
		if err := dev.WaitAlarm(ctx); err != nil {
			return at, err
		}
		a.log.Info("rtc alarm fired", "topic", "sleep", "at", FormatTime(at))
	}
	return at, nil
}

// Clear disables the alarm interrupt.
func (a *Alarm) Clear() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	dev, err := a.device()
	if err != nil {
		return err
	}
	return dev.SetAlarmInterrupt(false)
}

// Pending returns the currently programmed alarm time.
func (a *Alarm) Pending() (unix.RTCTime, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	dev, err := a.device()
	if err != nil {
		return unix.RTCTime{}, err
	}
	return dev.ReadAlarm()
}

// Close closes the device if it was opened.
func (a *Alarm) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dev == nil {
		return nil
	}
	err := a.dev.Close()
	a.dev = nil
	return err
}
