// Package uevent reads kernel object events from the NETLINK_KOBJECT_UEVENT
// socket.
package uevent

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/pilebones/go-udev/netlink"
	"golang.org/x/sys/unix"
)

// ErrNoEvents is returned by Read when no event is pending.
var ErrNoEvents = errors.New("no pending events")

// ErrOverflow is returned by Read when the kernel dropped events because
// the socket receive buffer was full. The connection stays usable.
var ErrOverflow = errors.New("uevent receive buffer overflow")

// pollSlice bounds a single poll(2) call so Wait notices cancellation.
const pollSlice = 250 * time.Millisecond

// Event is one kernel uevent.
type Event struct {
	Action    string
	DevPath   string
	Subsystem string
	Env       map[string]string
}

// Name returns the device short name: the supply name for power_supply
// events, otherwise the last element of DevPath.
func (e *Event) Name() string {
	if n := e.Env["POWER_SUPPLY_NAME"]; n != "" {
		return n
	}
	return path.Base(e.DevPath)
}

// Filter selects the events a Conn returns. Empty fields match anything.
type Filter struct {
	Subsystem string
	Actions   []string
}

func (f Filter) matcher() (netlink.Matcher, error) {
	if f.Subsystem == "" && len(f.Actions) == 0 {
		return nil, nil
	}
	rule := &netlink.RuleDefinition{Env: map[string]string{}}
	if f.Subsystem != "" {
		rule.Env["SUBSYSTEM"] = "^" + regexp.QuoteMeta(f.Subsystem) + "$"
	}
	if len(f.Actions) > 0 {
		quoted := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			quoted[i] = regexp.QuoteMeta(a)
		}
		action := "^(" + strings.Join(quoted, "|") + ")$"
		rule.Action = &action
	}
	if err := rule.Compile(); err != nil {
		return nil, fmt.Errorf("compile filter: %w", err)
	}
	return rule, nil
}

// ParseEvent decodes a raw kernel message of the form
// "action@devpath\0KEY=value\0...".
func ParseEvent(raw []byte) (*Event, error) {
	ue, err := netlink.ParseUEvent(raw)
	if err != nil {
		return nil, err
	}
	return fromNetlink(ue), nil
}

func fromNetlink(ue *netlink.UEvent) *Event {
	ev := &Event{
		Action:    string(ue.Action),
		DevPath:   ue.KObj,
		Subsystem: ue.Env["SUBSYSTEM"],
		Env:       ue.Env,
	}
	if p := ue.Env["DEVPATH"]; p != "" {
		ev.DevPath = p
	}
	return ev
}

// Conn is a non-blocking uevent socket.
type Conn struct {
	conn    *netlink.UEventConn
	matcher netlink.Matcher
}

// Dial opens a uevent socket receiving kernel events that pass f.
func Dial(f Filter) (*Conn, error) {
	m, err := f.matcher()
	if err != nil {
		return nil, err
	}
	nc := new(netlink.UEventConn)
	if err := nc.Connect(netlink.KernelEvent); err != nil {
		return nil, fmt.Errorf("connect uevent socket: %w", err)
	}
	if err := unix.SetNonblock(nc.Fd, true); err != nil {
		nc.Close()
		return nil, fmt.Errorf("set nonblock: %w", err)
	}
	return &Conn{conn: nc, matcher: m}, nil
}

// Fd returns the socket descriptor for use in the caller's poll loop.
func (c *Conn) Fd() int { return c.conn.Fd }

// Read returns the next pending event that passes the filter, or
// ErrNoEvents once the socket is drained. Malformed messages are skipped.
// ErrOverflow means some events were lost and reading may go on.
func (c *Conn) Read() (*Event, error) {
	for {
		msg, err := c.conn.ReadMsg()
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return nil, ErrNoEvents
		case errors.Is(err, unix.ENOBUFS):
			return nil, ErrOverflow
		case err != nil:
			return nil, fmt.Errorf("read uevent: %w", err)
		}
		ue, err := netlink.ParseUEvent(msg)
		if err != nil {
			continue
		}
		if c.matcher != nil && !c.matcher.Evaluate(*ue) {
			continue
		}
		return fromNetlink(ue), nil
	}
}

// Wait blocks until the socket is readable or ctx is done.
func (c *Conn) Wait(ctx context.Context) error {
	return waitReadable(ctx, c.conn.Fd)
}

// Close closes the socket.
func (c *Conn) Close() error {
	return c.conn.Close()
}

func waitReadable(ctx context.Context, fd int) error {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := unix.Poll(fds, int(pollSlice/time.Millisecond))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		if n > 0 {
			return nil
		}
	}
}
