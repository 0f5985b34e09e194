// Package rtc programs wake alarms on the real-time clock.
package rtc

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Device is an RTC character device.
type Device interface {
	ReadTime() (unix.RTCTime, error)
	SetAlarm(t unix.RTCTime) error
	ReadAlarm() (unix.RTCTime, error)
	SetUpdateInterrupt(on bool) error
	SetAlarmInterrupt(on bool) error
	// WaitAlarm blocks until an alarm interrupt is delivered or ctx is done.
	WaitAlarm(ctx context.Context) error
	Close() error
}

type chardev struct {
	f *os.File
}

// OpenDevice opens an RTC character device such as /dev/rtc.
func OpenDevice(path string) (Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &chardev{f: f}, nil
}

func (d *chardev) control(fn func(fd int) error) error {
	rc, err := d.f.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	if err := rc.Control(func(fd uintptr) { opErr = fn(int(fd)) }); err != nil {
		return err
	}
	return opErr
}

func ioctlPtr(fd int, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (d *chardev) ReadTime() (unix.RTCTime, error) {
	var t unix.RTCTime
	err := d.control(func(fd int) error {
		v, err := unix.IoctlGetRTCTime(fd)
		if err != nil {
			return err
		}
		t = *v
		return nil
	})
	if err != nil {
		return unix.RTCTime{}, fmt.Errorf("RTC_RD_TIME: %w", err)
	}
	return t, nil
}

func (d *chardev) SetAlarm(t unix.RTCTime) error {
	err := d.control(func(fd int) error {
		return ioctlPtr(fd, unix.RTC_ALM_SET, unsafe.Pointer(&t))
	})
	if err != nil {
		return fmt.Errorf("RTC_ALM_SET: %w", err)
	}
	return nil
}

func (d *chardev) ReadAlarm() (unix.RTCTime, error) {
	var t unix.RTCTime
	err := d.control(func(fd int) error {
		return ioctlPtr(fd, unix.RTC_ALM_READ, unsafe.Pointer(&t))
	})
	if err != nil {
		return unix.RTCTime{}, fmt.Errorf("RTC_ALM_READ: %w", err)
	}
	return t, nil
}

func (d *chardev) toggle(name string, on bool, onReq, offReq uint) error {
	req := offReq
	if on {
		req = onReq
	}
	err := d.control(func(fd int) error {
		return unix.IoctlSetInt(fd, req, 0)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (d *chardev) SetUpdateInterrupt(on bool) error {
	return d.toggle("RTC_UIE", on, unix.RTC_UIE_ON, unix.RTC_UIE_OFF)
}

func (d *chardev) SetAlarmInterrupt(on bool) error {
	return d.toggle("RTC_AIE", on, unix.RTC_AIE_ON, unix.RTC_AIE_OFF)
}

// WaitAlarm reads one interrupt record. The low byte carries the
// interrupt flags.
func (d *chardev) WaitAlarm(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		d.f.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		var buf [8]byte
		_, err := d.f.Read(buf[:])
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return fmt.Errorf("read rtc: %w", err)
		}
		if binary.NativeEndian.Uint64(buf[:])&unix.RTC_AF != 0 {
			return nil
		}
	}
}

func (d *chardev) Close() error {
	return d.f.Close()
}
