package sysfs

import (
	"sync"

	"golang.org/x/sys/unix"
)

// Knob is a control file that is opened on first use and kept open until
// Close. Writes go to the cached descriptor one after another; the kernel
// store handlers ignore the file position.
type Knob struct {
	dir, name string
	flag      int

	mu sync.Mutex
	fd int
}

// NewKnob returns a knob for dir/name opened with flag on first use.
func NewKnob(dir, name string, flag int) *Knob {
	return &Knob{dir: dir, name: name, flag: flag, fd: -1}
}

func (k *Knob) descriptor() (int, string, error) {
	path, err := Path(k.dir, k.name)
	if err != nil {
		return -1, "", err
	}
	if k.fd >= 0 {
		return k.fd, path, nil
	}
	fd, err := open(path, k.flag)
	if err != nil {
		return -1, "", err
	}
	k.fd = fd
	return fd, path, nil
}

// Write writes text to the knob, adding a newline if missing.
func (k *Knob) Write(text string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	fd, path, err := k.descriptor()
	if err != nil {
		return err
	}
	return writeFd(fd, path, text)
}

// Read returns the current value of the knob. Each call reads from
// offset zero.
func (k *Knob) Read() (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	fd, path, err := k.descriptor()
	if err != nil {
		return "", err
	}
	return readFd(fd, path)
}

// Close releases the cached descriptor. The knob may be used again.
func (k *Knob) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.fd < 0 {
		return nil
	}
	err := unix.Close(k.fd)
	k.fd = -1
	return err
}
