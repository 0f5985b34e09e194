// Package sysfs reads and writes kernel attribute files.
//
// Attributes are small text files. A read is a single read(2) of at most
// MaxAttrSize bytes with one trailing newline removed; a write is a single
// write(2) of the whole value. A missing attribute is reported as
// ErrUnsupported so callers can tell a kernel that lacks a knob apart from
// an I/O failure.
package sysfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	// MaxAttrSize bounds every attribute read.
	MaxAttrSize = 256

	nameMax = 255
	pathMax = 4096
)

// ErrUnsupported is returned (wrapped) when an attribute does not exist.
var ErrUnsupported = errors.ErrUnsupported

// Path joins dir and name after checking the component and total length
// limits. Nothing is touched on the filesystem.
func Path(dir, name string) (string, error) {
	for _, elem := range strings.Split(name, "/") {
		if len(elem) > nameMax {
			return "", &fs.PathError{Op: "join", Path: name, Err: unix.ENAMETOOLONG}
		}
	}
	if len(filepath.Base(dir)) > nameMax {
		return "", &fs.PathError{Op: "join", Path: dir, Err: unix.ENAMETOOLONG}
	}
	p := filepath.Join(dir, name)
	if len(p) >= pathMax {
		return "", &fs.PathError{Op: "join", Path: p, Err: unix.ENAMETOOLONG}
	}
	return p, nil
}

// open opens path, retrying on EINTR and mapping ENOENT to ENOTSUP.
func open(path string, flag int) (int, error) {
	for {
		fd, err := unix.Open(path, flag|unix.O_CLOEXEC, 0)
		switch {
		case err == nil:
			return fd, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.ENOENT):
			return -1, &fs.PathError{Op: "open", Path: path, Err: unix.ENOTSUP}
		default:
			return -1, &fs.PathError{Op: "open", Path: path, Err: err}
		}
	}
}

func readFd(fd int, path string) (string, error) {
	buf := make([]byte, MaxAttrSize)
	for {
		n, err := unix.Pread(fd, buf, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return "", &fs.PathError{Op: "read", Path: path, Err: err}
		}
		return strings.TrimSuffix(string(buf[:n]), "\n"), nil
	}
}

func writeFd(fd int, path, text string) error {
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	for {
		n, err := unix.Write(fd, []byte(text))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return &fs.PathError{Op: "write", Path: path, Err: err}
		}
		if n != len(text) {
			return &fs.PathError{Op: "write", Path: path, Err: io.ErrShortWrite}
		}
		return nil
	}
}

// ReadAttribute returns the value of dir/name without its trailing newline.
func ReadAttribute(dir, name string) (string, error) {
	path, err := Path(dir, name)
	if err != nil {
		return "", err
	}
	fd, err := open(path, unix.O_RDONLY)
	if err != nil {
		return "", err
	}
	defer unix.Close(fd)
	return readFd(fd, path)
}

// WriteAttribute writes text to dir/name, adding a newline if missing.
func WriteAttribute(dir, name, text string) error {
	path, err := Path(dir, name)
	if err != nil {
		return err
	}
	fd, err := open(path, unix.O_WRONLY|unix.O_TRUNC)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	return writeFd(fd, path, text)
}

// ReadInt parses dir/name as a base 10 integer.
func ReadInt(dir, name string) (int64, error) {
	s, err := ReadAttribute(dir, name)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}
