// Package wakeup discovers wakeup-capable devices under the sysfs device
// tree and caches them by name.
package wakeup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cptspacemanspiff/syspower/internal/sysfs"
)

// Source is a device that can wake the system.
type Source struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Attr returns the path of the device's power/wakeup attribute.
func (s Source) Attr() string {
	return filepath.Join(s.Path, "power", "wakeup")
}

// Scan walks root depth first and returns every device directory that has
// a "driver" link and a readable power/wakeup attribute, in walk order.
func Scan(root string) ([]Source, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", root, err)
	}
	var out []Source
	scanDir(root, entries, &out)
	return out, nil
}

func scanDir(dir string, entries []os.DirEntry, out *[]Source) {
	for _, e := range entries {
		switch {
		case e.IsDir():
			sub := filepath.Join(dir, e.Name())
			children, err := os.ReadDir(sub)
			if err != nil {
				continue
			}
			scanDir(sub, children, out)
		case e.Type()&os.ModeSymlink != 0 && e.Name() == "driver":
			if src, ok := admit(dir); ok {
				*out = append(*out, src)
			}
		}
	}
}

func admit(dir string) (Source, bool) {
	if _, err := sysfs.ReadAttribute(dir, "power/wakeup"); err != nil {
		return Source{}, false
	}
	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return Source{}, false
	}
	return Source{Name: filepath.Base(real), Path: real}, true
}
