package wakeup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/time/rate"
)

func writeTestFile(t *testing.T, path, contents string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func symlink(t *testing.T, target, link string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("symlink %s: %v", link, err)
	}
}

// addDevice creates a device directory with a driver link and, when
// wakeup is not empty, a power/wakeup attribute.
func addDevice(t *testing.T, root, rel, wakeup string) string {
	t.Helper()

	dir := filepath.Join(root, rel)
	drivers := filepath.Join(filepath.Dir(root), "drivers", "fake")
	if err := os.MkdirAll(drivers, 0o755); err != nil {
		t.Fatal(err)
	}
	symlink(t, drivers, filepath.Join(dir, "driver"))
	if wakeup != "" {
		writeTestFile(t, filepath.Join(dir, "power", "wakeup"), wakeup+"\n")
	}
	return dir
}

// newTestTree builds a small device tree and returns its root and the
// canonical paths of the admitted devices in walk order.
func newTestTree(t *testing.T) (string, []Source) {
	t.Helper()

	base, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	root := filepath.Join(base, "devices")

	xhci := addDevice(t, root, "pci0000:00/0000:00:14.0", "enabled")
	addDevice(t, root, "pci0000:00/0000:00:1f.3", "") // no power/wakeup
	lid := addDevice(t, root, "platform/PNP0C0D:00", "disabled")
	// A linked directory must not be followed.
	symlink(t, filepath.Join(root, "pci0000:00"), filepath.Join(root, "platform", "alias"))
	// A device without a driver link is not a candidate.
	writeTestFile(t, filepath.Join(root, "virtual/misc/power/wakeup"), "enabled\n")

	return root, []Source{
		{Name: "0000:00:14.0", Path: xhci},
		{Name: "PNP0C0D:00", Path: lid},
	}
}

func TestScan(t *testing.T) {
	root, want := newTestTree(t)

	got, err := Scan(root)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Scan() mismatch (-want +got):\n%s", diff)
	}
}

func TestScan_MissingRoot(t *testing.T) {
	if _, err := Scan(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("Scan() on missing root succeeded")
	}
}

func TestCache_IterationEndsAfterAdmittedCount(t *testing.T) {
	root, want := newTestTree(t)
	c := NewCache(root, Options{})

	if err := c.Rebuild(); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	n := 0
	for {
		s, ok, err := c.Source(n)
		if err != nil {
			t.Fatalf("Source(%d) error = %v", n, err)
		}
		if !ok {
			break
		}
		if s != want[n] {
			t.Fatalf("Source(%d) = %+v, want %+v", n, s, want[n])
		}
		n++
	}
	if n != len(want) {
		t.Fatalf("iterated %d sources, want %d", n, len(want))
	}
}

func TestCache_LookupScansOnce(t *testing.T) {
	root, _ := newTestTree(t)
	c := NewCache(root, Options{})

	if _, err := c.Lookup("eth0"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup(eth0) error = %v, want ErrNotFound", err)
	}
	if c.Scans() != 1 {
		t.Fatalf("Scans() = %d, want 1", c.Scans())
	}

	// A device appearing later is not seen without a rebuild.
	addDevice(t, root, "pci0000:00/0000:00:1c.0/eth0", "enabled")
	if _, err := c.Lookup("eth0"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Lookup(eth0) error = %v, want ErrNotFound", err)
	}
	if c.Scans() != 1 {
		t.Fatalf("Scans() = %d after second lookup, want 1", c.Scans())
	}

	if err := c.Rebuild(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Lookup("eth0"); err != nil {
		t.Fatalf("Lookup(eth0) after Rebuild error = %v", err)
	}
}

func TestCache_SetEnabledRoundTrip(t *testing.T) {
	root, want := newTestTree(t)
	c := NewCache(root, Options{})

	for _, s := range want {
		for _, enabled := range []bool{true, false, true} {
			if err := c.SetEnabled(s.Name, enabled); err != nil {
				t.Fatalf("SetEnabled(%s, %v) error = %v", s.Name, enabled, err)
			}
			got, err := c.Enabled(s.Name)
			if err != nil {
				t.Fatalf("Enabled(%s) error = %v", s.Name, err)
			}
			if got != enabled {
				t.Fatalf("Enabled(%s) = %v, want %v", s.Name, got, enabled)
			}
		}
	}
}

func TestCache_SetEnabledUnknownName(t *testing.T) {
	root, _ := newTestTree(t)
	c := NewCache(root, Options{})
	if err := c.Rebuild(); err != nil {
		t.Fatal(err)
	}

	if err := c.SetEnabled("nonexistent", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetEnabled(nonexistent) error = %v, want ErrNotFound", err)
	}
	if c.Scans() != 1 {
		t.Fatalf("miss triggered a rebuild: Scans() = %d", c.Scans())
	}
	if _, err := c.Enabled("nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Enabled(nonexistent) error = %v, want ErrNotFound", err)
	}
}

func TestCache_EnabledReadError(t *testing.T) {
	root, want := newTestTree(t)
	c := NewCache(root, Options{})
	if err := c.Rebuild(); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(want[0].Attr()); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Enabled(want[0].Name); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("Enabled() error = %v, want read error", err)
	}
}

func TestCache_CapacityError(t *testing.T) {
	root, want := newTestTree(t)
	c := NewCache(root, Options{Capacity: 1})

	err := c.Rebuild()
	var capErr *CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("Rebuild() error = %v, want *CapacityError", err)
	}
	if capErr.Found != 2 || capErr.Capacity != 1 {
		t.Fatalf("CapacityError = %+v", capErr)
	}
	got, err := c.Sources()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want[:1], got); diff != "" {
		t.Fatalf("Sources() mismatch (-want +got):\n%s", diff)
	}
}

func TestCache_DuplicateNamesFirstWins(t *testing.T) {
	base, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	root := filepath.Join(base, "devices")
	first := addDevice(t, root, "a/serial0", "enabled")
	addDevice(t, root, "b/serial0", "disabled")

	c := NewCache(root, Options{})
	s, err := c.Lookup("serial0")
	if err != nil {
		t.Fatal(err)
	}
	if s.Path != first {
		t.Fatalf("Lookup(serial0).Path = %q, want %q", s.Path, first)
	}
}

func TestCache_InvalidateAndTTL(t *testing.T) {
	root, _ := newTestTree(t)
	now := time.Unix(1000, 0)
	c := NewCache(root, Options{TTL: time.Minute})
	c.now = func() time.Time { return now }

	if _, err := c.Sources(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Sources(); err != nil {
		t.Fatal(err)
	}
	if c.Scans() != 1 {
		t.Fatalf("Scans() = %d, want 1", c.Scans())
	}

	now = now.Add(time.Minute)
	if _, err := c.Sources(); err != nil {
		t.Fatal(err)
	}
	if c.Scans() != 2 {
		t.Fatalf("Scans() after TTL = %d, want 2", c.Scans())
	}

	c.Invalidate()
	if _, err := c.Lookup("PNP0C0D:00"); err != nil {
		t.Fatal(err)
	}
	if c.Scans() != 3 {
		t.Fatalf("Scans() after Invalidate = %d, want 3", c.Scans())
	}
}

func TestCache_LimiterKeepsStaleSnapshot(t *testing.T) {
	root, want := newTestTree(t)
	c := NewCache(root, Options{Limiter: rate.NewLimiter(rate.Every(time.Hour), 1)})

	if _, err := c.Sources(); err != nil {
		t.Fatal(err)
	}
	// The first rebuild after invalidation spends the only token.
	c.Invalidate()
	if _, err := c.Sources(); err != nil {
		t.Fatal(err)
	}
	c.Invalidate()
	got, err := c.Sources()
	if err != nil {
		t.Fatal(err)
	}
	if c.Scans() != 2 {
		t.Fatalf("Scans() = %d, want 2", c.Scans())
	}
	if len(got) != len(want) {
		t.Fatalf("len(Sources()) = %d, want %d", len(got), len(want))
	}
}

func TestCache_SetTTL(t *testing.T) {
	root, _ := newTestTree(t)
	now := time.Unix(1000, 0)
	c := NewCache(root, Options{})
	c.now = func() time.Time { return now }

	if _, err := c.Sources(); err != nil {
		t.Fatal(err)
	}
	c.SetTTL(time.Second)
	now = now.Add(2 * time.Second)
	if _, err := c.Sources(); err != nil {
		t.Fatal(err)
	}
	if c.Scans() != 2 {
		t.Fatalf("Scans() = %d, want 2", c.Scans())
	}
}
