package daemonlock

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestTryAcquireSucceedsOnFreshPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefetchd.lock")
	l := New(path)

	ok, err := l.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected TryAcquire to succeed on a fresh lock file")
	}
	defer l.Release()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read lock file: %v", err)
	}
	if got := string(data); got != strconv.Itoa(os.Getpid()) {
		t.Fatalf("expected lock file to contain pid %d, got %q", os.Getpid(), got)
	}
}

func TestTryAcquireFailsWhenAlreadyHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefetchd.lock")
	first := New(path)
	ok, err := first.TryAcquire()
	if err != nil || !ok {
		t.Fatalf("expected first TryAcquire to succeed, got ok=%v err=%v", ok, err)
	}
	defer first.Release()

	second := New(path)
	ok, err = second.TryAcquire()
	if err != nil {
		t.Fatalf("second TryAcquire returned error: %v", err)
	}
	if ok {
		t.Fatal("expected second TryAcquire to fail while the first lock is held")
	}
}

func TestReleaseThenReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefetchd.lock")
	l := New(path)

	if ok, err := l.TryAcquire(); err != nil || !ok {
		t.Fatalf("first acquire failed: ok=%v err=%v", ok, err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	again := New(path)
	ok, err := again.TryAcquire()
	if err != nil || !ok {
		t.Fatalf("expected re-acquire to succeed after release: ok=%v err=%v", ok, err)
	}
	defer again.Release()
}

func TestForStatePathAppendsLockSuffix(t *testing.T) {
	l := ForStatePath("/var/lib/prefetchd/state.db")
	if l.path != "/var/lib/prefetchd/state.db.lock" {
		t.Fatalf("expected derived lock path, got %q", l.path)
	}
}
