package confloader

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestWatcher_ReportsWatchedFileOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "captoken.yaml")
	other := filepath.Join(dir, "other.yaml")
	for _, p := range []string{path, other} {
		if err := os.WriteFile(p, []byte("log: {level: info}\n"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	w, err := NewWatcher(WithDebounce(200 * time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()
	if err := w.Watch(path); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	var (
		mu   sync.Mutex
		seen []string
	)
	w.OnChange(func(p string) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})
	w.StartAsync()

	if err := os.WriteFile(other, []byte("x: 1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("log: {level: debug}\n"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	if !waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}) {
		t.Fatal("no change reported")
	}
	time.Sleep(400 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	abs, _ := filepath.Abs(path)
	for _, p := range seen {
		if p != abs {
			t.Errorf("reported unwatched file %s", p)
		}
	}
	if len(seen) != 1 {
		t.Errorf("reported %d changes, want the burst debounced to 1", len(seen))
	}
}

func TestWatcher_WatchMissingDir(t *testing.T) {
	w, err := NewWatcher()
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()
	if err := w.Watch("/nonexistent/dir/captoken.yaml"); err == nil {
		t.Error("Watch on missing directory succeeded")
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	w, err := NewWatcher()
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.StartAsync()
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}
