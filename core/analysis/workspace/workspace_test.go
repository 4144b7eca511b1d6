package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, "cjrepo_")
	ws, err := m.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if filepath.Dir(ws.Path) != root {
		t.Fatalf("workspace outside root: %s", ws.Path)
	}
	base := filepath.Base(ws.Path)
	if !strings.HasPrefix(base, "cjrepo_") || len(base) != len("cjrepo_")+32 {
		t.Fatalf("unexpected workspace name %q", base)
	}
	if info, err := os.Stat(ws.Path); err != nil || !info.IsDir() {
		t.Fatalf("expected workspace dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ws.Path, "file.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := m.Release(ws); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(ws.Path); !os.IsNotExist(err) {
		t.Fatalf("expected workspace removed, got %v", err)
	}
	live, err := m.Live()
	if err != nil || len(live) != 0 {
		t.Fatalf("expected no live workspaces: %v %v", live, err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	m := NewManager(t.TempDir(), "cjrepo_")
	ws, err := m.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := m.Release(ws); err != nil {
			t.Fatalf("release #%d: %v", i, err)
		}
	}
	if err := m.Release(nil); err != nil {
		t.Fatalf("release nil: %v", err)
	}
}

func TestAcquireUniqueConcurrent(t *testing.T) {
	m := NewManager(t.TempDir(), "cjrepo_")
	const n = 32
	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ws, err := m.Acquire()
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			seen[ws.Path] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != n {
		t.Fatalf("expected %d unique workspaces, got %d", n, len(seen))
	}
	live, _ := m.Live()
	if len(live) != n {
		t.Fatalf("expected %d live workspaces, got %d", n, len(live))
	}
}

func TestNewManagerDefaultsRoot(t *testing.T) {
	m := NewManager("  ", "x_")
	if m.Root != os.TempDir() {
		t.Fatalf("expected temp dir root, got %q", m.Root)
	}
}
