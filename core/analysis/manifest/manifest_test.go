package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, root, rel, body string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestResolveTopLevel(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "cjpm.toml", "[package]\nname = \"demo\"\n")
	name, err := NewResolver("").Resolve(root)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if name != "demo" {
		t.Fatalf("expected demo, got %q", name)
	}
}

func TestResolveNestedDeterministic(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "modules/zeta/cjpm.toml", "[package]\nname = \"zeta\"\n")
	writeFile(t, root, "modules/alpha/cjpm.toml", "[package]\nname = \"alpha\"\n")
	writeFile(t, root, "src/main.cj", "main() {}\n")

	r := NewResolver("cjpm.toml")
	found, err := r.Find(root)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(found) != 2 || found[0] != "modules/alpha/cjpm.toml" {
		t.Fatalf("unexpected matches %v", found)
	}
	for i := 0; i < 3; i++ {
		name, err := r.Resolve(root)
		if err != nil || name != "alpha" {
			t.Fatalf("expected alpha, got %q %v", name, err)
		}
	}
}

func TestResolveNotFound(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "README.md", "hi")
	_, err := NewResolver("").Resolve(root)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "**/cjpm.toml") {
		t.Fatalf("expected pattern in error, got %v", err)
	}
}

func TestResolveIgnoresDirectoryNamedLikeManifest(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "a", "cjpm.toml"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, root, "b/cjpm.toml", "[package]\nname = \"b\"\n")
	name, err := NewResolver("").Resolve(root)
	if err != nil || name != "b" {
		t.Fatalf("expected b, got %q %v", name, err)
	}
}

func TestParseName(t *testing.T) {
	cases := []struct {
		name    string
		doc     string
		want    string
		wantErr error
	}{
		{name: "ok", doc: "[package]\nname = \"demo\"\nversion = \"1.0.0\"\n", want: "demo"},
		{name: "dotted", doc: "package.name = \"dotted\"\n", want: "dotted"},
		{name: "syntax", doc: "[package\nname = ", wantErr: ErrParse},
		{name: "no table", doc: "[workspace]\nmembers = []\n", wantErr: ErrMissingName},
		{name: "no name", doc: "[package]\nversion = \"1\"\n", wantErr: ErrMissingName},
		{name: "not string", doc: "[package]\nname = 42\n", wantErr: ErrMissingName},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseName("cjpm.toml", []byte(tc.doc))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
