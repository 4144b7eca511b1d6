// Package provision installs the analyzer runtime bundle on local disk.
package provision

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cordum/cjcard/core/infra/logging"
	"github.com/cordum/cjcard/core/infra/metrics"
	"github.com/klauspost/compress/zstd"
)

// ErrNoBundle is returned when no archive source is configured.
var ErrNoBundle = errors.New("runtime bundle not available")

var renameDir = os.Rename

// Opener returns a fresh reader over the compressed bundle archive.
type Opener func() (io.ReadCloser, error)

// Options configure a Provisioner.
type Options struct {
	// Root is the directory the bundle is installed into.
	Root string
	// Executable is the analyzer entry point, relative to Root.
	Executable string
	Open       Opener
	Metrics    metrics.PipelineMetrics
}

// Provisioner makes sure the analyzer runtime is installed and executable.
// EnsureReady is safe for concurrent use; extraction happens in a sibling
// temporary directory that is renamed into place once complete.
type Provisioner struct {
	root       string
	executable string
	open       Opener
	metrics    metrics.PipelineMetrics

	mu sync.Mutex
}

func New(opts Options) *Provisioner {
	m := opts.Metrics
	if m == nil {
		m = metrics.Noop{}
	}
	return &Provisioner{
		root:       filepath.Clean(opts.Root),
		executable: filepath.FromSlash(opts.Executable),
		open:       opts.Open,
		metrics:    m,
	}
}

// Root returns the install directory.
func (p *Provisioner) Root() string { return p.root }

// ExecutablePath returns the absolute analyzer entry point.
func (p *Provisioner) ExecutablePath() string {
	return filepath.Join(p.root, p.executable)
}

// Ready reports whether the root exists and the entry point is an executable file.
func (p *Provisioner) Ready() bool {
	return installed(p.root, p.executable)
}

// EnsureReady extracts the bundle when the installation is missing or incomplete.
func (p *Provisioner) EnsureReady(ctx context.Context) error {
	if p.Ready() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Ready() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.open == nil {
		return ErrNoBundle
	}
	logging.Info("provision", "extracting runtime bundle", "root", p.root)
	if err := p.install(ctx); err != nil {
		logging.Error("provision", "runtime extraction failed", "root", p.root, "error", err)
		return err
	}
	p.metrics.IncExtractions()
	logging.Info("provision", "runtime ready", "executable", p.ExecutablePath())
	return nil
}

func (p *Provisioner) install(ctx context.Context) error {
	parent := filepath.Dir(p.root)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create runtime parent: %w", err)
	}
	staging, err := os.MkdirTemp(parent, filepath.Base(p.root)+".extract-")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	rc, err := p.open()
	if err != nil {
		return fmt.Errorf("open bundle: %w", err)
	}
	defer rc.Close()
	if err := Extract(ctx, rc, staging); err != nil {
		return err
	}

	exe := filepath.Join(staging, p.executable)
	info, err := os.Stat(exe)
	if err != nil {
		return fmt.Errorf("bundle has no %s: %w", filepath.ToSlash(p.executable), err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("bundle entry %s is not a regular file", filepath.ToSlash(p.executable))
	}
	// #nosec G302 -- the analyzer must be executable.
	if err := os.Chmod(exe, 0o755); err != nil {
		return fmt.Errorf("chmod analyzer: %w", err)
	}

	// An incomplete previous install is replaced wholesale.
	if err := os.RemoveAll(p.root); err != nil {
		return fmt.Errorf("remove stale runtime: %w", err)
	}
	if err := renameDir(staging, p.root); err != nil {
		// Another process sharing the root may have won the race.
		if installed(p.root, p.executable) {
			logging.Info("provision", "runtime installed by another process", "root", p.root)
			return nil
		}
		return fmt.Errorf("install runtime: %w", err)
	}
	return nil
}

// Extract unpacks a zstd-compressed tar stream into dst. Entries that would
// land outside dst are rejected: no entry may be written through a symlink,
// and every symlink must resolve inside dst once the archive is unpacked.
func Extract(ctx context.Context, r io.Reader, dst string) error {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	tr := tar.NewReader(dec)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return verifyLinks(dst)
		}
		if err != nil {
			return fmt.Errorf("read bundle: %w", err)
		}
		target, err := entryPath(dst, hdr.Name)
		if err != nil {
			return err
		}
		if hdr.Typeflag == tar.TypeDir || hdr.Typeflag == tar.TypeReg {
			if info, err := os.Lstat(target); err == nil && info.Mode()&fs.ModeSymlink != 0 {
				return fmt.Errorf("bundle entry escapes root through symlink: %s", hdr.Name)
			}
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, dirMode(hdr.Mode)); err != nil {
				return fmt.Errorf("mkdir %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, fileMode(hdr.Mode)); err != nil {
				return fmt.Errorf("write %s: %w", hdr.Name, err)
			}
		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) {
				return fmt.Errorf("absolute symlink %s -> %s", hdr.Name, hdr.Linkname)
			}
			if _, err := entryPath(dst, filepath.Join(filepath.Dir(hdr.Name), hdr.Linkname)); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("symlink %s: %w", hdr.Name, err)
			}
		default:
			logging.Warn("provision", "skipping bundle entry", "name", hdr.Name, "type", string(hdr.Typeflag))
		}
	}
}

func entryPath(dst, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." {
		return dst, nil
	}
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("bundle entry escapes root: %s", name)
	}
	// Parents that are already symlinks would redirect the write.
	cur := dst
	parts := strings.Split(clean, string(filepath.Separator))
	for _, part := range parts[:len(parts)-1] {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return "", err
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return "", fmt.Errorf("bundle entry escapes root through symlink: %s", name)
		}
	}
	return filepath.Join(dst, clean), nil
}

// verifyLinks resolves every extracted symlink and rejects any that point
// outside dst or nowhere.
func verifyLinks(dst string) error {
	root, err := filepath.EvalSymlinks(dst)
	if err != nil {
		return fmt.Errorf("resolve bundle root: %w", err)
	}
	return filepath.WalkDir(dst, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		rel, _ := filepath.Rel(dst, path)
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("bundle symlink %s does not resolve: %w", filepath.ToSlash(rel), err)
		}
		if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
			return fmt.Errorf("bundle symlink escapes root: %s", filepath.ToSlash(rel))
		}
		return nil
	})
}

func writeFile(path string, r io.Reader, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// #nosec G304 -- path is confined to the staging dir by entryPath.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func dirMode(mode int64) fs.FileMode {
	return fs.FileMode(mode).Perm() | 0o700
}

func fileMode(mode int64) fs.FileMode {
	return fs.FileMode(mode).Perm() | 0o600
}

func installed(root, executable string) bool {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return false
	}
	exe, err := os.Stat(filepath.Join(root, executable))
	if err != nil || !exe.Mode().IsRegular() {
		return false
	}
	return exe.Mode().Perm()&0o100 != 0
}
