// Package workspace allocates per-request scratch directories.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cordum/cjcard/core/infra/logging"
	"github.com/google/uuid"
)

// Workspace is an ephemeral directory owned by a single request.
type Workspace struct {
	Path string
}

// Manager creates workspaces under Root named Prefix plus a random suffix.
type Manager struct {
	Root   string
	Prefix string
}

func NewManager(root, prefix string) *Manager {
	if strings.TrimSpace(root) == "" {
		root = os.TempDir()
	}
	return &Manager{Root: root, Prefix: prefix}
}

// Acquire allocates a fresh directory. A leftover directory with the same
// name is removed before being recreated.
func (m *Manager) Acquire() (*Workspace, error) {
	name := m.Prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	path := filepath.Join(m.Root, name)
	if _, err := os.Lstat(path); err == nil {
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("remove stale workspace %s: %w", path, err)
		}
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", path, err)
	}
	return &Workspace{Path: path}, nil
}

// Release removes the workspace tree. Failures are logged and returned so
// callers may ignore them without losing the diagnostic.
func (m *Manager) Release(ws *Workspace) error {
	if ws == nil || ws.Path == "" {
		return nil
	}
	if err := os.RemoveAll(ws.Path); err != nil {
		logging.Warn("workspace", "remove failed", "path", ws.Path, "error", err)
		return err
	}
	return nil
}

// Live lists workspace directories currently present under Root.
func (m *Manager) Live() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(m.Root, m.Prefix+"*"))
	if err != nil {
		return nil, err
	}
	return matches, nil
}
