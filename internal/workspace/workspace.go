// Package workspace manages per-session working directories. Each session
// exclusively owns its workspace; no two sessions ever share a path.
package workspace

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// Manager allocates and removes session workspaces on an injected
// filesystem; tests run it over afero.NewMemMapFs.
type Manager struct {
	fs   afero.Fs
	root string
}

// NewManager creates a manager rooted at root.
func NewManager(fs afero.Fs, root string) *Manager {
	return &Manager{fs: fs, root: root}
}

// Create allocates the workspace directory for a session and returns its
// path plus a filesystem scoped to it.
func (m *Manager) Create(sessionID string) (string, afero.Fs, error) {
	path := filepath.Join(m.root, sessionID)
	exists, err := afero.DirExists(m.fs, path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to check workspace %s: %w", path, err)
	}
	if exists {
		return "", nil, fmt.Errorf("workspace %s already exists", path)
	}
	if err := m.fs.MkdirAll(path, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create workspace %s: %w", path, err)
	}
	return path, afero.NewBasePathFs(m.fs, path), nil
}

// Remove deletes a session's workspace.
func (m *Manager) Remove(sessionID string) error {
	return m.fs.RemoveAll(filepath.Join(m.root, sessionID))
}
