package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Manager owns the per-session workspace directories under a single root.
// Each session's workspace is exclusively that session's: the agent thread
// runs rooted in it and attachments are saved inside it.
type Manager struct {
	root string
}

func NewManager(root string) (*Manager, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("missing workspace root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, err
	}
	return &Manager{root: abs}, nil
}

func (m *Manager) Root() string {
	if m == nil {
		return ""
	}
	return m.root
}

// EnsureDir creates the session workspace (and its attachments subdirectory)
// if needed and returns the absolute workspace path.
func (m *Manager) EnsureDir(sessionID string) (string, error) {
	if m == nil {
		return "", errors.New("nil manager")
	}
	if !IsSafeID(sessionID) {
		return "", errors.New("invalid session_id")
	}
	dir := filepath.Join(m.root, strings.TrimSpace(sessionID))
	if err := os.MkdirAll(filepath.Join(dir, AttachmentsDirName), 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// AttachmentsDirName is the per-workspace subdirectory uploads are saved to.
const AttachmentsDirName = "attachments"

func (m *Manager) RemoveDir(sessionID string) error {
	if m == nil {
		return errors.New("nil manager")
	}
	if !IsSafeID(sessionID) {
		return errors.New("invalid session_id")
	}
	return os.RemoveAll(filepath.Join(m.root, strings.TrimSpace(sessionID)))
}

// IsSafeID reports whether raw is usable as a path segment: non-empty,
// bounded, and restricted to [A-Za-z0-9_-].
func IsSafeID(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > 128 {
		return false
	}
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		switch {
		case ch >= 'a' && ch <= 'z':
		case ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9':
		case ch == '_' || ch == '-':
		default:
			return false
		}
	}
	return true
}
