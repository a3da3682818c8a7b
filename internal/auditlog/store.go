// Package auditlog keeps a local JSONL trail of notable chat actions
// (session lifecycle, settings changes, turn outcomes). Entries are
// append-only and rotated by size; readers get newest-first pages.
package auditlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultRotateBytes = int64(4 << 20)
	defaultKeepRotated = 3

	activeFileName = "audit.jsonl"
)

// Well-known actions recorded by the chat service.
const (
	ActionSessionCreated   = "session_created"
	ActionSessionDeleted   = "session_deleted"
	ActionWorkspaceChanged = "workspace_changed"
	ActionSettingsUpdated  = "settings_updated"
	ActionTurnCompleted    = "turn_completed"
	ActionTurnFailed       = "turn_failed"
)

type Entry struct {
	CreatedAt string `json:"createdAt"`

	// Action is a short, stable identifier (e.g. "session_created").
	Action string `json:"action"`

	// Status is "success" or "failure".
	Status string `json:"status"`

	// Error is a human-readable failure summary (best-effort, non-secret).
	Error string `json:"error,omitempty"`

	SessionID string `json:"sessionId,omitempty"`

	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// Detail is a small, action-specific object (avoid secrets).
	Detail map[string]any `json:"detail,omitempty"`
}

type Options struct {
	Logger *slog.Logger

	// DataDir is the application data directory; the trail lives under
	// DataDir/audit.
	DataDir string

	// RotateBytes limits the size of the active file before rotation.
	// If <= 0, a default is used.
	RotateBytes int64
	// KeepRotated keeps the latest N rotated files besides the active one.
	// If <= 0, a default is used.
	KeepRotated int
}

type Store struct {
	log *slog.Logger

	dir        string
	activePath string

	rotateBytes int64
	keepRotated int

	mu sync.Mutex
}

func New(opts Options) (*Store, error) {
	dataDir := strings.TrimSpace(opts.DataDir)
	if dataDir == "" {
		return nil, errors.New("missing DataDir")
	}
	dir := filepath.Join(dataDir, "audit")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	rotateBytes := opts.RotateBytes
	if rotateBytes <= 0 {
		rotateBytes = defaultRotateBytes
	}
	keepRotated := opts.KeepRotated
	if keepRotated <= 0 {
		keepRotated = defaultKeepRotated
	}

	activePath := filepath.Join(dir, activeFileName)
	if f, err := os.OpenFile(activePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err == nil {
		_ = f.Close()
	} else {
		return nil, err
	}

	return &Store{
		log:         logger,
		dir:         dir,
		activePath:  activePath,
		rotateBytes: rotateBytes,
		keepRotated: keepRotated,
	}, nil
}

// Append records a single entry. Failures are logged, never returned;
// auditing must not break the action being audited.
func (s *Store) Append(e Entry) {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(e.CreatedAt) == "" {
		e.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if strings.TrimSpace(e.Status) == "" {
		e.Status = "success"
	}

	f, err := os.OpenFile(s.activePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.log.Warn("auditlog append failed", "error", err)
		return
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(&e); err != nil {
		s.log.Warn("auditlog encode failed", "error", err)
		return
	}

	s.maybeRotateLocked()
}

// List returns up to limit entries, newest first, spanning the active
// file and any rotated files.
func (s *Store) List(limit int) ([]Entry, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}

	s.mu.Lock()
	files := append([]string{s.activePath}, s.rotatedLocked(true)...)
	s.mu.Unlock()

	out := make([]Entry, 0, limit)
	for _, path := range files {
		if len(out) >= limit {
			break
		}
		entries, err := readNewestFirst(path, limit-len(out))
		if err != nil {
			s.log.Warn("auditlog read failed", "path", path, "error", err)
			continue
		}
		out = append(out, entries...)
	}
	return out, nil
}

// rotatedLocked lists rotated file paths. Names embed UnixMilli, so
// lexicographic order matches chronological order.
func (s *Store) rotatedLocked(newestFirst bool) []string {
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var rotated []string
	for _, ent := range ents {
		if ent == nil || ent.IsDir() {
			continue
		}
		name := ent.Name()
		if !strings.HasPrefix(name, "audit-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		rotated = append(rotated, filepath.Join(s.dir, name))
	}
	sort.Strings(rotated)
	if newestFirst {
		for i, j := 0, len(rotated)-1; i < j; i, j = i+1, j-1 {
			rotated[i], rotated[j] = rotated[j], rotated[i]
		}
	}
	return rotated
}

func (s *Store) maybeRotateLocked() {
	st, err := os.Stat(s.activePath)
	if err != nil {
		return
	}
	if st.Size() <= s.rotateBytes {
		return
	}

	dst := filepath.Join(s.dir, fmt.Sprintf("audit-%d.jsonl", time.Now().UnixMilli()))
	if err := os.Rename(s.activePath, dst); err != nil {
		s.log.Warn("auditlog rotate failed", "error", err)
		return
	}
	if f, err := os.OpenFile(s.activePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600); err == nil {
		_ = f.Close()
	}

	rotated := s.rotatedLocked(false)
	if len(rotated) <= s.keepRotated {
		return
	}
	for _, path := range rotated[:len(rotated)-s.keepRotated] {
		_ = os.Remove(path)
	}
}

func readNewestFirst(path string, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var entries []Entry
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
