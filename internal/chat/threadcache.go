package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ETdoFresh/codex-webapp-sub000/internal/agentrt"
	"github.com/ETdoFresh/codex-webapp-sub000/internal/store"
)

// ThreadCache maps a session id to its live agent thread handle.
//
// Invariant: at most one live handle per session id. A cached handle is only
// valid while the session's workspace dir is unchanged; Ensure discards a
// handle whose workspace no longer matches. Ensure, Forget and Clear are the
// only mutators.
type ThreadCache struct {
	ensureWorkspace func(dir string) error

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	thread       agentrt.Thread
	workspaceDir string
}

func NewThreadCache(ensureWorkspace func(dir string) error) *ThreadCache {
	return &ThreadCache{
		ensureWorkspace: ensureWorkspace,
		entries:         make(map[string]*cacheEntry),
	}
}

// Ensure returns the session's live thread handle, creating one if needed:
// the stored external thread id is resumed when present, otherwise a fresh
// thread is started rooted at the session workspace.
func (c *ThreadCache) Ensure(ctx context.Context, rt agentrt.Runtime, sess *store.Session, spec agentrt.ThreadSpec) (agentrt.Thread, error) {
	if c == nil {
		return nil, errors.New("nil cache")
	}
	if rt == nil {
		return nil, errors.New("nil runtime")
	}
	if sess == nil || strings.TrimSpace(sess.ID) == "" {
		return nil, errors.New("missing session")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e := c.entries[sess.ID]; e != nil {
		if e.workspaceDir == sess.WorkspaceDir {
			return e.thread, nil
		}
		// Workspace moved under a live handle; the old thread is bound to
		// the old path and must not be reused.
		delete(c.entries, sess.ID)
	}

	if c.ensureWorkspace != nil {
		if err := c.ensureWorkspace(sess.WorkspaceDir); err != nil {
			return nil, err
		}
	}
	spec.WorkspaceDir = sess.WorkspaceDir

	var (
		th  agentrt.Thread
		err error
	)
	if sess.CodexThreadID != nil && strings.TrimSpace(*sess.CodexThreadID) != "" {
		th, err = rt.ResumeThread(ctx, *sess.CodexThreadID, spec)
	} else {
		th, err = rt.StartThread(ctx, spec)
	}
	if err != nil {
		return nil, err
	}
	c.entries[sess.ID] = &cacheEntry{thread: th, workspaceDir: sess.WorkspaceDir}
	return th, nil
}

// Forget evicts the session's cached handle. It has no effect on persisted
// state; callers clear the stored thread id separately when needed.
func (c *ThreadCache) Forget(sessionID string) {
	if c == nil {
		return
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return
	}
	c.mu.Lock()
	delete(c.entries, sessionID)
	c.mu.Unlock()
}

// Clear evicts every cached handle. Used when global chat settings change,
// since a handle is bound to the configuration in effect when it was created.
func (c *ThreadCache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

func (c *ThreadCache) size() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
