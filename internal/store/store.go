package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed persistence layer for sessions, messages and
// attachments.
//
// Notes:
// - Messages are insert-only; a persisted message is never updated.
// - WAL is enabled so readers do not block the single writer connection.
type Store struct {
	db *sql.DB
}

var ErrSessionNotFound = errors.New("session not found")

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Session is one conversation with the agent runtime.
//
// CodexThreadID is the external agent thread the session resumes on the next
// turn; nil means the next turn starts a fresh thread. It is set and cleared
// only by the turn orchestrator (and cleared when the workspace dir changes,
// since a thread is bound to the workspace it was started in).
type Session struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	TitleLocked     bool    `json:"titleLocked"`
	CodexThreadID   *string `json:"codexThreadId"`
	WorkspaceDir    string  `json:"workspaceDir"`
	CreatedAtUnixMs int64   `json:"createdAt"`
	UpdatedAtUnixMs int64   `json:"updatedAt"`
}

type Message struct {
	ID              string            `json:"id"`
	SessionID       string            `json:"sessionId"`
	Role            string            `json:"role"` // "system"|"user"|"assistant"
	Content         string            `json:"content"`
	CreatedAtUnixMs int64             `json:"createdAt"`
	Attachments     []Attachment      `json:"attachments"`
	Items           []json.RawMessage `json:"items"`
}

// Attachment is the persisted record of an uploaded file. The file itself is
// written to the session workspace before the owning message exists; RelPath
// is relative to the workspace dir.
type Attachment struct {
	ID              string `json:"id"`
	MessageID       string `json:"messageId"`
	Filename        string `json:"filename"`
	MimeType        string `json:"mimeType"`
	SizeBytes       int64  `json:"size"`
	RelPath         string `json:"path"`
	CreatedAtUnixMs int64  `json:"createdAt"`
}

// AttachmentDraft is an attachment already written to the workspace but not
// yet bound to a message record.
type AttachmentDraft struct {
	Filename  string
	MimeType  string
	SizeBytes int64
	RelPath   string
}

const DefaultSessionTitle = "New Session"

func (s *Store) CreateSession(ctx context.Context, id string, title string, workspaceDir string) (*Session, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	title = strings.TrimSpace(title)
	workspaceDir = strings.TrimSpace(workspaceDir)
	if id == "" || workspaceDir == "" {
		return nil, errors.New("invalid session")
	}
	titleLocked := title != ""
	if title == "" {
		title = DefaultSessionTitle
	}
	if len(title) > 200 {
		return nil, errors.New("title too long")
	}

	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions(
  session_id, title, title_locked, codex_thread_id, workspace_dir,
  created_at_unix_ms, updated_at_unix_ms
) VALUES(?, ?, ?, NULL, ?, ?, ?)
`, id, title, boolToInt(titleLocked), workspaceDir, now, now)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:              id,
		Title:           title,
		TitleLocked:     titleLocked,
		WorkspaceDir:    workspaceDir,
		CreatedAtUnixMs: now,
		UpdatedAtUnixMs: now,
	}, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("missing session_id")
	}

	var sess Session
	var locked int
	var threadID sql.NullString
	err := s.db.QueryRowContext(ctx, `
SELECT session_id, title, title_locked, codex_thread_id, workspace_dir,
  created_at_unix_ms, updated_at_unix_ms
FROM sessions
WHERE session_id = ?
`, id).Scan(&sess.ID, &sess.Title, &locked, &threadID, &sess.WorkspaceDir, &sess.CreatedAtUnixMs, &sess.UpdatedAtUnixMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	sess.TitleLocked = locked != 0
	if threadID.Valid && strings.TrimSpace(threadID.String) != "" {
		v := strings.TrimSpace(threadID.String)
		sess.CodexThreadID = &v
	}
	return &sess, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, title, title_locked, codex_thread_id, workspace_dir,
  created_at_unix_ms, updated_at_unix_ms
FROM sessions
ORDER BY updated_at_unix_ms DESC, session_id DESC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Session, 0, 16)
	for rows.Next() {
		var sess Session
		var locked int
		var threadID sql.NullString
		if err := rows.Scan(&sess.ID, &sess.Title, &locked, &threadID, &sess.WorkspaceDir, &sess.CreatedAtUnixMs, &sess.UpdatedAtUnixMs); err != nil {
			return nil, err
		}
		sess.TitleLocked = locked != 0
		if threadID.Valid && strings.TrimSpace(threadID.String) != "" {
			v := strings.TrimSpace(threadID.String)
			sess.CodexThreadID = &v
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// RenameSession sets an explicit user title and locks it against auto-titling.
func (s *Store) RenameSession(ctx context.Context, id string, title string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	title = strings.TrimSpace(title)
	if id == "" || title == "" {
		return errors.New("invalid request")
	}
	if len(title) > 200 {
		return errors.New("title too long")
	}

	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
UPDATE sessions
SET title = ?, title_locked = 1, updated_at_unix_ms = ?
WHERE session_id = ?
`, title, now, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// SetSessionTitle sets an auto-derived title. It is a no-op when the title
// was explicitly set by the user.
func (s *Store) SetSessionTitle(ctx context.Context, id string, title string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	title = strings.TrimSpace(title)
	if id == "" || title == "" {
		return errors.New("invalid request")
	}

	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
UPDATE sessions
SET title = ?, updated_at_unix_ms = ?
WHERE session_id = ? AND title_locked = 0
`, title, now, id)
	return err
}

// SetSessionThreadID stores the external agent thread id (nil clears it).
func (s *Store) SetSessionThreadID(ctx context.Context, id string, threadID *string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("missing session_id")
	}

	var v sql.NullString
	if threadID != nil && strings.TrimSpace(*threadID) != "" {
		v = sql.NullString{String: strings.TrimSpace(*threadID), Valid: true}
	}
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
UPDATE sessions
SET codex_thread_id = ?, updated_at_unix_ms = ?
WHERE session_id = ?
`, v, now, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// SetSessionWorkspace changes the workspace dir and clears the stored thread
// id in the same statement: a live thread is bound to its workspace path, so
// the old thread must never be resumed against the new path.
func (s *Store) SetSessionWorkspace(ctx context.Context, id string, workspaceDir string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	workspaceDir = strings.TrimSpace(workspaceDir)
	if id == "" || workspaceDir == "" {
		return errors.New("invalid request")
	}

	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
UPDATE sessions
SET workspace_dir = ?, codex_thread_id = NULL, updated_at_unix_ms = ?
WHERE session_id = ?
`, workspaceDir, now, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("missing session_id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM attachments
WHERE message_id IN (SELECT message_id FROM messages WHERE session_id = ?)
`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrSessionNotFound
	}
	return tx.Commit()
}

// AddMessage persists one message with its attachments and completed agent
// items, and bumps the owning session's updated timestamp in the same
// transaction.
func (s *Store) AddMessage(ctx context.Context, sessionID string, messageID string, role string, content string, attachments []AttachmentDraft, items []json.RawMessage) (*Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sessionID = strings.TrimSpace(sessionID)
	messageID = strings.TrimSpace(messageID)
	role = strings.TrimSpace(role)
	if sessionID == "" || messageID == "" {
		return nil, errors.New("invalid message")
	}
	switch role {
	case "system", "user", "assistant":
	default:
		return nil, fmt.Errorf("invalid role %q", role)
	}

	itemsJSON := "[]"
	if len(items) > 0 {
		b, err := json.Marshal(items)
		if err != nil {
			return nil, err
		}
		itemsJSON = string(b)
	}

	now := time.Now().UnixMilli()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO messages(message_id, session_id, role, content, items_json, created_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?)
`, messageID, sessionID, role, content, itemsJSON, now); err != nil {
		return nil, err
	}

	msg := &Message{
		ID:              messageID,
		SessionID:       sessionID,
		Role:            role,
		Content:         content,
		CreatedAtUnixMs: now,
		Attachments:     make([]Attachment, 0, len(attachments)),
		Items:           append([]json.RawMessage(nil), items...),
	}
	for i, draft := range attachments {
		att := Attachment{
			ID:              fmt.Sprintf("%s_att%d", messageID, i+1),
			MessageID:       messageID,
			Filename:        strings.TrimSpace(draft.Filename),
			MimeType:        strings.TrimSpace(draft.MimeType),
			SizeBytes:       draft.SizeBytes,
			RelPath:         strings.TrimSpace(draft.RelPath),
			CreatedAtUnixMs: now,
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO attachments(attachment_id, message_id, filename, mime_type, size_bytes, rel_path, created_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?, ?)
`, att.ID, att.MessageID, att.Filename, att.MimeType, att.SizeBytes, att.RelPath, att.CreatedAtUnixMs); err != nil {
			return nil, err
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	res, err := tx.ExecContext(ctx, `
UPDATE sessions SET updated_at_unix_ms = ? WHERE session_id = ?
`, now, sessionID)
	if err != nil {
		return nil, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, ErrSessionNotFound
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("missing session_id")
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT message_id, session_id, role, content, items_json, created_at_unix_ms
FROM messages
WHERE session_id = ?
ORDER BY id ASC
`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0, 32)
	for rows.Next() {
		var m Message
		var itemsJSON string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &itemsJSON, &m.CreatedAtUnixMs); err != nil {
			return nil, err
		}
		if strings.TrimSpace(itemsJSON) != "" {
			if err := json.Unmarshal([]byte(itemsJSON), &m.Items); err != nil {
				return nil, fmt.Errorf("decode items for message %s: %w", m.ID, err)
			}
		}
		if m.Items == nil {
			m.Items = []json.RawMessage{}
		}
		m.Attachments = []Attachment{}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	byMessage := make(map[string]int, len(out))
	for i := range out {
		byMessage[out[i].ID] = i
	}
	arows, err := s.db.QueryContext(ctx, `
SELECT attachment_id, message_id, filename, mime_type, size_bytes, rel_path, created_at_unix_ms
FROM attachments
WHERE message_id IN (SELECT message_id FROM messages WHERE session_id = ?)
ORDER BY id ASC
`, sessionID)
	if err != nil {
		return nil, err
	}
	defer arows.Close()
	for arows.Next() {
		var a Attachment
		if err := arows.Scan(&a.ID, &a.MessageID, &a.Filename, &a.MimeType, &a.SizeBytes, &a.RelPath, &a.CreatedAtUnixMs); err != nil {
			return nil, err
		}
		if i, ok := byMessage[a.MessageID]; ok {
			out[i].Attachments = append(out[i].Attachments, a)
		}
	}
	return out, arows.Err()
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("missing key")
	}

	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return v, nil
}

func (s *Store) PutSetting(ctx context.Context, key string, value string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("missing key")
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO settings(key, value) VALUES(?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value
`, key, value)
	return err
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}

	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS sessions (
  session_id TEXT PRIMARY KEY,
  title TEXT NOT NULL DEFAULT '',
  title_locked INTEGER NOT NULL DEFAULT 0,
  codex_thread_id TEXT,
  workspace_dir TEXT NOT NULL,
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  message_id TEXT NOT NULL UNIQUE,
  session_id TEXT NOT NULL,
  role TEXT NOT NULL,
  content TEXT NOT NULL DEFAULT '',
  items_json TEXT NOT NULL DEFAULT '[]',
  created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);

CREATE TABLE IF NOT EXISTS attachments (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  attachment_id TEXT NOT NULL UNIQUE,
  message_id TEXT NOT NULL,
  filename TEXT NOT NULL DEFAULT '',
  mime_type TEXT NOT NULL DEFAULT '',
  size_bytes INTEGER NOT NULL DEFAULT 0,
  rel_path TEXT NOT NULL,
  created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_id, id);

CREATE TABLE IF NOT EXISTS settings (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL DEFAULT ''
);
`)
	return err
}
