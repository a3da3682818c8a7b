package chat

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ETdoFresh/codex-webapp-sub000/internal/agentrt"
	"github.com/ETdoFresh/codex-webapp-sub000/internal/auditlog"
	"github.com/ETdoFresh/codex-webapp-sub000/internal/config"
	"github.com/ETdoFresh/codex-webapp-sub000/internal/store"
	"github.com/ETdoFresh/codex-webapp-sub000/internal/workspace"
)

var (
	ErrInvalidSubmission = errors.New("invalid submission")
	ErrTurnActive        = errors.New("turn already active for session")
)

const (
	settingProvider        = "chat.provider"
	settingModel           = "chat.model"
	settingReasoningEffort = "chat.reasoning_effort"

	defaultPersistTimeout = 10 * time.Second
	historyMessageLimit   = 120
	historyMaxChars       = 60_000
)

type Options struct {
	Logger     *slog.Logger
	Store      *store.Store
	Workspaces *workspace.Manager
	Audit      *auditlog.Store // optional
	Chat       config.ChatConfig

	// NewRuntime overrides the agent runtime factory. Tests only.
	NewRuntime func(agentrt.Config) (agentrt.Runtime, error)
}

// Service owns turn execution: it prepares attachments, assembles context,
// holds the thread cache, runs the orchestrator loop and persists the
// results. One long-lived instance per process.
type Service struct {
	log   *slog.Logger
	store *store.Store
	ws    *workspace.Manager
	audit *auditlog.Store
	cfg   config.ChatConfig
	cache *ThreadCache

	newRuntime     func(agentrt.Config) (agentrt.Runtime, error)
	persistTimeout time.Duration

	mu          sync.Mutex
	activeTurns map[string]struct{} // session_id -> in-flight marker
}

func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("missing store")
	}
	if opts.Workspaces == nil {
		return nil, errors.New("missing workspace manager")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	newRuntime := opts.NewRuntime
	if newRuntime == nil {
		newRuntime = agentrt.New
	}

	return &Service{
		log:            logger,
		store:          opts.Store,
		ws:             opts.Workspaces,
		audit:          opts.Audit,
		cfg:            opts.Chat,
		cache:          NewThreadCache(ensureWorkspacePath),
		newRuntime:     newRuntime,
		persistTimeout: defaultPersistTimeout,
		activeTurns:    make(map[string]struct{}),
	}, nil
}

func ensureWorkspacePath(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return errors.New("missing workspace dir")
	}
	return os.MkdirAll(dir, 0o700)
}

// Settings are the runtime-switchable chat settings. They are read per turn,
// so a change applies to the very next submission.
type Settings struct {
	Provider        string `json:"provider"`
	Model           string `json:"model"`
	ReasoningEffort string `json:"reasoningEffort"`
}

func (s *Service) Settings(ctx context.Context) (Settings, error) {
	if s == nil {
		return Settings{}, errors.New("nil service")
	}
	out := Settings{
		Provider:        s.cfg.EffectiveProvider(),
		Model:           s.cfg.EffectiveModel(),
		ReasoningEffort: s.cfg.EffectiveReasoningEffort(),
	}
	if v, err := s.store.GetSetting(ctx, settingProvider); err != nil {
		return Settings{}, err
	} else if strings.TrimSpace(v) != "" {
		out.Provider = strings.TrimSpace(v)
	}
	if v, err := s.store.GetSetting(ctx, settingModel); err != nil {
		return Settings{}, err
	} else if strings.TrimSpace(v) != "" {
		out.Model = strings.TrimSpace(v)
	}
	if v, err := s.store.GetSetting(ctx, settingReasoningEffort); err != nil {
		return Settings{}, err
	} else if strings.TrimSpace(v) != "" {
		out.ReasoningEffort = strings.TrimSpace(v)
	}
	return out, nil
}

// UpdateSettings persists the new settings and clears the thread cache:
// existing handles are bound to the configuration they were created under.
func (s *Service) UpdateSettings(ctx context.Context, next Settings) error {
	if s == nil {
		return errors.New("nil service")
	}
	probe := config.ChatConfig{Provider: next.Provider, ReasoningEffort: next.ReasoningEffort}
	if err := probe.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	if err := s.store.PutSetting(ctx, settingProvider, strings.ToLower(strings.TrimSpace(next.Provider))); err != nil {
		return err
	}
	if err := s.store.PutSetting(ctx, settingModel, strings.TrimSpace(next.Model)); err != nil {
		return err
	}
	if err := s.store.PutSetting(ctx, settingReasoningEffort, strings.ToLower(strings.TrimSpace(next.ReasoningEffort))); err != nil {
		return err
	}
	s.cache.Clear()
	s.audit.Append(auditlog.Entry{
		Action:   auditlog.ActionSettingsUpdated,
		Provider: strings.ToLower(strings.TrimSpace(next.Provider)),
		Model:    strings.TrimSpace(next.Model),
	})
	return nil
}

// CreateSession creates the session record and its workspace directory.
func (s *Service) CreateSession(ctx context.Context, title string) (*store.Session, error) {
	if s == nil {
		return nil, errors.New("nil service")
	}
	id, err := newID("s")
	if err != nil {
		return nil, err
	}
	dir, err := s.ws.EnsureDir(id)
	if err != nil {
		return nil, err
	}
	sess, err := s.store.CreateSession(ctx, id, title, dir)
	if err != nil {
		return nil, err
	}
	s.audit.Append(auditlog.Entry{Action: auditlog.ActionSessionCreated, SessionID: id})
	return sess, nil
}

// DeleteSession removes the session, its cached thread handle and its
// workspace directory.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	if s == nil {
		return errors.New("nil service")
	}
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	s.cache.Forget(sessionID)
	if workspace.IsSafeID(sessionID) {
		if err := s.ws.RemoveDir(sessionID); err != nil {
			s.log.Warn("remove workspace failed", "session_id", sessionID, "error", err)
		}
	}
	s.audit.Append(auditlog.Entry{Action: auditlog.ActionSessionDeleted, SessionID: sessionID})
	return nil
}

// SetWorkspace points the session at a new workspace directory. The cached
// handle and the stored thread id are both invalidated: a thread is bound to
// the workspace it was started in.
func (s *Service) SetWorkspace(ctx context.Context, sessionID string, dir string) (*store.Session, error) {
	if s == nil {
		return nil, errors.New("nil service")
	}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("%w: missing workspace path", ErrInvalidSubmission)
	}
	if err := ensureWorkspacePath(dir); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	if err := s.store.SetSessionWorkspace(ctx, sessionID, dir); err != nil {
		return nil, err
	}
	s.cache.Forget(sessionID)
	s.audit.Append(auditlog.Entry{
		Action:    auditlog.ActionWorkspaceChanged,
		SessionID: sessionID,
		Detail:    map[string]any{"workspaceDir": dir},
	})
	return s.store.GetSession(ctx, sessionID)
}

// ClearThreadCache drops every live handle. Exposed for config reloads.
func (s *Service) ClearThreadCache() {
	if s == nil {
		return
	}
	s.cache.Clear()
}

// SubmitRequest is one user message submission.
type SubmitRequest struct {
	Content     string            `json:"content"`
	Attachments []AttachmentInput `json:"attachments"`
}

// SubmitTurn runs one full turn against the session and streams NDJSON
// events to w.
//
// Errors are only returned for failures before streaming begins (validation,
// unknown session, busy session, unavailable runtime); those produce no
// events at all. Once the
// user message is persisted the response is committed: every later failure
// is reported in-stream as an error event followed by done.
func (s *Service) SubmitTurn(ctx context.Context, sessionID string, req SubmitRequest, w http.ResponseWriter) error {
	if s == nil {
		return errors.New("nil service")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("%w: missing session id", ErrInvalidSubmission)
	}
	content := strings.TrimSpace(req.Content)
	if content == "" && len(req.Attachments) == 0 {
		return fmt.Errorf("%w: empty message", ErrInvalidSubmission)
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return store.ErrSessionNotFound
	}

	// One in-flight turn per session: concurrent turns would race on the
	// shared thread handle and the workspace.
	s.mu.Lock()
	if _, busy := s.activeTurns[sessionID]; busy {
		s.mu.Unlock()
		return ErrTurnActive
	}
	s.activeTurns[sessionID] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.activeTurns, sessionID)
		s.mu.Unlock()
	}()

	settings, err := s.Settings(ctx)
	if err != nil {
		return err
	}

	// The runtime is probed before anything is persisted or streamed: a
	// missing provider or credential must surface as a plain error response,
	// not as an in-stream failure.
	rt, err := s.newRuntime(agentrt.Config{
		Provider:        settings.Provider,
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
	})
	if err != nil {
		return err
	}

	if err := ensureWorkspacePath(sess.WorkspaceDir); err != nil {
		return err
	}
	drafts, err := prepareAttachments(sess.WorkspaceDir, req.Attachments, s.cfg.EffectiveMaxAttachments(), s.cfg.EffectiveMaxAttachmentBytes())
	if err != nil {
		return err
	}

	// Build the resume transcript before appending the new user message.
	history, err := s.loadHistory(ctx, sessionID)
	if err != nil {
		return err
	}

	// From here on the submission is accepted; switch to the event stream.
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	stream := newNDJSONStream(w, s.cfg.EffectiveStreamWriteTimeout())
	defer stream.close()

	// Persisting must not depend on the request lifetime: the browser may
	// disconnect mid-turn and the conversation still has to stay coherent.
	pctx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancelPersist()

	userMsgID, err := newID("m_user")
	if err != nil {
		return err
	}
	userMsg, err := s.store.AddMessage(pctx, sessionID, userMsgID, "user", content, drafts, nil)
	if err != nil {
		return err
	}
	_ = stream.send(userMessageEvent{Type: EventTypeUserMessage, Message: *userMsg})

	tempID, err := newID("m_tmp")
	if err != nil {
		tempID = "m_tmp_fallback"
	}
	t := newTurn(s.log, stream, sessionID, tempID)

	failTurn := func(msg string) {
		s.cache.Forget(sessionID)
		fctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
		defer cancel()
		if err := s.store.SetSessionThreadID(fctx, sessionID, nil); err != nil {
			s.log.Warn("clear thread id failed", "session_id", sessionID, "error", err)
		}
		_ = stream.send(errorEvent{Type: EventTypeError, Message: msg, TemporaryID: tempID})
		_ = stream.send(doneEvent{Type: EventTypeDone})
		s.audit.Append(auditlog.Entry{
			Action:    auditlog.ActionTurnFailed,
			Status:    "failure",
			Error:     msg,
			SessionID: sessionID,
			Provider:  settings.Provider,
			Model:     settings.Model,
		})
		s.log.Info("turn failed", "session_id", sessionID, "error", msg)
	}

	// The agent call outlives a client disconnect; only the wall clock
	// bounds it.
	agentCtx, cancelAgent := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.EffectiveMaxWallTime())
	defer cancelAgent()

	spec := agentrt.ThreadSpec{
		Model:           settings.Model,
		ReasoningEffort: settings.ReasoningEffort,
		History:         history,
	}
	thread, err := s.cache.Ensure(agentCtx, rt, sess, spec)
	if err != nil {
		if errors.Is(err, agentrt.ErrUnavailable) {
			_ = stream.send(errorEvent{
				Type:        EventTypeError,
				Message:     "Agent runtime unavailable: " + err.Error(),
				TemporaryID: tempID,
			})
			_ = stream.send(doneEvent{Type: EventTypeDone})
			return nil
		}
		failTurn("failed to open agent thread: " + err.Error())
		return nil
	}

	input := assembleTurnContext(s.cfg.EffectiveInstructions(), content, drafts, sess.WorkspaceDir)
	events, err := thread.Run(agentCtx, input)
	if err != nil {
		failTurn("failed to start agent turn: " + err.Error())
		return nil
	}

	s.log.Debug("turn started",
		"session_id", sessionID,
		"provider", settings.Provider,
		"model", settings.Model,
		"attachment_count", len(drafts),
		"history_count", len(history),
	)

	outcome := s.consumeEvents(agentCtx, t, sess, events, s.cfg.EffectiveStallTimeout())
	if !outcome.completed {
		failTurn(outcome.errMsg)
		return nil
	}

	assistantMsgID, err := newID("m_ai")
	if err != nil {
		failTurn("failed to finalize turn: " + err.Error())
		return nil
	}
	fctx, cancelFinal := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancelFinal()
	assistantMsg, err := s.store.AddMessage(fctx, sessionID, assistantMsgID, "assistant", t.assistantText(), nil, t.completedItems())
	if err != nil {
		failTurn("failed to persist assistant message: " + err.Error())
		return nil
	}

	s.autoTitle(fctx, sess, content)

	finalSess, err := s.store.GetSession(fctx, sessionID)
	if err != nil || finalSess == nil {
		failTurn("failed to reload session")
		return nil
	}

	_ = stream.send(finalEvent{
		Type:        EventTypeFinal,
		Message:     *assistantMsg,
		TemporaryID: tempID,
		Session:     *finalSess,
		Usage:       outcome.usage,
	})
	_ = stream.send(doneEvent{Type: EventTypeDone})

	auditDetail := map[string]any{"items": len(assistantMsg.Items)}
	if outcome.usage != nil {
		auditDetail["inputTokens"] = outcome.usage.InputTokens
		auditDetail["outputTokens"] = outcome.usage.OutputTokens
	}
	s.audit.Append(auditlog.Entry{
		Action:    auditlog.ActionTurnCompleted,
		SessionID: sessionID,
		Provider:  settings.Provider,
		Model:     settings.Model,
		Detail:    auditDetail,
	})
	s.log.Info("turn completed",
		"session_id", sessionID,
		"items", len(assistantMsg.Items),
		"duration_ms", time.Now().UnixMilli()-t.startedAt,
	)
	return nil
}

// loadHistory rebuilds the prior transcript for backends without server-side
// thread state. Most recent messages win under the char cap.
func (s *Service) loadHistory(ctx context.Context, sessionID string) ([]agentrt.HistoryMessage, error) {
	msgs, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(msgs) > historyMessageLimit {
		msgs = msgs[len(msgs)-historyMessageLimit:]
	}
	out := make([]agentrt.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		out = append(out, agentrt.HistoryMessage{Role: m.Role, Text: text})
	}
	total := 0
	for i := len(out) - 1; i >= 0; i-- {
		total += len(out[i].Text)
		if total > historyMaxChars {
			return out[i+1:], nil
		}
	}
	return out, nil
}

// autoTitle derives a session title from the first user message. Explicitly
// renamed sessions are locked and left alone.
func (s *Service) autoTitle(ctx context.Context, sess *store.Session, content string) {
	if s == nil || sess == nil || sess.TitleLocked {
		return
	}
	if sess.Title != "" && sess.Title != store.DefaultSessionTitle {
		return
	}
	title := deriveTitle(content)
	if title == "" {
		return
	}
	if err := s.store.SetSessionTitle(ctx, sess.ID, title); err != nil {
		s.log.Warn("auto-title failed", "session_id", sess.ID, "error", err)
	}
}

func deriveTitle(content string) string {
	content = strings.Join(strings.Fields(strings.TrimSpace(content)), " ")
	if content == "" {
		return ""
	}
	const maxTitleRunes = 60
	rs := []rune(content)
	if len(rs) > maxTitleRunes {
		return strings.TrimSpace(string(rs[:maxTitleRunes])) + "…"
	}
	return content
}

func newID(prefix string) (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + "_" + base64.RawURLEncoding.EncodeToString(b), nil
}
