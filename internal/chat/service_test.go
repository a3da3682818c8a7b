package chat

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ETdoFresh/codex-webapp-sub000/internal/agentrt"
	"github.com/ETdoFresh/codex-webapp-sub000/internal/config"
	"github.com/ETdoFresh/codex-webapp-sub000/internal/store"
	"github.com/ETdoFresh/codex-webapp-sub000/internal/workspace"
)

type fakeThread struct {
	id     string
	events []agentrt.Event
	runErr error
	// hang, when set, leaves the event channel open without sending.
	hang bool

	lastInput string
}

func (t *fakeThread) ID() string { return t.id }

func (t *fakeThread) Run(ctx context.Context, input string) (<-chan agentrt.Event, error) {
	if t.runErr != nil {
		return nil, t.runErr
	}
	t.lastInput = input
	ch := make(chan agentrt.Event, len(t.events)+1)
	if !t.hang {
		for _, ev := range t.events {
			ch <- ev
		}
		close(ch)
	}
	return ch, nil
}

type fakeRuntime struct {
	thread *fakeThread

	startCalls   int
	resumeCalls  int
	lastResumeID string
	lastSpec     agentrt.ThreadSpec
}

func (rt *fakeRuntime) StartThread(ctx context.Context, spec agentrt.ThreadSpec) (agentrt.Thread, error) {
	rt.startCalls++
	rt.lastSpec = spec
	return rt.thread, nil
}

func (rt *fakeRuntime) ResumeThread(ctx context.Context, threadID string, spec agentrt.ThreadSpec) (agentrt.Thread, error) {
	rt.resumeCalls++
	rt.lastResumeID = threadID
	rt.lastSpec = spec
	return rt.thread, nil
}

func newTestService(t *testing.T, rt *fakeRuntime, chatCfg config.ChatConfig) (*Service, *store.Store) {
	t.Helper()

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ws, err := workspace.NewManager(filepath.Join(dir, "workspaces"))
	if err != nil {
		t.Fatalf("workspace manager: %v", err)
	}

	svc, err := NewService(Options{
		Store:      st,
		Workspaces: ws,
		Chat:       chatCfg,
		NewRuntime: func(agentrt.Config) (agentrt.Runtime, error) { return rt, nil },
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, st
}

func happyEvents(threadID string, text string) []agentrt.Event {
	item := agentrt.Item{
		ID:     "item_1",
		Type:   agentrt.ItemTypeAgentMessage,
		Status: agentrt.ItemStatusInProgress,
		Text:   text[:1],
	}
	done := item
	done.Status = agentrt.ItemStatusCompleted
	done.Text = text
	return []agentrt.Event{
		{Kind: agentrt.EventThreadStarted, ThreadID: threadID},
		{Kind: agentrt.EventItemStarted, Item: &item},
		{Kind: agentrt.EventItemCompleted, Item: &done},
		{Kind: agentrt.EventTurnCompleted, ThreadID: threadID, Usage: &agentrt.Usage{InputTokens: 10, OutputTokens: 5}},
	}
}

// decodeStream parses recorded NDJSON into its per-line "type" tags plus the
// raw line for follow-up assertions.
func decodeStream(t *testing.T, body string) ([]string, []map[string]json.RawMessage) {
	t.Helper()
	var types []string
	var lines []map[string]json.RawMessage
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			t.Fatalf("bad stream line %q: %v", line, err)
		}
		var typ string
		if err := json.Unmarshal(obj["type"], &typ); err != nil {
			t.Fatalf("missing type in %q: %v", line, err)
		}
		types = append(types, typ)
		lines = append(lines, obj)
	}
	return types, lines
}

func TestSubmitTurn_happyPath(t *testing.T) {
	rt := &fakeRuntime{thread: &fakeThread{id: "resp_1", events: happyEvents("resp_1", "Hello there")}}
	svc, st := newTestService(t, rt, config.ChatConfig{})
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	rec := httptest.NewRecorder()
	if err := svc.SubmitTurn(ctx, sess.ID, SubmitRequest{Content: "hi"}, rec); err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content type = %q", ct)
	}

	types, lines := decodeStream(t, rec.Body.String())
	if len(types) < 4 {
		t.Fatalf("too few events: %v", types)
	}
	if types[0] != EventTypeUserMessage {
		t.Fatalf("first event = %q, want user_message", types[0])
	}
	if types[len(types)-1] != EventTypeDone {
		t.Fatalf("last event = %q, want done", types[len(types)-1])
	}
	if types[len(types)-2] != EventTypeFinal {
		t.Fatalf("penultimate event = %q, want final", types[len(types)-2])
	}
	for _, typ := range types[1 : len(types)-2] {
		if typ != EventTypeSnapshot {
			t.Fatalf("middle event = %q, want snapshot", typ)
		}
	}

	// Final message must carry the completed text.
	var fin finalEvent
	finLine, _ := json.Marshal(lines[len(lines)-2])
	if err := json.Unmarshal(finLine, &fin); err != nil {
		t.Fatalf("decode final: %v", err)
	}
	if fin.Message.Content != "Hello there" {
		t.Fatalf("final content = %q", fin.Message.Content)
	}
	if len(fin.Message.Items) != 1 {
		t.Fatalf("final items = %d, want 1", len(fin.Message.Items))
	}
	if fin.Usage == nil || fin.Usage.InputTokens != 10 {
		t.Fatalf("usage not propagated: %+v", fin.Usage)
	}
	if fin.TemporaryID == "" {
		t.Fatalf("missing temporary id")
	}

	// Thread id persisted; title derived from the first user message.
	got, err := st.GetSession(ctx, sess.ID)
	if err != nil || got == nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.CodexThreadID == nil || *got.CodexThreadID != "resp_1" {
		t.Fatalf("thread id = %v, want resp_1", got.CodexThreadID)
	}
	if got.Title != "hi" {
		t.Fatalf("title = %q, want auto-derived", got.Title)
	}

	msgs, err := st.ListMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("roles = %q,%q", msgs[0].Role, msgs[1].Role)
	}
	if len(msgs[1].Items) != 1 {
		t.Fatalf("persisted items = %d, want only completed", len(msgs[1].Items))
	}
}

func TestSubmitTurn_runtimeUnavailable(t *testing.T) {
	svc, st := newTestService(t, &fakeRuntime{}, config.ChatConfig{})
	svc.newRuntime = func(agentrt.Config) (agentrt.Runtime, error) {
		return nil, fmt.Errorf("%w: no api key configured", agentrt.ErrUnavailable)
	}
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	rec := httptest.NewRecorder()
	err = svc.SubmitTurn(ctx, sess.ID, SubmitRequest{Content: "hi"}, rec)
	if !errors.Is(err, agentrt.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}

	// An unavailable runtime is an ordinary error response: nothing streamed,
	// nothing persisted.
	if rec.Body.Len() != 0 {
		t.Fatalf("unexpected stream output: %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "" {
		t.Fatalf("headers committed: %q", ct)
	}
	msgs, err := st.ListMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("messages = %d, want none", len(msgs))
	}
}

func TestSubmitTurn_snapshotsAreFullRestatements(t *testing.T) {
	msg := agentrt.Item{ID: "item_1", Type: agentrt.ItemTypeAgentMessage, Status: agentrt.ItemStatusInProgress, Text: "Work"}
	msgMore := msg
	msgMore.Text = "Working on it"
	msgDone := msgMore
	msgDone.Status = agentrt.ItemStatusCompleted
	msgDone.Text = "Working on it. Done."
	cmd := agentrt.Item{ID: "item_2", Type: agentrt.ItemTypeCommandExecution, Status: agentrt.ItemStatusInProgress, Command: "ls"}
	cmdDone := cmd
	cmdDone.Status = agentrt.ItemStatusCompleted

	events := []agentrt.Event{
		{Kind: agentrt.EventThreadStarted, ThreadID: "resp_1"},
		{Kind: agentrt.EventItemStarted, Item: &msg},
		{Kind: agentrt.EventItemUpdated, Item: &msgMore},
		{Kind: agentrt.EventItemStarted, Item: &cmd},
		{Kind: agentrt.EventItemCompleted, Item: &cmdDone},
		{Kind: agentrt.EventItemCompleted, Item: &msgDone},
		{Kind: agentrt.EventTurnCompleted, ThreadID: "resp_1"},
	}
	rt := &fakeRuntime{thread: &fakeThread{id: "resp_1", events: events}}
	svc, _ := newTestService(t, rt, config.ChatConfig{})
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	rec := httptest.NewRecorder()
	if err := svc.SubmitTurn(ctx, sess.ID, SubmitRequest{Content: "go"}, rec); err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}

	types, lines := decodeStream(t, rec.Body.String())

	var snaps []snapshotMessage
	var fin finalEvent
	for i, typ := range types {
		raw, _ := json.Marshal(lines[i])
		switch typ {
		case EventTypeSnapshot:
			var ev snapshotEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				t.Fatalf("decode snapshot: %v", err)
			}
			snaps = append(snaps, ev.Message)
		case EventTypeFinal:
			if err := json.Unmarshal(raw, &fin); err != nil {
				t.Fatalf("decode final: %v", err)
			}
		}
	}
	if len(snaps) != 5 {
		t.Fatalf("snapshots = %d, want one per item event", len(snaps))
	}

	// Every snapshot is a full restatement under one temporary id: each
	// carries all previously seen items, in emission order, at their latest
	// state. Replaying only the last snapshot must equal applying them all.
	for i, snap := range snaps {
		if snap.ID != fin.TemporaryID {
			t.Fatalf("snapshot %d id = %q, want %q", i, snap.ID, fin.TemporaryID)
		}
		if i == 0 {
			continue
		}
		prev := snaps[i-1]
		if len(snap.Items) < len(prev.Items) {
			t.Fatalf("snapshot %d dropped items: %d -> %d", i, len(prev.Items), len(snap.Items))
		}
		for j, prevItem := range prev.Items {
			if snap.Items[j].ID != prevItem.ID {
				t.Fatalf("snapshot %d reordered items: %q at %d, want %q", i, snap.Items[j].ID, j, prevItem.ID)
			}
		}
	}

	last := snaps[len(snaps)-1]
	if last.Content != fin.Message.Content {
		t.Fatalf("last snapshot content = %q, final = %q", last.Content, fin.Message.Content)
	}
	if len(last.Items) != 2 || last.Items[0].ID != "item_1" || last.Items[1].ID != "item_2" {
		t.Fatalf("last snapshot items = %+v", last.Items)
	}
	for _, item := range last.Items {
		if item.Status != agentrt.ItemStatusCompleted {
			t.Fatalf("last snapshot item %q not at latest state: %q", item.ID, item.Status)
		}
	}
	if len(fin.Message.Items) != len(last.Items) {
		t.Fatalf("final items = %d, last snapshot = %d", len(fin.Message.Items), len(last.Items))
	}
}

func TestSubmitTurn_reusesCachedThread(t *testing.T) {
	rt := &fakeRuntime{thread: &fakeThread{id: "resp_1", events: happyEvents("resp_1", "one")}}
	svc, _ := newTestService(t, rt, config.ChatConfig{})
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := svc.SubmitTurn(ctx, sess.ID, SubmitRequest{Content: "a"}, httptest.NewRecorder()); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	rt.thread.events = happyEvents("resp_2", "two")
	if err := svc.SubmitTurn(ctx, sess.ID, SubmitRequest{Content: "b"}, httptest.NewRecorder()); err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	if rt.startCalls != 1 {
		t.Fatalf("startCalls = %d, want 1", rt.startCalls)
	}
	if rt.resumeCalls != 0 {
		t.Fatalf("resumeCalls = %d, want 0 (cached handle)", rt.resumeCalls)
	}
}

func TestSubmitTurn_failureClearsThreadState(t *testing.T) {
	failEvents := []agentrt.Event{
		{Kind: agentrt.EventThreadStarted, ThreadID: "resp_1"},
		{Kind: agentrt.EventTurnFailed, Err: "model exploded"},
	}
	rt := &fakeRuntime{thread: &fakeThread{id: "resp_1", events: failEvents}}
	svc, st := newTestService(t, rt, config.ChatConfig{})
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	rec := httptest.NewRecorder()
	if err := svc.SubmitTurn(ctx, sess.ID, SubmitRequest{Content: "boom"}, rec); err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}

	types, lines := decodeStream(t, rec.Body.String())
	want := []string{EventTypeUserMessage, EventTypeError, EventTypeDone}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events = %v, want %v", types, want)
		}
	}

	var ee errorEvent
	errLine, _ := json.Marshal(lines[1])
	if err := json.Unmarshal(errLine, &ee); err != nil {
		t.Fatalf("decode error event: %v", err)
	}
	if !strings.Contains(ee.Message, "model exploded") {
		t.Fatalf("error message = %q", ee.Message)
	}
	if ee.TemporaryID == "" {
		t.Fatalf("error event missing temporary id")
	}

	// Stored thread id cleared and the handle evicted: the next submission
	// starts a fresh thread instead of resuming a poisoned one.
	got, err := st.GetSession(ctx, sess.ID)
	if err != nil || got == nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.CodexThreadID != nil {
		t.Fatalf("thread id = %q, want cleared", *got.CodexThreadID)
	}

	rt.thread.events = happyEvents("resp_9", "recovered")
	if err := svc.SubmitTurn(ctx, sess.ID, SubmitRequest{Content: "retry"}, httptest.NewRecorder()); err != nil {
		t.Fatalf("retry turn: %v", err)
	}
	if rt.startCalls != 2 || rt.resumeCalls != 0 {
		t.Fatalf("start=%d resume=%d, want fresh start", rt.startCalls, rt.resumeCalls)
	}

	// The failed turn still persisted its user message.
	msgs, err := st.ListMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3 (2 user + 1 assistant)", len(msgs))
	}
}

func TestSubmitTurn_stallProducesError(t *testing.T) {
	rt := &fakeRuntime{thread: &fakeThread{id: "resp_1", hang: true}}
	svc, _ := newTestService(t, rt, config.ChatConfig{StallTimeout: 30 * time.Millisecond})
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	rec := httptest.NewRecorder()
	if err := svc.SubmitTurn(ctx, sess.ID, SubmitRequest{Content: "hang"}, rec); err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}

	types, lines := decodeStream(t, rec.Body.String())
	if len(types) != 3 || types[1] != EventTypeError || types[2] != EventTypeDone {
		t.Fatalf("events = %v, want user_message,error,done", types)
	}
	var ee errorEvent
	errLine, _ := json.Marshal(lines[1])
	_ = json.Unmarshal(errLine, &ee)
	if !strings.Contains(ee.Message, "stalled") {
		t.Fatalf("error message = %q, want stall", ee.Message)
	}
}

func TestSubmitTurn_emptySubmission(t *testing.T) {
	rt := &fakeRuntime{thread: &fakeThread{id: "resp_1"}}
	svc, _ := newTestService(t, rt, config.ChatConfig{})
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	rec := httptest.NewRecorder()
	err = svc.SubmitTurn(ctx, sess.ID, SubmitRequest{Content: "   "}, rec)
	if !errors.Is(err, ErrInvalidSubmission) {
		t.Fatalf("err = %v, want ErrInvalidSubmission", err)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("rejected submission wrote events: %q", rec.Body.String())
	}
}

func TestSubmitTurn_unknownSession(t *testing.T) {
	rt := &fakeRuntime{thread: &fakeThread{id: "resp_1"}}
	svc, _ := newTestService(t, rt, config.ChatConfig{})

	err := svc.SubmitTurn(context.Background(), "s_missing", SubmitRequest{Content: "hi"}, httptest.NewRecorder())
	if !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSubmitTurn_busySession(t *testing.T) {
	rt := &fakeRuntime{thread: &fakeThread{id: "resp_1"}}
	svc, _ := newTestService(t, rt, config.ChatConfig{})
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	svc.mu.Lock()
	svc.activeTurns[sess.ID] = struct{}{}
	svc.mu.Unlock()

	rec := httptest.NewRecorder()
	err = svc.SubmitTurn(ctx, sess.ID, SubmitRequest{Content: "hi"}, rec)
	if !errors.Is(err, ErrTurnActive) {
		t.Fatalf("err = %v, want ErrTurnActive", err)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("busy rejection wrote events")
	}
}

func TestSubmitTurn_attachmentOverCap(t *testing.T) {
	rt := &fakeRuntime{thread: &fakeThread{id: "resp_1"}}
	svc, _ := newTestService(t, rt, config.ChatConfig{MaxAttachments: 1})
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	payload := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	atts := []AttachmentInput{
		{Filename: "a.png", MimeType: "image/png", Base64: payload},
		{Filename: "b.png", MimeType: "image/png", Base64: payload},
	}
	rec := httptest.NewRecorder()
	err = svc.SubmitTurn(ctx, sess.ID, SubmitRequest{Content: "x", Attachments: atts}, rec)
	if !errors.Is(err, ErrInvalidSubmission) {
		t.Fatalf("err = %v, want ErrInvalidSubmission", err)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("rejected submission wrote events")
	}
}

func TestSubmitTurn_sendsAssembledContext(t *testing.T) {
	th := &fakeThread{id: "resp_1", events: happyEvents("resp_1", "ok")}
	rt := &fakeRuntime{thread: th}
	svc, _ := newTestService(t, rt, config.ChatConfig{Instructions: "Operating rules."})
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	payload := base64.StdEncoding.EncodeToString([]byte("img"))
	req := SubmitRequest{
		Content:     "look at this",
		Attachments: []AttachmentInput{{Filename: "shot.png", MimeType: "image/png", Base64: payload}},
	}
	if err := svc.SubmitTurn(ctx, sess.ID, req, httptest.NewRecorder()); err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}

	if !strings.HasPrefix(th.lastInput, "Operating rules.") {
		t.Fatalf("input missing instructions: %q", th.lastInput)
	}
	if !strings.Contains(th.lastInput, "look at this") {
		t.Fatalf("input missing user text: %q", th.lastInput)
	}
	if !strings.Contains(th.lastInput, "shot.png") || !strings.Contains(th.lastInput, workspace.AttachmentsDirName) {
		t.Fatalf("input missing attachment listing: %q", th.lastInput)
	}
}

func TestUpdateSettings_clearsCacheAndPersists(t *testing.T) {
	rt := &fakeRuntime{thread: &fakeThread{id: "resp_1", events: happyEvents("resp_1", "ok")}}
	svc, _ := newTestService(t, rt, config.ChatConfig{})
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := svc.SubmitTurn(ctx, sess.ID, SubmitRequest{Content: "warm"}, httptest.NewRecorder()); err != nil {
		t.Fatalf("warmup turn: %v", err)
	}
	if svc.cache.size() != 1 {
		t.Fatalf("cache size = %d, want 1", svc.cache.size())
	}

	if err := svc.UpdateSettings(ctx, Settings{Provider: "anthropic", Model: "claude-sonnet-4-5", ReasoningEffort: "low"}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if svc.cache.size() != 0 {
		t.Fatalf("cache size = %d after settings change, want 0", svc.cache.size())
	}

	got, err := svc.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if got.Provider != "anthropic" || got.Model != "claude-sonnet-4-5" || got.ReasoningEffort != "low" {
		t.Fatalf("settings = %+v", got)
	}
}

func TestUpdateSettings_rejectsUnknownProvider(t *testing.T) {
	rt := &fakeRuntime{thread: &fakeThread{id: "resp_1"}}
	svc, _ := newTestService(t, rt, config.ChatConfig{})

	err := svc.UpdateSettings(context.Background(), Settings{Provider: "gemini"})
	if !errors.Is(err, ErrInvalidSubmission) {
		t.Fatalf("err = %v, want ErrInvalidSubmission", err)
	}
}

func TestDeriveTitle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"  fix the   bug  ", "fix the bug"},
		{strings.Repeat("a", 100), strings.Repeat("a", 60) + "…"},
	}
	for _, c := range cases {
		if got := deriveTitle(c.in); got != c.want {
			t.Fatalf("deriveTitle(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
