package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/ETdoFresh/codex-webapp-sub000/internal/agentrt"
	"github.com/ETdoFresh/codex-webapp-sub000/internal/store"
)

// turn holds the in-memory transcript of one in-flight turn: an
// insertion-ordered map from item id to its latest state. Snapshots are full
// restatements of this state, never deltas, so a client can replace its
// local view wholesale at any point.
type turn struct {
	log    *slog.Logger
	stream *ndjsonStream

	sessionID string
	tempID    string
	startedAt int64

	itemOrder []string
	itemByID  map[string]*agentrt.Item
}

func newTurn(log *slog.Logger, stream *ndjsonStream, sessionID string, tempID string) *turn {
	return &turn{
		log:       log,
		stream:    stream,
		sessionID: sessionID,
		tempID:    tempID,
		startedAt: time.Now().UnixMilli(),
		itemByID:  make(map[string]*agentrt.Item),
	}
}

func (t *turn) applyItem(item *agentrt.Item) {
	if t == nil || item == nil || strings.TrimSpace(item.ID) == "" {
		return
	}
	if _, ok := t.itemByID[item.ID]; !ok {
		t.itemOrder = append(t.itemOrder, item.ID)
	}
	t.itemByID[item.ID] = item
}

// assistantText is the running assistant message: the agent_message items'
// text in emission order, in-progress ones included.
func (t *turn) assistantText() string {
	if t == nil {
		return ""
	}
	parts := make([]string, 0, len(t.itemOrder))
	for _, id := range t.itemOrder {
		item := t.itemByID[id]
		if item == nil || item.Type != agentrt.ItemTypeAgentMessage {
			continue
		}
		if txt := strings.TrimSpace(item.Text); txt != "" {
			parts = append(parts, txt)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (t *turn) items() []agentrt.Item {
	if t == nil {
		return nil
	}
	out := make([]agentrt.Item, 0, len(t.itemOrder))
	for _, id := range t.itemOrder {
		if item := t.itemByID[id]; item != nil {
			out = append(out, *item)
		}
	}
	return out
}

// completedItems returns only the items observed as completed, in emission
// order, encoded for persistence. In-progress states are streamed but never
// persisted.
func (t *turn) completedItems() []json.RawMessage {
	if t == nil {
		return nil
	}
	out := make([]json.RawMessage, 0, len(t.itemOrder))
	for _, id := range t.itemOrder {
		item := t.itemByID[id]
		if item == nil || item.Status != agentrt.ItemStatusCompleted {
			continue
		}
		b, err := json.Marshal(item)
		if err != nil {
			continue
		}
		out = append(out, json.RawMessage(b))
	}
	return out
}

func (t *turn) sendSnapshot() {
	if t == nil || t.stream == nil {
		return
	}
	_ = t.stream.send(snapshotEvent{
		Type: EventTypeSnapshot,
		Message: snapshotMessage{
			ID:              t.tempID,
			SessionID:       t.sessionID,
			Role:            "assistant",
			Content:         t.assistantText(),
			Items:           t.items(),
			CreatedAtUnixMs: t.startedAt,
		},
	})
}

// turnOutcome is the terminal state of consuming a turn's event stream.
type turnOutcome struct {
	completed bool
	usage     *agentrt.Usage
	errMsg    string
}

// consumeEvents drains the agent's event stream, racing each wait against
// the stall timer. ctx only bounds the overall turn (max wall time); client
// disconnects are absorbed by the stream writer, not by this loop.
func (s *Service) consumeEvents(ctx context.Context, t *turn, sess *store.Session, events <-chan agentrt.Event, stallTimeout time.Duration) turnOutcome {
	stall := time.NewTimer(stallTimeout)
	defer stall.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return turnOutcome{errMsg: "agent event stream ended unexpectedly"}
			}
			if !stall.Stop() {
				select {
				case <-stall.C:
				default:
				}
			}
			stall.Reset(stallTimeout)

			switch ev.Kind {
			case agentrt.EventThreadStarted:
				s.recordThreadID(ctx, sess, ev.ThreadID)

			case agentrt.EventItemStarted, agentrt.EventItemUpdated, agentrt.EventItemCompleted:
				t.applyItem(ev.Item)
				t.sendSnapshot()

			case agentrt.EventTurnCompleted:
				s.recordThreadID(ctx, sess, ev.ThreadID)
				return turnOutcome{completed: true, usage: ev.Usage}

			case agentrt.EventTurnFailed:
				msg := strings.TrimSpace(ev.Err)
				if msg == "" {
					msg = "agent turn failed"
				}
				return turnOutcome{errMsg: msg}
			}

		case <-stall.C:
			return turnOutcome{errMsg: "agent stalled: no event within " + stallTimeout.String()}
		}
	}
}

// recordThreadID persists a newly observed external thread id immediately,
// so a crash mid-turn still leaves the session resumable.
func (s *Service) recordThreadID(ctx context.Context, sess *store.Session, threadID string) {
	threadID = strings.TrimSpace(threadID)
	if s == nil || sess == nil || threadID == "" {
		return
	}
	if sess.CodexThreadID != nil && *sess.CodexThreadID == threadID {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()
	if err := s.store.SetSessionThreadID(pctx, sess.ID, &threadID); err != nil {
		s.log.Warn("persist thread id failed", "session_id", sess.ID, "error", err)
		return
	}
	sess.CodexThreadID = &threadID
}
