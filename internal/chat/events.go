package chat

import (
	"github.com/ETdoFresh/codex-webapp-sub000/internal/agentrt"
	"github.com/ETdoFresh/codex-webapp-sub000/internal/store"
)

// Stream event types, tagged by the "type" field. A turn's stream is:
// one user_message, zero or more assistant_message_snapshot, then either
// assistant_message_final or error, and always a trailing done.
const (
	EventTypeUserMessage = "user_message"
	EventTypeSnapshot    = "assistant_message_snapshot"
	EventTypeFinal       = "assistant_message_final"
	EventTypeError       = "error"
	EventTypeDone        = "done"
)

type userMessageEvent struct {
	Type    string        `json:"type"`
	Message store.Message `json:"message"`
}

// snapshotMessage is the in-flight assistant message: a full restatement of
// accumulated turn state under a temporary id. Clients replace their local
// view wholesale on every snapshot, so each one must be self-contained.
type snapshotMessage struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"sessionId"`
	Role            string         `json:"role"`
	Content         string         `json:"content"`
	Items           []agentrt.Item `json:"items"`
	CreatedAtUnixMs int64          `json:"createdAt"`
}

type snapshotEvent struct {
	Type    string          `json:"type"`
	Message snapshotMessage `json:"message"`
}

type finalEvent struct {
	Type        string         `json:"type"`
	Message     store.Message  `json:"message"`
	TemporaryID string         `json:"temporaryId"`
	Session     store.Session  `json:"session"`
	Usage       *agentrt.Usage `json:"usage,omitempty"`
}

type errorEvent struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	TemporaryID string `json:"temporaryId,omitempty"`
}

type doneEvent struct {
	Type string `json:"type"`
}
