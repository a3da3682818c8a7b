// Package agentrt abstracts the external coding-agent runtime behind a small
// capability interface so backends can be swapped by configuration.
//
// A Thread is a stateful conversation context bound to a workspace directory.
// Running a turn against a thread yields an ordered stream of events: item
// lifecycle updates while the agent works, then exactly one terminal event
// (turn_completed or turn_failed).
package agentrt

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable means the agent runtime itself cannot be used (unknown
// provider or missing API key). It is distinct from a turn failing: callers
// surface a setup message instead of a generic turn error.
var ErrUnavailable = errors.New("agent runtime unavailable")

type ItemType string

const (
	ItemTypeAgentMessage     ItemType = "agent_message"
	ItemTypeReasoning        ItemType = "reasoning"
	ItemTypeCommandExecution ItemType = "command_execution"
	ItemTypeFileChange       ItemType = "file_change"
	ItemTypeToolCall         ItemType = "tool_call"
)

type ItemStatus string

const (
	ItemStatusInProgress ItemStatus = "in_progress"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
)

// Item is one typed unit of agent output. Fields beyond ID/Type/Status are
// populated per type: Text for agent_message and reasoning, Name and
// ArgumentsJSON for tool_call, Command/ExitCode/Output for command_execution,
// Files for file_change.
type Item struct {
	ID            string     `json:"id"`
	Type          ItemType   `json:"type"`
	Status        ItemStatus `json:"status"`
	Text          string     `json:"text,omitempty"`
	Name          string     `json:"name,omitempty"`
	ArgumentsJSON string     `json:"argumentsJson,omitempty"`
	Command       string     `json:"command,omitempty"`
	ExitCode      *int64     `json:"exitCode,omitempty"`
	Output        string     `json:"output,omitempty"`
	Files         []string   `json:"files,omitempty"`
}

type Usage struct {
	InputTokens     int64 `json:"inputTokens"`
	OutputTokens    int64 `json:"outputTokens"`
	ReasoningTokens int64 `json:"reasoningTokens,omitempty"`
}

type EventKind string

const (
	EventThreadStarted EventKind = "thread_started"
	EventItemStarted   EventKind = "item_started"
	EventItemUpdated   EventKind = "item_updated"
	EventItemCompleted EventKind = "item_completed"
	EventTurnCompleted EventKind = "turn_completed"
	EventTurnFailed    EventKind = "turn_failed"
)

// Event is one element of a turn's event stream. Item events carry a copy of
// the item's latest state; the terminal events carry Usage or Err.
type Event struct {
	Kind     EventKind
	ThreadID string
	Item     *Item
	Usage    *Usage
	Err      string
}

// HistoryMessage is a prior completed turn message used to rebuild context
// when a backend keeps no server-side thread state.
type HistoryMessage struct {
	Role string // "user" or "assistant"
	Text string
}

// ThreadSpec describes the thread to start or resume.
type ThreadSpec struct {
	WorkspaceDir    string
	Model           string
	ReasoningEffort string
	History         []HistoryMessage
}

type Thread interface {
	// ID returns the thread's current external identifier. For backends that
	// chain per-turn identifiers it changes after every completed turn.
	ID() string
	// Run executes one turn. The returned channel delivers events in order
	// and is closed after the terminal event. Run itself only fails when the
	// turn could not be started at all.
	Run(ctx context.Context, input string) (<-chan Event, error)
}

type Runtime interface {
	StartThread(ctx context.Context, spec ThreadSpec) (Thread, error)
	ResumeThread(ctx context.Context, threadID string, spec ThreadSpec) (Thread, error)
}

// Config selects and parameterizes a backend.
type Config struct {
	Provider        string // "openai" | "anthropic"
	OpenAIAPIKey    string
	AnthropicAPIKey string
	BaseURL         string // optional override, mainly for tests
}

var backends = map[string]func(Config) (Runtime, error){
	"openai":    newOpenAIRuntime,
	"anthropic": newAnthropicRuntime,
}

// New builds the runtime for cfg.Provider. Unknown providers and missing
// credentials report ErrUnavailable so callers can distinguish a setup
// problem from a turn failure.
func New(cfg Config) (Runtime, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	factory := backends[provider]
	if factory == nil {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrUnavailable, cfg.Provider)
	}
	return factory(cfg)
}

const eventBufferSize = 64

// emit delivers ev unless ctx is already done. A consumer that gave up on
// the turn must not wedge the producer goroutine once the buffer fills.
func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func newThreadID(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return prefix + "_fallback"
	}
	return prefix + "_" + base64.RawURLEncoding.EncodeToString(b)
}

func newItemID(seq int) string {
	return fmt.Sprintf("item_%d", seq)
}
