package agentrt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxOutputTokens = 8192

// anthropicRuntime drives the Anthropic Messages API. Anthropic keeps no
// server-side conversation state, so the thread id is generated locally and
// the transcript is replayed on every turn: seeded from ThreadSpec.History on
// start/resume and extended in memory as turns complete.
type anthropicRuntime struct {
	client anthropic.Client
}

func newAnthropicRuntime(cfg Config) (Runtime, error) {
	apiKey := strings.TrimSpace(cfg.AnthropicAPIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY is not set", ErrUnavailable)
	}
	opts := []aoption.RequestOption{aoption.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, aoption.WithBaseURL(baseURL))
	}
	return &anthropicRuntime{client: anthropic.NewClient(opts...)}, nil
}

func (rt *anthropicRuntime) StartThread(ctx context.Context, spec ThreadSpec) (Thread, error) {
	if rt == nil {
		return nil, errors.New("nil runtime")
	}
	return &anthropicThread{
		rt:      rt,
		spec:    spec,
		id:      newThreadID("th"),
		history: append([]HistoryMessage(nil), spec.History...),
	}, nil
}

func (rt *anthropicRuntime) ResumeThread(ctx context.Context, threadID string, spec ThreadSpec) (Thread, error) {
	if rt == nil {
		return nil, errors.New("nil runtime")
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, errors.New("missing thread id")
	}
	return &anthropicThread{
		rt:      rt,
		spec:    spec,
		id:      threadID,
		history: append([]HistoryMessage(nil), spec.History...),
	}, nil
}

type anthropicThread struct {
	rt   *anthropicRuntime
	spec ThreadSpec
	id   string

	mu      sync.Mutex
	history []HistoryMessage
}

func (t *anthropicThread) ID() string {
	if t == nil {
		return ""
	}
	return t.id
}

func (t *anthropicThread) Run(ctx context.Context, input string) (<-chan Event, error) {
	if t == nil || t.rt == nil {
		return nil, errors.New("nil thread")
	}
	if strings.TrimSpace(input) == "" {
		return nil, errors.New("empty input")
	}

	t.mu.Lock()
	history := append([]HistoryMessage(nil), t.history...)
	t.mu.Unlock()

	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, m := range history {
		txt := strings.TrimSpace(m.Text)
		if txt == "" {
			continue
		}
		if strings.ToLower(strings.TrimSpace(m.Role)) == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(txt)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(txt)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(input)))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(strings.TrimSpace(t.spec.Model)),
		MaxTokens: anthropicMaxOutputTokens,
		Messages:  messages,
	}

	events := make(chan Event, eventBufferSize)
	go t.stream(ctx, params, input, events)
	return events, nil
}

func (t *anthropicThread) stream(ctx context.Context, params anthropic.MessageNewParams, input string, events chan<- Event) {
	defer close(events)

	if !emit(ctx, events, Event{Kind: EventThreadStarted, ThreadID: t.id}) {
		return
	}

	stream := t.rt.client.Messages.NewStreaming(ctx, params)
	msg := anthropic.Message{}
	items := map[int64]*Item{} // content block index -> latest state
	seq := 0
	var textBuf strings.Builder

	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			emit(ctx, events, Event{Kind: EventTurnFailed, Err: strings.TrimSpace(err.Error())})
			return
		}
		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			seq++
			item := &Item{ID: newItemID(seq), Status: ItemStatusInProgress}
			switch strings.TrimSpace(variant.ContentBlock.Type) {
			case "text":
				item.Type = ItemTypeAgentMessage
			case "thinking":
				item.Type = ItemTypeReasoning
			case "tool_use":
				item.Type = ItemTypeToolCall
				item.Name = strings.TrimSpace(variant.ContentBlock.Name)
			default:
				continue
			}
			items[variant.Index] = item
			if !emit(ctx, events, Event{Kind: EventItemStarted, Item: cloneItem(item)}) {
				return
			}

		case anthropic.ContentBlockDeltaEvent:
			item := items[variant.Index]
			if item == nil {
				continue
			}
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text == "" {
					continue
				}
				item.Text += delta.Text
				textBuf.WriteString(delta.Text)
			case anthropic.ThinkingDelta:
				if delta.Thinking == "" {
					continue
				}
				item.Text += delta.Thinking
			case anthropic.InputJSONDelta:
				if delta.PartialJSON == "" {
					continue
				}
				item.ArgumentsJSON += delta.PartialJSON
			default:
				continue
			}
			if !emit(ctx, events, Event{Kind: EventItemUpdated, Item: cloneItem(item)}) {
				return
			}

		case anthropic.ContentBlockStopEvent:
			item := items[variant.Index]
			if item == nil {
				continue
			}
			item.Status = ItemStatusCompleted
			if !emit(ctx, events, Event{Kind: EventItemCompleted, Item: cloneItem(item)}) {
				return
			}
		}
	}
	if err := stream.Err(); err != nil {
		emit(ctx, events, Event{Kind: EventTurnFailed, Err: strings.TrimSpace(err.Error())})
		return
	}

	t.mu.Lock()
	t.history = append(t.history,
		HistoryMessage{Role: "user", Text: input},
		HistoryMessage{Role: "assistant", Text: strings.TrimSpace(textBuf.String())},
	)
	t.mu.Unlock()

	emit(ctx, events, Event{Kind: EventTurnCompleted, ThreadID: t.id, Usage: &Usage{
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}})
}
