package agentrt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
	oresponses "github.com/openai/openai-go/responses"
	oshared "github.com/openai/openai-go/shared"
)

// openaiRuntime drives the OpenAI Responses API. Thread state lives on the
// provider side: each turn stores its response and the next turn chains to it
// via previous_response_id, so the thread id is simply the latest response id.
type openaiRuntime struct {
	client openai.Client
}

func newOpenAIRuntime(cfg Config) (Runtime, error) {
	apiKey := strings.TrimSpace(cfg.OpenAIAPIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", ErrUnavailable)
	}
	opts := []ooption.RequestOption{ooption.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, ooption.WithBaseURL(baseURL))
	}
	return &openaiRuntime{client: openai.NewClient(opts...)}, nil
}

func (rt *openaiRuntime) StartThread(ctx context.Context, spec ThreadSpec) (Thread, error) {
	if rt == nil {
		return nil, errors.New("nil runtime")
	}
	return &openaiThread{rt: rt, spec: spec}, nil
}

func (rt *openaiRuntime) ResumeThread(ctx context.Context, threadID string, spec ThreadSpec) (Thread, error) {
	if rt == nil {
		return nil, errors.New("nil runtime")
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, errors.New("missing thread id")
	}
	return &openaiThread{rt: rt, spec: spec, id: threadID}, nil
}

type openaiThread struct {
	rt   *openaiRuntime
	spec ThreadSpec

	mu sync.Mutex
	id string // latest response id; empty until the first turn starts
}

func (t *openaiThread) ID() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

func (t *openaiThread) setID(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	t.mu.Lock()
	t.id = id
	t.mu.Unlock()
}

func (t *openaiThread) Run(ctx context.Context, input string) (<-chan Event, error) {
	if t == nil || t.rt == nil {
		return nil, errors.New("nil thread")
	}
	if strings.TrimSpace(input) == "" {
		return nil, errors.New("empty input")
	}

	params := oresponses.ResponseNewParams{
		Model: oshared.ResponsesModel(strings.TrimSpace(t.spec.Model)),
		Input: oresponses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
		Store: openai.Bool(true),
	}
	if effort := strings.TrimSpace(t.spec.ReasoningEffort); effort != "" {
		params.Reasoning = oshared.ReasoningParam{Effort: oshared.ReasoningEffort(effort)}
	}
	if prev := t.ID(); prev != "" {
		params.PreviousResponseID = openai.String(prev)
	}

	events := make(chan Event, eventBufferSize)
	go t.stream(ctx, params, events)
	return events, nil
}

func (t *openaiThread) stream(ctx context.Context, params oresponses.ResponseNewParams, events chan<- Event) {
	defer close(events)

	stream := t.rt.client.Responses.NewStreaming(ctx, params)
	defer stream.Close()

	items := map[string]*Item{} // provider item id -> latest state
	gotCompleted := false
	var usage Usage

	for stream.Next() {
		event := stream.Current()
		switch strings.TrimSpace(event.Type) {
		case "response.created":
			t.setID(event.Response.ID)
			if !emit(ctx, events, Event{Kind: EventThreadStarted, ThreadID: strings.TrimSpace(event.Response.ID)}) {
				return
			}

		case "response.output_item.added":
			item := mapOpenAIOutputItem(event.Item.Type, event.Item.ID, event.Item.Name, event.Item.Arguments)
			if item == nil {
				continue
			}
			items[item.ID] = item
			if !emit(ctx, events, Event{Kind: EventItemStarted, Item: cloneItem(item)}) {
				return
			}

		case "response.output_text.delta":
			item := items[strings.TrimSpace(event.ItemID)]
			if item == nil || event.Delta.OfString == "" {
				continue
			}
			item.Text += event.Delta.OfString
			if !emit(ctx, events, Event{Kind: EventItemUpdated, Item: cloneItem(item)}) {
				return
			}

		case "response.reasoning_summary_text.delta":
			item := items[strings.TrimSpace(event.ItemID)]
			if item == nil || event.Delta.OfString == "" {
				continue
			}
			item.Text += event.Delta.OfString
			if !emit(ctx, events, Event{Kind: EventItemUpdated, Item: cloneItem(item)}) {
				return
			}

		case "response.function_call_arguments.delta":
			item := items[strings.TrimSpace(event.ItemID)]
			if item == nil || event.Delta.OfString == "" {
				continue
			}
			item.ArgumentsJSON += event.Delta.OfString
			if !emit(ctx, events, Event{Kind: EventItemUpdated, Item: cloneItem(item)}) {
				return
			}

		case "response.output_item.done":
			item := items[strings.TrimSpace(event.Item.ID)]
			if item == nil {
				continue
			}
			if raw := strings.TrimSpace(event.Item.Arguments); raw != "" {
				item.ArgumentsJSON = raw
			}
			item.Status = ItemStatusCompleted
			if !emit(ctx, events, Event{Kind: EventItemCompleted, Item: cloneItem(item)}) {
				return
			}

		case "response.completed":
			gotCompleted = true
			t.setID(event.Response.ID)
			usage = Usage{
				InputTokens:     event.Response.Usage.InputTokens,
				OutputTokens:    event.Response.Usage.OutputTokens,
				ReasoningTokens: event.Response.Usage.OutputTokensDetails.ReasoningTokens,
			}
		}
	}
	if err := stream.Err(); err != nil {
		emit(ctx, events, Event{Kind: EventTurnFailed, Err: strings.TrimSpace(err.Error())})
		return
	}
	if !gotCompleted {
		emit(ctx, events, Event{Kind: EventTurnFailed, Err: "missing response.completed event"})
		return
	}
	emit(ctx, events, Event{Kind: EventTurnCompleted, ThreadID: t.ID(), Usage: &usage})
}

func mapOpenAIOutputItem(itemType string, id string, name string, arguments string) *Item {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	out := &Item{ID: id, Status: ItemStatusInProgress}
	switch strings.TrimSpace(itemType) {
	case "message":
		out.Type = ItemTypeAgentMessage
	case "reasoning":
		out.Type = ItemTypeReasoning
	case "function_call", "custom_tool_call":
		out.Type = ItemTypeToolCall
		out.Name = strings.TrimSpace(name)
		out.ArgumentsJSON = strings.TrimSpace(arguments)
	case "web_search_call", "file_search_call", "code_interpreter_call", "computer_call":
		out.Type = ItemTypeToolCall
		out.Name = strings.TrimSpace(itemType)
	default:
		return nil
	}
	return out
}

func cloneItem(in *Item) *Item {
	if in == nil {
		return nil
	}
	out := *in
	if in.Files != nil {
		out.Files = append([]string(nil), in.Files...)
	}
	if in.ExitCode != nil {
		v := *in.ExitCode
		out.ExitCode = &v
	}
	return &out
}
