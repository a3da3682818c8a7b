package agentrt

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNew_unknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "gemini"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestNew_missingCredentials(t *testing.T) {
	cases := []Config{
		{Provider: "openai"},
		{Provider: "anthropic"},
		{Provider: "OpenAI", OpenAIAPIKey: "   "},
	}
	for _, cfg := range cases {
		if _, err := New(cfg); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("New(%+v) err = %v, want ErrUnavailable", cfg, err)
		}
	}
}

func TestNew_providerLookup(t *testing.T) {
	rt, err := New(Config{Provider: " OpenAI ", OpenAIAPIKey: "sk-test"})
	if err != nil {
		t.Fatalf("New openai: %v", err)
	}
	if _, ok := rt.(*openaiRuntime); !ok {
		t.Fatalf("runtime type = %T", rt)
	}

	rt, err = New(Config{Provider: "anthropic", AnthropicAPIKey: "sk-ant-test"})
	if err != nil {
		t.Fatalf("New anthropic: %v", err)
	}
	if _, ok := rt.(*anthropicRuntime); !ok {
		t.Fatalf("runtime type = %T", rt)
	}
}

func TestOpenAIRuntime_resumeRequiresThreadID(t *testing.T) {
	rt, err := New(Config{Provider: "openai", OpenAIAPIKey: "sk-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := rt.ResumeThread(context.Background(), "  ", ThreadSpec{}); err == nil {
		t.Fatalf("expected error for empty thread id")
	}

	th, err := rt.ResumeThread(context.Background(), "resp_123", ThreadSpec{})
	if err != nil {
		t.Fatalf("ResumeThread: %v", err)
	}
	if th.ID() != "resp_123" {
		t.Fatalf("id = %q, want resumed id", th.ID())
	}
}

func TestMapOpenAIOutputItem(t *testing.T) {
	cases := []struct {
		itemType string
		wantType ItemType
		wantNil  bool
	}{
		{"message", ItemTypeAgentMessage, false},
		{"reasoning", ItemTypeReasoning, false},
		{"function_call", ItemTypeToolCall, false},
		{"web_search_call", ItemTypeToolCall, false},
		{"unknown_blob", "", true},
	}
	for _, c := range cases {
		item := mapOpenAIOutputItem(c.itemType, "item_1", "fn", "{}")
		if c.wantNil {
			if item != nil {
				t.Fatalf("mapOpenAIOutputItem(%q) = %+v, want nil", c.itemType, item)
			}
			continue
		}
		if item == nil || item.Type != c.wantType {
			t.Fatalf("mapOpenAIOutputItem(%q) = %+v, want type %q", c.itemType, item, c.wantType)
		}
		if item.Status != ItemStatusInProgress {
			t.Fatalf("status = %q, want in_progress", item.Status)
		}
	}

	if item := mapOpenAIOutputItem("message", "  ", "", ""); item != nil {
		t.Fatalf("blank id must map to nil")
	}

	fn := mapOpenAIOutputItem("function_call", "item_2", "read_file", `{"path":"x"}`)
	if fn.Name != "read_file" || fn.ArgumentsJSON != `{"path":"x"}` {
		t.Fatalf("function call fields = %+v", fn)
	}
}

func TestCloneItem_deepCopies(t *testing.T) {
	code := int64(2)
	in := &Item{
		ID:       "item_1",
		Type:     ItemTypeCommandExecution,
		Status:   ItemStatusCompleted,
		Files:    []string{"a.go"},
		ExitCode: &code,
	}
	out := cloneItem(in)

	out.Files[0] = "b.go"
	*out.ExitCode = 7
	if in.Files[0] != "a.go" || *in.ExitCode != 2 {
		t.Fatalf("clone aliases original: %+v", in)
	}

	if cloneItem(nil) != nil {
		t.Fatalf("cloneItem(nil) must be nil")
	}
}

func TestEmit_deliversWhileConsumerListens(t *testing.T) {
	ch := make(chan Event, 1)
	if !emit(context.Background(), ch, Event{Kind: EventThreadStarted, ThreadID: "x"}) {
		t.Fatalf("emit should deliver into free buffer space")
	}
	ev := <-ch
	if ev.ThreadID != "x" {
		t.Fatalf("delivered event = %+v", ev)
	}
}

func TestEmit_abandonedConsumerDoesNotBlock(t *testing.T) {
	ch := make(chan Event, 1)
	ch <- Event{Kind: EventThreadStarted} // buffer full, nobody reading

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan bool, 1)
	go func() {
		done <- emit(ctx, ch, Event{Kind: EventItemStarted})
	}()

	select {
	case ok := <-done:
		if ok {
			t.Fatalf("emit reported delivery on a full channel with canceled ctx")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("emit blocked on abandoned consumer")
	}
}

func TestNewThreadID(t *testing.T) {
	a := newThreadID("th")
	b := newThreadID("th")
	if a == b {
		t.Fatalf("ids collide: %q", a)
	}
	if len(a) <= len("th_") {
		t.Fatalf("id too short: %q", a)
	}
}
