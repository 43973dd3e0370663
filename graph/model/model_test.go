package model

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

func TestMockChatModel_Sequence(t *testing.T) {
	mock := &MockChatModel{Responses: []ChatOut{{Text: "first"}, {Text: "second"}}}
	ctx := context.Background()

	for _, want := range []string{"first", "second", "second"} {
		out, err := mock.Chat(ctx, []Message{UserMessage("hi")}, nil)
		if err != nil {
			t.Fatalf("Chat: %v", err)
		}
		if out.Text != want {
			t.Errorf("Text = %q, want %q", out.Text, want)
		}
	}
	if mock.CallCount() != 3 {
		t.Errorf("CallCount = %d", mock.CallCount())
	}

	mock.Reset()
	out, _ := mock.Chat(ctx, nil, nil)
	if out.Text != "first" || mock.CallCount() != 1 {
		t.Errorf("after Reset: %q, %d calls", out.Text, mock.CallCount())
	}
}

func TestMockChatModel_ErrorAndRespond(t *testing.T) {
	boom := errors.New("api down")
	mock := &MockChatModel{Err: boom}
	if _, err := mock.Chat(context.Background(), nil, nil); !errors.Is(err, boom) {
		t.Errorf("got %v", err)
	}

	mock = &MockChatModel{Respond: func(msgs []Message, _ []ToolSpec) (ChatOut, error) {
		return ChatOut{Text: msgs[len(msgs)-1].Content + "!"}, nil
	}}
	out, err := mock.Chat(context.Background(), []Message{UserMessage("hey")}, []ToolSpec{{Name: "x"}})
	if err != nil || out.Text != "hey!" {
		t.Errorf("Respond = %q, %v", out.Text, err)
	}
	call, ok := mock.LastCall()
	if !ok || len(call.Tools) != 1 || call.Messages[0].Content != "hey" {
		t.Errorf("LastCall = %+v", call)
	}
}

func TestMockChatModel_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mock := &MockChatModel{Responses: []ChatOut{{Text: "x"}}}
	if _, err := mock.Chat(ctx, nil, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v", err)
	}
	if mock.CallCount() != 0 {
		t.Error("canceled call should not be recorded")
	}
}

func TestMockChatModel_Concurrency(t *testing.T) {
	mock := &MockChatModel{Responses: []ChatOut{{Text: "ok"}}}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = mock.Chat(context.Background(), []Message{UserMessage("x")}, nil)
		}()
	}
	wg.Wait()
	if mock.CallCount() != 50 {
		t.Errorf("CallCount = %d", mock.CallCount())
	}
}

func TestMessages_StateRoundTrip(t *testing.T) {
	call := ToolCall{ID: "c1", Name: "book_hotel", Input: map[string]any{"hotel_name": "Hilton"}}
	msgs := []Message{
		UserMessage("book"),
		AssistantMessage(ChatOut{ToolCalls: []ToolCall{call}}),
		ToolMessage(call, "done"),
	}

	// Simulate JSON-normalised graph state.
	data, err := json.Marshal(msgs)
	if err != nil {
		t.Fatal(err)
	}
	var normalized any
	if err := json.Unmarshal(data, &normalized); err != nil {
		t.Fatal(err)
	}

	got, err := DecodeMessages(normalized)
	if err != nil {
		t.Fatalf("DecodeMessages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("decoded %d messages", len(got))
	}
	if got[1].ToolCalls[0].Input["hotel_name"] != "Hilton" {
		t.Errorf("tool call input lost: %+v", got[1])
	}
	if got[2].ToolCallID != "c1" || got[2].Name != "book_hotel" || got[2].Role != RoleTool {
		t.Errorf("tool message = %+v", got[2])
	}
	if got[0].ID == "" || got[0].ID == got[1].ID {
		t.Error("messages should carry distinct ids")
	}

	last, ok := LastAssistant(got)
	if !ok || len(last.ToolCalls) != 1 {
		t.Errorf("LastAssistant = %+v, %v", last, ok)
	}
	if _, ok := LastAssistant(got[:1]); ok {
		t.Error("no assistant message expected")
	}

	if empty, err := DecodeMessages(nil); err != nil || empty != nil {
		t.Errorf("DecodeMessages(nil) = %v, %v", empty, err)
	}
}
