package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dshills/langgraph-hitl/graph/model"
)

const toolUseResponse = `{
  "id": "msg_1",
  "type": "message",
  "role": "assistant",
  "model": "claude-sonnet-4-5",
  "stop_reason": "tool_use",
  "content": [
    {"type": "text", "text": "Let me check."},
    {"type": "tool_use", "id": "toolu_1", "name": "get_datetime", "input": {}}
  ],
  "usage": {"input_tokens": 20, "output_tokens": 5}
}`

func TestChatModel_AgainstServer(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.NotFound(w, r)
			return
		}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &captured)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, toolUseResponse)
	}))
	defer srv.Close()

	m := NewChatModel("sk-ant-test", "", WithBaseURL(srv.URL+"/"), WithMaxTokens(256))
	out, err := m.Chat(context.Background(), []model.Message{
		model.SystemMessage("use tools"),
		model.UserMessage("what time is it"),
	}, []model.ToolSpec{{Name: "get_datetime", Description: "current time"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if out.Text != "Let me check." {
		t.Errorf("text = %q", out.Text)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].ID != "toolu_1" || out.ToolCalls[0].Name != "get_datetime" {
		t.Errorf("tool calls = %+v", out.ToolCalls)
	}
	if out.Usage.InputTokens != 20 || out.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", out.Usage)
	}

	if captured["max_tokens"] != float64(256) {
		t.Errorf("max_tokens = %v", captured["max_tokens"])
	}
	if captured["system"] == nil {
		t.Error("system prompt not sent")
	}
	if msgs, _ := captured["messages"].([]any); len(msgs) != 1 {
		t.Errorf("system message should not be in messages: %v", captured["messages"])
	}
}

func TestBuildParams_FoldsToolResults(t *testing.T) {
	a := model.ToolCall{ID: "t1", Name: "get_datetime"}
	b := model.ToolCall{ID: "t2", Name: "book_hotel", Input: map[string]any{"hotel_name": "Hilton"}}
	params, err := buildParams("claude", 100, []model.Message{
		model.SystemMessage("sys"),
		model.UserMessage("do both"),
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{a, b}},
		model.ToolMessage(a, "noon"),
		model.ToolMessage(b, "booked"),
	}, nil)
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	// user, assistant, one user turn holding both results
	if len(params.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(params.Messages))
	}
	if got := len(params.Messages[2].Content); got != 2 {
		t.Errorf("tool result blocks = %d, want 2", got)
	}
	if len(params.System) != 1 || params.System[0].Text != "sys" {
		t.Errorf("system = %+v", params.System)
	}
}

func TestExtractSystemPrompt(t *testing.T) {
	sys, rest := extractSystemPrompt([]model.Message{
		model.SystemMessage("a"),
		model.UserMessage("hi"),
		model.SystemMessage("b"),
	})
	if sys != "a\n\nb" || len(rest) != 1 {
		t.Errorf("system %q, rest %d", sys, len(rest))
	}
}

func TestRequiredFields(t *testing.T) {
	if got := requiredFields([]any{"a", 1, "b"}); len(got) != 2 {
		t.Errorf("requiredFields = %v", got)
	}
	if got := requiredFields([]string{"x"}); len(got) != 1 {
		t.Errorf("requiredFields = %v", got)
	}
	if requiredFields(nil) != nil {
		t.Error("nil should yield nil")
	}
}

func TestChatModel_MissingKey(t *testing.T) {
	m := NewChatModel("", "")
	if _, err := m.Chat(context.Background(), []model.Message{model.UserMessage("hi")}, nil); err == nil {
		t.Fatal("expected error without API key")
	}
}
