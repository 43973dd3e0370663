// Package model provides LLM integration adapters.
//
// Provider packages (openai, anthropic, google) implement ChatModel on top of
// the vendor SDKs; MockChatModel serves tests. Messages are plain JSON-tagged
// structs so a conversation can live in graph state and survive a checkpoint
// round trip.
package model

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// ChatModel defines the interface for LLM chat providers.
//
// Implementations convert Message to the provider format, attach tools when
// given, and parse the response back into ChatOut. They must respect context
// cancellation.
//
//	out, err := m.Chat(ctx, []model.Message{
//	    model.SystemMessage("You are a helpful assistant."),
//	    model.UserMessage("What time is it?"),
//	}, specs)
type ChatModel interface {
	// Chat sends messages to the LLM and returns the response. tools may be
	// nil. The reply may carry text, tool calls, or both.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Standard role constants for LLM conversations.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"

	// RoleTool carries the result of a tool call back to the model.
	RoleTool = "tool"
)

// Message represents a single message in an LLM conversation.
type Message struct {
	ID      string `json:"id,omitempty"`
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that request tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and Name identify the call a RoleTool message answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// SystemMessage returns a system prompt message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage returns a user message with a fresh id.
func UserMessage(content string) Message {
	return Message{ID: uuid.NewString(), Role: RoleUser, Content: content}
}

// AssistantMessage converts a model reply into a conversation message.
func AssistantMessage(out ChatOut) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   out.Text,
		ToolCalls: out.ToolCalls,
	}
}

// ToolMessage returns the result of call as a conversation message.
func ToolMessage(call ToolCall, content string) Message {
	return Message{
		ID:         uuid.NewString(),
		Role:       RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		Name:       call.Name,
	}
}

// ToolSpec describes a tool that an LLM can call. Schema is a JSON Schema
// object describing the input parameters; nil means no parameters.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ChatOut represents the output from an LLM chat completion.
type ChatOut struct {
	// Text may be empty if the LLM only wants to call tools.
	Text string

	ToolCalls []ToolCall
	Usage     Usage
}

// Usage reports token consumption for one call, when the provider returns it.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ToolCall represents a request from the LLM to invoke a specific tool.
type ToolCall struct {
	// ID correlates the call with its RoleTool answer. Providers that do not
	// issue ids get a generated one.
	ID string `json:"id"`

	// Name must match a ToolSpec.Name from the available tools.
	Name string `json:"name"`

	// Input matches the ToolSpec.Schema for this tool. May be nil.
	Input map[string]any `json:"args"`
}

// DecodeMessages converts a JSON-normalised state value (a []any of objects)
// back into messages.
func DecodeMessages(v any) ([]Message, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// LastAssistant returns the most recent assistant message, if any.
func LastAssistant(msgs []Message) (Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleAssistant {
			return msgs[i], true
		}
	}
	return Message{}, false
}
