// Package anthropic adapts Anthropic's Messages API to model.ChatModel.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/langgraph-hitl/graph/model"
)

const (
	defaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 4096
)

// ChatModel implements model.ChatModel for Claude.
//
// System messages are lifted into the request's system parameter, and
// consecutive tool results are folded into a single user turn as the API
// requires.
type ChatModel struct {
	modelName string
	maxTokens int64
	client    anthropicClient
}

type anthropicClient interface {
	createMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

type settings struct {
	baseURL     string
	maxTokens   int64
	temperature *float64
}

// Option configures a ChatModel.
type Option func(*settings)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int64) Option {
	return func(s *settings) { s.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(s *settings) { s.temperature = &t }
}

// NewChatModel creates a ChatModel. An empty modelName uses a current Sonnet.
func NewChatModel(apiKey, modelName string, opts ...Option) *ChatModel {
	if modelName == "" {
		modelName = defaultModel
	}
	s := settings{maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		opt(&s)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	client := anthropic.NewClient(reqOpts...)

	return &ChatModel{
		modelName: modelName,
		maxTokens: s.maxTokens,
		client:    &sdkClient{client: &client, apiKey: apiKey, temperature: s.temperature},
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	params, err := buildParams(m.modelName, m.maxTokens, messages, tools)
	if err != nil {
		return model.ChatOut{}, err
	}

	msg, err := m.client.createMessage(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return model.ChatOut{}, fmt.Errorf("anthropic messages (status %d): %w", apiErr.StatusCode, err)
		}
		return model.ChatOut{}, fmt.Errorf("anthropic messages: %w", err)
	}
	return convertMessage(msg)
}

// extractSystemPrompt separates system messages from the conversation.
func extractSystemPrompt(messages []model.Message) (string, []model.Message) {
	var systemPrompt string
	var conversation []model.Message
	for _, msg := range messages {
		if msg.Role != model.RoleSystem {
			conversation = append(conversation, msg)
			continue
		}
		if systemPrompt != "" {
			systemPrompt += "\n\n"
		}
		systemPrompt += msg.Content
	}
	return systemPrompt, conversation
}

func buildParams(modelName string, maxTokens int64, messages []model.Message, tools []model.ToolSpec) (anthropic.MessageNewParams, error) {
	systemPrompt, conversation := extractSystemPrompt(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		MaxTokens: maxTokens,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	var pendingResults []anthropic.ContentBlockParamUnion
	flushResults := func() {
		if len(pendingResults) > 0 {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range conversation {
		if msg.Role == model.RoleTool {
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
			continue
		}
		flushResults()

		switch msg.Role {
		case model.RoleUser:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case model.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				input := call.Input
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(blocks...))
		default:
			return params, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}
	flushResults()

	for _, tool := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if tool.Schema != nil {
			schema.Properties = tool.Schema["properties"]
			schema.Required = requiredFields(tool.Schema["required"])
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: schema,
		}})
	}
	return params, nil
}

func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func convertMessage(msg *anthropic.Message) (model.ChatOut, error) {
	if msg == nil {
		return model.ChatOut{}, errors.New("anthropic returned no message")
	}
	out := model.ChatOut{
		Usage: model.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			input := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &input); err != nil {
					return model.ChatOut{}, fmt.Errorf("decode input of %s: %w", block.Name, err)
				}
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{ID: block.ID, Name: block.Name, Input: input})
		}
	}
	return out, nil
}

// sdkClient calls the official anthropic-sdk-go client.
type sdkClient struct {
	client      *anthropic.Client
	apiKey      string
	temperature *float64
}

func (c *sdkClient) createMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	if c.apiKey == "" {
		return nil, errors.New("anthropic API key is required")
	}
	if c.temperature != nil {
		params.Temperature = anthropic.Float(*c.temperature)
	}
	return c.client.Messages.New(ctx, params)
}
