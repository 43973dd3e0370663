// Package openai adapts OpenAI-compatible chat completion APIs to
// model.ChatModel.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/langgraph-hitl/graph/model"
)

const defaultModel = "gpt-4o-mini"

// ChatModel implements model.ChatModel for OpenAI and any service speaking
// the same protocol (DeepSeek, Qwen, vLLM and so on, via WithBaseURL).
//
// Transient failures (timeouts, 5xx, rate limits) are retried with a linear
// backoff.
//
//	m := openai.NewChatModel(os.Getenv("OPENAI_API_KEY"), "gpt-4o",
//	    openai.WithBaseURL("https://api.deepseek.com/v1/"))
type ChatModel struct {
	modelName  string
	client     openaiClient
	maxRetries int
	retryDelay time.Duration
}

// openaiClient is the single API operation the model needs; tests swap it.
type openaiClient interface {
	createChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

type settings struct {
	baseURL     string
	temperature *float64
	maxRetries  int
	retryDelay  time.Duration
}

// Option configures a ChatModel.
type Option func(*settings)

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(s *settings) { s.temperature = &t }
}

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n int, delay time.Duration) Option {
	return func(s *settings) {
		s.maxRetries = n
		s.retryDelay = delay
	}
}

// NewChatModel creates a ChatModel. An empty modelName uses gpt-4o-mini.
func NewChatModel(apiKey, modelName string, opts ...Option) *ChatModel {
	if modelName == "" {
		modelName = defaultModel
	}
	s := settings{maxRetries: 3, retryDelay: time.Second}
	for _, opt := range opts {
		opt(&s)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	client := openai.NewClient(reqOpts...)

	return &ChatModel{
		modelName:  modelName,
		client:     &sdkClient{client: &client, apiKey: apiKey, temperature: s.temperature},
		maxRetries: s.maxRetries,
		retryDelay: s.retryDelay,
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	params, err := buildParams(m.modelName, messages, tools)
	if err != nil {
		return model.ChatOut{}, err
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		completion, err := m.client.createChatCompletion(ctx, params)
		if err == nil {
			return convertCompletion(completion)
		}
		lastErr = err

		if !isTransientError(err) || attempt >= m.maxRetries {
			break
		}

		delay := m.retryDelay * time.Duration(attempt+1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return model.ChatOut{}, ctx.Err()
		}
	}

	return model.ChatOut{}, fmt.Errorf("openai chat completion: %w", lastErr)
}

func buildParams(modelName string, messages []model.Message, tools []model.ToolSpec) (openai.ChatCompletionNewParams, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelName),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
	}

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(msg.Content))
		case model.RoleUser:
			params.Messages = append(params.Messages, openai.UserMessage(msg.Content))
		case model.RoleTool:
			params.Messages = append(params.Messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case model.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				params.Messages = append(params.Messages, openai.AssistantMessage(msg.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			for _, call := range msg.ToolCalls {
				args, err := json.Marshal(call.Input)
				if err != nil {
					return params, fmt.Errorf("encode arguments of %s: %w", call.Name, err)
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			params.Messages = append(params.Messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		default:
			return params, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}

	for _, tool := range tools {
		fn := shared.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: openai.String(tool.Description),
		}
		if tool.Schema != nil {
			fn.Parameters = shared.FunctionParameters(tool.Schema)
		}
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{Function: fn})
	}
	return params, nil
}

func convertCompletion(completion *openai.ChatCompletion) (model.ChatOut, error) {
	if completion == nil || len(completion.Choices) == 0 {
		return model.ChatOut{}, errors.New("openai returned no choices")
	}
	msg := completion.Choices[0].Message

	out := model.ChatOut{
		Text: msg.Content,
		Usage: model.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}
	for _, call := range msg.ToolCalls {
		input := map[string]any{}
		if strings.TrimSpace(call.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
				return model.ChatOut{}, fmt.Errorf("decode arguments of %s: %w", call.Function.Name, err)
			}
		}
		id := call.ID
		if id == "" {
			id = uuid.NewString()
		}
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{ID: id, Name: call.Function.Name, Input: input})
	}
	return out, nil
}

// isTransientError determines if an error should trigger a retry.
func isTransientError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "temporary", "eof"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// sdkClient calls the official openai-go SDK.
type sdkClient struct {
	client      *openai.Client
	apiKey      string
	temperature *float64
}

func (c *sdkClient) createChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	if c.apiKey == "" {
		return nil, errors.New("openai API key is required")
	}
	if c.temperature != nil {
		params.Temperature = openai.Float(*c.temperature)
	}
	return c.client.Chat.Completions.New(ctx, params)
}
