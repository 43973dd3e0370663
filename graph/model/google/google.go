// Package google adapts Gemini (generative-ai-go) to model.ChatModel.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/dshills/langgraph-hitl/graph/model"
)

const defaultModel = "gemini-1.5-flash"

// ChatModel implements model.ChatModel for Gemini.
//
// The conversation is replayed as chat history on every call; the last
// message is sent as the new turn. Tool results go back as function
// responses.
type ChatModel struct {
	modelName string
	client    googleClient
}

type googleClient interface {
	generateContent(ctx context.Context, req request) (*genai.GenerateContentResponse, error)
}

// request is the provider-neutral shape of one Gemini call.
type request struct {
	model   string
	system  *genai.Content
	history []*genai.Content
	turn    []genai.Part
	tools   []*genai.Tool
}

type settings struct {
	temperature *float32
}

// Option configures a ChatModel.
type Option func(*settings)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) Option {
	return func(s *settings) { s.temperature = &t }
}

// NewChatModel creates a ChatModel. An empty modelName uses gemini-1.5-flash.
func NewChatModel(apiKey, modelName string, opts ...Option) *ChatModel {
	if modelName == "" {
		modelName = defaultModel
	}
	s := settings{}
	for _, opt := range opts {
		opt(&s)
	}
	return &ChatModel{
		modelName: modelName,
		client:    &sdkClient{apiKey: apiKey, temperature: s.temperature},
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	req, err := buildRequest(m.modelName, messages, tools)
	if err != nil {
		return model.ChatOut{}, err
	}
	resp, err := m.client.generateContent(ctx, req)
	if err != nil {
		return model.ChatOut{}, err
	}
	return convertResponse(resp)
}

func buildRequest(modelName string, messages []model.Message, tools []model.ToolSpec) (request, error) {
	req := request{model: modelName}

	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			if req.system == nil {
				req.system = &genai.Content{}
			}
			req.system.Parts = append(req.system.Parts, genai.Text(msg.Content))
		case model.RoleUser:
			contents = appendTurn(contents, "user", genai.Text(msg.Content))
		case model.RoleTool:
			contents = appendTurn(contents, "user", genai.FunctionResponse{
				Name:     msg.Name,
				Response: map[string]any{"result": msg.Content},
			})
		case model.RoleAssistant:
			var parts []genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				parts = append(parts, genai.FunctionCall{Name: call.Name, Args: call.Input})
			}
			contents = appendTurn(contents, "model", parts...)
		default:
			return req, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}

	if len(contents) == 0 || contents[len(contents)-1].Role != "user" {
		return req, errors.New("gemini conversation must end with a user turn")
	}
	last := contents[len(contents)-1]
	req.history = contents[:len(contents)-1]
	req.turn = last.Parts

	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(tools))
		for i, tool := range tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  convertSchema(tool.Schema),
			}
		}
		req.tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return req, nil
}

// appendTurn merges consecutive parts from the same role into one content,
// since Gemini expects strictly alternating turns.
func appendTurn(contents []*genai.Content, role string, parts ...genai.Part) []*genai.Content {
	if len(parts) == 0 {
		return contents
	}
	if n := len(contents); n > 0 && contents[n-1].Role == role {
		contents[n-1].Parts = append(contents[n-1].Parts, parts...)
		return contents
	}
	return append(contents, &genai.Content{Role: role, Parts: parts})
}

// convertSchema converts a JSON Schema map to genai.Schema, recursing into
// properties and items.
func convertSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	result := &genai.Schema{Type: convertType(schema["type"])}
	if result.Type == genai.TypeUnspecified {
		result.Type = genai.TypeObject
	}
	if desc, ok := schema["description"].(string); ok {
		result.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		result.Properties = make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			if propMap, ok := val.(map[string]any); ok {
				result.Properties[key] = convertSchema(propMap)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		result.Items = convertSchema(items)
	}
	switch required := schema["required"].(type) {
	case []string:
		result.Required = required
	case []any:
		for _, r := range required {
			if s, ok := r.(string); ok {
				result.Required = append(result.Required, s)
			}
		}
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				result.Enum = append(result.Enum, s)
			}
		}
	}
	return result
}

func convertType(v any) genai.Type {
	s, _ := v.(string)
	switch s {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func convertResponse(resp *genai.GenerateContentResponse) (model.ChatOut, error) {
	out := model.ChatOut{}
	if resp == nil || len(resp.Candidates) == 0 {
		return out, errors.New("gemini returned no candidates")
	}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return out, &SafetyFilterError{reason: fmt.Sprint(candidate.FinishReason)}
	}
	if candidate.Content == nil {
		return out, nil
	}
	for _, part := range candidate.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			out.Text += string(p)
		case genai.FunctionCall:
			// Gemini does not issue call ids.
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{ID: uuid.NewString(), Name: p.Name, Input: p.Args})
		}
	}
	return out, nil
}

// SafetyFilterError reports a reply blocked by Gemini's safety filters.
type SafetyFilterError struct {
	reason string
}

func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.reason
}

// Reason returns the finish reason reported by the API.
func (e *SafetyFilterError) Reason() string {
	return e.reason
}

// sdkClient wraps the official Gemini SDK client.
type sdkClient struct {
	apiKey      string
	temperature *float32
}

func (c *sdkClient) generateContent(ctx context.Context, req request) (*genai.GenerateContentResponse, error) {
	if c.apiKey == "" {
		return nil, errors.New("google API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	defer func() { _ = client.Close() }()

	genModel := client.GenerativeModel(req.model)
	genModel.SystemInstruction = req.system
	genModel.Tools = req.tools
	if c.temperature != nil {
		genModel.SetTemperature(*c.temperature)
	}

	session := genModel.StartChat()
	session.History = req.history
	resp, err := session.SendMessage(ctx, req.turn...)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}
	return resp, nil
}
