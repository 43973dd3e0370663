package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/langgraph-hitl/graph"
	"github.com/dshills/langgraph-hitl/graph/model"
	"github.com/dshills/langgraph-hitl/graph/store"
	"github.com/dshills/langgraph-hitl/graph/tool"
)

// Chat agent node names.
const (
	NodeAgent = "agent"
	NodeTools = "tools"
)

// SystemPrompt instructs the hotel-booking assistant.
const SystemPrompt = `你是一名擅长使用工具的智能助手，你需要根据用户问题来进行回答，请使用中文进行回答。
当用户问题需要调用工具时再调用工具，否则按照你的知识来回答问题。
某些工具会触发中断让用户来编辑工具执行参数，这些工具会将新的执行参数作为信息返回，你需要回复用户最新的信息`

// ChatSchema has a single append field, messages.
func ChatSchema() graph.Schema {
	return graph.NewSchema(graph.AppendField("messages"))
}

// NewChatGraph builds a reason/act loop: agent calls the model and routes to
// tools while the reply carries tool calls; tools runs them and hands the
// results back to agent. The loop is bounded by the engine's step limit.
func NewChatGraph(llm model.ChatModel, registry *tool.Registry) (*graph.Graph, error) {
	if llm == nil {
		return nil, errors.New("chat model is required")
	}
	if registry == nil {
		return nil, errors.New("tool registry is required")
	}

	agent := graph.Branching(func(ctx context.Context, s graph.State) (graph.State, string, error) {
		history, err := model.DecodeMessages(s["messages"])
		if err != nil {
			return nil, "", err
		}
		msgs := append([]model.Message{model.SystemMessage(SystemPrompt)}, history...)
		out, err := llm.Chat(ctx, msgs, registry.Specs())
		if err != nil {
			return nil, "", err
		}
		next := graph.END
		if len(out.ToolCalls) > 0 {
			next = NodeTools
		}
		return graph.State{"messages": []model.Message{model.AssistantMessage(out)}}, next, nil
	}, NodeTools, graph.END).WithPolicy(graph.NodePolicy{
		Retry: &graph.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    5 * time.Second,
			Retryable:   func(err error) bool { return !errors.Is(err, context.Canceled) },
		},
	})

	tools := graph.Ordinary(func(ctx context.Context, s graph.State) (graph.State, error) {
		history, err := model.DecodeMessages(s["messages"])
		if err != nil {
			return nil, err
		}
		last, ok := model.LastAssistant(history)
		if !ok || len(last.ToolCalls) == 0 {
			return nil, errors.New("no tool calls to execute")
		}

		results := make([]model.Message, 0, len(last.ToolCalls))
		for _, call := range last.ToolCalls {
			content, err := registry.Invoke(ctx, call)
			if graph.IsSuspend(err) {
				return nil, err
			}
			if err != nil {
				// The model sees the failure and can correct itself.
				content = fmt.Sprintf("Error: %v", err)
			}
			results = append(results, model.ToolMessage(call, content))
		}
		return graph.State{"messages": results}, nil
	})

	return graph.NewBuilder("chat_agent", ChatSchema()).
		AddNode(NodeAgent, agent).
		AddNode(NodeTools, tools).
		AddEdge(graph.START, NodeAgent).
		AddEdge(NodeTools, NodeAgent).
		Compile(graph.AllowCycles())
}

// ChatResult is the outcome of a chat call: the messages it added and the
// pending interrupts, if the run suspended.
type ChatResult struct {
	Messages   []model.Message
	Interrupts []store.Interrupt
}

// ChatAgent runs conversations on the chat graph, one thread per
// conversation.
type ChatAgent struct {
	engine *graph.Engine
}

// NewChatAgent wraps an engine built on NewChatGraph.
func NewChatAgent(engine *graph.Engine) *ChatAgent {
	return &ChatAgent{engine: engine}
}

// Chat appends the user's message to the conversation and runs the agent.
// The result holds the replies, without the user's message.
func (a *ChatAgent) Chat(ctx context.Context, threadID string, msg model.Message) (*ChatResult, error) {
	if strings.TrimSpace(msg.Content) == "" {
		return nil, errors.New("message content is required")
	}
	if msg.Role == "" {
		msg.Role = model.RoleUser
	}

	before, err := a.history(ctx, threadID)
	if err != nil {
		return nil, err
	}
	res, err := a.engine.Run(ctx, threadID, graph.State{"messages": []model.Message{msg}})
	if err != nil {
		return nil, err
	}
	return a.result(res, before+1)
}

// ChatResume answers the pending tool interrupt with value and continues.
// The result holds the messages added since the suspension.
func (a *ChatAgent) ChatResume(ctx context.Context, threadID string, value any) (*ChatResult, error) {
	before, err := a.history(ctx, threadID)
	if err != nil {
		return nil, err
	}
	res, err := a.engine.Resume(ctx, threadID, value)
	if err != nil {
		return nil, err
	}
	return a.result(res, before)
}

// ChatState returns the whole conversation and any pending interrupts. An
// unknown thread yields an empty conversation.
func (a *ChatAgent) ChatState(ctx context.Context, threadID string) (*ChatResult, error) {
	snap, err := a.engine.GetState(ctx, threadID)
	if err != nil {
		return nil, err
	}
	msgs, err := model.DecodeMessages(snap.Values["messages"])
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return &ChatResult{Messages: msgs, Interrupts: snap.Interrupts}, nil
}

func (a *ChatAgent) history(ctx context.Context, threadID string) (int, error) {
	snap, err := a.engine.GetState(ctx, threadID)
	if err != nil {
		return 0, err
	}
	msgs, err := model.DecodeMessages(snap.Values["messages"])
	if err != nil {
		return 0, err
	}
	return len(msgs), nil
}

func (a *ChatAgent) result(res *graph.Result, from int) (*ChatResult, error) {
	msgs, err := model.DecodeMessages(res.State["messages"])
	if err != nil {
		return nil, err
	}
	out := []model.Message{}
	if from < len(msgs) {
		out = append(out, msgs[from:]...)
	}
	return &ChatResult{Messages: out, Interrupts: res.Interrupts}, nil
}
