// Package tool defines tools an LLM agent can call and a registry that
// dispatches model tool calls to them.
package tool

import (
	"context"
	"fmt"
	"sort"

	"github.com/dshills/langgraph-hitl/graph/model"
)

// Tool is an executable capability offered to a model.
//
// Call may suspend the run with graph.Interrupt, for example to let a human
// confirm the arguments. The suspend error must be returned unchanged, and
// since the call runs again from the top on resume, work done before the
// Interrupt call must be safe to repeat.
type Tool interface {
	// Name must match Spec().Name.
	Name() string

	// Spec describes the tool to the model.
	Spec() model.ToolSpec

	// Call executes the tool. The returned text is sent back to the model as
	// the tool message content.
	Call(ctx context.Context, input map[string]any) (string, error)
}

// Func adapts a plain function to Tool.
//
//	clock := tool.Func(model.ToolSpec{Name: "get_datetime"}, func(ctx context.Context, _ map[string]any) (string, error) {
//	    return time.Now().Format(time.DateTime), nil
//	})
func Func(spec model.ToolSpec, fn func(ctx context.Context, input map[string]any) (string, error)) Tool {
	return funcTool{spec: spec, fn: fn}
}

type funcTool struct {
	spec model.ToolSpec
	fn   func(ctx context.Context, input map[string]any) (string, error)
}

func (f funcTool) Name() string         { return f.spec.Name }
func (f funcTool) Spec() model.ToolSpec { return f.spec }
func (f funcTool) Call(ctx context.Context, input map[string]any) (string, error) {
	return f.fn(ctx, input)
}

// Registry looks tools up by name.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry indexes tools by name. A duplicate name is an error.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if t.Name() == "" {
			return nil, fmt.Errorf("tool name cannot be empty")
		}
		if _, dup := r.tools[t.Name()]; dup {
			return nil, fmt.Errorf("duplicate tool %q", t.Name())
		}
		r.tools[t.Name()] = t
	}
	return r, nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Specs returns the specs of all tools sorted by name.
func (r *Registry) Specs() []model.ToolSpec {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	specs := make([]model.ToolSpec, len(names))
	for i, name := range names {
		specs[i] = r.tools[name].Spec()
	}
	return specs
}

// Invoke runs the tool named by call.
func (r *Registry) Invoke(ctx context.Context, call model.ToolCall) (string, error) {
	t, ok := r.tools[call.Name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
	return t.Call(ctx, call.Input)
}
