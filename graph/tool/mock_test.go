package tool

import (
	"context"
	"sync"

	"github.com/dshills/langgraph-hitl/graph/model"
)

// mockTool is a scripted Tool.
//
// Each call returns the next entry of Responses, repeating the last once
// they run out. Err forces every call to fail.
type mockTool struct {
	ToolName  string
	Responses []string
	Err       error

	// Calls records the input of every invocation.
	Calls []map[string]any

	mu        sync.Mutex
	callIndex int
}

// Name implements Tool.
func (m *mockTool) Name() string {
	return m.ToolName
}

// Spec implements Tool.
func (m *mockTool) Spec() model.ToolSpec {
	return model.ToolSpec{Name: m.ToolName, Description: "mock tool " + m.ToolName}
}

// Call implements Tool.
func (m *mockTool) Call(ctx context.Context, input map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, input)
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) == 0 {
		return "", nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// CallCount returns the number of invocations.
func (m *mockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
