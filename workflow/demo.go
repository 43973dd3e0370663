package workflow

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/dshills/langgraph-hitl/graph"
)

// Rand picks demo numbers. IntN returns a value in [0, n).
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// DemoSchema has a single append field, name_list.
func DemoSchema() graph.Schema {
	return graph.NewSchema(graph.AppendField("name_list"))
}

// DemoInput seeds name_list with initial:{threadID}.
func DemoInput(threadID string) graph.State {
	return graph.State{"name_list": []string{"initial:" + threadID}}
}

// between returns an integer in [lo, hi].
func between(r Rand, lo, hi int) int {
	return lo + r.IntN(hi-lo+1)
}

func visit(r Rand, name string, lo, hi int) graph.NodeFunc {
	return func(context.Context, graph.State) (graph.State, error) {
		return graph.State{"name_list": []string{fmt.Sprintf("%s:%d", name, between(r, lo, hi))}}, nil
	}
}

// NewDemoGraph builds node_1 -> node_2 -> node_3, each appending its name
// and a random number to name_list. r may be nil.
func NewDemoGraph(r Rand) (*graph.Graph, error) {
	if r == nil {
		r = globalRand{}
	}
	return graph.NewBuilder("demo", DemoSchema()).
		AddNode("node_1", graph.Ordinary(visit(r, "node_1", 0, 100))).
		AddNode("node_2", graph.Ordinary(visit(r, "node_2", 100, 200))).
		AddNode("node_3", graph.Ordinary(visit(r, "node_3", 300, 400))).
		AddEdge(graph.START, "node_1").
		AddEdge("node_1", "node_2").
		AddEdge("node_2", "node_3").
		AddEdge("node_3", graph.END).
		Compile()
}

// NewDemoApprovalGraph is the demo graph with a supervisor check in node_2.
// node_2 suspends with {"message": "需要主管审批"}; resuming with "Y" marks
// the entry approved, anything else rejected. r may be nil.
func NewDemoApprovalGraph(r Rand) (*graph.Graph, error) {
	if r == nil {
		r = globalRand{}
	}
	node2 := func(ctx context.Context, _ graph.State) (graph.State, error) {
		n := between(r, 100, 200)
		decision, err := graph.Interrupt(ctx, map[string]any{"message": "需要主管审批"})
		if err != nil {
			return nil, err
		}
		result := "❌拒绝"
		if decision == "Y" {
			result = "✅通过"
		}
		return graph.State{"name_list": []string{fmt.Sprintf("node_2:%d，%s", n, result)}}, nil
	}

	return graph.NewBuilder("demo_approval", DemoSchema()).
		AddNode("node_1", graph.Ordinary(visit(r, "node_1", 0, 100))).
		AddNode("node_2", graph.Ordinary(node2)).
		AddNode("node_3", graph.Ordinary(visit(r, "node_3", 200, 300))).
		AddEdge(graph.START, "node_1").
		AddEdge("node_1", "node_2").
		AddEdge("node_2", "node_3").
		AddEdge("node_3", graph.END).
		Compile()
}
