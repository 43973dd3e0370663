package graph

import "context"

// NodeFunc is the body of an ordinary node: it reads the current state and
// returns a partial update. The run then follows the node's single edge.
type NodeFunc func(ctx context.Context, state State) (State, error)

// BranchFunc is the body of a branching node: it returns a partial update
// and the name of the next node, which must be one of the targets declared
// with Branching (or END).
type BranchFunc func(ctx context.Context, state State) (State, string, error)

// Kind tells the engine how to route after a node.
type Kind int

const (
	// KindOrdinary nodes follow their single outgoing edge.
	KindOrdinary Kind = iota

	// KindBranching nodes select their successor at run time.
	KindBranching
)

func (k Kind) String() string {
	if k == KindBranching {
		return "branching"
	}
	return "ordinary"
}

// Node is a step body plus the metadata the engine needs to route after it.
// Build one with Ordinary or Branching.
type Node struct {
	kind    Kind
	fn      NodeFunc
	branch  BranchFunc
	targets []string
	policy  *NodePolicy
}

// Ordinary wraps fn as a node that follows its outgoing edge.
func Ordinary(fn NodeFunc) Node {
	return Node{kind: KindOrdinary, fn: fn}
}

// Branching wraps fn as a node whose successor is chosen at run time from
// targets.
//
//	graph.Branching(decide, "node_approve_accept", "node_approve_reject")
func Branching(fn BranchFunc, targets ...string) Node {
	return Node{kind: KindBranching, branch: fn, targets: append([]string(nil), targets...)}
}

// WithPolicy returns a copy of n with a timeout/retry policy attached.
func (n Node) WithPolicy(p NodePolicy) Node {
	n.policy = &p
	return n
}

// Kind reports how the engine routes after n.
func (n Node) Kind() Kind {
	return n.kind
}

// Targets returns the declared successors of a branching node.
func (n Node) Targets() []string {
	return append([]string(nil), n.targets...)
}

func (n Node) allows(target string) bool {
	for _, t := range n.targets {
		if t == target {
			return true
		}
	}
	return false
}

func (n Node) valid() bool {
	switch n.kind {
	case KindOrdinary:
		return n.fn != nil
	case KindBranching:
		return n.branch != nil
	default:
		return false
	}
}

// run dispatches on the node kind. next is empty for ordinary nodes.
func (n Node) run(ctx context.Context, state State) (delta State, next string, err error) {
	switch n.kind {
	case KindBranching:
		return n.branch(ctx, state)
	default:
		delta, err = n.fn(ctx, state)
		return delta, "", err
	}
}
