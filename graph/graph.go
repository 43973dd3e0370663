package graph

import (
	"errors"
	"fmt"
	"sort"
)

// START and END are the sentinel pseudo-nodes every graph is wired between.
const (
	START = "__start__"
	END   = "__end__"
)

// Builder accumulates nodes and edges and compiles them into an immutable
// Graph. Errors are collected and reported together by Compile.
//
// Example:
//
//	b := graph.NewBuilder("demo", graph.NewSchema(graph.AppendField("name_list")))
//	b.AddNode("node_1", graph.Ordinary(step1))
//	b.AddEdge(graph.START, "node_1")
//	b.AddEdge("node_1", graph.END)
//	g, err := b.Compile()
type Builder struct {
	name   string
	schema Schema
	nodes  map[string]Node
	order  []string
	edges  map[string][]string
	errs   []error
}

// NewBuilder starts a graph definition with the given state schema.
func NewBuilder(name string, schema Schema) *Builder {
	return &Builder{
		name:   name,
		schema: schema,
		nodes:  make(map[string]Node),
		edges:  make(map[string][]string),
	}
}

// AddNode declares a named node.
func (b *Builder) AddNode(name string, node Node) *Builder {
	switch {
	case name == "":
		b.errs = append(b.errs, engineErr("INVALID_GRAPH", nil, "node name cannot be empty"))
	case name == START || name == END:
		b.errs = append(b.errs, engineErr("RESERVED_NAME", nil, "node name %q is reserved", name))
	case !node.valid():
		b.errs = append(b.errs, engineErr("INVALID_GRAPH", nil, "node %q has no body", name))
	case node.policy != nil && node.policy.Retry != nil && node.policy.Retry.Validate() != nil:
		b.errs = append(b.errs, engineErr("INVALID_GRAPH", ErrInvalidRetryPolicy, "node %q has an invalid retry policy", name))
	default:
		if _, exists := b.nodes[name]; exists {
			b.errs = append(b.errs, engineErr("DUPLICATE_NODE", nil, "duplicate node name: %s", name))
			return b
		}
		b.nodes[name] = node
		b.order = append(b.order, name)
	}
	return b
}

// AddEdge declares a directed edge. Either end may be a sentinel.
func (b *Builder) AddEdge(from, to string) *Builder {
	if from == "" || to == "" {
		b.errs = append(b.errs, engineErr("INVALID_EDGE", nil, "edge endpoints cannot be empty (%q -> %q)", from, to))
		return b
	}
	b.edges[from] = append(b.edges[from], to)
	return b
}

// CompileOption adjusts validation.
type CompileOption func(*compileConfig)

type compileConfig struct {
	allowCycles bool
}

// AllowCycles permits back-edges, for loops such as an agent alternating
// between a model call and tool execution. The engine's step limit bounds
// such runs.
func AllowCycles() CompileOption {
	return func(c *compileConfig) {
		c.allowCycles = true
	}
}

// Graph is a validated, immutable workflow definition.
type Graph struct {
	name   string
	schema Schema
	nodes  map[string]Node
	next   map[string]string // ordinary node (and START) -> successor
	entry  string
}

// Name returns the graph's name.
func (g *Graph) Name() string {
	return g.name
}

// Schema returns the state schema.
func (g *Graph) Schema() Schema {
	return g.schema
}

// Entry returns the node START leads to.
func (g *Graph) Entry() string {
	return g.entry
}

// Compile validates the definition and freezes it.
//
// Checks: node names are unique and not reserved; every edge endpoint is a
// declared node or sentinel; START has exactly one outgoing edge and END
// none; every ordinary node has exactly one outgoing edge; branching nodes
// have no static edges and only declared targets; every node reachable from
// START can reach END; no cycles unless AllowCycles is given.
func (b *Builder) Compile(opts ...CompileOption) (*Graph, error) {
	cfg := compileConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	errs := append([]error(nil), b.errs...)
	declared := func(name string) bool {
		_, ok := b.nodes[name]
		return ok
	}

	from := make([]string, 0, len(b.edges))
	for f := range b.edges {
		from = append(from, f)
	}
	sort.Strings(from)

	next := make(map[string]string)
	for _, f := range from {
		targets := b.edges[f]
		if f == END {
			errs = append(errs, engineErr("INVALID_EDGE", nil, "END cannot have outgoing edges"))
			continue
		}
		if f != START && !declared(f) {
			errs = append(errs, engineErr("UNKNOWN_NODE", nil, "edge from undeclared node %q", f))
			continue
		}
		for _, t := range targets {
			if t == START {
				errs = append(errs, engineErr("INVALID_EDGE", nil, "edge %q -> START is not allowed", f))
			} else if t != END && !declared(t) {
				errs = append(errs, engineErr("UNKNOWN_NODE", nil, "edge %q -> undeclared node %q", f, t))
			}
		}
		if f != START && b.nodes[f].kind == KindBranching {
			errs = append(errs, engineErr("INVALID_EDGE", nil, "branching node %q routes by its targets, not edges", f))
			continue
		}
		if len(targets) != 1 {
			errs = append(errs, engineErr("INVALID_EDGE", nil, "%q must have exactly one outgoing edge, has %d", f, len(targets)))
			continue
		}
		next[f] = targets[0]
	}

	entry, ok := next[START]
	if !ok && len(b.edges[START]) == 0 {
		errs = append(errs, engineErr("NO_ENTRY", nil, "START has no outgoing edge"))
	}

	for _, name := range b.order {
		node := b.nodes[name]
		if node.kind == KindBranching {
			if len(node.targets) == 0 {
				errs = append(errs, engineErr("DEAD_END", nil, "branching node %q declares no targets", name))
			}
			for _, t := range node.targets {
				if t != END && !declared(t) {
					errs = append(errs, engineErr("UNKNOWN_NODE", nil, "branching node %q targets undeclared node %q", name, t))
				}
			}
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	g := &Graph{
		name:   b.name,
		schema: b.schema,
		nodes:  make(map[string]Node, len(b.nodes)),
		next:   next,
		entry:  entry,
	}
	for name, node := range b.nodes {
		g.nodes[name] = node
	}

	if err := g.checkReachability(cfg.allowCycles); err != nil {
		return nil, err
	}
	return g, nil
}

// successors lists where name may go next.
func (g *Graph) successors(name string) []string {
	if name == START {
		return []string{g.entry}
	}
	node := g.nodes[name]
	if node.kind == KindBranching {
		return node.targets
	}
	if to, ok := g.next[name]; ok {
		return []string{to}
	}
	return nil
}

func (g *Graph) checkReachability(allowCycles bool) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int)
	reachesEnd := make(map[string]bool)
	var errs []error

	var visit func(name string) bool
	visit = func(name string) bool {
		if name == END {
			return true
		}
		switch state[name] {
		case visiting:
			if !allowCycles {
				errs = append(errs, engineErr("CYCLE", nil, "cycle through node %q", name))
			}
			return false
		case done:
			return reachesEnd[name]
		}
		state[name] = visiting
		succ := g.successors(name)
		if len(succ) == 0 {
			errs = append(errs, engineErr("DEAD_END", nil, "node %q has no outgoing edge", name))
		}
		ok := false
		for _, s := range succ {
			if visit(s) {
				ok = true
			}
		}
		state[name] = done
		reachesEnd[name] = ok
		return ok
	}

	if !visit(START) {
		errs = append(errs, engineErr("UNREACHABLE_END", nil, "END is not reachable from START"))
	}

	// A node inside a permitted loop may be finalised before the loop's exit
	// is explored; re-check with the completed map.
	if allowCycles {
		changed := true
		for changed {
			changed = false
			for name := range state {
				if reachesEnd[name] {
					continue
				}
				for _, s := range g.successors(name) {
					if s == END || reachesEnd[s] {
						reachesEnd[name] = true
						changed = true
						break
					}
				}
			}
		}
	}

	for name := range state {
		if name != START && !reachesEnd[name] {
			errs = append(errs, engineErr("UNREACHABLE_END", nil, "node %q cannot reach END", name))
		}
	}

	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
		return errors.Join(errs...)
	}
	return nil
}

// String summarises the graph for logs.
func (g *Graph) String() string {
	return fmt.Sprintf("graph %s (%d nodes, entry %s)", g.name, len(g.nodes), g.entry)
}
