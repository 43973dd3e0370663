package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/langgraph-hitl/graph/emit"
	"github.com/dshills/langgraph-hitl/graph/store"
)

// Engine executes a compiled Graph against durable checkpoints.
//
// Every node completion or suspension writes an immutable checkpoint, so a
// suspended run can be resumed by any process sharing the store, arbitrarily
// later. Runs for different threads may execute concurrently; concurrent
// calls for the same thread are a caller error.
type Engine struct {
	graph  *Graph
	stores store.Provider
	cfg    engineConfig
}

// Result is the outcome of Run, Resume or Continue: either the terminal
// state, or the state at suspension plus the pending interrupt. Never both.
type Result struct {
	ThreadID   string
	State      State
	Interrupts []store.Interrupt
	Version    int
}

// Interrupted reports whether the run is suspended waiting for a resume
// value.
func (r *Result) Interrupted() bool {
	return len(r.Interrupts) > 0
}

// Snapshot is a read-only view of a thread's latest checkpoint.
type Snapshot struct {
	ThreadID      string
	Values        State
	Next          []string
	Status        store.Status
	Interrupts    []store.Interrupt
	Node          string
	Version       int
	ParentVersion int
	CreatedAt     time.Time
}

// Exists reports whether the thread has any checkpoint.
func (s *Snapshot) Exists() bool {
	return s.Version > 0
}

// New creates an Engine for g. stores is usually a *store.Manager; use
// store.Static to pin a single store.
func New(g *Graph, stores store.Provider, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, &EngineError{Message: "graph is required", Code: "INVALID_GRAPH"}
	}
	if stores == nil {
		return nil, &EngineError{Message: "checkpoint store is required", Code: "MISSING_STORE"}
	}
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("invalid engine option: %w", err)
		}
	}
	return &Engine{graph: g, stores: stores, cfg: cfg}, nil
}

// Graph returns the engine's graph.
func (e *Engine) Graph() *Graph {
	return e.graph
}

// Run starts a pass over the graph for threadID.
//
// input is merged into the thread's state (creating the thread if needed)
// and persisted as the first checkpoint of the pass; execution then begins
// at START's successor. Running a suspended thread fails with
// ErrThreadInterrupted and leaves it untouched.
func (e *Engine) Run(ctx context.Context, threadID string, input State) (*Result, error) {
	if threadID == "" {
		return nil, engineErr("INVALID_THREAD", ErrInvalidThreadID, "thread id is required")
	}
	st, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}

	latest, err := e.latest(ctx, st, threadID)
	if err != nil {
		return nil, err
	}
	if latest.Cursor.Status == store.StatusInterrupted {
		return nil, engineErr("THREAD_INTERRUPTED", ErrThreadInterrupted,
			"thread %s is suspended at %s", threadID, latest.Cursor.Next)
	}

	merged, err := e.graph.schema.Merge(State(latest.State), input)
	if err != nil {
		return nil, err
	}

	status := store.StatusRunning
	next := e.graph.entry
	if next == END {
		status, next = store.StatusDone, ""
	}
	cp := store.Checkpoint{
		ThreadID:      threadID,
		Version:       latest.Version + 1,
		ParentVersion: latest.Version,
		Node:          START,
		State:         merged,
		Cursor:        store.Cursor{Next: next, Status: status},
		CreatedAt:     e.cfg.now(),
	}
	if err := e.put(ctx, st, cp); err != nil {
		return nil, err
	}

	e.emit(threadID, cp.Version, "", emit.MsgRunStart, map[string]any{"graph": e.graph.name})
	return e.loop(ctx, st, cp, nil)
}

// Resume supplies value to the thread's pending interrupt and continues the
// run. The suspended node executes again from the top; its Interrupt call
// returns value this time.
//
// Resuming a thread that is not suspended fails with ErrInvalidResumeState
// and writes nothing.
func (e *Engine) Resume(ctx context.Context, threadID string, value any) (*Result, error) {
	if threadID == "" {
		return nil, engineErr("INVALID_THREAD", ErrInvalidThreadID, "thread id is required")
	}
	st, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}

	latest, err := e.latest(ctx, st, threadID)
	if err != nil {
		return nil, err
	}
	if latest.Cursor.Status != store.StatusInterrupted {
		return nil, engineErr("INVALID_RESUME", ErrInvalidResumeState,
			"thread %s is not suspended (status %q)", threadID, statusOf(latest))
	}

	normalized, err := normalizeValue(value)
	if err != nil {
		return nil, engineErr("INVALID_RESUME", ErrInvalidResumeState, "resume value is not JSON-serialisable: %v", err)
	}
	resumes := append(append([]any(nil), latest.Resumes...), normalized)

	e.emit(threadID, latest.Version, latest.Cursor.Next, emit.MsgResume, nil)
	e.cfg.metrics.IncrementResumes(e.graph.name, latest.Cursor.Next)
	return e.loop(ctx, st, latest, resumes)
}

// Continue re-enters a thread whose last pass stopped on a node error,
// starting at the node that failed. Threads that are done, suspended or
// unknown fail with ErrInvalidResumeState.
func (e *Engine) Continue(ctx context.Context, threadID string) (*Result, error) {
	if threadID == "" {
		return nil, engineErr("INVALID_THREAD", ErrInvalidThreadID, "thread id is required")
	}
	st, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := e.latest(ctx, st, threadID)
	if err != nil {
		return nil, err
	}
	if latest.Version == 0 || latest.Cursor.Status != store.StatusRunning {
		return nil, engineErr("INVALID_RESUME", ErrInvalidResumeState,
			"thread %s has no pending step (status %q)", threadID, statusOf(latest))
	}
	return e.loop(ctx, st, latest, nil)
}

// GetState returns the thread's latest checkpoint without executing
// anything. An unknown thread yields an empty snapshot.
func (e *Engine) GetState(ctx context.Context, threadID string) (*Snapshot, error) {
	st, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := e.latest(ctx, st, threadID)
	if err != nil {
		return nil, err
	}
	return snapshotOf(threadID, latest), nil
}

// History returns up to limit snapshots of threadID, newest first.
func (e *Engine) History(ctx context.Context, threadID string, limit int) ([]*Snapshot, error) {
	st, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	cps, err := st.List(ctx, threadID, limit)
	if err != nil {
		return nil, &EngineError{Message: "failed to list checkpoints: " + err.Error(), Code: "STORE_ERROR", Err: err}
	}
	out := make([]*Snapshot, 0, len(cps))
	for _, cp := range cps {
		out = append(out, snapshotOf(threadID, cp))
	}
	return out, nil
}

// loop executes nodes from cp's cursor until END, a suspension or an error.
// resumes are replayed into the first node only.
func (e *Engine) loop(ctx context.Context, st store.Store, cp store.Checkpoint, resumes []any) (result *Result, err error) {
	threadID := cp.ThreadID
	state := State(cp.State)
	if state == nil {
		state = State{}
	}
	current := cp.Cursor.Next
	if cp.Cursor.Status == store.StatusDone {
		current = END
	}
	version := cp.Version

	counted := e.cfg.metrics.runStarted()
	defer func() {
		e.cfg.metrics.runFinished(counted)
		switch {
		case err != nil:
			e.cfg.metrics.RecordRun(e.graph.name, "error")
		case result.Interrupted():
			e.cfg.metrics.RecordRun(e.graph.name, "interrupted")
		default:
			e.cfg.metrics.RecordRun(e.graph.name, "done")
		}
	}()

	for steps := 0; current != END; steps++ {
		if e.cfg.maxSteps > 0 && steps >= e.cfg.maxSteps {
			return nil, engineErr("MAX_STEPS_EXCEEDED", ErrMaxStepsExceeded,
				"thread %s exceeded %d steps", threadID, e.cfg.maxSteps)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		node, ok := e.graph.nodes[current]
		if !ok {
			return nil, &EngineError{Message: "checkpoint cursor names unknown node " + current, Code: "UNKNOWN_NODE"}
		}

		e.emit(threadID, version+1, current, emit.MsgNodeStart, nil)
		start := time.Now()
		runCfg := RunConfig{ThreadID: threadID, GraphName: e.graph.name, Node: current, Step: version + 1}
		delta, selected, execErr := e.execute(ctx, node, runCfg, state, resumes)
		elapsed := time.Since(start)

		if sig, ok := asSuspend(execErr); ok {
			payload, err := normalizeValue(sig.payload)
			if err != nil {
				return nil, &NodeError{NodeID: current, Err: fmt.Errorf("interrupt payload is not JSON-serialisable: %w", err)}
			}
			version++
			intr := store.Interrupt{
				ID:    interruptID(threadID, current, version, sig.index),
				Node:  current,
				Value: payload,
			}
			suspended := store.Checkpoint{
				ThreadID:      threadID,
				Version:       version,
				ParentVersion: version - 1,
				Node:          current,
				State:         state,
				Cursor:        store.Cursor{Next: current, Status: store.StatusInterrupted},
				Interrupts:    []store.Interrupt{intr},
				Resumes:       resumes,
				CreatedAt:     e.cfg.now(),
			}
			if err := e.put(ctx, st, suspended); err != nil {
				return nil, err
			}
			e.cfg.metrics.RecordStep(e.graph.name, current, elapsed, "interrupted")
			e.cfg.metrics.IncrementInterrupts(e.graph.name, current)
			e.emit(threadID, version, current, emit.MsgInterrupt, map[string]any{"interrupt_id": intr.ID})
			return &Result{ThreadID: threadID, State: state, Interrupts: suspended.Interrupts, Version: version}, nil
		}

		if execErr != nil {
			status := "error"
			var engErr *EngineError
			if errors.As(execErr, &engErr) && engErr.Code == "NODE_TIMEOUT" {
				status = "timeout"
			}
			e.cfg.metrics.RecordStep(e.graph.name, current, elapsed, status)
			e.emit(threadID, version+1, current, emit.MsgNodeError, map[string]any{"error": execErr.Error()})
			return nil, &NodeError{NodeID: current, Err: execErr}
		}

		target, err := e.route(current, node, selected)
		if err != nil {
			e.emit(threadID, version+1, current, emit.MsgNodeError, map[string]any{"error": err.Error()})
			return nil, err
		}

		merged, err := e.graph.schema.Merge(state, delta)
		if err != nil {
			e.emit(threadID, version+1, current, emit.MsgNodeError, map[string]any{"error": err.Error()})
			return nil, &NodeError{NodeID: current, Err: err}
		}

		version++
		cursor := store.Cursor{Next: target, Status: store.StatusRunning}
		if target == END {
			cursor = store.Cursor{Status: store.StatusDone}
		}
		if err := e.put(ctx, st, store.Checkpoint{
			ThreadID:      threadID,
			Version:       version,
			ParentVersion: version - 1,
			Node:          current,
			State:         merged,
			Cursor:        cursor,
			CreatedAt:     e.cfg.now(),
		}); err != nil {
			return nil, err
		}

		e.cfg.metrics.RecordStep(e.graph.name, current, elapsed, "success")
		e.emit(threadID, version, current, emit.MsgNodeEnd, map[string]any{
			"next":        target,
			"duration_ms": elapsed.Milliseconds(),
		})

		state = merged
		current = target
		resumes = nil
	}

	e.emit(threadID, version, "", emit.MsgRunEnd, nil)
	return &Result{ThreadID: threadID, State: state, Version: version}, nil
}

// execute runs one node with its retry policy. Each attempt gets a fresh
// resume slot so replayed Interrupt calls line up with the stored values.
func (e *Engine) execute(ctx context.Context, node Node, runCfg RunConfig, state State, resumes []any) (State, string, error) {
	var retry *RetryPolicy
	if node.policy != nil {
		retry = node.policy.Retry
	}

	for attempt := 0; ; attempt++ {
		input, err := normalizeState(state)
		if err != nil {
			return nil, "", err
		}
		if input == nil {
			input = State{}
		}
		nodeCtx := withNodeContext(ctx, runCfg, resumes)

		delta, next, err := executeWithTimeout(nodeCtx, node, runCfg.Node, input, e.cfg.nodeTimeout)
		if err == nil || IsSuspend(err) || !retry.shouldRetry(attempt, err) {
			return delta, next, err
		}

		e.cfg.metrics.IncrementRetries(e.graph.name, runCfg.Node)
		select {
		case <-time.After(computeBackoff(attempt, retry.BaseDelay, retry.MaxDelay)):
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}
}

// route resolves the successor of current.
func (e *Engine) route(current string, node Node, selected string) (string, error) {
	if node.kind == KindOrdinary {
		return e.graph.next[current], nil
	}
	if !node.allows(selected) {
		return "", engineErr("INVALID_ROUTE", ErrInvalidRoute,
			"node %s selected %q, allowed %v", current, selected, node.targets)
	}
	return selected, nil
}

// acquire gets the current store handle. The provider's error stays
// reachable through errors.Is/As.
func (e *Engine) acquire(ctx context.Context) (store.Store, error) {
	st, err := e.stores.Get(ctx)
	if err != nil {
		return nil, &EngineError{Message: "failed to acquire checkpoint store: " + err.Error(), Code: "STORE_ERROR", Err: err}
	}
	return st, nil
}

func (e *Engine) latest(ctx context.Context, st store.Store, threadID string) (store.Checkpoint, error) {
	cp, err := st.Latest(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Checkpoint{ThreadID: threadID, State: map[string]any{}}, nil
	}
	if err != nil {
		return store.Checkpoint{}, &EngineError{Message: "failed to load checkpoint: " + err.Error(), Code: "STORE_ERROR", Err: err}
	}
	return cp, nil
}

func (e *Engine) put(ctx context.Context, st store.Store, cp store.Checkpoint) error {
	if err := st.Put(ctx, cp); err != nil {
		return &EngineError{Message: "failed to save checkpoint: " + err.Error(), Code: "STORE_ERROR", Err: err}
	}
	e.cfg.metrics.IncrementCheckpoints(e.graph.name, string(cp.Cursor.Status))
	e.emit(cp.ThreadID, cp.Version, cp.Node, emit.MsgCheckpoint, map[string]any{"status": string(cp.Cursor.Status)})
	return nil
}

func (e *Engine) emit(threadID string, step int, node, msg string, meta map[string]any) {
	e.cfg.emitter.Emit(emit.Event{ThreadID: threadID, Step: step, NodeID: node, Msg: msg, Meta: meta})
}

func snapshotOf(threadID string, cp store.Checkpoint) *Snapshot {
	s := &Snapshot{
		ThreadID:   threadID,
		Values:     State(cp.State),
		Status:     cp.Cursor.Status,
		Interrupts: cp.Interrupts,
		Node:       cp.Node,
		Version:    cp.Version,
		CreatedAt:  cp.CreatedAt,
	}
	s.ParentVersion = cp.ParentVersion
	if s.Values == nil {
		s.Values = State{}
	}
	if s.Interrupts == nil {
		s.Interrupts = []store.Interrupt{}
	}
	s.Next = []string{}
	if cp.Cursor.Next != "" && cp.Cursor.Status != store.StatusDone {
		s.Next = []string{cp.Cursor.Next}
	}
	return s
}

func statusOf(cp store.Checkpoint) string {
	if cp.Version == 0 {
		return "new"
	}
	return string(cp.Cursor.Status)
}

func normalizeValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
