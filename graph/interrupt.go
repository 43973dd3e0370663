package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// RunConfig is the run configuration visible to node bodies.
type RunConfig struct {
	ThreadID  string
	GraphName string

	// Node is the node being executed.
	Node string

	// Step is the checkpoint version this execution will produce.
	Step int
}

type runConfigKey struct{}
type resumeSlotKey struct{}

// resumeSlot carries the resume values for one node execution. The i-th
// Interrupt call consumes the i-th value.
type resumeSlot struct {
	values []any
	next   int
}

// suspendSignal is returned through the node body's error path when it
// requests external input. The engine converts it into a suspended result.
type suspendSignal struct {
	payload any
	index   int
}

func (s *suspendSignal) Error() string {
	return fmt.Sprintf("node suspended waiting for input (interrupt %d)", s.index)
}

// Interrupt suspends the run to ask for external input.
//
// On first execution it returns a non-nil error that the node body must
// return unchanged; the engine then persists the payload and stops. When the
// thread is resumed the node runs again from the top and this call returns
// the caller-supplied resume value instead. Code before the call therefore
// runs again on resume; keep it free of side effects, or put side effects in
// a preceding node.
//
//	decision, err := graph.Interrupt(ctx, map[string]any{"message": "approve?"})
//	if err != nil {
//	    return nil, err
//	}
func Interrupt(ctx context.Context, payload any) (any, error) {
	slot, _ := ctx.Value(resumeSlotKey{}).(*resumeSlot)
	if slot == nil {
		return nil, &suspendSignal{payload: payload}
	}
	idx := slot.next
	slot.next++
	if idx < len(slot.values) {
		return slot.values[idx], nil
	}
	return nil, &suspendSignal{payload: payload, index: idx}
}

// InterruptAs is Interrupt with the resume value decoded into T.
func InterruptAs[T any](ctx context.Context, payload any) (T, error) {
	var out T
	v, err := Interrupt(ctx, payload)
	if err != nil {
		return out, err
	}
	if typed, ok := v.(T); ok {
		return typed, nil
	}
	if err := Decode(v, &out); err != nil {
		return out, fmt.Errorf("decode resume value: %w", err)
	}
	return out, nil
}

// IsSuspend reports whether err is the signal produced by Interrupt. Code
// that wraps errors from callees (tools, for instance) should let it pass.
func IsSuspend(err error) bool {
	_, ok := asSuspend(err)
	return ok
}

func asSuspend(err error) (*suspendSignal, bool) {
	for e := err; e != nil; {
		if s, ok := e.(*suspendSignal); ok {
			return s, true
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		e = u.Unwrap()
	}
	return nil, false
}

// RunConfigFrom returns the run configuration of the executing node.
func RunConfigFrom(ctx context.Context) (RunConfig, bool) {
	cfg, ok := ctx.Value(runConfigKey{}).(RunConfig)
	return cfg, ok
}

// ThreadID returns the thread id of the executing node, or "".
func ThreadID(ctx context.Context) string {
	cfg, _ := RunConfigFrom(ctx)
	return cfg.ThreadID
}

func withNodeContext(ctx context.Context, cfg RunConfig, resumes []any) context.Context {
	ctx = context.WithValue(ctx, runConfigKey{}, cfg)
	return context.WithValue(ctx, resumeSlotKey{}, &resumeSlot{values: resumes})
}

// interruptID is stable for a suspend point so re-reading state returns the
// identical payload.
func interruptID(threadID, node string, version, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%d", threadID, node, version, index)))
	return hex.EncodeToString(sum[:16])
}
