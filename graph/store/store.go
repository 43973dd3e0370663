// Package store provides durable checkpoint persistence for graph runs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a thread has no checkpoint.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("store is closed")

// ErrVersionConflict is returned when a checkpoint version for a thread is
// written twice. Checkpoints are immutable.
var ErrVersionConflict = errors.New("checkpoint version already exists")

// Status is the cursor state of a thread.
type Status string

const (
	// StatusRunning means the run advanced and Next names the node to execute.
	StatusRunning Status = "running"

	// StatusInterrupted means the run is suspended inside Next, waiting for a
	// resume value.
	StatusInterrupted Status = "interrupted"

	// StatusDone means the run reached END.
	StatusDone Status = "done"
)

// Cursor records where a thread stands after a checkpoint.
type Cursor struct {
	// Next is the node to execute (or re-execute on resume). Empty once the
	// run is done.
	Next string `json:"next"`

	Status Status `json:"status"`
}

// Interrupt is a pending request for external input raised by a node.
type Interrupt struct {
	// ID is stable for a given suspend point so repeated reads return the
	// same payload.
	ID string `json:"id"`

	// Node is the node that suspended.
	Node string `json:"node"`

	// Value is the caller-defined payload, for example a form descriptor.
	Value any `json:"value"`
}

// Checkpoint is an immutable snapshot of a thread written after every step.
//
// State holds JSON-normalised values (objects are map[string]any, arrays are
// []any, numbers are float64) so every backend round-trips it identically.
type Checkpoint struct {
	ThreadID string `json:"thread_id"`

	// Version increases by one per checkpoint within a thread.
	Version int `json:"version"`

	// ParentVersion is the version this checkpoint was derived from, or 0.
	ParentVersion int `json:"parent_version"`

	// Node is the node whose completion (or suspension) produced the
	// checkpoint. "__start__" marks the input merge.
	Node string `json:"node"`

	State map[string]any `json:"state"`

	Cursor Cursor `json:"cursor"`

	// Interrupts is non-empty only when Cursor.Status is StatusInterrupted.
	Interrupts []Interrupt `json:"interrupts,omitempty"`

	// Resumes are the resume values already supplied to the suspended node.
	// They are replayed in order when the node is re-executed.
	Resumes []any `json:"resumes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Store persists checkpoints keyed by thread id.
//
// Implementations must be safe for concurrent use across threads. Writes for
// a single thread are issued in execution order by the engine.
type Store interface {
	// Put appends a checkpoint to the thread's history.
	Put(ctx context.Context, cp Checkpoint) error

	// Latest returns the checkpoint with the highest version for threadID,
	// or ErrNotFound.
	Latest(ctx context.Context, threadID string) (Checkpoint, error)

	// List returns up to limit checkpoints for threadID, newest first.
	// A limit <= 0 returns the full history.
	List(ctx context.Context, threadID string, limit int) ([]Checkpoint, error)
}

// ClosableStore is a Store that owns a connection.
type ClosableStore interface {
	Store
	Close() error
}

// Provider hands out a usable Store. The engine acquires one per operation.
type Provider interface {
	Get(ctx context.Context) (Store, error)
}

type staticProvider struct {
	s Store
}

// Static returns a Provider that always yields s.
func Static(s Store) Provider {
	return staticProvider{s: s}
}

func (p staticProvider) Get(_ context.Context) (Store, error) {
	return p.s, nil
}

// checkpointRow is the column layout shared by the SQL backends.
type checkpointRow struct {
	state      string
	interrupts string
	resumes    string
}

func encodeCheckpoint(cp Checkpoint) (checkpointRow, error) {
	state, err := json.Marshal(cp.State)
	if err != nil {
		return checkpointRow{}, fmt.Errorf("failed to marshal state: %w", err)
	}
	interrupts, err := json.Marshal(cp.Interrupts)
	if err != nil {
		return checkpointRow{}, fmt.Errorf("failed to marshal interrupts: %w", err)
	}
	resumes, err := json.Marshal(cp.Resumes)
	if err != nil {
		return checkpointRow{}, fmt.Errorf("failed to marshal resumes: %w", err)
	}
	return checkpointRow{state: string(state), interrupts: string(interrupts), resumes: string(resumes)}, nil
}

func decodeCheckpoint(cp *Checkpoint, row checkpointRow) error {
	if err := json.Unmarshal([]byte(row.state), &cp.State); err != nil {
		return fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if cp.State == nil {
		cp.State = map[string]any{}
	}
	if row.interrupts != "" && row.interrupts != "null" {
		if err := json.Unmarshal([]byte(row.interrupts), &cp.Interrupts); err != nil {
			return fmt.Errorf("failed to unmarshal interrupts: %w", err)
		}
	}
	if row.resumes != "" && row.resumes != "null" {
		if err := json.Unmarshal([]byte(row.resumes), &cp.Resumes); err != nil {
			return fmt.Errorf("failed to unmarshal resumes: %w", err)
		}
	}
	return nil
}

// normalize returns a JSON round-tripped copy of cp so in-memory stores hand
// out the same shapes as the SQL ones and callers cannot alias stored data.
func normalize(cp Checkpoint) (Checkpoint, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	var out Checkpoint
	if err := json.Unmarshal(data, &out); err != nil {
		return Checkpoint{}, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	if out.State == nil {
		out.State = map[string]any{}
	}
	return out, nil
}
