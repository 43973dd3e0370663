package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	thread := "contract-" + time.Now().Format("150405.000000000")

	t.Run("latest on unknown thread", func(t *testing.T) {
		_, err := st.Latest(ctx, thread)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("put and read back", func(t *testing.T) {
		for v := 1; v <= 3; v++ {
			cp := Checkpoint{
				ThreadID:      thread,
				Version:       v,
				ParentVersion: v - 1,
				Node:          "node",
				State: map[string]any{
					"name_list": []any{"initial", v},
					"approve":   map[string]any{"id": "a-1"},
				},
				Cursor:    Cursor{Next: "next", Status: StatusRunning},
				CreatedAt: time.Now(),
			}
			if v == 3 {
				cp.Cursor.Status = StatusInterrupted
				cp.Interrupts = []Interrupt{{ID: "abc", Node: "next", Value: map[string]any{"message": "approve?"}}}
				cp.Resumes = []any{"Y"}
			}
			if err := st.Put(ctx, cp); err != nil {
				t.Fatalf("Put version %d: %v", v, err)
			}
		}

		latest, err := st.Latest(ctx, thread)
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		if latest.Version != 3 {
			t.Errorf("expected version 3, got %d", latest.Version)
		}
		if latest.Cursor.Status != StatusInterrupted || latest.Cursor.Next != "next" {
			t.Errorf("unexpected cursor %+v", latest.Cursor)
		}
		if len(latest.Interrupts) != 1 || latest.Interrupts[0].ID != "abc" {
			t.Fatalf("unexpected interrupts %+v", latest.Interrupts)
		}
		payload, ok := latest.Interrupts[0].Value.(map[string]any)
		if !ok || payload["message"] != "approve?" {
			t.Errorf("interrupt payload not preserved: %#v", latest.Interrupts[0].Value)
		}
		if len(latest.Resumes) != 1 || latest.Resumes[0] != "Y" {
			t.Errorf("unexpected resumes %#v", latest.Resumes)
		}
		names, ok := latest.State["name_list"].([]any)
		if !ok || len(names) != 2 || names[1] != float64(3) {
			t.Errorf("state not normalised: %#v", latest.State["name_list"])
		}
	})

	t.Run("list newest first with limit", func(t *testing.T) {
		all, err := st.List(ctx, thread, 0)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 checkpoints, got %d", len(all))
		}
		for i, want := range []int{3, 2, 1} {
			if all[i].Version != want {
				t.Errorf("position %d: expected version %d, got %d", i, want, all[i].Version)
			}
		}

		two, err := st.List(ctx, thread, 2)
		if err != nil {
			t.Fatalf("List limit: %v", err)
		}
		if len(two) != 2 || two[0].Version != 3 {
			t.Errorf("unexpected limited list %+v", two)
		}
	})

	t.Run("duplicate version rejected", func(t *testing.T) {
		err := st.Put(ctx, Checkpoint{ThreadID: thread, Version: 2, Node: "dup", State: map[string]any{}, Cursor: Cursor{Status: StatusRunning}})
		if !errors.Is(err, ErrVersionConflict) {
			t.Fatalf("expected ErrVersionConflict, got %v", err)
		}
	})

	t.Run("threads are isolated", func(t *testing.T) {
		other := thread + "-other"
		if err := st.Put(ctx, Checkpoint{ThreadID: other, Version: 1, Node: "x", State: map[string]any{"k": "v"}, Cursor: Cursor{Status: StatusDone}}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		latest, err := st.Latest(ctx, thread)
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		if latest.Version != 3 {
			t.Errorf("other thread leaked into %s", thread)
		}
	})

	t.Run("mutating a read does not change the store", func(t *testing.T) {
		latest, err := st.Latest(ctx, thread)
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		latest.State["approve"] = "changed"
		again, err := st.Latest(ctx, thread)
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		if _, ok := again.State["approve"].(map[string]any); !ok {
			t.Errorf("stored state was aliased")
		}
	})
}

func TestMemStore_Contract(t *testing.T) {
	runStoreContract(t, NewMemStore())
}

func TestMemStore_Closed(t *testing.T) {
	st := NewMemStore()
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := st.Latest(context.Background(), "t"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := st.Put(context.Background(), Checkpoint{ThreadID: "t", Version: 1}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
