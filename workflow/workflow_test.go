package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/dshills/langgraph-hitl/graph"
	"github.com/dshills/langgraph-hitl/graph/store"
	"github.com/dshills/langgraph-hitl/records"
)

type fixedRand struct{ n int }

func (f fixedRand) IntN(int) int { return f.n }

func newEngine(t *testing.T, g *graph.Graph, err error) *graph.Engine {
	t.Helper()
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	engine, err := graph.New(g, store.Static(store.NewMemStore()))
	if err != nil {
		t.Fatalf("graph.New: %v", err)
	}
	return engine
}

func newRecords(t *testing.T) *records.Store {
	t.Helper()
	st, err := records.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("records.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestDemoGraph_AppendsInOrder(t *testing.T) {
	g, err := NewDemoGraph(fixedRand{n: 7})
	engine := newEngine(t, g, err)

	res, err := engine.Run(context.Background(), "T", DemoInput("T"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"initial:T", "node_1:7", "node_2:107", "node_3:307"}
	if got := graph.Strings(res.State, "name_list"); !reflect.DeepEqual(got, want) {
		t.Errorf("name_list = %v, want %v", got, want)
	}
	if res.Interrupted() {
		t.Error("demo graph never suspends")
	}
}

func TestDemoApprovalGraph(t *testing.T) {
	tests := []struct {
		decision string
		want     string
	}{
		{"Y", "node_2:100，✅通过"},
		{"N", "node_2:100，❌拒绝"},
	}
	for _, tt := range tests {
		t.Run(tt.decision, func(t *testing.T) {
			g, err := NewDemoApprovalGraph(fixedRand{})
			engine := newEngine(t, g, err)
			ctx := context.Background()

			res, err := engine.Run(ctx, "demo", DemoInput("demo"))
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if !res.Interrupted() {
				t.Fatal("expected suspension in node_2")
			}
			value, _ := res.Interrupts[0].Value.(map[string]any)
			if value["message"] != "需要主管审批" {
				t.Errorf("payload = %v", res.Interrupts[0].Value)
			}
			if got := graph.Strings(res.State, "name_list"); len(got) != 2 {
				t.Errorf("name_list at suspension = %v", got)
			}

			res, err = engine.Resume(ctx, "demo", tt.decision)
			if err != nil {
				t.Fatalf("Resume: %v", err)
			}
			want := []string{"initial:demo", "node_1:0", tt.want, "node_3:200"}
			if got := graph.Strings(res.State, "name_list"); !reflect.DeepEqual(got, want) {
				t.Errorf("name_list = %v, want %v", got, want)
			}
		})
	}
}

func TestApprovalGraph_Decisions(t *testing.T) {
	tests := []struct {
		name       string
		decision   string
		wantStatus string
		wantResult string
		wantFlag   bool
		wantLog    string
	}{
		{"accept", "Y", records.ApprovalAccepted, "审批通过......", true, "node_approve_accept：审批通过，等待财务打款"},
		{"reject", "N", records.ApprovalRejected, "审批拒绝......", false, "node_approve_reject：审批已经被拒绝"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs := newRecords(t)
			g, err := NewApprovalGraph(recs)
			engine := newEngine(t, g, err)
			ctx := context.Background()

			res, err := engine.Run(ctx, "thread-1", ApprovalInput("taxi 120"))
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if !res.Interrupted() || res.Interrupts[0].Node != NodeWaitForApprove {
				t.Fatalf("expected suspension in %s, got %+v", NodeWaitForApprove, res.Interrupts)
			}

			approve, err := graph.Get[records.Approval](res.State, "approve")
			if err != nil {
				t.Fatalf("decode approve: %v", err)
			}
			if approve.Status != records.ApprovalPending || approve.Remarks != "taxi 120" {
				t.Errorf("approve at suspension = %+v", approve)
			}

			var msgs []records.Message
			if err := graph.Decode(res.State["lg_message_list"], &msgs); err != nil || len(msgs) != 1 {
				t.Fatalf("lg_message_list = %v, %v", res.State["lg_message_list"], err)
			}
			if msgs[0].Status != records.MessagePending {
				t.Errorf("message status = %q", msgs[0].Status)
			}

			res, err = engine.Resume(ctx, "thread-1", tt.decision)
			if err != nil {
				t.Fatalf("Resume: %v", err)
			}
			if res.Interrupted() {
				t.Fatal("run should finish after the decision")
			}
			if flag, _ := res.State["approve_flag"].(bool); flag != tt.wantFlag {
				t.Errorf("approve_flag = %v, want %v", res.State["approve_flag"], tt.wantFlag)
			}

			logs := graph.Strings(res.State, "log_list")
			if len(logs) != 4 || logs[3] != tt.wantLog {
				t.Errorf("log_list = %v", logs)
			}

			stored, err := recs.GetApproval(ctx, approve.ID)
			if err != nil {
				t.Fatalf("GetApproval: %v", err)
			}
			if stored.Status != tt.wantStatus || stored.ResultContent != tt.wantResult {
				t.Errorf("stored approval = %+v", stored)
			}
			msg, err := recs.GetMessage(ctx, msgs[0].ID)
			if err != nil || msg.Status != records.MessageProceeded {
				t.Errorf("message = %+v, %v", msg, err)
			}

			// A second decision is rejected and changes nothing.
			before, _ := engine.GetState(ctx, "thread-1")
			if _, err := engine.Resume(ctx, "thread-1", "Y"); !errors.Is(err, graph.ErrInvalidResumeState) {
				t.Errorf("second Resume: %v", err)
			}
			after, _ := engine.GetState(ctx, "thread-1")
			if before.Version != after.Version {
				t.Errorf("version moved from %d to %d", before.Version, after.Version)
			}
		})
	}
}

func TestApprovalGraph_StateIsIdempotentWhileSuspended(t *testing.T) {
	g, err := NewApprovalGraph(newRecords(t))
	engine := newEngine(t, g, err)
	ctx := context.Background()

	if _, err := engine.Run(ctx, "t", ApprovalInput("hotel")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	first, err := engine.GetState(ctx, "t")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	second, err := engine.GetState(ctx, "t")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if len(first.Interrupts) != 1 {
		t.Fatalf("interrupts = %+v", first.Interrupts)
	}
	if !reflect.DeepEqual(first.Interrupts, second.Interrupts) {
		t.Errorf("interrupts differ: %+v vs %+v", first.Interrupts, second.Interrupts)
	}
}

type duplicateRecords struct {
	Records
}

func (duplicateRecords) CreateApproval(context.Context, records.Approval) (records.Approval, error) {
	return records.Approval{}, records.ErrDuplicate
}

func TestApprovalGraph_BusinessRejectionKeepsCursor(t *testing.T) {
	g, err := NewApprovalGraph(duplicateRecords{})
	engine := newEngine(t, g, err)
	ctx := context.Background()

	_, err = engine.Run(ctx, "dup", ApprovalInput("x"))
	if !errors.Is(err, records.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	var nodeErr *graph.NodeError
	if !errors.As(err, &nodeErr) || nodeErr.NodeID != NodeCreateApprove {
		t.Errorf("expected NodeError from %s, got %v", NodeCreateApprove, err)
	}

	snap, err := engine.GetState(ctx, "dup")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if !reflect.DeepEqual(snap.Next, []string{NodeCreateApprove}) || snap.Status != store.StatusRunning {
		t.Errorf("cursor = %v %s", snap.Next, snap.Status)
	}
}

func TestFeedbackButtons(t *testing.T) {
	text, err := FeedbackButtons("abc")
	if err != nil {
		t.Fatalf("FeedbackButtons: %v", err)
	}
	var buttons []Button
	if err := json.Unmarshal([]byte(text), &buttons); err != nil {
		t.Fatalf("render configs are not JSON: %v", err)
	}
	if len(buttons) != 2 {
		t.Fatalf("got %d buttons", len(buttons))
	}
	if buttons[0].Data.SubmitURL != "/lg_message/feedback/abc/Y" || buttons[0].Data.Type != "primary" {
		t.Errorf("approve button = %+v", buttons[0])
	}
	if buttons[1].Data.SubmitURL != "/lg_message/feedback/abc/N" {
		t.Errorf("reject button = %+v", buttons[1])
	}
}
