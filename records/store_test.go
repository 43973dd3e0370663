package records

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	st, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "records.db"), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStore_ApprovalLifecycle(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st := newTestStore(t, WithClock(func() time.Time { return clock }))

	created, err := st.CreateApproval(ctx, Approval{
		Base:          Base{CreatedBy: "employee"},
		Status:        ApprovalPending,
		Remarks:       "taxi 120",
		ResultContent: "待审批......",
	})
	if err != nil {
		t.Fatalf("CreateApproval: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}
	if !created.CreatedAt.Equal(clock) || created.UpdatedBy != "employee" {
		t.Errorf("base = %+v", created.Base)
	}

	clock = clock.Add(time.Hour)
	updated, err := st.UpdateApprovalStatus(ctx, created.ID, ApprovalAccepted, "审批通过......", "manager")
	if err != nil {
		t.Fatalf("UpdateApprovalStatus: %v", err)
	}
	if updated.Status != ApprovalAccepted || updated.ResultContent != "审批通过......" {
		t.Errorf("updated = %+v", updated)
	}
	if updated.Remarks != "taxi 120" {
		t.Errorf("remarks should be untouched, got %q", updated.Remarks)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) || !updated.UpdatedAt.Equal(clock) {
		t.Errorf("timestamps = %v / %v", updated.CreatedAt, updated.UpdatedAt)
	}
	if updated.UpdatedBy != "manager" {
		t.Errorf("UpdatedBy = %q", updated.UpdatedBy)
	}

	got, err := st.GetApproval(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetApproval: %v", err)
	}
	if got != updated {
		t.Errorf("GetApproval = %+v, want %+v", got, updated)
	}
}

func TestStore_MessageLifecycle(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	msg, err := st.CreateMessage(ctx, Message{
		Title:         "您有一条报销单待审批。",
		Status:        MessagePending,
		Content:       "remarks",
		RenderConfigs: `[{"type":"button"}]`,
	})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if msg.RenderConfigs != `[{"type":"button"}]` {
		t.Errorf("render configs = %q", msg.RenderConfigs)
	}

	done, err := st.UpdateMessageStatus(ctx, msg.ID, MessageProceeded, "")
	if err != nil {
		t.Fatalf("UpdateMessageStatus: %v", err)
	}
	if done.Status != MessageProceeded || done.Title != msg.Title {
		t.Errorf("updated message = %+v", done)
	}

	got, err := st.GetMessage(ctx, msg.ID)
	if err != nil || got.Status != MessageProceeded {
		t.Errorf("GetMessage = %+v, %v", got, err)
	}
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	if _, err := st.GetApproval(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetApproval: %v", err)
	}
	if _, err := st.UpdateApprovalStatus(ctx, "missing", ApprovalRejected, "", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateApprovalStatus: %v", err)
	}
	if _, err := st.GetMessage(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMessage: %v", err)
	}
	if _, err := st.UpdateMessageStatus(ctx, "missing", MessageProceeded, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateMessageStatus: %v", err)
	}
}

func TestStore_Duplicate(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	a := Approval{Base: Base{ID: "fixed"}, Status: ApprovalPending}
	if _, err := st.CreateApproval(ctx, a); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := st.CreateApproval(ctx, a); !errors.Is(err, ErrDuplicate) {
		t.Errorf("second insert: %v", err)
	}
}

func TestStore_Closed(t *testing.T) {
	st := newTestStore(t)
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := st.GetApproval(context.Background(), "x"); !errors.Is(err, ErrClosed) {
		t.Errorf("after Close: %v", err)
	}
	if err := st.Ping(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Ping after Close: %v", err)
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	if _, err := Open(context.Background(), "oracle", ""); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

// TestStore_MySQL runs against a real server.
//
//	export TEST_MYSQL_DSN="user:password@tcp(localhost:3306)/test_db"
func TestStore_MySQL(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("Skipping MySQL tests: TEST_MYSQL_DSN not set")
	}
	ctx := context.Background()
	st, err := Open(ctx, "mysql", dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = st.Close() }()

	a, err := st.CreateApproval(ctx, Approval{Status: ApprovalPending, Remarks: "mysql"})
	if err != nil {
		t.Fatalf("CreateApproval: %v", err)
	}
	if _, err := st.CreateApproval(ctx, a); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate insert: %v", err)
	}
	got, err := st.UpdateApprovalStatus(ctx, a.ID, ApprovalRejected, "审批拒绝......", "")
	if err != nil || got.Status != ApprovalRejected {
		t.Errorf("UpdateApprovalStatus = %+v, %v", got, err)
	}
}
