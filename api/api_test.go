package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/dshills/langgraph-hitl/graph"
	"github.com/dshills/langgraph-hitl/graph/model"
	"github.com/dshills/langgraph-hitl/graph/store"
	"github.com/dshills/langgraph-hitl/graph/tool"
	"github.com/dshills/langgraph-hitl/records"
	"github.com/dshills/langgraph-hitl/workflow"
)

type fixedRand struct{}

func (fixedRand) IntN(int) int { return 1 }

func mustEngine(t *testing.T, g *graph.Graph, err error, stores store.Provider) *graph.Engine {
	t.Helper()
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	engine, err := graph.New(g, stores)
	if err != nil {
		t.Fatalf("graph.New: %v", err)
	}
	return engine
}

func bookingModel() *model.MockChatModel {
	return &model.MockChatModel{Respond: func(msgs []model.Message, _ []model.ToolSpec) (model.ChatOut, error) {
		last := msgs[len(msgs)-1]
		if last.Role == model.RoleTool {
			return model.ChatOut{Text: "好的：" + last.Content}, nil
		}
		return model.ChatOut{ToolCalls: []model.ToolCall{{
			ID:    "call-1",
			Name:  workflow.ToolBookHotel,
			Input: map[string]any{"hotel_name": "Hilton", "room_type": "标间", "check_in_date": "2026-10-20"},
		}}}, nil
	}}
}

// newTestServer serves every workflow on one in-memory checkpoint store.
func newTestServer(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	stores := store.Static(store.NewMemStore())

	recs, err := records.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("records.Open: %v", err)
	}
	t.Cleanup(func() { _ = recs.Close() })

	approvalGraph, err := workflow.NewApprovalGraph(recs)
	approval := mustEngine(t, approvalGraph, err, stores)
	demoGraph, err := workflow.NewDemoGraph(fixedRand{})
	demo := mustEngine(t, demoGraph, err, stores)
	demoApprovalGraph, err := workflow.NewDemoApprovalGraph(fixedRand{})
	demoApproval := mustEngine(t, demoApprovalGraph, err, stores)

	registry, err := tool.NewRegistry(workflow.BookHotel(), workflow.GetDatetime(nil))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	chatGraph, err := workflow.NewChatGraph(bookingModel(), registry)
	chat := mustEngine(t, chatGraph, err, stores)

	ids := 0
	opts = append([]Option{WithIDGenerator(func() string {
		ids++
		return "thread-" + string(rune('0'+ids))
	})}, opts...)

	a := New(Engines{
		Approval:     approval,
		Demo:         demo,
		DemoApproval: demoApproval,
		Chat:         workflow.NewChatAgent(chat),
	}, opts...)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body any) (int, http.Header, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s %s: %v", method, url, err)
	}
	return resp.StatusCode, resp.Header, out
}

func interrupts(t *testing.T, body map[string]any) []any {
	t.Helper()
	list, ok := body[InterruptKey].([]any)
	if !ok {
		t.Fatalf("response lacks %s: %v", InterruptKey, body)
	}
	return list
}

func TestApprovalRoutes(t *testing.T) {
	srv := newTestServer(t)

	status, header, body := do(t, http.MethodPost, srv.URL+"/lg_approve/submit", map[string]string{"remarks": "taxi 120"})
	if status != http.StatusOK {
		t.Fatalf("submit status = %d: %v", status, body)
	}
	thread := header.Get(ThreadHeader)
	if thread != "thread-1" {
		t.Errorf("thread header = %q", thread)
	}
	pending := interrupts(t, body)
	if len(pending) != 1 {
		t.Fatalf("expected one interrupt, got %v", pending)
	}
	in := pending[0].(map[string]any)
	if id, _ := in["id"].(string); len(id) != 32 {
		t.Errorf("interrupt id = %v", in["id"])
	}
	if logs, _ := body["log_list"].([]any); len(logs) != 2 {
		t.Errorf("log_list = %v", body["log_list"])
	}

	status, _, body = do(t, http.MethodGet, srv.URL+"/lg_message/feedback/"+thread+"/Y", nil)
	if status != http.StatusOK {
		t.Fatalf("feedback status = %d: %v", status, body)
	}
	if body["approve_flag"] != true || len(interrupts(t, body)) != 0 {
		t.Errorf("after feedback: %v", body)
	}
	approve, _ := body["approve"].(map[string]any)
	if approve["status"] != records.ApprovalAccepted {
		t.Errorf("approve = %v", approve)
	}

	status, _, body = do(t, http.MethodGet, srv.URL+"/lg_message/feedback/"+thread+"/N", nil)
	if status != http.StatusConflict || body["code"] != "INVALID_RESUME" {
		t.Errorf("second feedback = %d %v", status, body)
	}
}

func TestApprovalRoutes_BadInput(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"missing remarks", http.MethodPost, "/lg_approve/submit", map[string]string{}},
		{"bad flag", http.MethodGet, "/lg_message/feedback/t/maybe", nil},
		{"missing thread", http.MethodGet, "/langgraph/invoke", nil},
		{"bad limit", http.MethodGet, "/langgraph/history?thread_id=x&limit=-1", nil},
		{"bad decision", http.MethodGet, "/lg/approve/resume?thread_id=x&is_approve=ok", nil},
		{"empty chat", http.MethodPost, "/langgraph/chat", map[string]any{"thread_id": "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _, body := do(t, tt.method, srv.URL+tt.path, tt.body)
			if status != http.StatusBadRequest || body["ok"] != false {
				t.Errorf("status = %d, body = %v", status, body)
			}
		})
	}
}

func TestDemoRoutes(t *testing.T) {
	srv := newTestServer(t)

	status, _, body := do(t, http.MethodGet, srv.URL+"/langgraph/invoke?thread_id=T", nil)
	if status != http.StatusOK {
		t.Fatalf("invoke = %d %v", status, body)
	}
	want := []any{"initial:T", "node_1:1", "node_2:101", "node_3:301"}
	if !reflect.DeepEqual(body["name_list"], want) {
		t.Errorf("name_list = %v", body["name_list"])
	}
	if len(interrupts(t, body)) != 0 {
		t.Error("demo should not suspend")
	}

	_, _, state := do(t, http.MethodGet, srv.URL+"/langgraph/get_state?thread_id=T", nil)
	if !reflect.DeepEqual(state, body) {
		t.Errorf("get_state = %v, invoke = %v", state, body)
	}

	_, _, snap := do(t, http.MethodGet, srv.URL+"/langgraph/get_state_snapshot?thread_id=T", nil)
	cfg, _ := snap["config"].(map[string]any)
	conf, _ := cfg["configurable"].(map[string]any)
	if conf["thread_id"] != "T" {
		t.Errorf("snapshot config = %v", snap["config"])
	}
	if next, _ := snap["next"].([]any); len(next) != 0 {
		t.Errorf("finished thread has next = %v", next)
	}
	meta, _ := snap["metadata"].(map[string]any)
	if meta["source"] != "node_3" || meta["status"] != "done" {
		t.Errorf("metadata = %v", meta)
	}

	_, _, fresh := do(t, http.MethodGet, srv.URL+"/langgraph/get_state?thread_id=nobody", nil)
	if len(fresh) != 1 || len(interrupts(t, fresh)) != 0 {
		t.Errorf("unknown thread = %v", fresh)
	}
}

func TestDemoHistory(t *testing.T) {
	srv := newTestServer(t)
	do(t, http.MethodGet, srv.URL+"/langgraph/invoke?thread_id=H", nil)

	resp, err := http.Get(srv.URL + "/langgraph/history?thread_id=H&limit=2")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var snaps []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&snaps); err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 {
		t.Fatalf("history = %v", snaps)
	}
	if snaps[0]["metadata"].(map[string]any)["source"] != "node_3" {
		t.Errorf("newest first expected, got %v", snaps[0]["metadata"])
	}
}

func TestDemoApprovalRoutes_SameInterruptShape(t *testing.T) {
	srv := newTestServer(t)

	_, _, submitted := do(t, http.MethodGet, srv.URL+"/lg/approve/submit?thread_id=D", nil)
	_, _, polled := do(t, http.MethodGet, srv.URL+"/lg/approve/state?thread_id=D", nil)
	_, _, again := do(t, http.MethodGet, srv.URL+"/lg/approve/state?thread_id=D", nil)

	if len(interrupts(t, submitted)) != 1 {
		t.Fatalf("submit interrupts = %v", submitted[InterruptKey])
	}
	if !reflect.DeepEqual(submitted[InterruptKey], polled[InterruptKey]) {
		t.Errorf("submit %v != state %v", submitted[InterruptKey], polled[InterruptKey])
	}
	if !reflect.DeepEqual(polled, again) {
		t.Errorf("state reads differ: %v vs %v", polled, again)
	}

	status, _, done := do(t, http.MethodGet, srv.URL+"/lg/approve/resume?thread_id=D&is_approve=Y", nil)
	if status != http.StatusOK {
		t.Fatalf("resume = %d %v", status, done)
	}
	names, _ := done["name_list"].([]any)
	if len(names) != 4 || !strings.HasSuffix(names[2].(string), "✅通过") {
		t.Errorf("name_list = %v", names)
	}
}

func TestChatRoutes(t *testing.T) {
	srv := newTestServer(t)

	status, _, body := do(t, http.MethodPost, srv.URL+"/langgraph/chat", map[string]any{
		"thread_id":     "C",
		"human_message": map[string]string{"id": "h1", "type": "human", "content": "帮我订酒店"},
	})
	if status != http.StatusOK {
		t.Fatalf("chat = %d %v", status, body)
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 1 || msgs[0].(map[string]any)["type"] != "ai" {
		t.Errorf("chat messages = %v", msgs)
	}
	pending := interrupts(t, body)
	if len(pending) != 1 {
		t.Fatalf("chat interrupts = %v", pending)
	}
	form := pending[0].(map[string]any)["value"].(map[string]any)
	if form["title"] != "请确认酒店预定信息" {
		t.Errorf("form = %v", form)
	}

	_, _, state := do(t, http.MethodGet, srv.URL+"/langgraph/chat_state/C", nil)
	history, _ := state["messages"].([]any)
	if len(history) != 2 {
		t.Fatalf("chat_state messages = %v", history)
	}
	first := history[0].(map[string]any)
	if first["type"] != "human" || first["id"] != "h1" {
		t.Errorf("human message = %v", first)
	}
	if !reflect.DeepEqual(state[InterruptKey], body[InterruptKey]) {
		t.Errorf("chat_state interrupts differ")
	}

	status, _, resumed := do(t, http.MethodPost, srv.URL+"/langgraph/chat_resume/C", map[string]any{
		"resume_data": map[string]string{"hotel_name": "Hilton", "room_type": "双人间", "check_in_date": "2026-10-20"},
	})
	if status != http.StatusOK {
		t.Fatalf("chat_resume = %d %v", status, resumed)
	}
	msgs, _ = resumed["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("resume messages = %v", msgs)
	}
	toolMsg := msgs[0].(map[string]any)
	if toolMsg["type"] != "tool" || !strings.Contains(toolMsg["content"].(string), "room_type=双人间") {
		t.Errorf("tool message = %v", toolMsg)
	}
	if len(interrupts(t, resumed)) != 0 {
		t.Error("resume should finish the booking")
	}

	_, _, empty := do(t, http.MethodGet, srv.URL+"/langgraph/chat_state/unknown", nil)
	if list, ok := empty["messages"].([]any); !ok || len(list) != 0 {
		t.Errorf("unknown conversation = %v", empty)
	}
}

type rejectingRecords struct {
	workflow.Records
}

func (rejectingRecords) CreateApproval(context.Context, records.Approval) (records.Approval, error) {
	return records.Approval{}, records.ErrDuplicate
}

// failOnceRecords fails the first CreateMessage and delegates otherwise.
type failOnceRecords struct {
	*records.Store
	failed bool
}

func (f *failOnceRecords) CreateMessage(ctx context.Context, m records.Message) (records.Message, error) {
	if !f.failed {
		f.failed = true
		return records.Message{}, errors.New("lost connection to MySQL server")
	}
	return f.Store.CreateMessage(ctx, m)
}

func TestApprovalContinueAfterFailedStep(t *testing.T) {
	recs, err := records.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("records.Open: %v", err)
	}
	defer func() { _ = recs.Close() }()

	g, err := workflow.NewApprovalGraph(&failOnceRecords{Store: recs})
	approval := mustEngine(t, g, err, store.Static(store.NewMemStore()))
	srv := httptest.NewServer(New(Engines{Approval: approval},
		WithIDGenerator(func() string { return "retry-1" })).Handler())
	defer srv.Close()

	status, _, body := do(t, http.MethodPost, srv.URL+"/lg_approve/submit", map[string]string{"remarks": "hotel 300"})
	if status != http.StatusInternalServerError {
		t.Fatalf("submit = %d %v", status, body)
	}

	status, _, body = do(t, http.MethodPost, srv.URL+"/lg_approve/continue/retry-1", nil)
	if status != http.StatusOK {
		t.Fatalf("continue = %d %v", status, body)
	}
	if len(interrupts(t, body)) != 1 {
		t.Errorf("continue should reach the approval wait: %v", body)
	}
	if logs, _ := body["log_list"].([]any); len(logs) != 2 {
		t.Errorf("log_list = %v", body["log_list"])
	}

	status, _, body = do(t, http.MethodPost, srv.URL+"/lg_approve/continue/retry-1", nil)
	if status != http.StatusConflict {
		t.Errorf("continue on a suspended thread = %d %v", status, body)
	}

	status, _, body = do(t, http.MethodGet, srv.URL+"/lg_message/feedback/retry-1/Y", nil)
	if status != http.StatusOK || body["approve_flag"] != true {
		t.Errorf("feedback = %d %v", status, body)
	}
}

type downProvider struct{}

func (downProvider) Get(context.Context) (store.Store, error) {
	return nil, errors.New("connection refused")
}

func TestErrorMapping(t *testing.T) {
	g, err := workflow.NewApprovalGraph(rejectingRecords{})
	rejecting := mustEngine(t, g, err, store.Static(store.NewMemStore()))
	demoGraph, err := workflow.NewDemoGraph(nil)
	down := mustEngine(t, demoGraph, err, downProvider{})

	srv := httptest.NewServer(New(Engines{Approval: rejecting, Demo: down}).Handler())
	defer srv.Close()

	status, _, body := do(t, http.MethodPost, srv.URL+"/lg_approve/submit", map[string]string{"remarks": "dup"})
	if status != http.StatusUnprocessableEntity || body["ok"] != false || body["code"] != "BUSINESS_RULE" {
		t.Errorf("business rejection = %d %v", status, body)
	}

	status, _, body = do(t, http.MethodGet, srv.URL+"/langgraph/invoke?thread_id=x", nil)
	if status != http.StatusServiceUnavailable || body["code"] != "STORE_ERROR" {
		t.Errorf("store down = %d %v", status, body)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	healthy := true
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"metrics": true})
	})
	srv := newTestServer(t,
		WithHealthCheck(func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("db down")
		}),
		WithMetricsHandler(metrics),
	)

	if status, _, body := do(t, http.MethodGet, srv.URL+"/healthz", nil); status != http.StatusOK || body["ok"] != true {
		t.Errorf("healthz = %d %v", status, body)
	}
	healthy = false
	if status, _, _ := do(t, http.MethodGet, srv.URL+"/healthz", nil); status != http.StatusServiceUnavailable {
		t.Errorf("unhealthy healthz = %d", status)
	}
	if status, _, body := do(t, http.MethodGet, srv.URL+"/metrics", nil); status != http.StatusOK || body["metrics"] != true {
		t.Errorf("metrics = %d %v", status, body)
	}
}
