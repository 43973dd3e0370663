package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dshills/langgraph-hitl/graph"
	"github.com/dshills/langgraph-hitl/graph/model"
	"github.com/dshills/langgraph-hitl/graph/store"
	"github.com/dshills/langgraph-hitl/records"
)

// InterruptKey is the reserved response field listing pending interrupts.
const InterruptKey = "__interrupt__"

// interruptView is the wire form of a pending interrupt.
type interruptView struct {
	Value any    `json:"value"`
	ID    string `json:"id"`
}

func interruptViews(interrupts []store.Interrupt) []interruptView {
	out := make([]interruptView, 0, len(interrupts))
	for _, in := range interrupts {
		out = append(out, interruptView{Value: in.Value, ID: in.ID})
	}
	return out
}

// stateResponse merges the state fields with the interrupt list.
func stateResponse(state graph.State, interrupts []store.Interrupt) map[string]any {
	out := make(map[string]any, len(state)+1)
	for k, v := range state {
		out[k] = v
	}
	out[InterruptKey] = interruptViews(interrupts)
	return out
}

func resultResponse(res *graph.Result) map[string]any {
	return stateResponse(res.State, res.Interrupts)
}

func snapshotResponse(snap *graph.Snapshot) map[string]any {
	return stateResponse(snap.Values, snap.Interrupts)
}

// snapshotView is the full snapshot returned by get_state_snapshot.
type snapshotView struct {
	Values       graph.State     `json:"values"`
	Next         []string        `json:"next"`
	Config       snapshotConfig  `json:"config"`
	Metadata     map[string]any  `json:"metadata"`
	CreatedAt    *time.Time      `json:"created_at"`
	ParentConfig *snapshotConfig `json:"parent_config"`
	Interrupts   []interruptView `json:"interrupts"`
}

type snapshotConfig struct {
	Configurable configurable `json:"configurable"`
}

type configurable struct {
	ThreadID     string `json:"thread_id"`
	CheckpointID int    `json:"checkpoint_id,omitempty"`
}

func newSnapshotView(snap *graph.Snapshot) snapshotView {
	v := snapshotView{
		Values:     snap.Values,
		Next:       snap.Next,
		Config:     snapshotConfig{Configurable: configurable{ThreadID: snap.ThreadID, CheckpointID: snap.Version}},
		Metadata:   map[string]any{},
		Interrupts: interruptViews(snap.Interrupts),
	}
	if !snap.Exists() {
		return v
	}
	v.Metadata = map[string]any{
		"step":   snap.Version,
		"source": snap.Node,
		"status": string(snap.Status),
	}
	created := snap.CreatedAt
	v.CreatedAt = &created
	if snap.ParentVersion > 0 {
		v.ParentConfig = &snapshotConfig{Configurable: configurable{ThreadID: snap.ThreadID, CheckpointID: snap.ParentVersion}}
	}
	return v
}

// chatMessage is the wire form of a conversation message. Type uses the
// client's vocabulary: human, ai, tool or system.
type chatMessage struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Content    string           `json:"content"`
	ToolCalls  []model.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

var roleToType = map[string]string{
	model.RoleUser:      "human",
	model.RoleAssistant: "ai",
	model.RoleTool:      "tool",
	model.RoleSystem:    "system",
}

func chatMessages(msgs []model.Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, chatMessage{
			ID:         m.ID,
			Type:       roleToType[m.Role],
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the JSON body of every failed request.
type errorBody struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// errBadRequest marks malformed client input.
var errBadRequest = errors.New("bad request")

func badRequest(msg string) error {
	return &graph.EngineError{Message: msg, Code: "BAD_REQUEST", Err: errBadRequest}
}

// writeError maps err to a status code:
//
//	409 resume without a pending interrupt, or run on a suspended thread
//	400 malformed input
//	422 business rejections from the record store
//	503 checkpoint store unavailable
//	500 anything else
func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	var engErr *graph.EngineError
	if errors.As(err, &engErr) {
		body.Code = engErr.Code
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, graph.ErrInvalidResumeState), errors.Is(err, graph.ErrThreadInterrupted):
		status = http.StatusConflict
	case errors.Is(err, errBadRequest), errors.Is(err, graph.ErrInvalidThreadID):
		status = http.StatusBadRequest
	case errors.Is(err, records.ErrDuplicate), errors.Is(err, records.ErrNotFound):
		status = http.StatusUnprocessableEntity
		body.Code = "BUSINESS_RULE"
	case body.Code == "STORE_ERROR":
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}
