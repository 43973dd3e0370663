package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/dshills/langgraph-hitl/graph/model"
	"github.com/dshills/langgraph-hitl/workflow"
)

// ThreadHeader carries the thread id generated by submit.
const ThreadHeader = "X-Thread-Id"

type submitRequest struct {
	Remarks string `json:"remarks"`
}

// approveSubmit starts an expense approval on a new thread.
func (a *API) approveSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest("invalid JSON body"))
		return
	}
	if strings.TrimSpace(req.Remarks) == "" {
		writeError(w, badRequest("remarks is required"))
		return
	}

	threadID := a.newID()
	res, err := a.engines.Approval.Run(r.Context(), threadID, workflow.ApprovalInput(req.Remarks))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set(ThreadHeader, threadID)
	writeJSON(w, http.StatusOK, resultResponse(res))
}

// messageFeedback resumes an approval with the manager's Y/N decision.
func (a *API) messageFeedback(w http.ResponseWriter, r *http.Request) {
	flag := r.PathValue("approve_flag")
	if flag != "Y" && flag != "N" {
		writeError(w, badRequest("approve_flag must be Y or N"))
		return
	}
	res, err := a.engines.Approval.Resume(r.Context(), r.PathValue("thread_id"), flag)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse(res))
}

// approveContinue retries an approval that stopped on a failed step, from
// the step that failed.
func (a *API) approveContinue(w http.ResponseWriter, r *http.Request) {
	res, err := a.engines.Approval.Continue(r.Context(), r.PathValue("thread_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse(res))
}

func threadParam(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.URL.Query().Get("thread_id"))
	if id == "" {
		return "", badRequest("thread_id is required")
	}
	return id, nil
}

func (a *API) demoInvoke(w http.ResponseWriter, r *http.Request) {
	threadID, err := threadParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := a.engines.Demo.Run(r.Context(), threadID, workflow.DemoInput(threadID))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse(res))
}

func (a *API) demoGetState(w http.ResponseWriter, r *http.Request) {
	threadID, err := threadParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := a.engines.Demo.GetState(r.Context(), threadID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse(snap))
}

func (a *API) demoGetStateSnapshot(w http.ResponseWriter, r *http.Request) {
	threadID, err := threadParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := a.engines.Demo.GetState(r.Context(), threadID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSnapshotView(snap))
}

// demoHistory lists the thread's checkpoints, newest first.
func (a *API) demoHistory(w http.ResponseWriter, r *http.Request) {
	threadID, err := threadParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			writeError(w, badRequest("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	snaps, err := a.engines.Demo.History(r.Context(), threadID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]snapshotView, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, newSnapshotView(snap))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) demoApproveSubmit(w http.ResponseWriter, r *http.Request) {
	threadID, err := threadParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := a.engines.DemoApproval.Run(r.Context(), threadID, workflow.DemoInput(threadID))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse(res))
}

func (a *API) demoApproveState(w http.ResponseWriter, r *http.Request) {
	threadID, err := threadParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := a.engines.DemoApproval.GetState(r.Context(), threadID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse(snap))
}

func (a *API) demoApproveResume(w http.ResponseWriter, r *http.Request) {
	threadID, err := threadParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	decision := r.URL.Query().Get("is_approve")
	if decision != "Y" && decision != "N" {
		writeError(w, badRequest("is_approve must be Y or N"))
		return
	}
	res, err := a.engines.DemoApproval.Resume(r.Context(), threadID, decision)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse(res))
}

type chatRequest struct {
	ThreadID     string      `json:"thread_id"`
	HumanMessage chatMessage `json:"human_message"`
}

type chatResumeRequest struct {
	ResumeData any `json:"resume_data"`
}

func chatResponse(res *workflow.ChatResult) map[string]any {
	return map[string]any{
		"messages":   chatMessages(res.Messages),
		InterruptKey: interruptViews(res.Interrupts),
	}
}

func (a *API) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest("invalid JSON body"))
		return
	}
	if strings.TrimSpace(req.ThreadID) == "" {
		writeError(w, badRequest("thread_id is required"))
		return
	}
	if strings.TrimSpace(req.HumanMessage.Content) == "" {
		writeError(w, badRequest("human_message.content is required"))
		return
	}

	msg := model.UserMessage(req.HumanMessage.Content)
	if req.HumanMessage.ID != "" {
		msg.ID = req.HumanMessage.ID
	}
	res, err := a.engines.Chat.Chat(r.Context(), req.ThreadID, msg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse(res))
}

func (a *API) chatResume(w http.ResponseWriter, r *http.Request) {
	var req chatResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest("invalid JSON body"))
		return
	}
	res, err := a.engines.Chat.ChatResume(r.Context(), r.PathValue("thread_id"), req.ResumeData)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse(res))
}

func (a *API) chatState(w http.ResponseWriter, r *http.Request) {
	res, err := a.engines.Chat.ChatState(r.Context(), r.PathValue("thread_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse(res))
}
