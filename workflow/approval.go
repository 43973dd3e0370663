// Package workflow holds the concrete graphs served over HTTP: the expense
// approval flow, the hotel-booking chat agent and two small demo graphs.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dshills/langgraph-hitl/graph"
	"github.com/dshills/langgraph-hitl/records"
)

// Approval graph node names.
const (
	NodeCreateApprove  = "node_create_approve"
	NodeCreateMessage  = "node_create_message"
	NodeWaitForApprove = "node_wait_for_approve"
	NodeApproveAccept  = "node_approve_accept"
	NodeApproveReject  = "node_approve_reject"
)

// Records is the data access the approval graph needs. *records.Store
// satisfies it.
type Records interface {
	CreateApproval(ctx context.Context, a records.Approval) (records.Approval, error)
	UpdateApprovalStatus(ctx context.Context, id, status, resultContent, actor string) (records.Approval, error)
	CreateMessage(ctx context.Context, m records.Message) (records.Message, error)
	UpdateMessageStatus(ctx context.Context, id, status, actor string) (records.Message, error)
}

// ApprovalSchema is the state of the approval graph.
//
//	input_remarks    remarks typed by the employee
//	approve          the lg_approve row, refreshed after every change
//	approve_flag     true once accepted, false once rejected
//	log_list         one line per node visit
//	lg_message_list  every lg_message row version written by the run
func ApprovalSchema() graph.Schema {
	return graph.NewSchema(
		graph.OverwriteField("input_remarks"),
		graph.OverwriteField("approve"),
		graph.OverwriteField("approve_flag"),
		graph.AppendField("log_list"),
		graph.AppendField("lg_message_list"),
	)
}

// ApprovalInput is the initial state for a submitted expense.
func ApprovalInput(remarks string) graph.State {
	return graph.State{"input_remarks": remarks}
}

// NewApprovalGraph builds the expense approval flow:
//
//	create approve -> create message -> wait for decision -> accept | reject
//
// The wait node suspends with an empty payload. Resuming it with "Y" accepts
// the expense, anything else rejects it. The message is marked proceeded
// after the resume, inside the same node.
func NewApprovalGraph(recs Records) (*graph.Graph, error) {
	a := &approval{recs: recs}
	return graph.NewBuilder("expense_approval", ApprovalSchema()).
		AddNode(NodeCreateApprove, graph.Ordinary(a.createApprove)).
		AddNode(NodeCreateMessage, graph.Ordinary(a.createMessage)).
		AddNode(NodeWaitForApprove, graph.Branching(a.waitForApprove, NodeApproveAccept, NodeApproveReject)).
		AddNode(NodeApproveAccept, graph.Ordinary(a.accept)).
		AddNode(NodeApproveReject, graph.Ordinary(a.reject)).
		AddEdge(graph.START, NodeCreateApprove).
		AddEdge(NodeCreateApprove, NodeCreateMessage).
		AddEdge(NodeCreateMessage, NodeWaitForApprove).
		AddEdge(NodeApproveAccept, graph.END).
		AddEdge(NodeApproveReject, graph.END).
		Compile()
}

type approval struct {
	recs Records
}

func (a *approval) createApprove(ctx context.Context, s graph.State) (graph.State, error) {
	remarks, err := graph.Get[string](s, "input_remarks")
	if err != nil {
		return nil, err
	}
	row, err := a.recs.CreateApproval(ctx, records.Approval{
		Status:        records.ApprovalPending,
		Remarks:       remarks,
		ResultContent: "待审批......",
	})
	if err != nil {
		return nil, fmt.Errorf("create approval: %w", err)
	}
	return graph.State{
		"approve":  row,
		"log_list": []string{fmt.Sprintf("node_create_approve：创建报销单[%s]", row.ID)},
	}, nil
}

func (a *approval) createMessage(ctx context.Context, s graph.State) (graph.State, error) {
	row, err := graph.Get[records.Approval](s, "approve")
	if err != nil {
		return nil, err
	}
	buttons, err := FeedbackButtons(graph.ThreadID(ctx))
	if err != nil {
		return nil, err
	}
	msg, err := a.recs.CreateMessage(ctx, records.Message{
		Title:         "您有一条报销单待审批。",
		Content:       "您的下属员工「XXX」提交了一份报销单，报销内容为：" + row.Remarks,
		Status:        records.MessagePending,
		RenderConfigs: buttons,
	})
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return graph.State{
		"log_list":        []string{"node_create_message：创建审批消息，待商机主管「XXX」审批"},
		"lg_message_list": []records.Message{msg},
	}, nil
}

// waitForApprove has no side effects before the interrupt, so replaying it
// on resume is safe.
func (a *approval) waitForApprove(ctx context.Context, s graph.State) (graph.State, string, error) {
	decision, err := graph.Interrupt(ctx, map[string]any{})
	if err != nil {
		return nil, "", err
	}

	var messages []records.Message
	if err := graph.Decode(s["lg_message_list"], &messages); err != nil {
		return nil, "", fmt.Errorf("decode lg_message_list: %w", err)
	}
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("no approval message to update")
	}
	updated, err := a.recs.UpdateMessageStatus(ctx, messages[len(messages)-1].ID, records.MessageProceeded, "")
	if err != nil {
		return nil, "", fmt.Errorf("update message: %w", err)
	}

	if decision == "Y" {
		return graph.State{
			"log_list":        []string{"node_wait_for_approve：主管审批通过"},
			"lg_message_list": []records.Message{updated},
		}, NodeApproveAccept, nil
	}
	return graph.State{
		"log_list":        []string{"node_wait_for_approve：主管审批拒绝"},
		"lg_message_list": []records.Message{updated},
	}, NodeApproveReject, nil
}

func (a *approval) accept(ctx context.Context, s graph.State) (graph.State, error) {
	return a.finish(ctx, s, records.ApprovalAccepted, "审批通过......", true, "node_approve_accept：审批通过，等待财务打款")
}

func (a *approval) reject(ctx context.Context, s graph.State) (graph.State, error) {
	return a.finish(ctx, s, records.ApprovalRejected, "审批拒绝......", false, "node_approve_reject：审批已经被拒绝")
}

func (a *approval) finish(ctx context.Context, s graph.State, status, result string, flag bool, logLine string) (graph.State, error) {
	row, err := graph.Get[records.Approval](s, "approve")
	if err != nil {
		return nil, err
	}
	updated, err := a.recs.UpdateApprovalStatus(ctx, row.ID, status, result, "")
	if err != nil {
		return nil, fmt.Errorf("update approval: %w", err)
	}
	return graph.State{
		"approve":      updated,
		"approve_flag": flag,
		"log_list":     []string{logLine},
	}, nil
}

// Button is one entry of a message's render_configs.
type Button struct {
	Type string     `json:"type"`
	Data ButtonData `json:"data"`
}

// ButtonData describes what a button shows and where it submits.
type ButtonData struct {
	Label     string `json:"label"`
	Type      string `json:"type,omitempty"`
	SubmitURL string `json:"submit_url"`
}

// FeedbackButtons renders the approve and reject buttons for threadID as the
// JSON text stored in render_configs.
func FeedbackButtons(threadID string) (string, error) {
	buttons := []Button{
		{Type: "button", Data: ButtonData{
			Label:     "审批通过",
			Type:      "primary",
			SubmitURL: fmt.Sprintf("/lg_message/feedback/%s/Y", threadID),
		}},
		{Type: "button", Data: ButtonData{
			Label:     "审批拒绝",
			SubmitURL: fmt.Sprintf("/lg_message/feedback/%s/N", threadID),
		}},
	}
	data, err := json.Marshal(buttons)
	if err != nil {
		return "", fmt.Errorf("encode render configs: %w", err)
	}
	return string(data), nil
}
