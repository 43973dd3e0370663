// Package records persists the business entities the approval workflow
// creates and updates: expense approvals (lg_approve) and the notification
// messages that ask a manager to decide on them (lg_message).
//
// Every operation runs in its own transaction. Records are created once and
// then updated by id; nothing here knows about graphs or threads.
package records

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when inserting a record whose id already exists.
var ErrDuplicate = errors.New("record already exists")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("record store is closed")

// Approval statuses.
const (
	ApprovalPending  = "pending_approval"
	ApprovalAccepted = "accept_approval"
	ApprovalRejected = "reject_approval"
)

// Message statuses.
const (
	MessagePending   = "pending"
	MessageProceeded = "proceeded"
)

// Base holds the columns every business table carries.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by,omitempty"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// Approval is an expense approval ticket.
type Approval struct {
	Base
	Status        string `json:"status"`
	Remarks       string `json:"remarks"`
	ResultContent string `json:"result_content"`
}

// Message is a notification shown to the approver. RenderConfigs is the JSON
// text of the buttons the client renders.
type Message struct {
	Base
	Title         string `json:"title"`
	Status        string `json:"status"`
	Content       string `json:"content"`
	RenderConfigs string `json:"render_configs"`
}
