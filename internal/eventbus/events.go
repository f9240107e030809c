package eventbus

import "time"

// Type names a lifecycle event on the bus.
type Type string

const (
	TypeTaskPosted      Type = "task_posted"
	TypeTaskAssigned    Type = "task_assigned"
	TypeTaskStarted     Type = "task_started"
	TypeTaskCompleted   Type = "task_completed"
	TypeTaskPaid        Type = "task_paid"
	TypeTaskRefunded    Type = "task_refunded"
	TypeTaskCancelled   Type = "task_cancelled"
	TypeOfferReceived   Type = "offer_received"
	TypeOfferAccepted   Type = "offer_accepted"
	TypeOfferRejected   Type = "offer_rejected"
	TypeTaskerLocation  Type = "tasker_location"
	TypeExpenseSubmit   Type = "expense_submitted"
	TypeExpenseReviewed Type = "expense_reviewed"
)

// Payload schemas, one fixed shape per event type.

type TaskPostedPayload struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Price        int64   `json:"price"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	CategoryID   string  `json:"categoryId"`
	CategoryName string  `json:"categoryName,omitempty"`
	IsScheduled  bool    `json:"isScheduled,omitempty"`
}

type TaskAssignedPayload struct {
	TaskID           string `json:"taskId"`
	AssignedTaskerID string `json:"assignedTaskerId"`
}

type TaskStartedPayload struct {
	TaskID string `json:"taskId"`
}

type TaskCompletedPayload struct {
	TaskID string `json:"taskId"`
}

type TaskPaidPayload struct {
	TaskID   string `json:"taskId"`
	TaskerID string `json:"taskerId"`
}

type TaskRefundedPayload struct {
	TaskID      string `json:"taskId"`
	RequesterID string `json:"requesterId"`
}

type TaskCancelledPayload struct {
	TaskID   string `json:"taskId"`
	Reposted bool   `json:"reposted"`
	Auto     bool   `json:"auto"`
}

type OfferPayload struct {
	TaskID        string `json:"taskId"`
	OfferID       string `json:"offerId"`
	TaskerID      string `json:"taskerId"`
	ProposedPrice int64  `json:"proposedPrice"`
	Message       string `json:"message,omitempty"`
}

type TaskerLocationPayload struct {
	TaskID    string    `json:"taskId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Heading   float64   `json:"heading"`
	Timestamp time.Time `json:"timestamp"`
}

type ExpensePayload struct {
	TaskID      string `json:"taskId"`
	ExpenseID   string `json:"expenseId"`
	Description string `json:"description,omitempty"`
	Amount      int64  `json:"amount,omitempty"`
	Approved    *bool  `json:"approved,omitempty"`
}
