package task

import (
	"time"

	"github.com/sajilotask/sajilo/internal/user"
)

type Status string

const (
	StatusPosted     Status = "posted"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusPaid       Status = "paid"
	StatusRefunded   Status = "refunded"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further lifecycle transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusRefunded || s == StatusCancelled
}

// Assigned reports whether the status requires assignedTaskerID to be set.
func (s Status) Assigned() bool {
	switch s {
	case StatusAccepted, StatusInProgress, StatusCompleted, StatusPaid:
		return true
	}
	return false
}

func ValidStatus(s Status) bool {
	switch s {
	case StatusPosted, StatusAccepted, StatusInProgress, StatusCompleted,
		StatusPaid, StatusRefunded, StatusCancelled:
		return true
	}
	return false
}

// AllowedTier gates which taskers may see or accept a task.
type AllowedTier string

const (
	TierAll AllowedTier = "all"
	TierPro AllowedTier = "pro"
)

// VisibleTo reports whether a tasker of the given tier may see the task.
// Pro taskers see everything; others see only "all" tasks.
func (t AllowedTier) VisibleTo(tier user.Tier) bool {
	return t == TierAll || tier == user.TierPro
}

type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
)

// Offer is a tasker's counter-proposal, owned by exactly one task. Offers
// are never deleted, only status-transitioned.
type Offer struct {
	ID            string      `yaml:"id" json:"id"`
	TaskerID      string      `yaml:"tasker_id" json:"taskerId"`
	ProposedPrice int64       `yaml:"proposed_price" json:"proposedPrice"`
	Message       string      `yaml:"message,omitempty" json:"message,omitempty"`
	Status        OfferStatus `yaml:"status" json:"status"`
	CreatedAt     time.Time   `yaml:"created_at" json:"createdAt"`
}

type ExpenseStatus string

const (
	ExpensePending  ExpenseStatus = "pending"
	ExpenseApproved ExpenseStatus = "approved"
	ExpenseRejected ExpenseStatus = "rejected"
)

type Expense struct {
	ID          string        `yaml:"id" json:"id"`
	Description string        `yaml:"description" json:"description"`
	Amount      int64         `yaml:"amount" json:"amount"`
	ReceiptURL  string        `yaml:"receipt_url,omitempty" json:"receiptUrl,omitempty"`
	Status      ExpenseStatus `yaml:"status" json:"status"`
	SubmittedAt time.Time     `yaml:"submitted_at" json:"submittedAt"`
	ReviewedAt  *time.Time    `yaml:"reviewed_at,omitempty" json:"reviewedAt,omitempty"`
}

type Frequency string

const (
	FreqDaily    Frequency = "daily"
	FreqWeekly   Frequency = "weekly"
	FreqBiweekly Frequency = "biweekly"
	FreqMonthly  Frequency = "monthly"
)

type RecurringConfig struct {
	Frequency      Frequency  `yaml:"frequency" json:"frequency"`
	DayOfWeek      int        `yaml:"day_of_week" json:"dayOfWeek"` // 0=Sunday
	TimeOfDay      string     `yaml:"time_of_day" json:"timeOfDay"` // "HH:MM"
	EndDate        *time.Time `yaml:"end_date,omitempty" json:"endDate,omitempty"`
	NextOccurrence *time.Time `yaml:"next_occurrence,omitempty" json:"nextOccurrence,omitempty"`
}

type Location struct {
	Lat float64 `yaml:"lat" json:"lat"`
	Lng float64 `yaml:"lng" json:"lng"`
}

type Task struct {
	ID             string      `yaml:"id" json:"id"`
	RequesterID    string      `yaml:"requester_id" json:"requesterId"`
	Title          string      `yaml:"title" json:"title"`
	Description    string      `yaml:"description,omitempty" json:"description,omitempty"`
	CategoryID     string      `yaml:"category_id" json:"categoryId"`
	CategoryName   string      `yaml:"category_name,omitempty" json:"categoryName,omitempty"`
	Price          int64       `yaml:"price" json:"price"`
	DurationMin    int         `yaml:"duration_min,omitempty" json:"durationMin,omitempty"`
	ActualDuration int         `yaml:"actual_duration,omitempty" json:"actualDuration,omitempty"`
	RequiredSkills []string    `yaml:"required_skills,omitempty" json:"requiredSkills,omitempty"`
	BiddingEnabled bool        `yaml:"bidding_enabled" json:"biddingEnabled"`
	QuickAccept    bool        `yaml:"quick_accept" json:"quickAccept"`
	AllowedTier    AllowedTier `yaml:"allowed_tier" json:"allowedTier"`

	IsScheduled    bool       `yaml:"is_scheduled" json:"isScheduled"`
	ScheduledFor   *time.Time `yaml:"scheduled_for,omitempty" json:"scheduledFor,omitempty"`
	BidWindowEndsAt *time.Time `yaml:"bid_window_ends_at,omitempty" json:"bidWindowEndsAt,omitempty"`

	IsRecurring     bool             `yaml:"is_recurring" json:"isRecurring"`
	RecurringConfig *RecurringConfig `yaml:"recurring_config,omitempty" json:"recurringConfig,omitempty"`
	ParentTaskID    string           `yaml:"parent_task_id,omitempty" json:"parentTaskId,omitempty"`

	Offers        []Offer   `yaml:"offers,omitempty" json:"offers,omitempty"`
	Expenses      []Expense `yaml:"expenses,omitempty" json:"expenses,omitempty"`
	TotalExpenses int64     `yaml:"total_expenses" json:"totalExpenses"`

	Status           Status   `yaml:"status" json:"status"`
	Location         Location `yaml:"location" json:"location"`
	RadiusKm         float64  `yaml:"radius_km" json:"radiusKm"`
	AssignedTaskerID string   `yaml:"assigned_tasker_id,omitempty" json:"assignedTaskerId,omitempty"`

	EscrowRef  string `yaml:"escrow_ref,omitempty" json:"escrowRef,omitempty"`
	EscrowHeld bool   `yaml:"escrow_held" json:"escrowHeld"`
	ProofURL   string `yaml:"proof_url,omitempty" json:"proofUrl,omitempty"`
	Rating     int    `yaml:"rating,omitempty" json:"rating,omitempty"`

	CreatedAt   time.Time  `yaml:"created_at" json:"createdAt"`
	AcceptedAt  *time.Time `yaml:"accepted_at,omitempty" json:"acceptedAt,omitempty"`
	StartedAt   *time.Time `yaml:"started_at,omitempty" json:"startedAt,omitempty"`
	CompletedAt *time.Time `yaml:"completed_at,omitempty" json:"completedAt,omitempty"`
}

// FindOffer returns a pointer into the task's offer slice, or nil.
func (t *Task) FindOffer(offerID string) *Offer {
	for i := range t.Offers {
		if t.Offers[i].ID == offerID {
			return &t.Offers[i]
		}
	}
	return nil
}

// PendingOfferBy reports whether the tasker already holds a pending offer.
func (t *Task) PendingOfferBy(taskerID string) bool {
	for _, o := range t.Offers {
		if o.TaskerID == taskerID && o.Status == OfferPending {
			return true
		}
	}
	return false
}

// ClearAssignment resets the fields set by acceptance. Used by the reclaim
// edge (accepted/in_progress back to posted).
func (t *Task) ClearAssignment() {
	t.AssignedTaskerID = ""
	t.AcceptedAt = nil
	t.StartedAt = nil
	t.CompletedAt = nil
	t.ProofURL = ""
	t.ActualDuration = 0
}

// IsParty reports whether the user is the requester or the assigned tasker.
func (t *Task) IsParty(userID string) bool {
	return t.RequesterID == userID || t.AssignedTaskerID == userID
}
