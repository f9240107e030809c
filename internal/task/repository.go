package task

import (
	"context"
	"time"
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Statuses       []Status
	RequesterID    string
	AssignedTasker string
	// EscrowHeld filters on the escrow flag when non-nil.
	EscrowHeld *bool
	// AcceptedBefore matches tasks whose acceptedAt is set and older than
	// the given instant.
	AcceptedBefore *time.Time
	// ScheduledDue matches isScheduled tasks whose scheduledFor has passed.
	ScheduledDue *time.Time
	// RecurringDue matches isRecurring tasks whose nextOccurrence has
	// passed.
	RecurringDue *time.Time
	Limit        int
}

type Repository interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, f Filter) ([]*Task, error)
	// Transition applies fn to the stored task under the repository's
	// writer lock and persists the result. fn validates its own
	// precondition and mutates the task; returning an error aborts the
	// transition without writing. This is the single conditional write
	// behind all compare-and-swap status changes.
	Transition(ctx context.Context, id string, fn func(t *Task) error) (*Task, error)
	Delete(ctx context.Context, id string) error
}
