package task

import (
	"context"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sajilotask/sajilo/internal/eventbus"
	"github.com/sajilotask/sajilo/pkg/cerr"
)

// Scheduler entry points. Each job re-validates its selection predicate
// inside the transition, so overlapping or repeated ticks are no-ops for
// items already processed.

// ReclaimStale refunds and reposts tasks whose tasker accepted and then
// vanished. Returns the number of tasks reclaimed.
func (e *Engine) ReclaimStale(ctx context.Context, limit int) (int, error) {
	cutoff := e.now().Add(-e.staleAfter)
	held := true
	stale, err := e.tasks.List(ctx, Filter{
		Statuses:       []Status{StatusAccepted, StatusInProgress},
		EscrowHeld:     &held,
		AcceptedBefore: &cutoff,
		Limit:          limit,
	})
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, t := range stale {
		updated, err := e.tasks.Transition(ctx, t.ID, func(t *Task) error {
			if t.Status != StatusAccepted && t.Status != StatusInProgress {
				return cerr.NewError(cerr.FailedPrecondition, "task state changed", nil)
			}
			if !t.EscrowHeld || t.AcceptedAt == nil || !t.AcceptedAt.Before(cutoff) {
				return cerr.NewError(cerr.FailedPrecondition, "task no longer stale", nil)
			}
			t.Status = StatusPosted
			t.ClearAssignment()
			t.EscrowHeld = false
			return nil
		})
		if err != nil {
			e.logger.Warn("failed to reclaim stale task", "task_id", t.ID, "error", err)
			continue
		}
		e.repost(ctx, updated, true)
		reclaimed++
	}
	return reclaimed, nil
}

// ActivateScheduled clears the scheduled flag on tasks whose time has
// arrived. If bidding was open and the bid window has closed, the lowest
// pending offer is auto-accepted first; on a price tie the earliest
// submission wins.
func (e *Engine) ActivateScheduled(ctx context.Context, limit int) (int, error) {
	now := e.now()
	due, err := e.tasks.List(ctx, Filter{
		Statuses:     []Status{StatusPosted},
		ScheduledDue: &now,
		Limit:        limit,
	})
	if err != nil {
		return 0, err
	}

	activated := 0
	for _, t := range due {
		var accepted Offer
		var rejected []Offer
		assigned := false
		updated, err := e.tasks.Transition(ctx, t.ID, func(t *Task) error {
			if !t.IsScheduled || t.Status != StatusPosted {
				return cerr.NewError(cerr.FailedPrecondition, "task no longer scheduled", nil)
			}
			if t.BiddingEnabled && t.BidWindowEndsAt != nil && !t.BidWindowEndsAt.After(now) {
				if best := lowestPendingOffer(t.Offers); best != nil {
					rejected = rejected[:0]
					for i := range t.Offers {
						switch {
						case t.Offers[i].ID == best.ID:
							t.Offers[i].Status = OfferAccepted
						case t.Offers[i].Status == OfferPending:
							t.Offers[i].Status = OfferRejected
							rejected = append(rejected, t.Offers[i])
						}
					}
					accepted = *best
					accepted.Status = OfferAccepted
					t.Price = best.ProposedPrice
					t.Status = StatusAccepted
					t.AssignedTaskerID = best.TaskerID
					t.AcceptedAt = &now
					assigned = true
				}
			}
			t.IsScheduled = false
			return nil
		})
		if err != nil {
			e.logger.Warn("failed to activate scheduled task", "task_id", t.ID, "error", err)
			continue
		}

		if assigned {
			if err := e.geo.Remove(updated.ID); err != nil {
				e.logger.Warn("failed to remove task from geo index", "task_id", updated.ID, "error", err)
			}
			e.publishOfferResolution(updated, accepted, rejected)
		} else {
			e.publishPosted(updated)
		}
		activated++
	}
	return activated, nil
}

// lowestPendingOffer picks the auto-resolution winner: lowest proposed
// price, earliest submission on ties.
func lowestPendingOffer(offers []Offer) *Offer {
	var pending []Offer
	for _, o := range offers {
		if o.Status == OfferPending {
			pending = append(pending, o)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].ProposedPrice != pending[j].ProposedPrice {
			return pending[i].ProposedPrice < pending[j].ProposedPrice
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return &pending[0]
}

// MaterializeRecurring creates the next instance of each paid recurring
// parent whose occurrence has come due, pre-assigned to the tasker that
// fulfilled the parent, then advances the parent's next occurrence so the
// same parent no longer matches the next tick.
func (e *Engine) MaterializeRecurring(ctx context.Context, limit int) (int, error) {
	now := e.now()
	due, err := e.tasks.List(ctx, Filter{
		Statuses:     []Status{StatusPaid},
		RecurringDue: &now,
		Limit:        limit,
	})
	if err != nil {
		return 0, err
	}

	created := 0
	for _, parent := range due {
		if parent.RecurringConfig.EndDate != nil && parent.RecurringConfig.EndDate.Before(now) {
			e.retireRecurring(ctx, parent.ID)
			continue
		}
		if err := e.materializeOne(ctx, parent, now); err != nil {
			e.logger.Warn("failed to materialize recurring task", "parent_task_id", parent.ID, "error", err)
			continue
		}
		created++
	}
	return created, nil
}

func (e *Engine) materializeOne(ctx context.Context, parent *Task, now time.Time) error {
	ref, err := e.gateway.Hold(ctx, parent.Price)
	if err != nil {
		return err
	}

	instance := &Task{
		ID:               ulid.Make().String(),
		RequesterID:      parent.RequesterID,
		Title:            parent.Title,
		Description:      parent.Description,
		CategoryID:       parent.CategoryID,
		CategoryName:     parent.CategoryName,
		Price:            parent.Price,
		DurationMin:      parent.DurationMin,
		RequiredSkills:   parent.RequiredSkills,
		BiddingEnabled:   false,
		QuickAccept:      true,
		AllowedTier:      parent.AllowedTier,
		ScheduledFor:     parent.RecurringConfig.NextOccurrence,
		ParentTaskID:     parent.ID,
		Status:           StatusAccepted,
		Location:         parent.Location,
		RadiusKm:         parent.RadiusKm,
		AssignedTaskerID: parent.AssignedTaskerID,
		EscrowRef:        ref,
		EscrowHeld:       true,
		CreatedAt:        now,
		AcceptedAt:       &now,
	}
	if err := e.tasks.Create(ctx, instance); err != nil {
		return err
	}
	if err := e.recordHeld(ctx, instance, e.settings.Snapshot().PlatformFeePct); err != nil {
		return err
	}

	if _, err := e.tasks.Transition(ctx, parent.ID, func(t *Task) error {
		if !t.IsRecurring || t.RecurringConfig == nil || t.RecurringConfig.NextOccurrence == nil ||
			t.RecurringConfig.NextOccurrence.After(now) {
			return cerr.NewError(cerr.FailedPrecondition, "occurrence already advanced", nil)
		}
		next, err := NextOccurrence(t.RecurringConfig, now)
		if err != nil {
			return cerr.NewError(cerr.Internal, "server error", err)
		}
		t.RecurringConfig.NextOccurrence = &next
		return nil
	}); err != nil {
		return err
	}

	e.bus.PublishNew(eventbus.TypeTaskAssigned, instance.ID, eventbus.TaskAssignedPayload{
		TaskID:           instance.ID,
		AssignedTaskerID: instance.AssignedTaskerID,
	})
	return nil
}

// retireRecurring stops a parent whose end date has passed from matching
// every subsequent tick.
func (e *Engine) retireRecurring(ctx context.Context, parentID string) {
	if _, err := e.tasks.Transition(ctx, parentID, func(t *Task) error {
		t.IsRecurring = false
		return nil
	}); err != nil {
		e.logger.Warn("failed to retire recurring task", "task_id", parentID, "error", err)
	}
}
