package task_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sajilotask/sajilo/internal/task"
	"github.com/sajilotask/sajilo/internal/transaction"
	"github.com/sajilotask/sajilo/internal/user"
)

func TestReclaimStale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created := h.createTask(t, nil)
	_, err := h.engine.Accept(ctx, h.tasker, created.ID)
	require.NoError(t, err)

	// before the threshold nothing is reclaimed
	h.advance(30 * time.Minute)
	n, err := h.engine.ReclaimStale(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.advance(31 * time.Minute)
	n, err = h.engine.ReclaimStale(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.tasks.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPosted, got.Status)
	assert.Empty(t, got.AssignedTaskerID)
	assert.Nil(t, got.AcceptedAt)

	// the original hold is refunded and a fresh one re-arms the task
	status, ok := h.gateway.Status(created.EscrowRef)
	require.True(t, ok)
	assert.Equal(t, "refunded", status)
	assert.True(t, got.EscrowHeld)
	assert.NotEqual(t, created.EscrowRef, got.EscrowRef)

	tx, err := h.txs.GetActiveByTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusHeld, tx.Status)
	assert.Equal(t, got.EscrowRef, tx.ProviderRef)

	// the reclaimed task is eligible again
	_, err = h.engine.Accept(ctx, h.tasker, created.ID)
	require.NoError(t, err)

	// a second sweep finds nothing
	n, err = h.engine.ReclaimStale(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReclaimStaleSkipsPaidEscrow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created := h.createTask(t, nil)
	_, err := h.engine.Accept(ctx, h.tasker, created.ID)
	require.NoError(t, err)
	_, err = h.engine.Start(ctx, h.tasker, created.ID)
	require.NoError(t, err)
	_, err = h.engine.Complete(ctx, h.tasker, created.ID, "")
	require.NoError(t, err)

	h.advance(2 * time.Hour)
	n, err := h.engine.ReclaimStale(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n, "completed tasks are not stale")
}

func TestActivateScheduled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	when := h.now().Add(3 * time.Hour)
	created := h.createTask(t, func(req *task.CreateRequest) {
		req.ScheduledFor = &when
	})
	require.True(t, created.IsScheduled)

	// not due yet
	n, err := h.engine.ActivateScheduled(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.advance(3 * time.Hour)
	n, err = h.engine.ActivateScheduled(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.tasks.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, got.IsScheduled)
	assert.Equal(t, task.StatusPosted, got.Status)

	n, err = h.engine.ActivateScheduled(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestActivateScheduledResolvesBids(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	when := h.now().Add(4 * time.Hour)
	created := h.createTask(t, func(req *task.CreateRequest) {
		req.BiddingEnabled = true
		req.ScheduledFor = &when
	})
	require.NotNil(t, created.BidWindowEndsAt)

	bidders := []struct {
		id    string
		price int64
	}{
		{"bidder-a", 800},
		{"bidder-b", 650},
		{"bidder-c", 900},
	}
	for _, b := range bidders {
		u := h.newUser(t, b.id, user.TierStandard)
		_, err := h.engine.SubmitOffer(ctx, u, created.ID, b.price, "")
		require.NoError(t, err)
	}

	// the bid window closes two hours before the scheduled time
	h.advance(2 * time.Hour)
	n, err := h.engine.ActivateScheduled(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n, "task only activates at its scheduled time")

	h.advance(2 * time.Hour)
	n, err = h.engine.ActivateScheduled(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.tasks.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusAccepted, got.Status)
	assert.Equal(t, "bidder-b", got.AssignedTaskerID)
	assert.Equal(t, int64(650), got.Price)

	for _, o := range got.Offers {
		if o.TaskerID == "bidder-b" {
			assert.Equal(t, task.OfferAccepted, o.Status)
		} else {
			assert.Equal(t, task.OfferRejected, o.Status)
		}
	}
}

func TestMaterializeRecurring(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created := h.createTask(t, func(req *task.CreateRequest) {
		req.IsRecurring = true
		req.Recurring = &task.RecurringConfig{
			Frequency: task.FreqWeekly,
			DayOfWeek: 3, // Wednesday
			TimeOfDay: "09:00",
		}
	})
	require.NotNil(t, created.RecurringConfig.NextOccurrence)
	firstDue := *created.RecurringConfig.NextOccurrence
	assert.Equal(t, time.Wednesday, firstDue.Weekday())
	assert.True(t, firstDue.After(h.now()))

	// run the parent through to paid so it qualifies for materialization
	_, err := h.engine.Accept(ctx, h.tasker, created.ID)
	require.NoError(t, err)
	_, err = h.engine.Start(ctx, h.tasker, created.ID)
	require.NoError(t, err)
	_, err = h.engine.Complete(ctx, h.tasker, created.ID, "")
	require.NoError(t, err)
	_, err = h.engine.Approve(ctx, h.requester, created.ID)
	require.NoError(t, err)

	n, err := h.engine.MaterializeRecurring(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n, "not due yet")

	h.mu.Lock()
	h.clock = firstDue.Add(time.Minute)
	h.mu.Unlock()

	n, err = h.engine.MaterializeRecurring(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	instances, err := h.tasks.List(ctx, task.Filter{RequesterID: h.requester.ID})
	require.NoError(t, err)
	var instance *task.Task
	for _, got := range instances {
		if got.ParentTaskID == created.ID {
			instance = got
		}
	}
	require.NotNil(t, instance, "a child instance must exist")
	assert.Equal(t, task.StatusAccepted, instance.Status)
	assert.Equal(t, h.tasker.ID, instance.AssignedTaskerID)
	assert.True(t, instance.EscrowHeld)
	assert.False(t, instance.IsRecurring)

	parent, err := h.tasks.Get(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, parent.RecurringConfig.NextOccurrence)
	next := *parent.RecurringConfig.NextOccurrence
	assert.True(t, next.After(h.now()), "next occurrence must be strictly future")
	assert.Equal(t, time.Wednesday, next.Weekday())

	// a second tick at the same time is a no-op
	n, err = h.engine.MaterializeRecurring(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMaterializeRecurringRetiresEnded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created := h.createTask(t, func(req *task.CreateRequest) {
		req.IsRecurring = true
		end := h.now().Add(48 * time.Hour)
		req.Recurring = &task.RecurringConfig{
			Frequency: task.FreqDaily,
			TimeOfDay: "09:00",
			EndDate:   &end,
		}
	})

	_, err := h.engine.Accept(ctx, h.tasker, created.ID)
	require.NoError(t, err)
	_, err = h.engine.Start(ctx, h.tasker, created.ID)
	require.NoError(t, err)
	_, err = h.engine.Complete(ctx, h.tasker, created.ID, "")
	require.NoError(t, err)
	_, err = h.engine.Approve(ctx, h.requester, created.ID)
	require.NoError(t, err)

	h.advance(72 * time.Hour)
	n, err := h.engine.MaterializeRecurring(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n, "an ended series creates no instances")

	parent, err := h.tasks.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, parent.IsRecurring)
}
