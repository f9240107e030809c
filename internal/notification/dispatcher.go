package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sajilotask/sajilo/internal/eventbus"
	"github.com/sajilotask/sajilo/internal/task"
)

// Dispatcher bridges the in-process event bus to web push. Delivery is
// best effort on both sides: the bus drops events for slow subscribers and
// failed pushes are only logged.
type Dispatcher struct {
	eventBus *eventbus.Bus
	taskRepo task.Repository
	sender   *Sender
}

func NewDispatcher(eventBus *eventbus.Bus, taskRepo task.Repository, sender *Sender) *Dispatcher {
	return &Dispatcher{
		eventBus: eventBus,
		taskRepo: taskRepo,
		sender:   sender,
	}
}

// Start consumes bus events until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	subID, ch := d.eventBus.Subscribe(256)
	defer d.eventBus.Unsubscribe(subID)

	slog.Info("push notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("push notification dispatcher stopped")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			d.handle(ctx, event)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, event *eventbus.Event) {
	switch event.Type {
	case eventbus.TypeTaskPosted:
		var p eventbus.TaskPostedPayload
		if !unmarshal(event, &p) {
			return
		}
		d.sender.SendToAll(ctx, &Payload{
			Title: "New task nearby",
			Body:  fmt.Sprintf("%s (Rs %d.%02d)", p.Title, p.Price/100, p.Price%100),
			URL:   "/tasks/" + p.ID,
			Tag:   event.ID,
		})

	case eventbus.TypeTaskAssigned:
		var p eventbus.TaskAssignedPayload
		if !unmarshal(event, &p) {
			return
		}
		d.sender.SendToUser(ctx, p.AssignedTaskerID, &Payload{
			Title: "Task assigned to you",
			Body:  d.taskTitle(ctx, p.TaskID),
			URL:   "/tasks/" + p.TaskID,
			Tag:   event.ID,
		})

	case eventbus.TypeTaskCompleted:
		var p eventbus.TaskCompletedPayload
		if !unmarshal(event, &p) {
			return
		}
		d.notifyRequester(ctx, p.TaskID, event.ID, "Task completed", "Review the proof and approve payout")

	case eventbus.TypeTaskPaid:
		var p eventbus.TaskPaidPayload
		if !unmarshal(event, &p) {
			return
		}
		d.sender.SendToUser(ctx, p.TaskerID, &Payload{
			Title: "Payment released",
			Body:  d.taskTitle(ctx, p.TaskID),
			URL:   "/tasks/" + p.TaskID,
			Tag:   event.ID,
		})

	case eventbus.TypeTaskRefunded:
		var p eventbus.TaskRefundedPayload
		if !unmarshal(event, &p) {
			return
		}
		d.sender.SendToUser(ctx, p.RequesterID, &Payload{
			Title: "Payment refunded",
			Body:  d.taskTitle(ctx, p.TaskID),
			URL:   "/tasks/" + p.TaskID,
			Tag:   event.ID,
		})

	case eventbus.TypeOfferReceived:
		var p eventbus.OfferPayload
		if !unmarshal(event, &p) {
			return
		}
		d.notifyRequester(ctx, p.TaskID, event.ID, "New offer received",
			fmt.Sprintf("Proposed price Rs %d.%02d", p.ProposedPrice/100, p.ProposedPrice%100))

	case eventbus.TypeOfferAccepted:
		var p eventbus.OfferPayload
		if !unmarshal(event, &p) {
			return
		}
		d.sender.SendToUser(ctx, p.TaskerID, &Payload{
			Title: "Your offer was accepted",
			Body:  d.taskTitle(ctx, p.TaskID),
			URL:   "/tasks/" + p.TaskID,
			Tag:   event.ID,
		})

	case eventbus.TypeExpenseSubmit:
		var p eventbus.ExpensePayload
		if !unmarshal(event, &p) {
			return
		}
		d.notifyRequester(ctx, p.TaskID, event.ID, "Expense submitted", p.Description)
	}
}

func unmarshal(event *eventbus.Event, v any) bool {
	if err := json.Unmarshal(event.Payload, v); err != nil {
		slog.Error("push dispatcher: failed to unmarshal payload", "type", event.Type, "error", err)
		return false
	}
	return true
}

func (d *Dispatcher) taskTitle(ctx context.Context, taskID string) string {
	t, err := d.taskRepo.Get(ctx, taskID)
	if err != nil {
		return ""
	}
	return t.Title
}

func (d *Dispatcher) notifyRequester(ctx context.Context, taskID, tag, title, body string) {
	t, err := d.taskRepo.Get(ctx, taskID)
	if err != nil {
		slog.Error("push dispatcher: failed to get task", "task_id", taskID, "error", err)
		return
	}
	d.sender.SendToUser(ctx, t.RequesterID, &Payload{
		Title: title,
		Body:  body,
		URL:   "/tasks/" + taskID,
		Tag:   tag,
	})
}
