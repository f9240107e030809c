package task

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sajilotask/sajilo/internal/category"
	"github.com/sajilotask/sajilo/internal/escrow"
	"github.com/sajilotask/sajilo/internal/eventbus"
	"github.com/sajilotask/sajilo/internal/settings"
	"github.com/sajilotask/sajilo/internal/transaction"
	"github.com/sajilotask/sajilo/internal/user"
	"github.com/sajilotask/sajilo/pkg/cerr"
)

// GeoIndex is the spatial index over posted tasks. The engine keeps it in
// sync with status transitions; it is a lookup accelerator, never the
// source of truth.
type GeoIndex interface {
	Add(t *Task) error
	Remove(taskID string) error
	Nearby(lat, lng, radiusKm float64, callerID string, proTier bool) ([]string, error)
}

// SettingsSource exposes the current marketplace globals. The fee pct is
// read at capture time, not frozen at task creation.
type SettingsSource interface {
	Snapshot() settings.Settings
}

// Engine enforces the task state machine over the repository. Status
// transitions go through Repository.Transition so that every change is a
// single conditional write; the engine never performs caller-side
// read-then-write on status.
type Engine struct {
	logger       *slog.Logger
	tasks        Repository
	users        user.Repository
	categories   category.Repository
	transactions transaction.Repository
	gateway      escrow.Gateway
	geo          GeoIndex
	settings     SettingsSource
	bus          *eventbus.Bus
	staleAfter   time.Duration
	now          func() time.Time
}

type EngineConfig struct {
	Logger       *slog.Logger
	Tasks        Repository
	Users        user.Repository
	Categories   category.Repository
	Transactions transaction.Repository
	Gateway      escrow.Gateway
	Geo          GeoIndex
	Settings     SettingsSource
	Bus          *eventbus.Bus
	StaleAfter   time.Duration
	Now          func() time.Time
}

func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		logger:       cfg.Logger,
		tasks:        cfg.Tasks,
		users:        cfg.Users,
		categories:   cfg.Categories,
		transactions: cfg.Transactions,
		gateway:      cfg.Gateway,
		geo:          cfg.Geo,
		settings:     cfg.Settings,
		bus:          cfg.Bus,
		staleAfter:   cfg.StaleAfter,
		now:          cfg.Now,
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

type CreateRequest struct {
	Title          string           `json:"title"`
	Description    string           `json:"description"`
	CategoryID     string           `json:"categoryId"`
	CategoryName   string           `json:"categoryName"`
	Price          int64            `json:"price"`
	Lat            float64          `json:"lat"`
	Lng            float64          `json:"lng"`
	RadiusKm       float64          `json:"radiusKm"`
	DurationMin    int              `json:"durationMin"`
	RequiredSkills []string         `json:"requiredSkills"`
	BiddingEnabled bool             `json:"biddingEnabled"`
	QuickAccept    *bool            `json:"quickAccept"`
	AllowedTier    AllowedTier      `json:"allowedTier"`
	ScheduledFor   *time.Time       `json:"scheduledFor"`
	BidWindowHours float64          `json:"bidWindowHours"`
	IsRecurring    bool             `json:"isRecurring"`
	Recurring      *RecurringConfig `json:"recurringConfig"`
}

// Create validates the request, opens the escrow hold, persists the task
// as posted, records the held ledger entry, indexes the location, and
// publishes task_posted.
func (e *Engine) Create(ctx context.Context, caller *user.User, req *CreateRequest) (*Task, error) {
	now := e.now()
	snap := e.settings.Snapshot()

	if strings.TrimSpace(req.Title) == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "title is required", nil)
	}
	if req.Price <= 0 {
		return nil, cerr.NewError(cerr.InvalidArgument, "price must be positive", nil)
	}

	categoryName := ""
	if req.CategoryID == category.CustomID {
		if strings.TrimSpace(req.CategoryName) == "" {
			return nil, cerr.NewError(cerr.InvalidArgument, "custom category name required", nil)
		}
		categoryName = req.CategoryName
	} else {
		cat, err := e.categories.Get(ctx, req.CategoryID)
		if err != nil {
			if cerr.IsCode(err, cerr.NotFound) {
				return nil, cerr.NewError(cerr.InvalidArgument, "invalid category", err)
			}
			return nil, err
		}
		if req.Price < cat.MinPrice || req.Price > cat.MaxPrice {
			return nil, cerr.NewError(cerr.InvalidArgument, "price outside category bounds", nil)
		}
	}

	allowedTier := req.AllowedTier
	if allowedTier == "" {
		allowedTier = TierAll
	}
	if allowedTier != TierAll && allowedTier != TierPro {
		return nil, cerr.NewError(cerr.InvalidArgument, "invalid tier", nil)
	}

	radiusKm := req.RadiusKm
	if radiusKm <= 0 {
		radiusKm = snap.DefaultRadiusKm
	}

	var bidWindowEndsAt *time.Time
	isScheduled := false
	if req.ScheduledFor != nil {
		if !req.ScheduledFor.After(now) {
			return nil, cerr.NewError(cerr.InvalidArgument, "scheduled time must be in the future", nil)
		}
		isScheduled = true
		hoursBefore := req.BidWindowHours
		if hoursBefore <= 0 {
			hoursBefore = 2
		}
		end := req.ScheduledFor.Add(-time.Duration(hoursBefore * float64(time.Hour)))
		bidWindowEndsAt = &end
	}

	var recurring *RecurringConfig
	if req.IsRecurring {
		if req.Recurring == nil || req.Recurring.Frequency == "" || req.Recurring.TimeOfDay == "" {
			return nil, cerr.NewError(cerr.InvalidArgument, "recurring tasks require frequency and time", nil)
		}
		next, err := NextOccurrence(req.Recurring, now)
		if err != nil {
			return nil, cerr.NewError(cerr.InvalidArgument, "invalid recurring config", err)
		}
		recurring = &RecurringConfig{
			Frequency:      req.Recurring.Frequency,
			DayOfWeek:      req.Recurring.DayOfWeek,
			TimeOfDay:      req.Recurring.TimeOfDay,
			EndDate:        req.Recurring.EndDate,
			NextOccurrence: &next,
		}
	}

	ref, err := e.gateway.Hold(ctx, req.Price)
	if err != nil {
		return nil, cerr.NewError(cerr.Unavailable, "failed to reserve funds", err)
	}

	quickAccept := true
	if req.QuickAccept != nil {
		quickAccept = *req.QuickAccept
	}

	t := &Task{
		ID:              ulid.Make().String(),
		RequesterID:     caller.ID,
		Title:           req.Title,
		Description:     req.Description,
		CategoryID:      req.CategoryID,
		CategoryName:    categoryName,
		Price:           req.Price,
		DurationMin:     req.DurationMin,
		RequiredSkills:  req.RequiredSkills,
		BiddingEnabled:  req.BiddingEnabled,
		QuickAccept:     quickAccept,
		AllowedTier:     allowedTier,
		IsScheduled:     isScheduled,
		ScheduledFor:    req.ScheduledFor,
		BidWindowEndsAt: bidWindowEndsAt,
		IsRecurring:     req.IsRecurring,
		RecurringConfig: recurring,
		Status:          StatusPosted,
		Location:        Location{Lat: req.Lat, Lng: req.Lng},
		RadiusKm:        radiusKm,
		EscrowRef:       ref,
		EscrowHeld:      true,
		CreatedAt:       now,
	}
	if err := e.tasks.Create(ctx, t); err != nil {
		e.releaseOrphanedHold(ctx, ref)
		return nil, err
	}

	if err := e.recordHeld(ctx, t, snap.PlatformFeePct); err != nil {
		if derr := e.tasks.Delete(ctx, t.ID); derr != nil {
			e.logger.Warn("failed to remove task after ledger write error", "task_id", t.ID, "error", derr)
		}
		e.releaseOrphanedHold(ctx, ref)
		return nil, err
	}

	if err := e.geo.Add(t); err != nil {
		e.logger.Warn("failed to index task location", "task_id", t.ID, "error", err)
	}
	e.publishPosted(t)
	return t, nil
}

// releaseOrphanedHold refunds a hold whose task never materialized, so a
// persistence error does not strand the requester's funds.
func (e *Engine) releaseOrphanedHold(ctx context.Context, ref string) {
	if err := e.gateway.Refund(ctx, ref); err != nil {
		e.logger.Warn("failed to release orphaned escrow hold", "escrow_ref", ref, "error", err)
	}
}

func (e *Engine) recordHeld(ctx context.Context, t *Task, feePct float64) error {
	return e.transactions.Create(ctx, &transaction.Transaction{
		ID:          ulid.Make().String(),
		TaskID:      t.ID,
		RequesterID: t.RequesterID,
		Amount:      t.Price,
		PlatformFee: escrow.PlatformFee(t.Price, feePct),
		Status:      transaction.StatusHeld,
		ProviderRef: t.EscrowRef,
		CreatedAt:   e.now(),
		UpdatedAt:   e.now(),
	})
}

func (e *Engine) publishPosted(t *Task) {
	e.bus.PublishNew(eventbus.TypeTaskPosted, t.ID, eventbus.TaskPostedPayload{
		ID:           t.ID,
		Title:        t.Title,
		Price:        t.Price,
		Lat:          t.Location.Lat,
		Lng:          t.Location.Lng,
		CategoryID:   t.CategoryID,
		CategoryName: t.CategoryName,
		IsScheduled:  t.IsScheduled,
	})
}

// Nearby returns posted tasks within radiusKm of the point, excluding the
// caller's own tasks and tasks above the caller's tier.
func (e *Engine) Nearby(ctx context.Context, caller *user.User, lat, lng, radiusKm float64) ([]*Task, error) {
	if radiusKm <= 0 {
		radiusKm = e.settings.Snapshot().DefaultRadiusKm
	}
	ids, err := e.geo.Nearby(lat, lng, radiusKm, caller.ID, caller.Tier == user.TierPro)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", err)
	}

	tasks := make([]*Task, 0, len(ids))
	for _, id := range ids {
		t, err := e.tasks.Get(ctx, id)
		if err != nil {
			// index can lag behind a delete
			continue
		}
		if t.Status != StatusPosted {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Get returns a task to its requester, its assigned tasker, or an admin.
func (e *Engine) Get(ctx context.Context, caller *user.User, taskID string) (*Task, error) {
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !t.IsParty(caller.ID) && !caller.IsAdmin() {
		return nil, cerr.NewError(cerr.PermissionDenied, "not authorized to view this task", nil)
	}
	return t, nil
}

type EditRequest struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Price       *int64   `json:"price"`
	DurationMin *int     `json:"durationMin"`
	RadiusKm    *float64 `json:"radiusKm"`
}

// Edit updates mutable fields while the task is still posted.
func (e *Engine) Edit(ctx context.Context, caller *user.User, taskID string, req *EditRequest) (*Task, error) {
	if req.Price != nil && *req.Price <= 0 {
		return nil, cerr.NewError(cerr.InvalidArgument, "price must be positive", nil)
	}
	return e.tasks.Transition(ctx, taskID, func(t *Task) error {
		if t.RequesterID != caller.ID {
			return cerr.NewError(cerr.PermissionDenied, "not your task", nil)
		}
		if t.Status != StatusPosted {
			return cerr.NewError(cerr.FailedPrecondition, "task can only be edited while posted", nil)
		}
		if req.Title != nil {
			t.Title = *req.Title
		}
		if req.Description != nil {
			t.Description = *req.Description
		}
		if req.Price != nil {
			t.Price = *req.Price
		}
		if req.DurationMin != nil {
			t.DurationMin = *req.DurationMin
		}
		if req.RadiusKm != nil {
			t.RadiusKm = *req.RadiusKm
		}
		return nil
	})
}

// Accept is the quick-accept path. Eligibility checks narrow the field
// before the conditional write; the status check inside the transition is
// the compare-and-swap that makes exactly one concurrent caller win.
func (e *Engine) Accept(ctx context.Context, caller *user.User, taskID string) (*Task, error) {
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.RequesterID == caller.ID {
		return nil, cerr.NewError(cerr.PermissionDenied, "cannot accept your own task", nil)
	}
	if !t.AllowedTier.VisibleTo(caller.Tier) {
		return nil, cerr.NewError(cerr.PermissionDenied, "task requires a pro tasker", nil)
	}
	if t.BiddingEnabled && !t.QuickAccept {
		return nil, cerr.NewError(cerr.FailedPrecondition, "task requires an offer", nil)
	}

	now := e.now()
	updated, err := e.tasks.Transition(ctx, taskID, func(t *Task) error {
		if t.Status != StatusPosted {
			return cerr.NewError(cerr.Aborted, "task was just taken by someone else", nil)
		}
		t.Status = StatusAccepted
		t.AssignedTaskerID = caller.ID
		t.AcceptedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.geo.Remove(updated.ID); err != nil {
		e.logger.Warn("failed to remove task from geo index", "task_id", updated.ID, "error", err)
	}
	e.bus.PublishNew(eventbus.TypeTaskAssigned, updated.ID, eventbus.TaskAssignedPayload{
		TaskID:           updated.ID,
		AssignedTaskerID: caller.ID,
	})
	return updated, nil
}

// SubmitOffer records a counter-proposal. A tasker holds at most one
// pending offer per task.
func (e *Engine) SubmitOffer(ctx context.Context, caller *user.User, taskID string, proposedPrice int64, message string) (*Offer, error) {
	if proposedPrice <= 0 {
		return nil, cerr.NewError(cerr.InvalidArgument, "proposed price must be positive", nil)
	}
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.RequesterID == caller.ID {
		return nil, cerr.NewError(cerr.PermissionDenied, "cannot bid on your own task", nil)
	}
	if !t.AllowedTier.VisibleTo(caller.Tier) {
		return nil, cerr.NewError(cerr.PermissionDenied, "task requires a pro tasker", nil)
	}
	if !t.BiddingEnabled {
		return nil, cerr.NewError(cerr.FailedPrecondition, "bidding not enabled for this task", nil)
	}

	offer := Offer{
		ID:            ulid.Make().String(),
		TaskerID:      caller.ID,
		ProposedPrice: proposedPrice,
		Message:       message,
		Status:        OfferPending,
		CreatedAt:     e.now(),
	}
	if _, err := e.tasks.Transition(ctx, taskID, func(t *Task) error {
		if t.Status != StatusPosted {
			return cerr.NewError(cerr.FailedPrecondition, "task not available for bidding", nil)
		}
		if t.PendingOfferBy(caller.ID) {
			return cerr.NewError(cerr.AlreadyExists, "you already have a pending offer for this task", nil)
		}
		t.Offers = append(t.Offers, offer)
		return nil
	}); err != nil {
		return nil, err
	}

	e.bus.PublishNew(eventbus.TypeOfferReceived, taskID, eventbus.OfferPayload{
		TaskID:        taskID,
		OfferID:       offer.ID,
		TaskerID:      caller.ID,
		ProposedPrice: proposedPrice,
		Message:       message,
	})
	return &offer, nil
}

// ListOffers returns all offers on a task to its requester.
func (e *Engine) ListOffers(ctx context.Context, caller *user.User, taskID string) ([]Offer, error) {
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.RequesterID != caller.ID {
		return nil, cerr.NewError(cerr.PermissionDenied, "only the requester can view offers", nil)
	}
	return t.Offers, nil
}

// AcceptOffer assigns the task to the chosen offer's tasker. The status
// check inside the transition races against quick-accept on the same task,
// so losing reads as a conflict.
func (e *Engine) AcceptOffer(ctx context.Context, caller *user.User, taskID, offerID string) (*Task, error) {
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.RequesterID != caller.ID {
		return nil, cerr.NewError(cerr.PermissionDenied, "only the requester can accept offers", nil)
	}

	now := e.now()
	var accepted Offer
	var rejected []Offer
	updated, err := e.tasks.Transition(ctx, taskID, func(t *Task) error {
		if t.Status != StatusPosted {
			return cerr.NewError(cerr.Aborted, "task was just taken by someone else", nil)
		}
		offer := t.FindOffer(offerID)
		if offer == nil {
			return cerr.NewError(cerr.NotFound, "offer not found", nil)
		}
		if offer.Status != OfferPending {
			return cerr.NewError(cerr.FailedPrecondition, "offer already processed", nil)
		}
		rejected = rejected[:0]
		for i := range t.Offers {
			switch {
			case t.Offers[i].ID == offerID:
				t.Offers[i].Status = OfferAccepted
			case t.Offers[i].Status == OfferPending:
				t.Offers[i].Status = OfferRejected
				rejected = append(rejected, t.Offers[i])
			}
		}
		accepted = *offer
		t.Price = offer.ProposedPrice
		t.Status = StatusAccepted
		t.AssignedTaskerID = offer.TaskerID
		t.AcceptedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.geo.Remove(updated.ID); err != nil {
		e.logger.Warn("failed to remove task from geo index", "task_id", updated.ID, "error", err)
	}
	e.publishOfferResolution(updated, accepted, rejected)
	return updated, nil
}

func (e *Engine) publishOfferResolution(t *Task, accepted Offer, rejected []Offer) {
	e.bus.PublishNew(eventbus.TypeOfferAccepted, t.ID, eventbus.OfferPayload{
		TaskID:        t.ID,
		OfferID:       accepted.ID,
		TaskerID:      accepted.TaskerID,
		ProposedPrice: accepted.ProposedPrice,
	})
	for _, o := range rejected {
		e.bus.PublishNew(eventbus.TypeOfferRejected, t.ID, eventbus.OfferPayload{
			TaskID:   t.ID,
			OfferID:  o.ID,
			TaskerID: o.TaskerID,
		})
	}
	e.bus.PublishNew(eventbus.TypeTaskAssigned, t.ID, eventbus.TaskAssignedPayload{
		TaskID:           t.ID,
		AssignedTaskerID: t.AssignedTaskerID,
	})
}

// Start marks an accepted task as in progress.
func (e *Engine) Start(ctx context.Context, caller *user.User, taskID string) (*Task, error) {
	now := e.now()
	updated, err := e.tasks.Transition(ctx, taskID, func(t *Task) error {
		if t.AssignedTaskerID != caller.ID {
			return cerr.NewError(cerr.PermissionDenied, "not assigned to you", nil)
		}
		if t.Status != StatusAccepted {
			return cerr.NewError(cerr.FailedPrecondition, "task not in accepted state", nil)
		}
		t.Status = StatusInProgress
		t.StartedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.bus.PublishNew(eventbus.TypeTaskStarted, updated.ID, eventbus.TaskStartedPayload{TaskID: updated.ID})
	return updated, nil
}

// Complete records the tasker's proof and moves the task to completed.
func (e *Engine) Complete(ctx context.Context, caller *user.User, taskID, proofURL string) (*Task, error) {
	now := e.now()
	updated, err := e.tasks.Transition(ctx, taskID, func(t *Task) error {
		if t.AssignedTaskerID != caller.ID {
			return cerr.NewError(cerr.PermissionDenied, "not assigned to you", nil)
		}
		if t.Status != StatusInProgress {
			return cerr.NewError(cerr.FailedPrecondition, "task not in progress", nil)
		}
		t.Status = StatusCompleted
		t.CompletedAt = &now
		t.ProofURL = proofURL
		if t.StartedAt != nil {
			t.ActualDuration = int(now.Sub(*t.StartedAt).Round(time.Minute) / time.Minute)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.bus.PublishNew(eventbus.TypeTaskCompleted, updated.ID, eventbus.TaskCompletedPayload{TaskID: updated.ID})
	return updated, nil
}

// Approve captures the escrow hold and pays out the tasker. Capture
// failures abort the transition; nothing local changes until the money has
// moved. Fee pct comes from current settings, lowered by an unexpired
// reduced_commission perk.
func (e *Engine) Approve(ctx context.Context, caller *user.User, taskID string) (*Task, error) {
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.RequesterID != caller.ID {
		return nil, cerr.NewError(cerr.PermissionDenied, "not your task", nil)
	}
	if t.Status != StatusCompleted {
		return nil, cerr.NewError(cerr.FailedPrecondition, "task not in completed state", nil)
	}

	// The held ledger row must exist before any money moves; a missing row
	// surfaces here, not halfway through settlement.
	tx, err := e.transactions.GetActiveByTask(ctx, t.ID)
	if err != nil {
		return nil, err
	}

	if err := e.gateway.Capture(ctx, t.EscrowRef); err != nil {
		return nil, cerr.NewError(cerr.Unavailable, "payment capture failed", err)
	}

	updated, err := e.tasks.Transition(ctx, taskID, func(t *Task) error {
		if t.Status != StatusCompleted {
			return cerr.NewError(cerr.FailedPrecondition, "task not in completed state", nil)
		}
		t.Status = StatusPaid
		t.EscrowHeld = false
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.settle(ctx, updated, tx); err != nil {
		return nil, err
	}
	e.bus.PublishNew(eventbus.TypeTaskPaid, updated.ID, eventbus.TaskPaidPayload{
		TaskID:   updated.ID,
		TaskerID: updated.AssignedTaskerID,
	})
	return updated, nil
}

// settle does the payout bookkeeping after a successful capture. The
// ledger release comes first: if it cannot be written, no wallet or
// points are credited.
func (e *Engine) settle(ctx context.Context, t *Task, tx *transaction.Transaction) error {
	now := e.now()
	feePct := e.settings.Snapshot().PlatformFeePct

	tasker, err := e.users.Get(ctx, t.AssignedTaskerID)
	if err != nil {
		return err
	}
	if perk, ok := tasker.ActivePerk(user.PerkReducedCommission, now); ok {
		feePct -= float64(perk.Value)
		if feePct < 0 {
			feePct = 0
		}
	}
	fee := escrow.PlatformFee(t.Price, feePct)
	payout := t.Price - fee
	points := user.LoyaltyPointsForPrice(t.Price)

	tx.Status = transaction.StatusReleased
	tx.PlatformFee = fee
	tx.UpdatedAt = now
	if err := e.transactions.Update(ctx, tx); err != nil {
		return err
	}

	if _, err := e.users.Update(ctx, t.AssignedTaskerID, func(u *user.User) error {
		u.Wallet.Balance += payout
		u.LoyaltyPoints += points
		u.TaskPoints += points
		if level := user.CalculateRewardsLevel(u.TaskPoints); level != u.RewardsLevel {
			u.RewardsLevel = level
			u.Perks = user.PerksForLevel(level, now)
		}
		return nil
	}); err != nil {
		return err
	}
	if _, err := e.users.Update(ctx, t.RequesterID, func(u *user.User) error {
		u.LoyaltyPoints += points
		u.TaskPoints += points
		return nil
	}); err != nil {
		return err
	}
	return nil
}

// Refund is the admin dispute resolution: the requester disputes a
// completed task, an admin sides with them, the hold is released back and
// the tasker is paid nothing.
func (e *Engine) Refund(ctx context.Context, caller *user.User, taskID string) (*Task, error) {
	if !caller.IsAdmin() {
		return nil, cerr.NewError(cerr.PermissionDenied, "admin only", nil)
	}
	updated, err := e.tasks.Transition(ctx, taskID, func(t *Task) error {
		if t.Status != StatusCompleted {
			return cerr.NewError(cerr.FailedPrecondition, "only completed tasks can be refunded", nil)
		}
		t.Status = StatusRefunded
		t.ClearAssignment()
		t.EscrowHeld = false
		return nil
	})
	if err != nil {
		return nil, err
	}

	if updated.EscrowRef != "" {
		if err := e.gateway.Refund(ctx, updated.EscrowRef); err != nil {
			e.logger.Warn("escrow refund failed, task already marked refunded",
				"task_id", updated.ID, "escrow_ref", updated.EscrowRef, "error", err)
		}
	}
	e.markRefunded(ctx, updated.ID)
	e.bus.PublishNew(eventbus.TypeTaskRefunded, updated.ID, eventbus.TaskRefundedPayload{
		TaskID:      updated.ID,
		RequesterID: updated.RequesterID,
	})
	return updated, nil
}

// Review records the requester's rating of the tasker after payout and
// folds it into the tasker's running average. One review per task.
func (e *Engine) Review(ctx context.Context, caller *user.User, taskID string, rating int) (*Task, error) {
	if rating < 1 || rating > 5 {
		return nil, cerr.NewError(cerr.InvalidArgument, "rating must be between 1 and 5", nil)
	}
	var taskerID string
	updated, err := e.tasks.Transition(ctx, taskID, func(t *Task) error {
		if t.Status != StatusPaid {
			return cerr.NewError(cerr.FailedPrecondition, "only paid tasks can be reviewed", nil)
		}
		if t.RequesterID != caller.ID {
			return cerr.NewError(cerr.PermissionDenied, "not your task", nil)
		}
		if t.Rating != 0 {
			return cerr.NewError(cerr.FailedPrecondition, "task already reviewed", nil)
		}
		t.Rating = rating
		taskerID = t.AssignedTaskerID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := e.users.Update(ctx, taskerID, func(u *user.User) error {
		total := u.RatingAvg*float64(u.RatingCount) + float64(rating)
		u.RatingCount++
		u.RatingAvg = total / float64(u.RatingCount)
		return nil
	}); err != nil {
		return nil, err
	}
	return updated, nil
}

// Reject is the tasker-initiated reclaim: the assigned tasker walks away,
// the hold is refunded, and the task returns to posted for someone else.
// The status precondition is checked before the assignee so that a second
// call reads as a state error, not an authorization one.
func (e *Engine) Reject(ctx context.Context, caller *user.User, taskID string) (*Task, error) {
	updated, err := e.tasks.Transition(ctx, taskID, func(t *Task) error {
		if t.Status != StatusAccepted && t.Status != StatusInProgress {
			return cerr.NewError(cerr.FailedPrecondition, "cannot reject in this state", nil)
		}
		if t.AssignedTaskerID != caller.ID {
			return cerr.NewError(cerr.PermissionDenied, "not assigned to you", nil)
		}
		t.Status = StatusPosted
		t.ClearAssignment()
		t.EscrowHeld = false
		return nil
	})
	if err != nil {
		return nil, err
	}

	return e.repost(ctx, updated, false), nil
}

// repost finishes a reclaim after the local transition: refund the old
// hold (tolerated on failure), ledger update, fresh hold so the reposted
// task can be accepted and paid out again, re-index, events.
func (e *Engine) repost(ctx context.Context, t *Task, auto bool) *Task {
	if t.EscrowRef != "" {
		if err := e.gateway.Refund(ctx, t.EscrowRef); err != nil {
			e.logger.Warn("escrow refund failed, local state already reposted",
				"task_id", t.ID, "escrow_ref", t.EscrowRef, "error", err)
		}
	}
	e.markRefunded(ctx, t.ID)
	t = e.rearmEscrow(ctx, t)

	if err := e.geo.Add(t); err != nil {
		e.logger.Warn("failed to index task location", "task_id", t.ID, "error", err)
	}
	e.bus.PublishNew(eventbus.TypeTaskCancelled, t.ID, eventbus.TaskCancelledPayload{
		TaskID:   t.ID,
		Reposted: true,
		Auto:     auto,
	})
	e.publishPosted(t)
	return t
}

// rearmEscrow opens a fresh hold and held ledger row for a reposted task.
// On provider failure the task stays posted without a hold and the error
// is logged; Approve refuses to pay out until a ledger row exists.
func (e *Engine) rearmEscrow(ctx context.Context, t *Task) *Task {
	ref, err := e.gateway.Hold(ctx, t.Price)
	if err != nil {
		e.logger.Error("failed to re-reserve funds for reposted task",
			"task_id", t.ID, "error", err)
		return t
	}
	updated, err := e.tasks.Transition(ctx, t.ID, func(t *Task) error {
		if t.Status != StatusPosted {
			return cerr.NewError(cerr.Aborted, "task state changed", nil)
		}
		t.EscrowRef = ref
		t.EscrowHeld = true
		return nil
	})
	if err != nil {
		e.logger.Warn("failed to attach new escrow hold", "task_id", t.ID, "error", err)
		e.releaseOrphanedHold(ctx, ref)
		return t
	}
	if err := e.recordHeld(ctx, updated, e.settings.Snapshot().PlatformFeePct); err != nil {
		e.logger.Warn("failed to record held transaction", "task_id", updated.ID, "error", err)
	}
	return updated
}

func (e *Engine) markRefunded(ctx context.Context, taskID string) {
	tx, err := e.transactions.GetActiveByTask(ctx, taskID)
	if err != nil {
		e.logger.Warn("no active transaction to refund", "task_id", taskID, "error", err)
		return
	}
	tx.Status = transaction.StatusRefunded
	tx.UpdatedAt = e.now()
	if err := e.transactions.Update(ctx, tx); err != nil {
		e.logger.Warn("failed to mark transaction refunded", "task_id", taskID, "error", err)
	}
}

type DeleteResult struct {
	Deleted  bool `json:"deleted,omitempty"`
	Reposted bool `json:"reposted,omitempty"`
}

// Delete is state-dependent: posted tasks are refunded and removed,
// assigned tasks are refunded and reposted, terminal tasks are purged
// along with their ledger entries.
func (e *Engine) Delete(ctx context.Context, caller *user.User, taskID string) (*DeleteResult, error) {
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.RequesterID != caller.ID && !caller.IsAdmin() {
		return nil, cerr.NewError(cerr.PermissionDenied, "not your task", nil)
	}

	switch t.Status {
	case StatusPosted:
		if t.EscrowRef != "" {
			if err := e.gateway.Refund(ctx, t.EscrowRef); err != nil {
				e.logger.Warn("escrow refund failed during delete", "task_id", t.ID, "error", err)
			}
		}
		return e.purge(ctx, t)

	case StatusAccepted, StatusInProgress:
		updated, err := e.tasks.Transition(ctx, taskID, func(t *Task) error {
			if t.Status != StatusAccepted && t.Status != StatusInProgress {
				return cerr.NewError(cerr.FailedPrecondition, "task state changed", nil)
			}
			t.Status = StatusPosted
			t.ClearAssignment()
			t.EscrowHeld = false
			return nil
		})
		if err != nil {
			return nil, err
		}
		e.repost(ctx, updated, false)
		return &DeleteResult{Reposted: true}, nil

	case StatusCompleted, StatusPaid, StatusRefunded, StatusCancelled:
		return e.purge(ctx, t)
	}
	return nil, cerr.NewError(cerr.FailedPrecondition, "cannot delete task in this state", nil)
}

func (e *Engine) purge(ctx context.Context, t *Task) (*DeleteResult, error) {
	if err := e.transactions.DeleteByTask(ctx, t.ID); err != nil {
		return nil, err
	}
	if err := e.tasks.Delete(ctx, t.ID); err != nil {
		return nil, err
	}
	if err := e.geo.Remove(t.ID); err != nil {
		e.logger.Warn("failed to remove task from geo index", "task_id", t.ID, "error", err)
	}
	e.bus.PublishNew(eventbus.TypeTaskCancelled, t.ID, eventbus.TaskCancelledPayload{TaskID: t.ID})
	return &DeleteResult{Deleted: true}, nil
}

// SubmitExpense records a tasker expense for requester approval.
func (e *Engine) SubmitExpense(ctx context.Context, caller *user.User, taskID, description string, amount int64, receiptURL string) (*Expense, error) {
	if strings.TrimSpace(description) == "" || amount <= 0 {
		return nil, cerr.NewError(cerr.InvalidArgument, "description and valid amount required", nil)
	}
	expense := Expense{
		ID:          ulid.Make().String(),
		Description: description,
		Amount:      amount,
		ReceiptURL:  receiptURL,
		Status:      ExpensePending,
		SubmittedAt: e.now(),
	}
	if _, err := e.tasks.Transition(ctx, taskID, func(t *Task) error {
		if t.AssignedTaskerID != caller.ID {
			return cerr.NewError(cerr.PermissionDenied, "not assigned to you", nil)
		}
		if t.Status != StatusInProgress && t.Status != StatusCompleted {
			return cerr.NewError(cerr.FailedPrecondition, "expenses can only be added during task execution", nil)
		}
		t.Expenses = append(t.Expenses, expense)
		return nil
	}); err != nil {
		return nil, err
	}

	e.bus.PublishNew(eventbus.TypeExpenseSubmit, taskID, eventbus.ExpensePayload{
		TaskID:      taskID,
		ExpenseID:   expense.ID,
		Description: description,
		Amount:      amount,
	})
	return &expense, nil
}

// ListExpenses returns a task's expenses to either party.
func (e *Engine) ListExpenses(ctx context.Context, caller *user.User, taskID string) ([]Expense, int64, error) {
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, 0, err
	}
	if !t.IsParty(caller.ID) {
		return nil, 0, cerr.NewError(cerr.PermissionDenied, "not part of this task", nil)
	}
	return t.Expenses, t.TotalExpenses, nil
}

// ReviewExpense lets the requester approve or reject a pending expense.
// Approved amounts accumulate into the task's expense total exactly once.
func (e *Engine) ReviewExpense(ctx context.Context, caller *user.User, taskID, expenseID string, approved bool) (*Expense, error) {
	now := e.now()
	var reviewed Expense
	if _, err := e.tasks.Transition(ctx, taskID, func(t *Task) error {
		if t.RequesterID != caller.ID {
			return cerr.NewError(cerr.PermissionDenied, "not your task", nil)
		}
		var expense *Expense
		for i := range t.Expenses {
			if t.Expenses[i].ID == expenseID {
				expense = &t.Expenses[i]
				break
			}
		}
		if expense == nil {
			return cerr.NewError(cerr.NotFound, "expense not found", nil)
		}
		if expense.Status != ExpensePending {
			return cerr.NewError(cerr.FailedPrecondition, "expense already reviewed", nil)
		}
		if approved {
			expense.Status = ExpenseApproved
			t.TotalExpenses += expense.Amount
		} else {
			expense.Status = ExpenseRejected
		}
		expense.ReviewedAt = &now
		reviewed = *expense
		return nil
	}); err != nil {
		return nil, err
	}

	e.bus.PublishNew(eventbus.TypeExpenseReviewed, taskID, eventbus.ExpensePayload{
		TaskID:    taskID,
		ExpenseID: expenseID,
		Approved:  &approved,
	})
	return &reviewed, nil
}

// ShareLocation publishes the assigned tasker's current position. Nothing
// is persisted; the event stream is the whole contract.
func (e *Engine) ShareLocation(ctx context.Context, caller *user.User, taskID string, lat, lng, heading float64) error {
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.AssignedTaskerID != caller.ID {
		return cerr.NewError(cerr.PermissionDenied, "not assigned to you", nil)
	}
	if t.Status != StatusAccepted && t.Status != StatusInProgress {
		return cerr.NewError(cerr.FailedPrecondition, "task not in a trackable state", nil)
	}
	e.bus.PublishNew(eventbus.TypeTaskerLocation, t.ID, eventbus.TaskerLocationPayload{
		TaskID:    t.ID,
		Lat:       lat,
		Lng:       lng,
		Heading:   heading,
		Timestamp: e.now(),
	})
	return nil
}
