package task_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sajilotask/sajilo/internal/category"
	categoryrepo "github.com/sajilotask/sajilo/internal/category/repositoryimpl"
	"github.com/sajilotask/sajilo/internal/escrow"
	"github.com/sajilotask/sajilo/internal/eventbus"
	"github.com/sajilotask/sajilo/internal/geoindex"
	"github.com/sajilotask/sajilo/internal/settings"
	"github.com/sajilotask/sajilo/internal/task"
	taskrepo "github.com/sajilotask/sajilo/internal/task/repositoryimpl"
	"github.com/sajilotask/sajilo/internal/transaction"
	transactionrepo "github.com/sajilotask/sajilo/internal/transaction/repositoryimpl"
	"github.com/sajilotask/sajilo/internal/user"
	userrepo "github.com/sajilotask/sajilo/internal/user/repositoryimpl"
	"github.com/sajilotask/sajilo/pkg/cerr"
	"github.com/sajilotask/sajilo/pkg/storage"
)

type harness struct {
	engine     *task.Engine
	tasks      task.Repository
	users      user.Repository
	categories category.Repository
	txs        transaction.Repository
	gateway    *escrow.MockGateway
	geo        *geoindex.Index
	settings   *settings.Store
	bus        *eventbus.Bus

	mu    sync.Mutex
	clock time.Time

	requester *user.User
	tasker    *user.User
}

func (h *harness) now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clock
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	h.clock = h.clock.Add(d)
	h.mu.Unlock()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	taskRepo := taskrepo.NewYAMLRepository(store)
	userRepo := userrepo.NewYAMLRepository(store)
	categoryRepo := categoryrepo.NewYAMLRepository(store)
	transactionRepo := transactionrepo.NewYAMLRepository(store)
	require.NoError(t, categoryrepo.Seed(ctx, categoryRepo))

	settingsStore, err := settings.NewStore(ctx, store, settings.Settings{
		PlatformFeePct:  10,
		DefaultRadiusKm: 3,
	})
	require.NoError(t, err)

	geo, err := geoindex.New()
	require.NoError(t, err)
	t.Cleanup(func() { geo.Close() })

	h := &harness{
		tasks:      taskRepo,
		users:      userRepo,
		categories: categoryRepo,
		txs:        transactionRepo,
		gateway:    escrow.NewMockGateway(72 * time.Hour),
		geo:        geo,
		settings:   settingsStore,
		bus:        eventbus.New(),
		clock:      time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC), // Monday
	}
	h.engine = task.NewEngine(task.EngineConfig{
		Logger:       slog.Default(),
		Tasks:        taskRepo,
		Users:        userRepo,
		Categories:   categoryRepo,
		Transactions: transactionRepo,
		Gateway:      h.gateway,
		Geo:          geo,
		Settings:     settingsStore,
		Bus:          h.bus,
		StaleAfter:   time.Hour,
		Now:          h.now,
	})

	h.requester = h.newUser(t, "requester", user.TierStandard)
	h.tasker = h.newUser(t, "tasker", user.TierStandard)
	return h
}

func (h *harness) newUser(t *testing.T, id string, tier user.Tier) *user.User {
	t.Helper()
	u := &user.User{
		ID:           id,
		Name:         id,
		Role:         user.RoleUser,
		Tier:         tier,
		RewardsLevel: user.LevelBronze,
		CreatedAt:    h.now(),
	}
	require.NoError(t, h.users.Create(context.Background(), u))
	return u
}

func (h *harness) createTask(t *testing.T, mutate func(*task.CreateRequest)) *task.Task {
	t.Helper()
	req := &task.CreateRequest{
		Title:      "Deliver documents",
		CategoryID: "delivery",
		Price:      20000,
		Lat:        27.7172,
		Lng:        85.3240,
		RadiusKm:   3,
	}
	if mutate != nil {
		mutate(req)
	}
	created, err := h.engine.Create(context.Background(), h.requester, req)
	require.NoError(t, err)
	return created
}

func TestCreateEnforcesCategoryBounds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Create(ctx, h.requester, &task.CreateRequest{
		Title:      "Cheap delivery",
		CategoryID: "delivery",
		Price:      1000,
		Lat:        27.7,
		Lng:        85.3,
	})
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))

	created, err := h.engine.Create(ctx, h.requester, &task.CreateRequest{
		Title:      "Reasonable delivery",
		CategoryID: "delivery",
		Price:      20000,
		Lat:        27.7,
		Lng:        85.3,
	})
	require.NoError(t, err)
	assert.Equal(t, task.StatusPosted, created.Status)
	assert.True(t, created.EscrowHeld)
	assert.NotEmpty(t, created.EscrowRef)

	tx, err := h.txs.GetActiveByTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusHeld, tx.Status)
	assert.Equal(t, int64(20000), tx.Amount)
}

func TestCreateCustomCategoryRequiresName(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Create(ctx, h.requester, &task.CreateRequest{
		Title:      "Odd job",
		CategoryID: "custom",
		Price:      500,
		Lat:        27.7,
		Lng:        85.3,
	})
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))

	created, err := h.engine.Create(ctx, h.requester, &task.CreateRequest{
		Title:        "Odd job",
		CategoryID:   "custom",
		CategoryName: "Assemble furniture",
		Price:        500,
		Lat:          27.7,
		Lng:          85.3,
	})
	require.NoError(t, err)
	assert.Equal(t, "Assemble furniture", created.CategoryName)
}

// failingTxRepo rejects every ledger write.
type failingTxRepo struct {
	transaction.Repository
}

func (f *failingTxRepo) Create(context.Context, *transaction.Transaction) error {
	return errors.New("ledger write failed")
}

// recordingGateway wraps the mock provider and remembers refunded refs.
type recordingGateway struct {
	escrow.Gateway
	mu      sync.Mutex
	refunds []string
}

func (g *recordingGateway) Refund(ctx context.Context, ref string) error {
	g.mu.Lock()
	g.refunds = append(g.refunds, ref)
	g.mu.Unlock()
	return g.Gateway.Refund(ctx, ref)
}

func TestCreateReleasesHoldOnLedgerFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	gw := &recordingGateway{Gateway: h.gateway}
	broken := task.NewEngine(task.EngineConfig{
		Logger:       slog.Default(),
		Tasks:        h.tasks,
		Users:        h.users,
		Categories:   h.categories,
		Transactions: &failingTxRepo{Repository: h.txs},
		Gateway:      gw,
		Geo:          h.geo,
		Settings:     h.settings,
		Bus:          h.bus,
		StaleAfter:   time.Hour,
		Now:          h.now,
	})

	_, err := broken.Create(ctx, h.requester, &task.CreateRequest{
		Title:      "Doomed delivery",
		CategoryID: "delivery",
		Price:      20000,
		Lat:        27.7,
		Lng:        85.3,
	})
	require.Error(t, err)

	// the hold opened for the failed create is refunded, not stranded
	require.Len(t, gw.refunds, 1)
	status, ok := h.gateway.Status(gw.refunds[0])
	require.True(t, ok)
	assert.Equal(t, "refunded", status)

	// and no half-created task is left behind
	tasks, err := h.tasks.List(ctx, task.Filter{RequesterID: h.requester.ID})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestAcceptExclusivity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createTask(t, nil)

	const attempts = 16
	taskers := make([]*user.User, attempts)
	for i := range taskers {
		taskers[i] = h.newUser(t, fmt.Sprintf("contender-%02d", i), user.TierStandard)
	}

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.engine.Accept(ctx, taskers[i], created.ID)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, cerr.IsCode(err, cerr.Aborted), "losers must see a conflict, got %v", err)
	}
	assert.Equal(t, 1, wins, "exactly one concurrent accept must win")

	got, err := h.tasks.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusAccepted, got.Status)
	assert.NotEmpty(t, got.AssignedTaskerID)
	require.NotNil(t, got.AcceptedAt)
}

func TestAcceptOwnTaskRejected(t *testing.T) {
	h := newHarness(t)
	created := h.createTask(t, nil)

	_, err := h.engine.Accept(context.Background(), h.requester, created.ID)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))
}

func TestAcceptTierGate(t *testing.T) {
	h := newHarness(t)
	created := h.createTask(t, func(req *task.CreateRequest) {
		req.AllowedTier = task.TierPro
	})

	_, err := h.engine.Accept(context.Background(), h.tasker, created.ID)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))

	pro := h.newUser(t, "pro-tasker", user.TierPro)
	got, err := h.engine.Accept(context.Background(), pro, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "pro-tasker", got.AssignedTaskerID)
}

func TestAcceptBiddingOnlyTask(t *testing.T) {
	h := newHarness(t)
	quickAccept := false
	created := h.createTask(t, func(req *task.CreateRequest) {
		req.BiddingEnabled = true
		req.QuickAccept = &quickAccept
	})

	_, err := h.engine.Accept(context.Background(), h.tasker, created.ID)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
}

func TestOfferDuplicatePendingConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createTask(t, func(req *task.CreateRequest) {
		req.BiddingEnabled = true
	})

	_, err := h.engine.SubmitOffer(ctx, h.tasker, created.ID, 18000, "can do")
	require.NoError(t, err)

	_, err = h.engine.SubmitOffer(ctx, h.tasker, created.ID, 17000, "even cheaper")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.AlreadyExists))
}

func TestAcceptOfferRejectsOtherPendings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createTask(t, func(req *task.CreateRequest) {
		req.BiddingEnabled = true
	})

	other := h.newUser(t, "other-tasker", user.TierStandard)
	first, err := h.engine.SubmitOffer(ctx, h.tasker, created.ID, 18000, "")
	require.NoError(t, err)
	_, err = h.engine.SubmitOffer(ctx, other, created.ID, 19000, "")
	require.NoError(t, err)

	got, err := h.engine.AcceptOffer(ctx, h.requester, created.ID, first.ID)
	require.NoError(t, err)

	assert.Equal(t, task.StatusAccepted, got.Status)
	assert.Equal(t, h.tasker.ID, got.AssignedTaskerID)
	assert.Equal(t, int64(18000), got.Price, "final price follows the accepted offer")

	statuses := map[task.OfferStatus]int{}
	for _, o := range got.Offers {
		statuses[o.Status]++
	}
	assert.Equal(t, 1, statuses[task.OfferAccepted])
	assert.Equal(t, 1, statuses[task.OfferRejected])
	assert.Zero(t, statuses[task.OfferPending])

	// The CAS already resolved; a second approval reads as processed.
	_, err = h.engine.AcceptOffer(ctx, h.requester, created.ID, first.ID)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.Aborted))
}

func TestApprovePaysOutAndAwardsPoints(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createTask(t, nil)

	_, err := h.engine.Accept(ctx, h.tasker, created.ID)
	require.NoError(t, err)
	_, err = h.engine.Start(ctx, h.tasker, created.ID)
	require.NoError(t, err)
	_, err = h.engine.Complete(ctx, h.tasker, created.ID, "https://proof.example/p.jpg")
	require.NoError(t, err)

	got, err := h.engine.Approve(ctx, h.requester, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPaid, got.Status)
	assert.False(t, got.EscrowHeld)

	status, ok := h.gateway.Status(created.EscrowRef)
	require.True(t, ok)
	assert.Equal(t, "succeeded", status)

	// 10% fee on 20000 leaves 18000; both parties earn 2000 points.
	tasker, err := h.users.Get(ctx, h.tasker.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(18000), tasker.Wallet.Balance)
	assert.Equal(t, int64(2000), tasker.LoyaltyPoints)
	assert.Equal(t, int64(2000), tasker.TaskPoints)

	requester, err := h.users.Get(ctx, h.requester.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), requester.LoyaltyPoints)

	tx, err := h.txs.GetActiveByTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusReleased, tx.Status)
	assert.Equal(t, int64(2000), tx.PlatformFee)

	// Approving twice must fail without double-paying.
	_, err = h.engine.Approve(ctx, h.requester, created.ID)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
	tasker, err = h.users.Get(ctx, h.tasker.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(18000), tasker.Wallet.Balance)
}

func TestApproveAppliesReducedCommissionPerk(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.users.Update(ctx, h.tasker.ID, func(u *user.User) error {
		u.Perks = []user.Perk{{
			Type:      user.PerkReducedCommission,
			Value:     5,
			ExpiresAt: h.now().Add(24 * time.Hour),
		}}
		return nil
	})
	require.NoError(t, err)

	created := h.createTask(t, nil)
	_, err = h.engine.Accept(ctx, h.tasker, created.ID)
	require.NoError(t, err)
	_, err = h.engine.Start(ctx, h.tasker, created.ID)
	require.NoError(t, err)
	_, err = h.engine.Complete(ctx, h.tasker, created.ID, "")
	require.NoError(t, err)
	_, err = h.engine.Approve(ctx, h.requester, created.ID)
	require.NoError(t, err)

	// 10% base fee minus the 5 point perk leaves a 5% fee on 20000.
	tasker, err := h.users.Get(ctx, h.tasker.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(19000), tasker.Wallet.Balance)
}

func TestRejectAndRepostIdempotence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createTask(t, nil)

	_, err := h.engine.Accept(ctx, h.tasker, created.ID)
	require.NoError(t, err)
	_, err = h.engine.Start(ctx, h.tasker, created.ID)
	require.NoError(t, err)

	got, err := h.engine.Reject(ctx, h.tasker, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPosted, got.Status)
	assert.Empty(t, got.AssignedTaskerID)
	assert.Nil(t, got.AcceptedAt)
	assert.Nil(t, got.StartedAt)

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

	// Second reject fails on the state precondition, not with a duplicate
	// refund or an authorization error.
	_, err = h.engine.Reject(ctx, h.tasker, created.ID)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
}

func TestApproveAfterRepost(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createTask(t, nil)

	// first tasker walks away, second one sees the job through
	_, err := h.engine.Accept(ctx, h.tasker, created.ID)
	require.NoError(t, err)
	_, err = h.engine.Reject(ctx, h.tasker, created.ID)
	require.NoError(t, err)

	second := h.newUser(t, "second-tasker", user.TierStandard)
	_, err = h.engine.Accept(ctx, second, created.ID)
	require.NoError(t, err)
	_, err = h.engine.Start(ctx, second, created.ID)
	require.NoError(t, err)
	_, err = h.engine.Complete(ctx, second, created.ID, "")
	require.NoError(t, err)

	got, err := h.engine.Approve(ctx, h.requester, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPaid, got.Status)

	status, ok := h.gateway.Status(got.EscrowRef)
	require.True(t, ok)
	assert.Equal(t, "succeeded", status)

	tx, err := h.txs.GetActiveByTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusReleased, tx.Status)

	wallet, err := h.users.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(18000), wallet.Wallet.Balance)
}

func TestAdminRefundDispute(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createTask(t, nil)

	_, err := h.engine.Accept(ctx, h.tasker, created.ID)
	require.NoError(t, err)
	_, err = h.engine.Start(ctx, h.tasker, created.ID)
	require.NoError(t, err)

	admin := h.newUser(t, "dispute-admin", user.TierStandard)
	_, err = h.users.Update(ctx, admin.ID, func(u *user.User) error {
		u.Role = user.RoleAdmin
		return nil
	})
	require.NoError(t, err)
	admin, err = h.users.Get(ctx, admin.ID)
	require.NoError(t, err)

	// only completed tasks can be refunded
	_, err = h.engine.Refund(ctx, admin, created.ID)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))

	_, err = h.engine.Complete(ctx, h.tasker, created.ID, "")
	require.NoError(t, err)

	// and only by an admin
	_, err = h.engine.Refund(ctx, h.requester, created.ID)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))

	got, err := h.engine.Refund(ctx, admin, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRefunded, got.Status)
	assert.Empty(t, got.AssignedTaskerID)
	assert.False(t, got.EscrowHeld)

	status, ok := h.gateway.Status(created.EscrowRef)
	require.True(t, ok)
	assert.Equal(t, "refunded", status)

	_, err = h.txs.GetActiveByTask(ctx, created.ID)
	require.Error(t, err, "the held row flips to refunded")

	// the tasker was paid nothing
	tasker, err := h.users.Get(ctx, h.tasker.ID)
	require.NoError(t, err)
	assert.Zero(t, tasker.Wallet.Balance)

	_, err = h.engine.Refund(ctx, admin, created.ID)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
}

func TestReviewUpdatesTaskerRating(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createTask(t, nil)

	_, err := h.engine.Accept(ctx, h.tasker, created.ID)
	require.NoError(t, err)
	_, err = h.engine.Start(ctx, h.tasker, created.ID)
	require.NoError(t, err)
	_, err = h.engine.Complete(ctx, h.tasker, created.ID, "")
	require.NoError(t, err)

	// not reviewable until paid
	_, err = h.engine.Review(ctx, h.requester, created.ID, 5)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))

	_, err = h.engine.Approve(ctx, h.requester, created.ID)
	require.NoError(t, err)

	_, err = h.engine.Review(ctx, h.requester, created.ID, 0)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))

	_, err = h.engine.Review(ctx, h.tasker, created.ID, 5)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))

	got, err := h.engine.Review(ctx, h.requester, created.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Rating)

	tasker, err := h.users.Get(ctx, h.tasker.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(4), tasker.RatingAvg)
	assert.Equal(t, 1, tasker.RatingCount)

	// one review per task
	_, err = h.engine.Review(ctx, h.requester, created.ID, 1)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))

	// a second paid task folds into the running average
	other := h.createTask(t, nil)
	_, err = h.engine.Accept(ctx, h.tasker, other.ID)
	require.NoError(t, err)
	_, err = h.engine.Start(ctx, h.tasker, other.ID)
	require.NoError(t, err)
	_, err = h.engine.Complete(ctx, h.tasker, other.ID, "")
	require.NoError(t, err)
	_, err = h.engine.Approve(ctx, h.requester, other.ID)
	require.NoError(t, err)
	_, err = h.engine.Review(ctx, h.requester, other.ID, 2)
	require.NoError(t, err)

	tasker, err = h.users.Get(ctx, h.tasker.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(3), tasker.RatingAvg)
	assert.Equal(t, 2, tasker.RatingCount)
}

func TestDeleteStateDependent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// posted: hard delete with refund
	posted := h.createTask(t, nil)
	res, err := h.engine.Delete(ctx, h.requester, posted.ID)
	require.NoError(t, err)
	assert.True(t, res.Deleted)
	_, err = h.tasks.Get(ctx, posted.ID)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
	_, err = h.txs.GetActiveByTask(ctx, posted.ID)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))

	// accepted: refund and repost
	assigned := h.createTask(t, nil)
	_, err = h.engine.Accept(ctx, h.tasker, assigned.ID)
	require.NoError(t, err)
	res, err = h.engine.Delete(ctx, h.requester, assigned.ID)
	require.NoError(t, err)
	assert.True(t, res.Reposted)
	got, err := h.tasks.Get(ctx, assigned.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPosted, got.Status)
	assert.Empty(t, got.AssignedTaskerID)
	assert.True(t, got.EscrowHeld)

	// not the requester
	other := h.createTask(t, nil)
	_, err = h.engine.Delete(ctx, h.tasker, other.ID)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))
}

func TestNearbyFiltersTierAndOwnTasks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	near := h.createTask(t, nil)
	h.createTask(t, func(req *task.CreateRequest) {
		req.Title = "Pro errand"
		req.CategoryID = "errand"
		req.Price = 5000
		req.AllowedTier = task.TierPro
	})
	h.createTask(t, func(req *task.CreateRequest) {
		req.Title = "Far away"
		req.Lat = 28.2096 // Pokhara, ~140km out
		req.Lng = 83.9856
	})

	tasks, err := h.engine.Nearby(ctx, h.tasker, 27.7172, 85.3240, 5)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, near.ID, tasks[0].ID)

	pro := h.newUser(t, "pro-nearby", user.TierPro)
	tasks, err = h.engine.Nearby(ctx, pro, 27.7172, 85.3240, 5)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	// own tasks are never listed back to their requester
	tasks, err = h.engine.Nearby(ctx, h.requester, 27.7172, 85.3240, 5)
	require.NoError(t, err)
	for _, got := range tasks {
		assert.NotEqual(t, near.ID, got.ID)
	}
}

func TestExpenseFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.createTask(t, nil)

	_, err := h.engine.Accept(ctx, h.tasker, created.ID)
	require.NoError(t, err)

	// expenses require an in-progress or completed task
	_, err = h.engine.SubmitExpense(ctx, h.tasker, created.ID, "fuel", 500, "")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))

	_, err = h.engine.Start(ctx, h.tasker, created.ID)
	require.NoError(t, err)
	expense, err := h.engine.SubmitExpense(ctx, h.tasker, created.ID, "fuel", 500, "")
	require.NoError(t, err)

	_, err = h.engine.ReviewExpense(ctx, h.requester, created.ID, expense.ID, true)
	require.NoError(t, err)

	expenses, total, err := h.engine.ListExpenses(ctx, h.tasker, created.ID)
	require.NoError(t, err)
	require.Len(t, expenses, 1)
	assert.Equal(t, task.ExpenseApproved, expenses[0].Status)
	assert.Equal(t, int64(500), total)

	// re-reviewing must not double count
	_, err = h.engine.ReviewExpense(ctx, h.requester, created.ID, expense.ID, true)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
}
