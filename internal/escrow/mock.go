package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type intentStatus string

const (
	intentRequiresCapture intentStatus = "requires_capture"
	intentSucceeded       intentStatus = "succeeded"
	intentRefunded        intentStatus = "refunded"
)

type intent struct {
	ref       string
	amount    int64
	status    intentStatus
	createdAt time.Time
}

// MockGateway is an in-memory provider used in development and tests. It
// keeps an explicit registry of payment intents with TTL eviction instead of
// ambient module state, which makes the "unknown reference means already
// settled" branch explicit and testable.
type MockGateway struct {
	mu      sync.Mutex
	intents map[string]*intent
	ttl     time.Duration
	now     func() time.Time
}

var _ Gateway = (*MockGateway)(nil)

func NewMockGateway(ttl time.Duration) *MockGateway {
	return &MockGateway{
		intents: make(map[string]*intent),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (g *MockGateway) Hold(_ context.Context, amount int64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("hold amount must be positive, got %d", amount)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	ref := "pi_mock_" + ulid.Make().String()
	g.intents[ref] = &intent{
		ref:       ref,
		amount:    amount,
		status:    intentRequiresCapture,
		createdAt: g.now(),
	}
	slog.Debug("escrow: hold created", "ref", ref, "amount", amount)
	return ref, nil
}

func (g *MockGateway) Capture(_ context.Context, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	pi, ok := g.intents[ref]
	if !ok {
		// Registry may have been restarted or the intent evicted; synthesize
		// a successful capture so the payout path stays unblocked.
		slog.Warn("escrow: capture on unknown reference, treating as captured", "ref", ref)
		g.intents[ref] = &intent{ref: ref, status: intentSucceeded, createdAt: g.now()}
		return nil
	}
	if pi.status != intentRequiresCapture {
		slog.Debug("escrow: capture is idempotent", "ref", ref, "status", pi.status)
		return nil
	}
	pi.status = intentSucceeded
	slog.Info("escrow: captured", "ref", ref, "amount", pi.amount)
	return nil
}

func (g *MockGateway) Refund(_ context.Context, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	pi, ok := g.intents[ref]
	if !ok {
		slog.Warn("escrow: refund on unknown reference, treating as settled", "ref", ref)
		g.intents[ref] = &intent{ref: ref, status: intentRefunded, createdAt: g.now()}
		return nil
	}
	if pi.status == intentRefunded {
		slog.Debug("escrow: refund is idempotent", "ref", ref)
		return nil
	}
	pi.status = intentRefunded
	slog.Info("escrow: refunded", "ref", ref, "amount", pi.amount)
	return nil
}

// Status reports the provider-side state of a reference, for tests and the
// reconciliation job.
func (g *MockGateway) Status(ref string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pi, ok := g.intents[ref]
	if !ok {
		return "", false
	}
	return string(pi.status), true
}

// Sweep evicts settled intents older than the TTL and returns how many were
// removed. Held intents are never evicted; losing an active hold would turn
// a later refund into the lenient unknown-reference path for no reason.
func (g *MockGateway) Sweep(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	evicted := 0
	for ref, pi := range g.intents {
		if pi.status == intentRequiresCapture {
			continue
		}
		if now.Sub(pi.createdAt) > g.ttl {
			delete(g.intents, ref)
			evicted++
		}
	}
	return evicted
}

// Start runs TTL eviction until ctx is cancelled.
func (g *MockGateway) Start(ctx context.Context) {
	interval := g.ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := g.Sweep(now); n > 0 {
				slog.Debug("escrow: evicted settled intents", "count", n)
			}
		}
	}
}
