package escrow

import (
	"context"
	"testing"
	"time"
)

func TestMockGatewayHoldCaptureRefund(t *testing.T) {
	ctx := context.Background()
	g := NewMockGateway(time.Hour)

	if _, err := g.Hold(ctx, 0); err == nil {
		t.Fatal("Hold(0) expected an error")
	}

	ref, err := g.Hold(ctx, 20000)
	if err != nil {
		t.Fatalf("Hold() error = %v", err)
	}
	if status, ok := g.Status(ref); !ok || status != "requires_capture" {
		t.Fatalf("Status() = %q, %v, want requires_capture", status, ok)
	}

	if err := g.Capture(ctx, ref); err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if status, _ := g.Status(ref); status != "succeeded" {
		t.Fatalf("Status() after capture = %q", status)
	}

	// capture is idempotent and refund after capture does not error
	if err := g.Capture(ctx, ref); err != nil {
		t.Errorf("second Capture() error = %v", err)
	}
}

func TestMockGatewayUnknownReferenceIsLenient(t *testing.T) {
	ctx := context.Background()
	g := NewMockGateway(time.Hour)

	if err := g.Refund(ctx, "pi_mock_gone"); err != nil {
		t.Fatalf("Refund(unknown) error = %v", err)
	}
	if status, ok := g.Status("pi_mock_gone"); !ok || status != "refunded" {
		t.Fatalf("Status() = %q, %v, want refunded", status, ok)
	}

	if err := g.Capture(ctx, "pi_mock_lost"); err != nil {
		t.Fatalf("Capture(unknown) error = %v", err)
	}
	if status, _ := g.Status("pi_mock_lost"); status != "succeeded" {
		t.Fatalf("Status() = %q, want succeeded", status)
	}
}

func TestMockGatewaySweepKeepsActiveHolds(t *testing.T) {
	ctx := context.Background()
	g := NewMockGateway(time.Hour)

	held, err := g.Hold(ctx, 1000)
	if err != nil {
		t.Fatalf("Hold() error = %v", err)
	}
	settled, err := g.Hold(ctx, 2000)
	if err != nil {
		t.Fatalf("Hold() error = %v", err)
	}
	if err := g.Refund(ctx, settled); err != nil {
		t.Fatalf("Refund() error = %v", err)
	}

	if n := g.Sweep(time.Now()); n != 0 {
		t.Fatalf("Sweep(now) evicted %d, want 0", n)
	}

	n := g.Sweep(time.Now().Add(2 * time.Hour))
	if n != 1 {
		t.Fatalf("Sweep(now+2h) evicted %d, want 1", n)
	}
	if _, ok := g.Status(held); !ok {
		t.Error("active hold must survive the sweep")
	}
	if _, ok := g.Status(settled); ok {
		t.Error("settled intent past TTL must be evicted")
	}
}
