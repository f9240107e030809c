package escrow

import (
	"context"
	"math"
)

// Gateway abstracts the payment provider's hold/capture/refund surface.
// Capture and Refund must be idempotent: repeating a call on a settled
// reference succeeds without moving money twice.
type Gateway interface {
	// Hold reserves amount and returns an opaque reference. Called once per
	// task at creation.
	Hold(ctx context.Context, amount int64) (string, error)
	// Capture finalizes a hold into a charge.
	Capture(ctx context.Context, ref string) error
	// Refund releases a hold. Unknown references are treated as already
	// settled rather than failing, which tolerates the provider losing
	// in-memory state across restarts.
	Refund(ctx context.Context, ref string) error
}

// PlatformFee computes the platform's cut in minor units. feePct is read
// from the mutable settings at capture time, not frozen at task creation,
// so fee changes apply immediately to in-flight tasks.
func PlatformFee(price int64, feePct float64) int64 {
	return int64(math.Round(feePct / 100 * float64(price)))
}

// Payout is what the tasker receives after the platform fee.
func Payout(price int64, feePct float64) int64 {
	return price - PlatformFee(price, feePct)
}
