package transaction

import "time"

type Status string

const (
	StatusHeld     Status = "held"
	StatusReleased Status = "released"
	StatusRefunded Status = "refunded"
)

// Transaction is the ledger row tied to a task's escrow hold. A task has at
// most one active transaction; reposting a refunded task creates a new one.
type Transaction struct {
	ID          string    `yaml:"id" json:"id"`
	TaskID      string    `yaml:"task_id" json:"taskId"`
	RequesterID string    `yaml:"requester_id" json:"requesterId"`
	Amount      int64     `yaml:"amount" json:"amount"`
	PlatformFee int64     `yaml:"platform_fee" json:"platformFee"`
	Status      Status    `yaml:"status" json:"status"`
	ProviderRef string    `yaml:"provider_ref" json:"providerRef"`
	CreatedAt   time.Time `yaml:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `yaml:"updated_at" json:"updatedAt"`
}
