package transaction

import "context"

type Repository interface {
	Create(ctx context.Context, t *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	// GetActiveByTask returns the newest non-refunded transaction for a task.
	GetActiveByTask(ctx context.Context, taskID string) (*Transaction, error)
	Update(ctx context.Context, t *Transaction) error
	DeleteByTask(ctx context.Context, taskID string) error
}
