package category

import "context"

type Repository interface {
	Create(ctx context.Context, c *Category) error
	Get(ctx context.Context, id string) (*Category, error)
	List(ctx context.Context) ([]*Category, error)
}
