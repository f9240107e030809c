package user

import "context"

type Repository interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	// Update applies fn to the stored user and persists the result as one
	// serialized read-modify-write. Returning an error from fn aborts the
	// update without writing.
	Update(ctx context.Context, id string, fn func(u *User) error) (*User, error)
}
