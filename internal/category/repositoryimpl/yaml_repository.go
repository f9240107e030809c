package repositoryimpl

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/sajilotask/sajilo/internal/category"
	"github.com/sajilotask/sajilo/pkg/cerr"
	"github.com/sajilotask/sajilo/pkg/storage"
)

const categoriesPrefix = "categories"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", categoriesPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, c *category.Category) error {
	exists, err := r.storage.Exists(ctx, path(c.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("category", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "category already exists", nil)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal category: %w", err))
	}
	if err := r.storage.Write(ctx, path(c.ID), data); err != nil {
		return cerr.WrapStorageWriteError("category", err)
	}
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*category.Category, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("category", err)
	}
	var c category.Category
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal category: %w", err))
	}
	return &c, nil
}

func (r *YAMLRepository) List(ctx context.Context) ([]*category.Category, error) {
	paths, err := r.storage.List(ctx, categoriesPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("categories", err)
	}
	var all []*category.Category
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var c category.Category
		if err := yaml.Unmarshal(data, &c); err != nil {
			continue
		}
		all = append(all, &c)
	}
	return all, nil
}

// Seed installs the default categories when the store is empty.
func Seed(ctx context.Context, r *YAMLRepository) error {
	existing, err := r.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, c := range category.Defaults() {
		if err := r.Create(ctx, c); err != nil {
			return err
		}
	}
	return nil
}
