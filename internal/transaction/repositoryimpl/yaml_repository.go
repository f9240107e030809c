package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/sajilotask/sajilo/internal/transaction"
	"github.com/sajilotask/sajilo/pkg/cerr"
	"github.com/sajilotask/sajilo/pkg/storage"
)

const transactionsPrefix = "transactions"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", transactionsPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, t *transaction.Transaction) error {
	exists, err := r.storage.Exists(ctx, path(t.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("transaction", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "transaction already exists", nil)
	}
	data, err := yaml.Marshal(t)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal transaction: %w", err))
	}
	if err := r.storage.Write(ctx, path(t.ID), data); err != nil {
		return cerr.WrapStorageWriteError("transaction", err)
	}
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*transaction.Transaction, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("transaction", err)
	}
	var t transaction.Transaction
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal transaction: %w", err))
	}
	return &t, nil
}

func (r *YAMLRepository) GetActiveByTask(ctx context.Context, taskID string) (*transaction.Transaction, error) {
	all, err := r.listByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	// ULIDs sort by creation time, so the last non-refunded entry is the
	// active one.
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Status != transaction.StatusRefunded {
			return all[i], nil
		}
	}
	return nil, cerr.NewError(cerr.NotFound, "transaction not found", nil)
}

func (r *YAMLRepository) Update(ctx context.Context, t *transaction.Transaction) error {
	exists, err := r.storage.Exists(ctx, path(t.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("transaction", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "transaction not found", nil)
	}
	data, err := yaml.Marshal(t)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal transaction: %w", err))
	}
	if err := r.storage.Write(ctx, path(t.ID), data); err != nil {
		return cerr.WrapStorageWriteError("transaction", err)
	}
	return nil
}

func (r *YAMLRepository) DeleteByTask(ctx context.Context, taskID string) error {
	all, err := r.listByTask(ctx, taskID)
	if err != nil {
		return err
	}
	for _, t := range all {
		if err := r.storage.Delete(ctx, path(t.ID)); err != nil {
			return cerr.WrapStorageDeleteError("transaction", err)
		}
	}
	return nil
}

func (r *YAMLRepository) listByTask(ctx context.Context, taskID string) ([]*transaction.Transaction, error) {
	paths, err := r.storage.List(ctx, transactionsPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("transactions", err)
	}
	sort.Strings(paths)

	var all []*transaction.Transaction
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var t transaction.Transaction
		if err := yaml.Unmarshal(data, &t); err != nil {
			continue
		}
		if t.TaskID != taskID {
			continue
		}
		all = append(all, &t)
	}
	return all, nil
}
