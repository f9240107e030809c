package repositoryimpl

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/sajilotask/sajilo/internal/task"
	"github.com/sajilotask/sajilo/pkg/cerr"
	"github.com/sajilotask/sajilo/pkg/storage"
)

const tasksPrefix = "tasks"

// YAMLRepository stores one YAML document per task. All writes go through
// the mutex, so Transition's load-validate-mutate-persist cycle is a single
// atomic conditional write with respect to every other mutation.
type YAMLRepository struct {
	storage storage.Storage
	mu      sync.Mutex
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", tasksPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, t *task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := r.storage.Exists(ctx, path(t.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("task", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "task already exists", nil)
	}
	return r.write(ctx, t)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*task.Task, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("task", err)
	}
	var t task.Task
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal task: %w", err))
	}
	return &t, nil
}

func (r *YAMLRepository) List(ctx context.Context, f task.Filter) ([]*task.Task, error) {
	paths, err := r.storage.List(ctx, tasksPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("tasks", err)
	}
	sort.Strings(paths)

	var all []*task.Task
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var t task.Task
		if err := yaml.Unmarshal(data, &t); err != nil {
			continue
		}
		if !matches(&t, f) {
			continue
		}
		all = append(all, &t)
		if f.Limit > 0 && len(all) >= f.Limit {
			break
		}
	}
	return all, nil
}

func matches(t *task.Task, f task.Filter) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if t.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.RequesterID != "" && t.RequesterID != f.RequesterID {
		return false
	}
	if f.AssignedTasker != "" && t.AssignedTaskerID != f.AssignedTasker {
		return false
	}
	if f.EscrowHeld != nil && t.EscrowHeld != *f.EscrowHeld {
		return false
	}
	if f.AcceptedBefore != nil {
		if t.AcceptedAt == nil || !t.AcceptedAt.Before(*f.AcceptedBefore) {
			return false
		}
	}
	if f.ScheduledDue != nil {
		if !t.IsScheduled || t.ScheduledFor == nil || t.ScheduledFor.After(*f.ScheduledDue) {
			return false
		}
	}
	if f.RecurringDue != nil {
		if !t.IsRecurring || t.RecurringConfig == nil || t.RecurringConfig.NextOccurrence == nil ||
			t.RecurringConfig.NextOccurrence.After(*f.RecurringDue) {
			return false
		}
	}
	return true
}

func (r *YAMLRepository) Transition(ctx context.Context, id string, fn func(t *task.Task) error) (*task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	if err := r.write(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.storage.Delete(ctx, path(id)); err != nil {
		return cerr.WrapStorageDeleteError("task", err)
	}
	return nil
}

func (r *YAMLRepository) write(ctx context.Context, t *task.Task) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal task: %w", err))
	}
	if err := r.storage.Write(ctx, path(t.ID), data); err != nil {
		return cerr.WrapStorageWriteError("task", err)
	}
	return nil
}
