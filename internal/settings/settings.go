package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/sajilotask/sajilo/pkg/storage"
)

const settingsPath = "settings/global.yaml"

// debounceInterval is the delay after an fsnotify event before re-reading
// the file, so editors that write in multiple syscalls are only read once.
const debounceInterval = 100 * time.Millisecond

// Settings are the mutable marketplace globals. PlatformFeePct is read at
// capture time, so changing it applies to tasks already in flight.
type Settings struct {
	PlatformFeePct  float64 `yaml:"platform_fee_pct" json:"platformFeePct"`
	DefaultRadiusKm float64 `yaml:"default_radius_km" json:"defaultRadiusKm"`
}

// Store keeps the current settings snapshot, persisted through storage and
// optionally hot-reloaded when the backing file changes on disk.
type Store struct {
	mu      sync.RWMutex
	current Settings
	storage storage.Storage
}

// NewStore loads persisted settings, seeding them with defaults when none
// exist yet.
func NewStore(ctx context.Context, s storage.Storage, defaults Settings) (*Store, error) {
	st := &Store{current: defaults, storage: s}

	data, err := s.Read(ctx, settingsPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &st.current); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	case errors.Is(err, storage.ErrNotFound):
		if err := st.persist(ctx); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	return st, nil
}

// Snapshot returns a copy of the current settings.
func (st *Store) Snapshot() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current
}

// Update applies fn to the settings under the writer lock and persists the
// result.
func (st *Store) Update(ctx context.Context, fn func(*Settings)) (Settings, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(&st.current)
	if err := st.persist(ctx); err != nil {
		return Settings{}, err
	}
	return st.current, nil
}

func (st *Store) persist(ctx context.Context) error {
	data, err := yaml.Marshal(&st.current)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := st.storage.Write(ctx, settingsPath, data); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

func (st *Store) reload(ctx context.Context) {
	data, err := st.storage.Read(ctx, settingsPath)
	if err != nil {
		slog.Warn("settings: reload failed", "error", err)
		return
	}
	var next Settings
	if err := yaml.Unmarshal(data, &next); err != nil {
		slog.Warn("settings: reload failed to unmarshal", "error", err)
		return
	}
	st.mu.Lock()
	st.current = next
	st.mu.Unlock()
	slog.Info("settings: reloaded", "platform_fee_pct", next.PlatformFeePct, "default_radius_km", next.DefaultRadiusKm)
}

// Watch hot-reloads settings when the backing file under baseDir changes.
// Only meaningful for local storage; S3-backed deployments mutate settings
// through the API instead. Blocks until ctx is cancelled.
func (st *Store) Watch(ctx context.Context, baseDir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Join(baseDir, filepath.Dir(settingsPath))
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Join(baseDir, filepath.FromSlash(settingsPath))
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceInterval, func() {
				st.reload(ctx)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("settings: watcher error", "error", err)
		}
	}
}
