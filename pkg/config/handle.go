package config

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cradlehq/cradle/pkg/log"
	"github.com/cradlehq/cradle/pkg/runtime"
	"github.com/cradlehq/cradle/pkg/storage"
)

// ReconnectError reports that new settings were persisted and published but
// the adapter could not reconnect to the new engine endpoint. The settings
// stand; operators fix connectivity out of band.
type ReconnectError struct {
	Endpoint string
	Err      error
}

func (e *ReconnectError) Error() string {
	return fmt.Sprintf("settings applied but engine reconnect to %s failed: %v", e.Endpoint, e.Err)
}

func (e *ReconnectError) Unwrap() error {
	return e.Err
}

// Handle is the explicitly-passed settings+adapter pair the lifecycle
// manager reads on every operation. Both are swapped atomically: readers
// never observe a half-applied update, and no lock is held while the engine
// is contacted.
type Handle struct {
	store   storage.Store
	factory runtime.Factory

	snapshot atomic.Pointer[Snapshot]
	adapter  atomic.Pointer[runtime.Adapter]

	mu sync.Mutex // serializes Apply/Load, not reads
}

// NewHandle creates a handle backed by the given settings rows and adapter
// factory
func NewHandle(store storage.Store, factory runtime.Factory) *Handle {
	return &Handle{store: store, factory: factory}
}

// Load reads the durable settings rows and connects the adapter. When no
// rows exist yet, defaults are persisted first. An adapter connection
// failure is returned as *ReconnectError with the snapshot still published.
func (h *Handle) Load(defaults *Snapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	values, err := h.store.GetSettings()
	if err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}

	if len(values) == 0 {
		if err := h.store.PutSettings(defaults.Values()); err != nil {
			return fmt.Errorf("failed to seed default settings: %w", err)
		}
		values = defaults.Values()
	}

	snap, err := FromValues(values)
	if err != nil {
		return err
	}

	h.snapshot.Store(snap)
	return h.reconnect(snap.Endpoint)
}

// Snapshot returns the current settings value. Never nil after Load.
func (h *Handle) Snapshot() *Snapshot {
	return h.snapshot.Load()
}

// Runtime returns the current adapter, or nil when the engine has never been
// reachable
func (h *Handle) Runtime() runtime.Adapter {
	p := h.adapter.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Apply validates, persists and atomically republishes a full settings
// document. A changed endpoint triggers adapter re-initialization; reconnect
// failure is reported as *ReconnectError without rolling back the persisted
// settings.
func (h *Handle) Apply(values map[string]string) error {
	snap, err := FromValues(values)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.store.PutSettings(snap.Values()); err != nil {
		return fmt.Errorf("failed to persist settings: %w", err)
	}

	old := h.snapshot.Swap(snap)

	if old == nil || old.Endpoint != snap.Endpoint || h.adapter.Load() == nil {
		return h.reconnect(snap.Endpoint)
	}
	return nil
}

// reconnect swaps in a fresh adapter for the endpoint, closing the previous
// one. Callers hold h.mu.
func (h *Handle) reconnect(endpoint string) error {
	logger := log.WithComponent("config")

	adapter, err := h.factory(endpoint)
	if err != nil {
		logger.Error().Err(err).Str("endpoint", endpoint).
			Msg("engine reconnect failed, settings remain in effect")
		return &ReconnectError{Endpoint: endpoint, Err: err}
	}

	old := h.adapter.Swap(&adapter)
	if old != nil {
		if err := (*old).Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close previous engine connection")
		}
	}
	return nil
}
