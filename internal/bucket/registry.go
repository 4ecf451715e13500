package bucket

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var errAPIFactoryRequired = errors.New("bucket: api factory is required")

// RegistryDeps wires a Registry.
type RegistryDeps struct {
	// API returns the bucket API authenticated as the given bearer token.
	API     func(token string) API
	Toys    ToyLookup
	Logger  *zap.Logger
	Clock   func() time.Time
	IdleTTL time.Duration
}

type registryEntry struct {
	store *Store
	token string
}

// Registry keeps one Store per browser session.
type Registry struct {
	api     func(token string) API
	toys    ToyLookup
	logger  *zap.Logger
	now     func() time.Time
	idleTTL time.Duration

	mu      sync.Mutex
	entries map[string]registryEntry
}

// NewRegistry constructs an empty Registry.
func NewRegistry(deps RegistryDeps) (*Registry, error) {
	if deps.API == nil {
		return nil, errAPIFactoryRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idle := deps.IdleTTL
	if idle <= 0 {
		idle = time.Hour
	}
	return &Registry{
		api:     deps.API,
		toys:    deps.Toys,
		logger:  logger,
		now:     clock,
		idleTTL: idle,
		entries: make(map[string]registryEntry),
	}, nil
}

// Store returns the session's store, loaded from the backend. A different token than the one
// the store was opened with means a different shopper, so the old store is closed and replaced.
func (r *Registry) Store(ctx context.Context, sessionID, token string) (*Store, error) {
	store, err := r.storeFor(sessionID, token)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureLoaded(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (r *Registry) storeFor(sessionID, token string) (*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[sessionID]; ok {
		if entry.token == token {
			return entry.store, nil
		}
		entry.store.Close()
		r.logger.Debug("bucket store replaced after token change", zap.String("session_id", sessionID))
	}

	store, err := NewStore(StoreDeps{
		API:    r.api(token),
		Toys:   r.toys,
		Logger: r.logger.With(zap.String("session_id", sessionID)),
		Clock:  r.now,
	})
	if err != nil {
		return nil, err
	}
	r.entries[sessionID] = registryEntry{store: store, token: token}
	return store, nil
}

// Drop closes and forgets the session's store.
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[sessionID]; ok {
		entry.store.Close()
		delete(r.entries, sessionID)
	}
}

// Sweep closes stores idle for longer than the configured TTL and returns how many it evicted.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, entry := range r.entries {
		if now.Sub(entry.store.LastUsed()) < r.idleTTL {
			continue
		}
		entry.store.Close()
		delete(r.entries, id)
		evicted++
	}
	return evicted
}

// Len reports the number of live stores.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
