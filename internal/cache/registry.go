package cache

import (
	"sync"

	"go.uber.org/zap"
)

// Registry maps cache keys to invalidation callbacks. Invalidation is
// idempotent: both the realtime path and the polling fallback may ask for
// the same keys and redundant calls must be harmless.
type Registry struct {
	mu        sync.RWMutex
	listeners map[string]map[int]func()
	nextID    int
	logger    *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		listeners: make(map[string]map[int]func()),
		logger:    logger,
	}
}

// Register attaches an invalidation callback to a key and returns the
// function that detaches it
func (r *Registry) Register(key string, fn func()) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listeners[key] == nil {
		r.listeners[key] = make(map[int]func())
	}
	id := r.nextID
	r.nextID++
	r.listeners[key][id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.listeners[key], id)
		if len(r.listeners[key]) == 0 {
			delete(r.listeners, key)
		}
	}
}

// Invalidate runs the callbacks for every given key. Unknown keys are
// no-ops.
func (r *Registry) Invalidate(keys ...string) {
	r.mu.RLock()
	var callbacks []func()
	for _, key := range keys {
		for _, fn := range r.listeners[key] {
			callbacks = append(callbacks, fn)
		}
	}
	r.mu.RUnlock()

	for _, fn := range callbacks {
		fn()
	}

	if len(callbacks) > 0 {
		r.logger.Debug("Caches invalidated", zap.Strings("keys", keys))
	}
}
