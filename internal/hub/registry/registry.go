// Package registry provides a generic named-subscriber fan-out container.
// Each session owns one registry per event category; callbacks are invoked
// in registration order and a failing callback never prevents its siblings
// from running.
package registry

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/chatwire/chatwire/internal/common/uuid"
)

// Callback is a subscriber function for payloads of type T.
type Callback[T any] func(T)

// Registry maps subscriber ids to callbacks for one event category.
// The zero value is not usable; construct with New.
type Registry[T any] struct {
	name string

	mu      sync.Mutex
	order   []string
	entries map[string]Callback[T]
}

// New creates a registry. The name appears in log entries when a callback
// fails.
func New[T any](name string) *Registry[T] {
	return &Registry[T]{
		name:    name,
		entries: make(map[string]Callback[T]),
	}
}

// On registers a callback and returns its subscriber id. A caller-supplied id
// may be passed; otherwise one is generated. Registering an existing id
// replaces the callback without changing its position.
func (r *Registry[T]) On(cb Callback[T], id ...string) string {
	subscriberID := ""
	if len(id) > 0 && id[0] != "" {
		subscriberID = id[0]
	} else {
		subscriberID = fmt.Sprintf("handler-%s", uuid.NewString())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[subscriberID]; !exists {
		r.order = append(r.order, subscriberID)
	}
	r.entries[subscriberID] = cb
	return subscriberID
}

// Off removes the subscriber with the given id and reports whether it existed.
func (r *Registry[T]) Off(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[id]; !exists {
		return false
	}
	delete(r.entries, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Clear removes all subscribers.
func (r *Registry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = nil
	r.entries = make(map[string]Callback[T])
}

// Count returns the number of registered subscribers.
func (r *Registry[T]) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// IDs returns subscriber ids in registration order.
func (r *Registry[T]) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Fire invokes every registered callback with the payload, in registration
// order. The subscriber list is snapshotted before firing, so a callback may
// register or remove subscribers on this registry without affecting the
// in-progress fan-out. A panicking callback is recovered and logged; its
// siblings still run.
func (r *Registry[T]) Fire(payload T) {
	r.mu.Lock()
	ids := append([]string(nil), r.order...)
	callbacks := make([]Callback[T], 0, len(ids))
	for _, id := range ids {
		callbacks = append(callbacks, r.entries[id])
	}
	r.mu.Unlock()

	for i, cb := range callbacks {
		r.invoke(ids[i], cb, payload)
	}
}

func (r *Registry[T]) invoke(id string, cb Callback[T], payload T) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("registry", r.name).
				Str("handler_id", id).
				Str("panic", fmt.Sprintf("%v", rec)).
				Msg("callback failed")
		}
	}()
	cb(payload)
}
