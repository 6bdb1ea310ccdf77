package event

import (
	"slices"
	"sync"

	"github.com/erp/pricesync/internal/domain/shared"
)

// anyType is the subscription key for handlers that receive every event
const anyType = ""

// HandlerRegistry records which handlers are subscribed to which event types.
type HandlerRegistry struct {
	mu   sync.RWMutex
	subs map[string][]shared.EventHandler
}

// NewHandlerRegistry creates an empty registry
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{subs: make(map[string][]shared.EventHandler)}
}

// Register subscribes handler to eventTypes. With no types it receives
// every event.
func (r *HandlerRegistry) Register(handler shared.EventHandler, eventTypes ...string) {
	if len(eventTypes) == 0 {
		eventTypes = []string{anyType}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range eventTypes {
		if !slices.Contains(r.subs[t], handler) {
			r.subs[t] = append(r.subs[t], handler)
		}
	}
}

// Unregister drops every subscription held by handler
func (r *HandlerRegistry) Unregister(handler shared.EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for t, hs := range r.subs {
		hs = slices.DeleteFunc(slices.Clone(hs), func(h shared.EventHandler) bool { return h == handler })
		if len(hs) == 0 {
			delete(r.subs, t)
			continue
		}
		r.subs[t] = hs
	}
}

// HandlersFor returns the handlers subscribed to eventType, then the
// catch-all ones, in registration order.
func (r *HandlerRegistry) HandlersFor(eventType string) []shared.EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if eventType == anyType {
		return slices.Clone(r.subs[anyType])
	}
	return slices.Concat(r.subs[eventType], r.subs[anyType])
}
