package ws

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Router dispatches inbound frames to the handler registered for their
// destination. Registration and dispatch may happen on different
// goroutines.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

func (r *Router) On(destination string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[destination]; ok {
		panic(fmt.Sprintf("handler(%s): already exists", destination))
	}
	r.handlers[destination] = h
}

func (r *Router) Off(destination string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, destination)
}

// Dispatch routes a frame body to its destination handler. Frames for
// destinations without a handler are dropped; a panicking handler is
// contained and logged.
func (r *Router) Dispatch(destination string, body json.RawMessage) {
	r.mu.RLock()
	h, ok := r.handlers[destination]
	r.mu.RUnlock()
	if !ok {
		r.logger.Debug("no handler for destination", slog.String("destination", destination))
		return
	}
	func() {
		defer func() {
			if _r := recover(); _r != nil {
				r.logger.Error(fmt.Sprintf("handler(%s): %v", destination, _r))
			}
		}()
		h(destination, body)
	}()
}
