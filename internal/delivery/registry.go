// Package delivery routes outbound messages to the transport that owns a
// channel key.
package delivery

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ErrNoHandler is returned when no transport is registered for a channel.
var ErrNoHandler = errors.New("no delivery handler")

// Handler delivers a message to the channel identified by channel.
type Handler func(channel, message string) error

// Registry routes messages by channel key scheme, the part before the first
// colon ("telegram:123" goes to the "telegram" handler).
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for channels of the given scheme. A trailing colon
// is accepted and ignored.
func (r *Registry) Register(scheme string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[strings.TrimSuffix(scheme, ":")] = handler
}

// Deliver calls the handler for channel's scheme.
func (r *Registry) Deliver(channel, message string) error {
	scheme, _, ok := strings.Cut(channel, ":")
	if !ok {
		return fmt.Errorf("%w: malformed channel %q", ErrNoHandler, channel)
	}
	r.mu.RLock()
	handler, ok := r.handlers[scheme]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w for channel %s", ErrNoHandler, channel)
	}
	return handler(channel, message)
}

// LogHandler writes messages to logger. It backs the "log" scheme when no
// chat transport is configured.
func LogHandler(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(channel, message string) error {
		logger.Info("operator message", "channel", channel, "message", message)
		return nil
	}
}
