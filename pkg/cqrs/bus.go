// Package cqrs routes commands to their handlers through a middleware
// chain. The bus is in-process; both API surfaces send through it so
// cross-cutting concerns live in one place.
package cqrs

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrHandlerNotFound is returned by Send for unregistered command
// types.
var ErrHandlerNotFound = errors.New("no handler registered for command type")

// Command is a request to change state, identified by its type name.
type Command interface {
	CommandType() string
}

// HandlerFunc processes one command and returns its result.
type HandlerFunc func(ctx context.Context, cmd Command) (any, error)

// Middleware wraps a handler with a cross-cutting concern.
type Middleware func(HandlerFunc) HandlerFunc

// Bus is an in-memory command bus.
type Bus struct {
	mu         sync.RWMutex
	handlers   map[string]HandlerFunc
	middleware []Middleware
}

// NewBus creates an empty command bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds a handler to a command type. Registering the same
// type twice is a programming error and panics.
func (b *Bus) Register(commandType string, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[commandType]; exists {
		panic(fmt.Sprintf("handler already registered for command type: %s", commandType))
	}
	b.handlers[commandType] = handler
}

// Use appends middleware to the pipeline. First added runs outermost.
func (b *Bus) Use(middleware ...Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.middleware = append(b.middleware, middleware...)
}

// Send routes the command to its handler through the middleware chain.
func (b *Bus) Send(ctx context.Context, cmd Command) (any, error) {
	b.mu.RLock()
	handler, exists := b.handlers[cmd.CommandType()]
	middleware := b.middleware
	b.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, cmd.CommandType())
	}

	// Chain in reverse so the first added middleware is outermost.
	final := handler
	for i := len(middleware) - 1; i >= 0; i-- {
		final = middleware[i](final)
	}

	return final(ctx, cmd)
}

// RegisteredTypes returns the registered command types, for
// diagnostics.
func (b *Bus) RegisteredTypes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	types := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		types = append(types, t)
	}
	return types
}
