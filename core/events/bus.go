// Package events provides a publish/subscribe bus for entity lifecycle
// events. The mapping service publishes "<plugin>.<model>.<action>" after
// each committed save, delete, copy and move.
package events

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/entitycore/core/types"
)

// Actions published by the mapping service.
const (
	ActionSaved   = "saved"
	ActionDeleted = "deleted"
	ActionCopied  = "copied"
	ActionMoved   = "moved"
)

// Event represents a published event.
type Event struct {
	// Name is "<plugin>.<model>.<action>", e.g. "shop.order.saved".
	Name string

	// Definition is the definition of the affected entity.
	Definition types.Ref

	// Action is one of the Action constants.
	Action string

	// ID is the affected entity id.
	ID string

	// Created is set on the saved event of a new entity.
	Created bool

	// Source is the id of the original on copied events.
	Source string

	// Data contains the persisted field values, keyed by field name.
	Data map[string]any

	// At is when the operation committed.
	At time.Time
}

// Name builds the event name of action on ref.
func Name(ref types.Ref, action string) string {
	return ref.Plugin + "." + ref.Name + "." + action
}

// Handler is a function that processes an event.
type Handler func(ctx context.Context, event Event) error

// Publisher publishes events. The mapping service depends on this rather
// than on Bus.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Bus is a simple publish/subscribe event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   zerolog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event.
// The handler will be called whenever the event is published.
// Supports wildcard subscriptions:
//   - "shop.order.saved" - exact match
//   - "shop.order.*" - every action on one definition
//   - "shop.*" - every event of a plugin
//   - "*" - all events
func (b *Bus) Subscribe(event string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], handler)
}

// patterns returns the subscription keys matching name, most specific
// first.
func patterns(name string) []string {
	out := []string{name}
	for i := strings.LastIndexByte(name, '.'); i > 0; i = strings.LastIndexByte(name[:i], '.') {
		out = append(out, name[:i]+".*")
	}
	return append(out, "*")
}

func (b *Bus) matching(name string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var matched []Handler
	for _, p := range patterns(name) {
		matched = append(matched, b.handlers[p]...)
	}
	return matched
}

// Publish emits an event to all matching handlers.
// Handlers are called synchronously, most specific subscription first.
// If any handler returns an error, publishing continues but errors are logged.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.logger.Debug().
		Str("event", event.Name).
		Str("id", event.ID).
		Msg("event emitted")

	// Handlers run without the lock so they may subscribe.
	for _, handler := range b.matching(event.Name) {
		if err := handler(ctx, event); err != nil {
			b.logger.Error().
				Err(err).
				Str("event", event.Name).
				Msg("event handler error")
		}
	}
}

// PublishAsync emits an event asynchronously.
// The function returns immediately; handlers run in a goroutine.
func (b *Bus) PublishAsync(ctx context.Context, event Event) {
	go b.Publish(context.WithoutCancel(ctx), event)
}

// HasSubscribers checks if any handlers are registered for an event.
func (b *Bus) HasSubscribers(event string) bool {
	return len(b.matching(event)) > 0
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

var (
	_ Publisher = (*Bus)(nil)
	_ Publisher = Nop{}
)
