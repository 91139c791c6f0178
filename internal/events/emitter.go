package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// ErrHandlerPanic is reported when a subscriber panics while handling an event.
var ErrHandlerPanic = errors.New("event handler panicked")

type subscription struct {
	name    string
	types   []string // empty means every type
	handler EventHandler
}

func (s subscription) wants(eventType string) bool {
	return len(s.types) == 0 || slices.Contains(s.types, eventType)
}

// Dispatcher delivers task events to its subscribers synchronously, on the
// emitting goroutine, in subscription order. A subscriber registered after
// another only sees an event once the earlier one has returned.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   []subscription
	logger *slog.Logger
}

var _ EventEmitter = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher with no subscribers.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{logger: logger.With("component", "event_dispatcher")}
}

// Subscribe registers handler under name for the given event types, or for
// every type when none are given.
func (d *Dispatcher) Subscribe(name string, handler EventHandler, eventTypes ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, subscription{name: name, types: eventTypes, handler: handler})
	d.logger.Debug("event subscriber registered", "subscriber", name, "event_types", eventTypes)
}

// Subscribers returns subscriber names in delivery order.
func (d *Dispatcher) Subscribers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.subs))
	for i, s := range d.subs {
		names[i] = s.name
	}
	return names
}

// EmitEvent delivers event to every matching subscriber. Subscribers run
// with ctx's values but without its cancellation, so an event emitted while
// a task or request is being torn down is still fully delivered. A failing
// or panicking subscriber does not stop delivery to the rest; all failures
// are returned joined.
func (d *Dispatcher) EmitEvent(ctx context.Context, event *TaskEvent) error {
	d.mu.RLock()
	subs := slices.Clone(d.subs)
	d.mu.RUnlock()

	ctx = context.WithoutCancel(ctx)

	var errs []error
	for _, sub := range subs {
		if !sub.wants(event.Type) {
			continue
		}
		if err := d.deliver(ctx, sub, event); err != nil {
			d.logger.Error("event subscriber failed",
				"subscriber", sub.name,
				"event_type", event.Type,
				"task_id", event.TaskID,
				"error", err)
			errs = append(errs, fmt.Errorf("%s: %w", sub.name, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) deliver(ctx context.Context, sub subscription, event *TaskEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return sub.handler.HandleEvent(ctx, event)
}
