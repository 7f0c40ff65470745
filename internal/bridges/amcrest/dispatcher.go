package amcrest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// signalPrefix namespaces every signal this bridge sends.
const signalPrefix = "amcrest"

// ServiceSignal builds a signal name from a service and its qualifiers,
// e.g. ServiceSignal("event", "front", "VideoMotion") is
// "amcrest_event_front_VideoMotion".
func ServiceSignal(service string, parts ...string) string {
	return signalPrefix + "_" + strings.Join(append([]string{service}, parts...), "_")
}

// SignalHandler receives the arguments passed to Dispatcher.Send.
type SignalHandler func(ctx context.Context, args ...any) error

// Dispatcher is an in-process signal bus connecting checkers, event
// monitors, services and entities.
//
// Handlers run synchronously on the sender's goroutine in subscription
// order. A panicking handler is recovered and reported as an error.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]*subscriber
	nextID   uint64
}

type subscriber struct {
	id      uint64
	handler SignalHandler
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string][]*subscriber)}
}

// Subscribe registers handler for signal and returns a func that removes it.
// The returned func is idempotent.
func (d *Dispatcher) Subscribe(signal string, handler SignalHandler) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.handlers[signal] = append(d.handlers[signal], &subscriber{id: id, handler: handler})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(signal, id) })
	}
}

func (d *Dispatcher) remove(signal string, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.handlers[signal]
	for i, s := range subs {
		if s.id == id {
			// Copy so a Send iterating the old slice is unaffected.
			next := make([]*subscriber, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			if len(next) == 0 {
				delete(d.handlers, signal)
			} else {
				d.handlers[signal] = next
			}
			return
		}
	}
}

// Send invokes every handler subscribed to signal. All handlers run even
// if some fail; their errors are joined.
func (d *Dispatcher) Send(ctx context.Context, signal string, args ...any) error {
	d.mu.RLock()
	subs := d.handlers[signal]
	d.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if err := invoke(ctx, s.handler, args); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribers returns the number of handlers for signal.
func (d *Dispatcher) Subscribers(signal string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[signal])
}

func invoke(ctx context.Context, handler SignalHandler, args []any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("signal handler panic: %v", r)
		}
	}()
	return handler(ctx, args...)
}
