package events

import (
	"sync"

	"github.com/gofiber/fiber/v2/log"

	"github.com/housecrystal-18/shopscanner/internal/pkg/billing"
)

// ConnectivityEvent signals an upstream reachability transition.
type ConnectivityEvent struct {
	Online bool
}

// Bus is an in-process typed publish/subscribe hub. Publishing dispatches
// synchronously in subscription order; a panicking handler is recovered and
// logged so one subscriber cannot take down the rest.
type Bus struct {
	mu           sync.RWMutex
	billing      []func(billing.NormalizedEvent)
	connectivity []func(ConnectivityEvent)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// SubscribeBilling registers a handler for normalized billing events.
func (b *Bus) SubscribeBilling(handler func(billing.NormalizedEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.billing = append(b.billing, handler)
}

// SubscribeConnectivity registers a handler for connectivity transitions.
func (b *Bus) SubscribeConnectivity(handler func(ConnectivityEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectivity = append(b.connectivity, handler)
}

// PublishBilling delivers the event to every billing subscriber in order.
func (b *Bus) PublishBilling(ev billing.NormalizedEvent) {
	b.mu.RLock()
	handlers := make([]func(billing.NormalizedEvent), len(b.billing))
	copy(handlers, b.billing)
	b.mu.RUnlock()

	for _, handler := range handlers {
		dispatch(func() { handler(ev) }, "billing")
	}
}

// PublishConnectivity delivers the transition to every connectivity subscriber.
func (b *Bus) PublishConnectivity(ev ConnectivityEvent) {
	b.mu.RLock()
	handlers := make([]func(ConnectivityEvent), len(b.connectivity))
	copy(handlers, b.connectivity)
	b.mu.RUnlock()

	for _, handler := range handlers {
		dispatch(func() { handler(ev) }, "connectivity")
	}
}

func dispatch(fn func(), topic string) {
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("[Events] recovered panic in %s subscriber: %v", topic, r)
		}
	}()
	fn()
}

var (
	defaultBus     *Bus
	defaultBusOnce sync.Once
)

// Default returns the process-wide bus.
func Default() *Bus {
	defaultBusOnce.Do(func() {
		defaultBus = NewBus()
	})
	return defaultBus
}
