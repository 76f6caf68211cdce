package events

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/housecrystal-18/shopscanner/internal/pkg/billing"
)

func TestPublishBillingDispatchOrder(t *testing.T) {
	bus := NewBus()
	var order []int

	bus.SubscribeBilling(func(billing.NormalizedEvent) { order = append(order, 1) })
	bus.SubscribeBilling(func(billing.NormalizedEvent) { order = append(order, 2) })
	bus.SubscribeBilling(func(billing.NormalizedEvent) { order = append(order, 3) })

	bus.PublishBilling(billing.NormalizedEvent{Type: billing.EventInvoicePaid})
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestPanicDoesNotStopDispatch(t *testing.T) {
	bus := NewBus()
	var reached bool

	bus.SubscribeBilling(func(billing.NormalizedEvent) { panic("boom") })
	bus.SubscribeBilling(func(billing.NormalizedEvent) { reached = true })

	assert.NotPanics(t, func() {
		bus.PublishBilling(billing.NormalizedEvent{Type: billing.EventPaymentFailed})
	})
	assert.True(t, reached)
}

func TestConnectivitySubscribers(t *testing.T) {
	bus := NewBus()
	var got []bool

	bus.SubscribeConnectivity(func(ev ConnectivityEvent) { got = append(got, ev.Online) })

	bus.PublishConnectivity(ConnectivityEvent{Online: false})
	bus.PublishConnectivity(ConnectivityEvent{Online: true})
	assert.Equal(t, []bool{false, true}, got)
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	bus := NewBus()
	assert.NotPanics(t, func() {
		bus.PublishBilling(billing.NormalizedEvent{})
		bus.PublishConnectivity(ConnectivityEvent{Online: true})
	})
}
