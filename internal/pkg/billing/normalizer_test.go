package billing

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"

	"github.com/housecrystal-18/shopscanner/app/models"
)

func stripeEvent(t *testing.T, eventType string, object any) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return stripe.Event{
		ID:      "evt_test",
		Type:    stripe.EventType(eventType),
		Created: 1700000000,
		Data:    &stripe.EventData{Raw: raw},
	}
}

func TestNormalizeSubscriptionUpdated(t *testing.T) {
	ev := stripeEvent(t, "customer.subscription.updated", map[string]any{
		"id":                   "sub_42",
		"customer":             "cus_42",
		"status":               "active",
		"cancel_at_period_end": true,
		"current_period_start": 1700000000,
		"current_period_end":   1702592000,
		"items": map[string]any{
			"data": []map[string]any{
				{"price": map[string]any{"id": "price_premium_month"}},
			},
		},
	})

	out, err := Normalize(ev)
	require.NoError(t, err)
	assert.Equal(t, EventSubscriptionUpdated, out.Type)
	assert.Equal(t, "evt_test", out.ProviderEventID)
	assert.Equal(t, int64(1700000000), out.Seq)
	assert.Equal(t, "sub_42", out.ProviderSubscriptionID)
	assert.Equal(t, "cus_42", out.ProviderCustomerID)
	assert.Equal(t, models.SubscriptionStatusActive, out.Status)
	assert.Equal(t, "price_premium_month", out.ProviderPlanRef)
	require.NotNil(t, out.CancelAtPeriodEnd)
	assert.True(t, *out.CancelAtPeriodEnd)
	require.NotNil(t, out.PeriodEnd)
	assert.Equal(t, time.Unix(1702592000, 0), *out.PeriodEnd)
}

func TestNormalizeSubscriptionItemLevelPeriods(t *testing.T) {
	// Newer API versions drop the top-level period fields.
	ev := stripeEvent(t, "customer.subscription.updated", map[string]any{
		"id":       "sub_42",
		"customer": "cus_42",
		"status":   "active",
		"items": map[string]any{
			"data": []map[string]any{
				{
					"price":                map[string]any{"id": "price_premium_month"},
					"current_period_start": 1700000000,
					"current_period_end":   1702592000,
				},
			},
		},
	})

	out, err := Normalize(ev)
	require.NoError(t, err)
	require.NotNil(t, out.PeriodStart)
	require.NotNil(t, out.PeriodEnd)
	assert.Equal(t, time.Unix(1700000000, 0), *out.PeriodStart)
}

func TestNormalizeSubscriptionDeleted(t *testing.T) {
	ev := stripeEvent(t, "customer.subscription.deleted", map[string]any{
		"id":       "sub_42",
		"customer": "cus_42",
		"status":   "canceled",
	})

	out, err := Normalize(ev)
	require.NoError(t, err)
	assert.Equal(t, EventSubscriptionCanceled, out.Type)
	assert.Equal(t, models.SubscriptionStatusCanceled, out.Status)
}

func TestNormalizeInvoiceEvents(t *testing.T) {
	tests := []struct {
		stripeType string
		want       EventType
	}{
		{"invoice.paid", EventInvoicePaid},
		{"invoice.payment_succeeded", EventInvoicePaid},
		{"invoice.payment_failed", EventInvoiceFailed},
		{"invoice.upcoming", EventInvoiceUpcoming},
	}

	for _, tc := range tests {
		t.Run(tc.stripeType, func(t *testing.T) {
			ev := stripeEvent(t, tc.stripeType, map[string]any{
				"id":                 "in_1",
				"customer":           "cus_42",
				"subscription":       "sub_42",
				"amount_due":         999,
				"currency":           "usd",
				"hosted_invoice_url": "https://invoice.stripe.test/in_1",
				"due_date":           1702592000,
			})

			out, err := Normalize(ev)
			require.NoError(t, err)
			assert.Equal(t, tc.want, out.Type)
			assert.Equal(t, int64(999), out.AmountCents)
			assert.Equal(t, "usd", out.Currency)
			assert.Equal(t, "https://invoice.stripe.test/in_1", out.InvoiceURL)
			require.NotNil(t, out.DueDate)
		})
	}
}

func TestNormalizePaymentIntentFailed(t *testing.T) {
	ev := stripeEvent(t, "payment_intent.payment_failed", map[string]any{
		"id":       "pi_1",
		"customer": "cus_42",
		"amount":   4999,
		"currency": "usd",
	})

	out, err := Normalize(ev)
	require.NoError(t, err)
	assert.Equal(t, EventPaymentFailed, out.Type)
	assert.Equal(t, int64(4999), out.AmountCents)
}

func TestNormalizeUnhandledType(t *testing.T) {
	ev := stripeEvent(t, "charge.refunded", map[string]any{"id": "ch_1"})

	_, err := Normalize(ev)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnhandledEventType))
}

func TestVerifyAndParseRejectsBadSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"invoice.paid"}`)

	_, valid, err := VerifyAndParse(payload, "t=1,v1=deadbeef", "whsec_test")
	require.Error(t, err)
	assert.False(t, valid)
}
