package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/housecrystal-18/shopscanner/internal/pkg/env"
)

// ErrUnhandledEventType marks provider event types outside the internal
// taxonomy. Such events are recorded but never applied.
var ErrUnhandledEventType = errors.New("unhandled webhook event type")

// ErrMissingWebhookSecret is returned outside dev when no signing secret is
// configured.
var ErrMissingWebhookSecret = errors.New("webhook signing secret is not configured")

// VerifyAndParse checks the Stripe-Signature header against the configured
// signing secret and decodes the event. In dev without a secret the
// signature check is skipped so local webhook replays work.
func VerifyAndParse(payload []byte, sigHeader, secret string) (stripe.Event, bool, error) {
	if secret != "" {
		event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			return stripe.Event{}, false, fmt.Errorf("webhook signature verification failed: %w", err)
		}
		return event, true, nil
	}

	if !env.IsDev() {
		return stripe.Event{}, false, ErrMissingWebhookSecret
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return stripe.Event{}, false, fmt.Errorf("failed to decode webhook payload: %w", err)
	}
	return event, false, nil
}

// Minimal payload shapes decoded from event.Data.Raw. Webhook payloads carry
// related objects as string IDs, so these stay deliberately small instead of
// binding the full stripe object structs.
type subscriptionPayload struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

type invoicePayload struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Subscription     string `json:"subscription"`
	AmountDue        int64  `json:"amount_due"`
	Currency         string `json:"currency"`
	HostedInvoiceURL string `json:"hosted_invoice_url"`
	DueDate          int64  `json:"due_date"`
}

type paymentIntentPayload struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Normalize maps a provider event onto the internal taxonomy and extracts
// the tag-specific payload.
func Normalize(event stripe.Event) (NormalizedEvent, error) {
	out := NormalizedEvent{
		ProviderEventID: event.ID,
		Seq:             event.Created,
		OccurredAt:      time.Unix(event.Created, 0),
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		out.Type = EventSubscriptionUpdated
		return normalizeSubscription(event, out)
	case "customer.subscription.deleted":
		out.Type = EventSubscriptionCanceled
		return normalizeSubscription(event, out)
	case "payment_intent.succeeded":
		out.Type = EventPaymentSucceeded
		return normalizePaymentIntent(event, out)
	case "payment_intent.payment_failed":
		out.Type = EventPaymentFailed
		return normalizePaymentIntent(event, out)
	case "invoice.paid", "invoice.payment_succeeded":
		out.Type = EventInvoicePaid
		return normalizeInvoice(event, out)
	case "invoice.payment_failed":
		out.Type = EventInvoiceFailed
		return normalizeInvoice(event, out)
	case "invoice.upcoming":
		out.Type = EventInvoiceUpcoming
		return normalizeInvoice(event, out)
	default:
		return NormalizedEvent{}, fmt.Errorf("%w: %s", ErrUnhandledEventType, event.Type)
	}
}

func normalizeSubscription(event stripe.Event, out NormalizedEvent) (NormalizedEvent, error) {
	var p subscriptionPayload
	if err := json.Unmarshal(event.Data.Raw, &p); err != nil {
		return NormalizedEvent{}, fmt.Errorf("failed to decode subscription payload: %w", err)
	}

	out.ProviderSubscriptionID = p.ID
	out.ProviderCustomerID = p.Customer
	out.Status = normalizeStatus(p.Status)
	cancel := p.CancelAtPeriodEnd
	out.CancelAtPeriodEnd = &cancel

	// Newer API versions carry the billing period on subscription items.
	periodStart, periodEnd := p.CurrentPeriodStart, p.CurrentPeriodEnd
	if len(p.Items.Data) > 0 {
		item := p.Items.Data[0]
		out.ProviderPlanRef = item.Price.ID
		if periodStart == 0 {
			periodStart = item.CurrentPeriodStart
		}
		if periodEnd == 0 {
			periodEnd = item.CurrentPeriodEnd
		}
	}
	if periodStart > 0 {
		t := time.Unix(periodStart, 0)
		out.PeriodStart = &t
	}
	if periodEnd > 0 {
		t := time.Unix(periodEnd, 0)
		out.PeriodEnd = &t
	}
	return out, nil
}

func normalizeInvoice(event stripe.Event, out NormalizedEvent) (NormalizedEvent, error) {
	var p invoicePayload
	if err := json.Unmarshal(event.Data.Raw, &p); err != nil {
		return NormalizedEvent{}, fmt.Errorf("failed to decode invoice payload: %w", err)
	}

	out.ProviderCustomerID = p.Customer
	out.ProviderSubscriptionID = p.Subscription
	out.AmountCents = p.AmountDue
	out.Currency = p.Currency
	out.InvoiceURL = p.HostedInvoiceURL
	if p.DueDate > 0 {
		t := time.Unix(p.DueDate, 0)
		out.DueDate = &t
	}
	return out, nil
}

func normalizePaymentIntent(event stripe.Event, out NormalizedEvent) (NormalizedEvent, error) {
	var p paymentIntentPayload
	if err := json.Unmarshal(event.Data.Raw, &p); err != nil {
		return NormalizedEvent{}, fmt.Errorf("failed to decode payment intent payload: %w", err)
	}

	out.ProviderCustomerID = p.Customer
	out.AmountCents = p.Amount
	out.Currency = p.Currency
	return out, nil
}
