package billing

import "time"

// ProviderStripe is the only payment provider currently wired.
const ProviderStripe = "stripe"

// EventType is the internal webhook event taxonomy. Provider-specific type
// strings are mapped onto this closed set by Normalize.
type EventType string

const (
	EventSubscriptionUpdated  EventType = "subscription_updated"
	EventSubscriptionCanceled EventType = "subscription_canceled"
	EventPaymentSucceeded     EventType = "payment_succeeded"
	EventPaymentFailed        EventType = "payment_failed"
	EventInvoicePaid          EventType = "invoice_paid"
	EventInvoiceFailed        EventType = "invoice_payment_failed"
	EventInvoiceUpcoming      EventType = "invoice_upcoming"
)

// NormalizedEvent is the provider-agnostic shape applied by the reconciler.
// Seq is the provider's event creation time (unix seconds) and orders events;
// the reconciler rejects anything older than the last applied sequence.
type NormalizedEvent struct {
	Type            EventType
	ProviderEventID string
	Seq             int64
	OccurredAt      time.Time

	// Routing: at least one of these locates the local subscription.
	UserID                 uint
	ProviderCustomerID     string
	ProviderSubscriptionID string

	// subscription_* payload; empty fields mean "not present, leave as-is".
	Status            string
	ProviderPlanRef   string
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd *bool

	// payment_* / invoice_* payload.
	AmountCents int64
	Currency    string
	InvoiceURL  string
	DueDate     *time.Time
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}
