package alerting

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/housecrystal-18/shopscanner/internal/pkg/billing"
	"github.com/housecrystal-18/shopscanner/internal/pkg/events"
)

// Severity orders alerts and decides their lifetime.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AlertType is the internal alert taxonomy.
type AlertType string

const (
	TypePaymentFailed      AlertType = "payment_failed"
	TypeSubscriptionAtRisk AlertType = "subscription_at_risk"
	TypeInvoiceOverdue     AlertType = "invoice_overdue"
	TypeHighFailureRate    AlertType = "high_failure_rate"
	TypeWebhookFailure     AlertType = "webhook_failure"
)

// Action is an optional call-to-action attached to an alert.
type Action struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// PaymentAlert is one user-visible billing alert. UserID scopes the alert
// to its owner; zero means operational alerts outside any user's view.
type PaymentAlert struct {
	UserID    uint           `json:"-"`
	ID        string         `json:"id"`
	Type      AlertType      `json:"type"`
	Severity  Severity       `json:"severity"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Action    *Action        `json:"action,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (a *PaymentAlert) clone() PaymentAlert {
	cp := *a
	if a.Action != nil {
		act := *a.Action
		cp.Action = &act
	}
	if a.Metadata != nil {
		cp.Metadata = make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

const (
	visibleCap           = 5
	failureWindow        = 5 * time.Minute
	failureThreshold     = 3
	lowSeverityTTL       = 10 * time.Second
	janitorInterval      = time.Second
	overdueCriticalCents = 10000
)

// Aggregator collects billing alerts, deduplicates them, caps the visible
// set and escalates repeated payment failures. Every rule is scoped to one
// user: alerts, dedup, the visible cap and the failure window never mix
// tenants. All methods are safe for concurrent use.
type Aggregator struct {
	mu       sync.Mutex
	alerts   map[uint][]*PaymentAlert // per user, newest last
	failures map[uint][]time.Time

	sinks        []ErrorSink
	criticalSink ErrorSink

	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewAggregator creates an aggregator reporting every alert to the given
// sinks. The critical sink, when set, additionally receives externally
// critical alerts.
func NewAggregator(criticalSink ErrorSink, sinks ...ErrorSink) *Aggregator {
	if len(sinks) == 0 {
		sinks = []ErrorSink{logSink{}}
	}
	return &Aggregator{
		alerts:       make(map[uint][]*PaymentAlert),
		failures:     make(map[uint][]time.Time),
		sinks:        sinks,
		criticalSink: criticalSink,
		now:          time.Now,
		stop:         make(chan struct{}),
	}
}

// Subscribe wires the aggregator onto the event bus.
func (a *Aggregator) Subscribe(bus *events.Bus) {
	bus.SubscribeBilling(a.HandleBillingEvent)
}

// Start launches the janitor that expires low-severity alerts.
func (a *Aggregator) Start() {
	go a.janitor()
}

// Stop terminates the janitor. Safe to call more than once.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
}

func (a *Aggregator) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.expireLow()
		}
	}
}

func (a *Aggregator) expireLow() {
	a.mu.Lock()
	defer a.mu.Unlock()
	cutoff := a.now().Add(-lowSeverityTTL)
	for userID, alerts := range a.alerts {
		kept := alerts[:0]
		for _, alert := range alerts {
			if alert.Severity == SeverityLow && alert.Timestamp.Before(cutoff) {
				continue
			}
			kept = append(kept, alert)
		}
		if len(kept) == 0 {
			delete(a.alerts, userID)
			continue
		}
		a.alerts[userID] = kept
	}
}

// Ingest adds one alert, applying dedup, failure-rate escalation and the
// visible cap. It reports whether the alert was accepted.
func (a *Aggregator) Ingest(alert PaymentAlert) bool {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = a.now()
	}

	a.mu.Lock()

	// Raw arrivals count toward the user's failure rate even when
	// deduplicated.
	var escalated *PaymentAlert
	if alert.Type == TypePaymentFailed {
		escalated = a.trackFailureLocked(alert.UserID, alert.Timestamp)
	}

	accepted := !a.duplicateLocked(&alert)
	if accepted {
		a.insertLocked(&alert)
	}
	if escalated != nil && a.duplicateLocked(escalated) {
		escalated = nil
	}
	if escalated != nil {
		a.insertLocked(escalated)
	}
	a.mu.Unlock()

	if accepted {
		a.report(alert)
	}
	if escalated != nil {
		a.report(*escalated)
	}
	return accepted
}

// duplicateLocked reports whether a live alert of the same user already
// carries the same (type, message).
func (a *Aggregator) duplicateLocked(alert *PaymentAlert) bool {
	for _, live := range a.alerts[alert.UserID] {
		if live.Type == alert.Type && live.Message == alert.Message {
			return true
		}
	}
	return false
}

// trackFailureLocked records one user's payment failure and synthesizes the
// high-failure-rate alert once that user hits the threshold inside the
// window. Other users' failures never count toward it.
func (a *Aggregator) trackFailureLocked(userID uint, at time.Time) *PaymentAlert {
	cutoff := at.Add(-failureWindow)
	kept := a.failures[userID][:0]
	for _, t := range a.failures[userID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	a.failures[userID] = append(kept, at)

	if len(a.failures[userID]) < failureThreshold {
		return nil
	}
	delete(a.failures, userID)
	return &PaymentAlert{
		UserID:    userID,
		ID:        uuid.New().String(),
		Type:      TypeHighFailureRate,
		Severity:  SeverityCritical,
		Title:     "Repeated Payment Failures",
		Message:   fmt.Sprintf("%d payment failures within %s. Please verify your payment method.", failureThreshold, failureWindow),
		Timestamp: at,
		Action:    &Action{Label: "Update Payment Method", URL: "/account/subscription"},
	}
}

func (a *Aggregator) insertLocked(alert *PaymentAlert) {
	list := append(a.alerts[alert.UserID], alert)
	if len(list) > visibleCap {
		list = list[len(list)-visibleCap:]
	}
	a.alerts[alert.UserID] = list
}

// Visible returns the user's live alerts, most recent first, capped at five.
func (a *Aggregator) Visible(userID uint) []PaymentAlert {
	a.mu.Lock()
	defer a.mu.Unlock()
	list := a.alerts[userID]
	out := make([]PaymentAlert, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		out = append(out, list[i].clone())
	}
	return out
}

// Dismiss removes the alert with the given id from the user's list. Alerts
// of other users are not reachable.
func (a *Aggregator) Dismiss(userID uint, id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	list := a.alerts[userID]
	for i, alert := range list {
		if alert.ID == id {
			a.alerts[userID] = append(list[:i], list[i+1:]...)
			if len(a.alerts[userID]) == 0 {
				delete(a.alerts, userID)
			}
			return true
		}
	}
	return false
}

func (a *Aggregator) report(alert PaymentAlert) {
	for _, sink := range a.sinks {
		sink.Report(alert)
	}
	if a.criticalSink != nil && externallyCritical(alert) {
		a.criticalSink.Report(alert)
	}
}

// externallyCritical decides which alerts escalate to the external webhook.
func externallyCritical(alert PaymentAlert) bool {
	switch alert.Type {
	case TypePaymentFailed, TypeWebhookFailure, TypeHighFailureRate:
		return true
	case TypeInvoiceOverdue:
		return alert.Severity == SeverityCritical
	default:
		return false
	}
}

// HandleBillingEvent maps normalized billing events onto alerts.
func (a *Aggregator) HandleBillingEvent(ev billing.NormalizedEvent) {
	switch ev.Type {
	case billing.EventPaymentFailed, billing.EventInvoiceFailed:
		a.ingestPaymentFailure(ev)
	case billing.EventInvoiceUpcoming:
		a.Ingest(PaymentAlert{
			UserID:    ev.UserID,
			Type:      TypeSubscriptionAtRisk,
			Severity:  SeverityLow,
			Title:     "Upcoming Renewal",
			Message:   fmt.Sprintf("Your subscription renews soon for %s.", formatAmount(ev.Currency, ev.AmountCents)),
			Timestamp: ev.OccurredAt,
		})
	case billing.EventSubscriptionCanceled:
		a.Ingest(PaymentAlert{
			UserID:    ev.UserID,
			Type:      TypeSubscriptionAtRisk,
			Severity:  SeverityMedium,
			Title:     "Subscription Canceled",
			Message:   "Your subscription was canceled and will not renew.",
			Timestamp: ev.OccurredAt,
			Action:    &Action{Label: "Resubscribe", URL: "/account/subscription"},
		})
	}
}

func (a *Aggregator) ingestPaymentFailure(ev billing.NormalizedEvent) {
	amount := formatAmount(ev.Currency, ev.AmountCents)

	if ev.Type == billing.EventInvoiceFailed {
		severity := SeverityMedium
		if ev.AmountCents >= overdueCriticalCents {
			severity = SeverityCritical
		}
		action := &Action{Label: "Pay Invoice", URL: "/account/subscription"}
		if ev.InvoiceURL != "" {
			action.URL = ev.InvoiceURL
		}
		a.Ingest(PaymentAlert{
			UserID:    ev.UserID,
			Type:      TypeInvoiceOverdue,
			Severity:  severity,
			Title:     "Invoice Payment Failed",
			Message:   fmt.Sprintf("Your invoice of %s is overdue.", amount),
			Timestamp: ev.OccurredAt,
			Action:    action,
			Metadata:  map[string]any{"amount_cents": ev.AmountCents, "currency": ev.Currency},
		})
		return
	}

	a.Ingest(PaymentAlert{
		UserID:    ev.UserID,
		Type:      TypePaymentFailed,
		Severity:  SeverityHigh,
		Title:     "Payment Processing Failed",
		Message:   fmt.Sprintf("Your payment of %s could not be processed.", amount),
		Timestamp: ev.OccurredAt,
		Action:    &Action{Label: "Update Payment Method", URL: "/account/subscription"},
		Metadata:  map[string]any{"amount_cents": ev.AmountCents, "currency": ev.Currency},
	})
}

func formatAmount(currency string, cents int64) string {
	cur := strings.ToUpper(strings.TrimSpace(currency))
	if cur == "" {
		cur = "USD"
	}
	return fmt.Sprintf("%s %.2f", cur, float64(cents)/100)
}
