package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/housecrystal-18/shopscanner/app/models"
	"github.com/housecrystal-18/shopscanner/internal/pkg/billing"
	"github.com/housecrystal-18/shopscanner/internal/pkg/entitlements"
	"github.com/housecrystal-18/shopscanner/internal/pkg/events"
	"github.com/housecrystal-18/shopscanner/internal/pkg/plans"
)

type fakeBillingRepo struct {
	mu        sync.Mutex
	subs      map[uint]*models.Subscription
	events    map[string]*models.WebhookEvent
	processed map[uint]string
	nextID    uint
}

func newFakeBillingRepo() *fakeBillingRepo {
	return &fakeBillingRepo{
		subs:      make(map[uint]*models.Subscription),
		events:    make(map[string]*models.WebhookEvent),
		processed: make(map[uint]string),
	}
}

func (f *fakeBillingRepo) GetSubscriptionByUserID(userID uint) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subs[userID]; ok {
		cp := *sub
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeBillingRepo) GetSubscriptionByProviderRef(customerID, subscriptionID string) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		if subscriptionID != "" && sub.ProviderSubscriptionID == subscriptionID {
			cp := *sub
			return &cp, nil
		}
		if customerID != "" && sub.ProviderCustomerID == customerID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeBillingRepo) UpsertSubscription(sub *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub.ID == 0 {
		f.nextID++
		sub.ID = f.nextID
	}
	cp := *sub
	f.subs[sub.UserID] = &cp
	return nil
}

func (f *fakeBillingRepo) SaveSubscription(sub *models.Subscription) error {
	return f.UpsertSubscription(sub)
}

func (f *fakeBillingRepo) IncrementUsage(userID uint, feature string, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	sub.Usage.Add(feature, delta)
	return nil
}

func (f *fakeBillingRepo) GetUserByStripeCustomerID(customerID string) (*models.User, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeBillingRepo) SetUserStripeCustomerID(userID uint, customerID string) error {
	return nil
}

func (f *fakeBillingRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := event.Provider + ":" + event.ProviderEventID
	if stored, ok := f.events[key]; ok {
		return false, stored, nil
	}
	f.nextID++
	event.ID = f.nextID
	f.events[key] = event
	return true, event, nil
}

func (f *fakeBillingRepo) MarkWebhookProcessed(id uint, processingError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[id] = processingError
	return nil
}

type fakeCheckoutGateway struct{}

func (fakeCheckoutGateway) EnsureCustomer(ctx context.Context, user *models.User) (string, error) {
	return "cus_test", nil
}

func (fakeCheckoutGateway) CreateCheckoutSession(ctx context.Context, customerID string, plan plans.PlanID, interval string) (string, error) {
	return "https://checkout.stripe.test/session", nil
}

func (fakeCheckoutGateway) CancelAtPeriodEnd(ctx context.Context, providerSubscriptionID string) error {
	return nil
}

type noopPendingStore struct{}

func (noopPendingStore) AddPending(ctx context.Context, feature string, userID uint, delta int64) error {
	return nil
}

func (noopPendingStore) PendingFor(ctx context.Context, feature string, userID uint) (int64, error) {
	return 0, nil
}

func newWebhookTestApp(t *testing.T, repo *fakeBillingRepo) *fiber.App {
	t.Helper()
	t.Setenv("APP_ENV", "dev")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")

	svc := billing.NewService(repo, fakeCheckoutGateway{})
	SetBillingService(svc, entitlements.NewEvaluator(svc, noopPendingStore{}))

	app := fiber.New()
	app.Post("/webhooks/stripe", HandleStripeWebhook)
	return app
}

// captureBillingEvents subscribes to the shared bus and records events with
// the given provider event id. The bus has no unsubscribe, so filtering by
// id keeps tests in this package from seeing each other's events.
func captureBillingEvents(eventID string) func() []billing.NormalizedEvent {
	var mu sync.Mutex
	var captured []billing.NormalizedEvent
	events.Default().SubscribeBilling(func(ev billing.NormalizedEvent) {
		if ev.ProviderEventID != eventID {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		captured = append(captured, ev)
	})
	return func() []billing.NormalizedEvent {
		mu.Lock()
		defer mu.Unlock()
		out := make([]billing.NormalizedEvent, len(captured))
		copy(out, captured)
		return out
	}
}

func stripeWebhookBody(t *testing.T, eventID, eventType string, created int64, object map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":      eventID,
		"type":    eventType,
		"created": created,
		"data":    map[string]any{"object": object},
	})
	require.NoError(t, err)
	return body
}

func seedWebhookSubscription(repo *fakeBillingRepo, userID uint, lastSeq int64) {
	sub := models.DefaultSubscription(userID, time.Now())
	sub.Plan = "premium"
	sub.Status = models.SubscriptionStatusActive
	sub.ProviderSubscriptionID = "sub_42"
	sub.ProviderCustomerID = "cus_42"
	sub.LastEventSeq = lastSeq
	_ = repo.UpsertSubscription(sub)
}

func TestWebhookAppliesAndPublishes(t *testing.T) {
	repo := newFakeBillingRepo()
	app := newWebhookTestApp(t, repo)
	seedWebhookSubscription(repo, 5, 100)
	captured := captureBillingEvents("evt_applied")

	body := stripeWebhookBody(t, "evt_applied", "customer.subscription.updated", 1700000000, map[string]any{
		"id":       "sub_42",
		"customer": "cus_42",
		"status":   "active",
	})
	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	published := captured()
	require.Len(t, published, 1)
	assert.Equal(t, uint(5), published[0].UserID)
}

func TestWebhookStaleEventStillPublishes(t *testing.T) {
	repo := newFakeBillingRepo()
	app := newWebhookTestApp(t, repo)
	// The subscription has already absorbed a later event.
	seedWebhookSubscription(repo, 5, 1800000000)
	captured := captureBillingEvents("evt_stale")

	body := stripeWebhookBody(t, "evt_stale", "invoice.payment_failed", 1700000000, map[string]any{
		"id":           "in_1",
		"customer":     "cus_42",
		"subscription": "sub_42",
		"amount_due":   2999,
		"currency":     "usd",
	})
	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, true, out["stale"])

	// The stale event is still delivered to bus subscribers, attributed to
	// its owner, so alerting sees the payment failure.
	published := captured()
	require.Len(t, published, 1)
	assert.Equal(t, billing.EventInvoiceFailed, published[0].Type)
	assert.Equal(t, uint(5), published[0].UserID)
}

func TestWebhookDuplicateSkipsPublish(t *testing.T) {
	repo := newFakeBillingRepo()
	app := newWebhookTestApp(t, repo)
	seedWebhookSubscription(repo, 5, 100)
	captured := captureBillingEvents("evt_dup")

	body := stripeWebhookBody(t, "evt_dup", "customer.subscription.updated", 1700000000, map[string]any{
		"id":       "sub_42",
		"customer": "cus_42",
		"status":   "active",
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		if i == 1 {
			var out map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			assert.Equal(t, true, out["duplicate"])
		}
	}

	// The replay is absorbed by the ledger; only the first delivery reaches
	// the bus.
	assert.Len(t, captured(), 1)
}
