package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/housecrystal-18/shopscanner/app/models"
	"github.com/housecrystal-18/shopscanner/internal/pkg/plans"
)

type fakeRepository struct {
	mu         sync.Mutex
	subs       map[uint]*models.Subscription
	users      map[string]*models.User
	events     map[string]*models.WebhookEvent
	nextID     uint
	processed  map[uint]string
	incrErr    error
	increments int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		subs:      make(map[uint]*models.Subscription),
		users:     make(map[string]*models.User),
		events:    make(map[string]*models.WebhookEvent),
		processed: make(map[uint]string),
	}
}

func (f *fakeRepository) GetSubscriptionByUserID(userID uint) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subs[userID]; ok {
		cp := *sub
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) GetSubscriptionByProviderRef(customerID, subscriptionID string) (*models.Subscription, error) {
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

func (f *fakeRepository) UpsertSubscription(sub *models.Subscription) error {
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

func (f *fakeRepository) SaveSubscription(sub *models.Subscription) error {
	return f.UpsertSubscription(sub)
}

func (f *fakeRepository) IncrementUsage(userID uint, feature string, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incrErr != nil {
		return f.incrErr
	}
	sub, ok := f.subs[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	sub.Usage.Add(feature, delta)
	f.increments++
	return nil
}

func (f *fakeRepository) GetUserByStripeCustomerID(customerID string) (*models.User, error) {
	if u, ok := f.users[customerID]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) SetUserStripeCustomerID(userID uint, customerID string) error {
	f.users[customerID] = &models.User{ID: userID, StripeCustomerID: customerID}
	return nil
}

func (f *fakeRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	key := event.Provider + ":" + event.ProviderEventID
	if stored, ok := f.events[key]; ok {
		return false, stored, nil
	}
	f.nextID++
	event.ID = f.nextID
	f.events[key] = event
	return true, event, nil
}

func (f *fakeRepository) MarkWebhookProcessed(id uint, processingError string) error {
	f.processed[id] = processingError
	return nil
}

type fakeGateway struct {
	checkoutURL string
	canceled    []string
}

func (f *fakeGateway) EnsureCustomer(ctx context.Context, user *models.User) (string, error) {
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}
	return "cus_test", nil
}

func (f *fakeGateway) CreateCheckoutSession(ctx context.Context, customerID string, plan plans.PlanID, interval string) (string, error) {
	if f.checkoutURL == "" {
		return "https://checkout.stripe.test/session", nil
	}
	return f.checkoutURL, nil
}

func (f *fakeGateway) CancelAtPeriodEnd(ctx context.Context, providerSubscriptionID string) error {
	f.canceled = append(f.canceled, providerSubscriptionID)
	return nil
}

func newTestService(repo *fakeRepository) *Service {
	return NewService(repo, &fakeGateway{})
}

func seedSubscription(repo *fakeRepository, userID uint, plan string, status string) *models.Subscription {
	sub := models.DefaultSubscription(userID, time.Now())
	sub.Plan = plan
	sub.Status = status
	sub.ProviderSubscriptionID = "sub_123"
	sub.ProviderCustomerID = "cus_123"
	sub.LastEventSeq = 100
	_ = repo.UpsertSubscription(sub)
	return sub
}

func TestGetSubscriptionDefaultsToFree(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)

	sub, err := svc.GetSubscription(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "free", sub.Plan)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)

	// The implicit record is persisted.
	stored, err := repo.GetSubscriptionByUserID(42)
	require.NoError(t, err)
	assert.Equal(t, "free", stored.Plan)
}

func TestApplySubscriptionUpdatedPartialSemantics(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	seedSubscription(repo, 1, "premium", models.SubscriptionStatusActive)

	end := time.Now().Add(30 * 24 * time.Hour)
	ev := NormalizedEvent{
		Type:                   EventSubscriptionUpdated,
		Seq:                    200,
		ProviderSubscriptionID: "sub_123",
		Status:                 models.SubscriptionStatusPastDue,
		PeriodEnd:              &end,
	}

	sub, err := svc.Apply(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPastDue, sub.Status)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.WithinDuration(t, end, *sub.CurrentPeriodEnd, time.Second)
	// Missing fields untouched.
	assert.Equal(t, "premium", sub.Plan)
	assert.Equal(t, "cus_123", sub.ProviderCustomerID)
}

func TestApplyIsIdempotent(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	seedSubscription(repo, 1, "premium", models.SubscriptionStatusActive)

	ev := NormalizedEvent{
		Type:                   EventSubscriptionUpdated,
		Seq:                    200,
		ProviderSubscriptionID: "sub_123",
		Status:                 models.SubscriptionStatusCanceled,
	}

	first, err := svc.Apply(context.Background(), ev)
	require.NoError(t, err)
	second, err := svc.Apply(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.LastEventSeq, second.LastEventSeq)
	assert.Equal(t, first.Plan, second.Plan)
}

func TestApplyRejectsStaleEvents(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	seedSubscription(repo, 1, "premium", models.SubscriptionStatusActive)

	fresh := NormalizedEvent{
		Type:                   EventSubscriptionUpdated,
		Seq:                    300,
		ProviderSubscriptionID: "sub_123",
		Status:                 models.SubscriptionStatusActive,
	}
	_, err := svc.Apply(context.Background(), fresh)
	require.NoError(t, err)

	stale := NormalizedEvent{
		Type:                   EventSubscriptionUpdated,
		Seq:                    250,
		ProviderSubscriptionID: "sub_123",
		Status:                 models.SubscriptionStatusCanceled,
	}
	rejected, err := svc.Apply(context.Background(), stale)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStaleEvent))

	// The located subscription comes back with the error so callers can
	// still attribute the rejected event to its owner.
	require.NotNil(t, rejected)
	assert.Equal(t, uint(1), rejected.UserID)

	sub, _ := repo.GetSubscriptionByUserID(1)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
}

func TestApplyCancellationKeepsUsage(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	seeded := seedSubscription(repo, 1, "premium", models.SubscriptionStatusActive)
	seeded.Usage.ScansUsed = 17
	_ = repo.UpsertSubscription(seeded)

	ev := NormalizedEvent{
		Type:                   EventSubscriptionCanceled,
		Seq:                    200,
		ProviderSubscriptionID: "sub_123",
	}
	sub, err := svc.Apply(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, int64(17), sub.Usage.ScansUsed)
}

func TestApplyPaymentTransitions(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	seedSubscription(repo, 1, "premium", models.SubscriptionStatusActive)

	_, err := svc.Apply(context.Background(), NormalizedEvent{
		Type: EventPaymentFailed, Seq: 200, ProviderSubscriptionID: "sub_123",
	})
	require.NoError(t, err)
	sub, _ := repo.GetSubscriptionByUserID(1)
	assert.Equal(t, models.SubscriptionStatusPastDue, sub.Status)

	_, err = svc.Apply(context.Background(), NormalizedEvent{
		Type: EventPaymentSucceeded, Seq: 300, ProviderSubscriptionID: "sub_123",
	})
	require.NoError(t, err)
	sub, _ = repo.GetSubscriptionByUserID(1)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
}

func TestApplyRoutesByCustomerForFreshCheckout(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	repo.users["cus_new"] = &models.User{ID: 9, StripeCustomerID: "cus_new"}

	ev := NormalizedEvent{
		Type:                   EventSubscriptionUpdated,
		Seq:                    100,
		ProviderCustomerID:     "cus_new",
		ProviderSubscriptionID: "sub_new",
		Status:                 models.SubscriptionStatusActive,
	}
	sub, err := svc.Apply(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, uint(9), sub.UserID)
	assert.Equal(t, "sub_new", sub.ProviderSubscriptionID)
}

func TestApplyUnknownSubscriber(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)

	_, err := svc.Apply(context.Background(), NormalizedEvent{
		Type:               EventSubscriptionUpdated,
		Seq:                100,
		ProviderCustomerID: "cus_nobody",
	})
	assert.True(t, errors.Is(err, ErrUnknownSubscriber))
}

func TestRecordWebhookEventDeduplicates(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)

	in := WebhookEventInput{
		Provider:        ProviderStripe,
		ProviderEventID: "evt_1",
		EventType:       "invoice.paid",
		PayloadJSON:     `{"id":"evt_1"}`,
		SignatureValid:  true,
	}

	created, stored, err := svc.RecordWebhookEvent(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, stored)

	created, again, err := svc.RecordWebhookEvent(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored.ID, again.ID)
}

func TestRecordWebhookEventHashesMissingID(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)

	created, stored, err := svc.RecordWebhookEvent(context.Background(), WebhookEventInput{
		Provider:    ProviderStripe,
		EventType:   "invoice.paid",
		PayloadJSON: `{"amount_due":999}`,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Contains(t, stored.ProviderEventID, "hash:")
}

func TestCancelFlagsWithoutStatusFlip(t *testing.T) {
	repo := newFakeRepository()
	gw := &fakeGateway{}
	svc := NewService(repo, gw)
	seedSubscription(repo, 1, "premium", models.SubscriptionStatusActive)

	sub, err := svc.Cancel(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)
	// Status stays active until the provider webhook confirms.
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, []string{"sub_123"}, gw.canceled)
}

func TestCancelFreePlanRejected(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)

	_, err := svc.Cancel(context.Background(), 1)
	require.Error(t, err)
}

func TestUpgradeReturnsCheckoutURL(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, &fakeGateway{checkoutURL: "https://checkout.stripe.test/cs_1"})

	user := &models.User{ID: 1, Email: "buyer@example.com"}
	url, err := svc.Upgrade(context.Background(), user, plans.PlanPremium, "month")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.test/cs_1", url)
	assert.Equal(t, "cus_test", user.StripeCustomerID)
}

func TestUpgradeToFreeRejected(t *testing.T) {
	svc := newTestService(newFakeRepository())

	_, err := svc.Upgrade(context.Background(), &models.User{ID: 1}, plans.PlanFree, "month")
	require.Error(t, err)
}

func TestIncrementUsageSerializedWithApply(t *testing.T) {
	// Webhook applies rewrite the subscription row while usage increments
	// land on it. The per-user lock keeps the increments from being lost to
	// a read-modify-write interleaving.
	repo := newFakeRepository()
	svc := newTestService(repo)
	seedSubscription(repo, 1, "premium", models.SubscriptionStatusActive)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.IncrementUsage(context.Background(), 1, string(plans.FeatureScan), 1))
		}()
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(seq int64) {
			defer wg.Done()
			_, err := svc.Apply(context.Background(), NormalizedEvent{
				Type:                   EventSubscriptionUpdated,
				Seq:                    seq,
				ProviderSubscriptionID: "sub_123",
				Status:                 models.SubscriptionStatusActive,
			})
			if err != nil {
				assert.True(t, errors.Is(err, ErrStaleEvent))
			}
		}(int64(200 + i))
	}
	wg.Wait()

	sub, err := repo.GetSubscriptionByUserID(1)
	require.NoError(t, err)
	assert.Equal(t, int64(20), sub.Usage.ScansUsed)
}
