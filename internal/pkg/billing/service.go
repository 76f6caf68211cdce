package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/housecrystal-18/shopscanner/app/models"
	"github.com/housecrystal-18/shopscanner/internal/pkg/cache"
	"github.com/housecrystal-18/shopscanner/internal/pkg/entitlements"
	"github.com/housecrystal-18/shopscanner/internal/pkg/plans"
)

const (
	// SnapshotKeyPrefix keys the advisory subscription copies in Redis.
	SnapshotKeyPrefix = "subscription:snapshot:"
	snapshotTTL       = 24 * time.Hour
)

// ErrStaleEvent marks a webhook event older than the last one applied to the
// subscription. Stale events are rejected, never applied.
var ErrStaleEvent = errors.New("stale webhook event rejected")

// ErrUnknownSubscriber means an event could not be routed to any local user.
var ErrUnknownSubscriber = errors.New("event does not match any local subscription or customer")

// Service reconciles provider subscription state into local records and
// serializes all writes per user. It is the single writer for subscriptions;
// everything else reads copies.
type Service struct {
	repo    Repository
	gateway PaymentGateway

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

// NewService creates a billing service from injected dependencies.
func NewService(repo Repository, gateway PaymentGateway) *Service {
	return &Service{
		repo:    repo,
		gateway: gateway,
		locks:   make(map[uint]*sync.Mutex),
	}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), NewStripeGatewayFromEnv())
}

func (s *Service) userLock(userID uint) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// GetSubscription returns the user's subscription, creating the implicit
// free-tier record on first access. Usage counters are lazily reset when the
// billing period has rolled over.
func (s *Service) GetSubscription(ctx context.Context, userID uint) (*models.Subscription, error) {
	if userID == 0 {
		return nil, errors.New("user_id is required")
	}
	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	sub, err := s.repo.GetSubscriptionByUserID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			sub = models.DefaultSubscription(userID, time.Now())
			if cerr := s.repo.UpsertSubscription(sub); cerr != nil {
				return nil, fmt.Errorf("failed to create default subscription: %w", cerr)
			}
			s.saveSnapshot(sub)
			return sub, nil
		}
		// Degraded read: fall back to the advisory snapshot when the
		// canonical store is unreachable.
		if snap, serr := LoadSnapshot(userID); serr == nil {
			log.Warnf("[Billing] serving snapshot for user %d, store unavailable: %v", userID, err)
			return snap, nil
		}
		return nil, err
	}

	if entitlements.MaybeReset(sub, time.Now()) {
		if serr := s.repo.SaveSubscription(sub); serr != nil {
			log.Warnf("[Billing] failed to persist usage reset for user %d: %v", userID, serr)
		}
	}
	s.saveSnapshot(sub)
	return sub, nil
}

// Apply runs one normalized event through the subscription state machine.
// Re-applying the same event is a no-op; events older than the last applied
// sequence fail with ErrStaleEvent. The current subscription is returned
// alongside ErrStaleEvent so callers can still attribute the event to its
// user.
func (s *Service) Apply(ctx context.Context, ev NormalizedEvent) (*models.Subscription, error) {
	sub, err := s.locate(ev)
	if err != nil {
		return nil, err
	}

	l := s.userLock(sub.UserID)
	l.Lock()
	defer l.Unlock()

	// Re-read under the lock so concurrent applies serialize cleanly.
	if fresh, rerr := s.repo.GetSubscriptionByUserID(sub.UserID); rerr == nil {
		sub = fresh
	}

	if ev.Seq != 0 && sub.LastEventSeq != 0 {
		if ev.Seq < sub.LastEventSeq {
			return sub, fmt.Errorf("%w: seq %d < last applied %d", ErrStaleEvent, ev.Seq, sub.LastEventSeq)
		}
		if ev.Seq == sub.LastEventSeq {
			return sub, nil
		}
	}

	switch ev.Type {
	case EventSubscriptionUpdated:
		s.applyUpdate(sub, ev)
	case EventSubscriptionCanceled:
		sub.Status = models.SubscriptionStatusCanceled
		sub.CancelAtPeriodEnd = true
		// Usage counters are left untouched; cancellation does not reset quota.
	case EventPaymentSucceeded, EventInvoicePaid:
		if sub.Status == models.SubscriptionStatusPastDue || sub.Status == models.SubscriptionStatusIncomplete {
			sub.Status = models.SubscriptionStatusActive
		}
	case EventPaymentFailed, EventInvoiceFailed:
		if sub.Status == models.SubscriptionStatusActive || sub.Status == models.SubscriptionStatusTrialing {
			sub.Status = models.SubscriptionStatusPastDue
		}
	case EventInvoiceUpcoming:
		// Alerting only; no state change.
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnhandledEventType, ev.Type)
	}

	if ev.Seq > sub.LastEventSeq {
		sub.LastEventSeq = ev.Seq
	}

	if err := s.repo.UpsertSubscription(sub); err != nil {
		return nil, fmt.Errorf("failed to persist subscription: %w", err)
	}
	s.saveSnapshot(sub)
	return sub, nil
}

// applyUpdate implements the partial-update semantics of subscription_updated:
// present fields overwrite, missing fields stay untouched.
func (s *Service) applyUpdate(sub *models.Subscription, ev NormalizedEvent) {
	if ev.ProviderSubscriptionID != "" {
		sub.ProviderSubscriptionID = ev.ProviderSubscriptionID
	}
	if ev.ProviderCustomerID != "" {
		sub.ProviderCustomerID = ev.ProviderCustomerID
	}
	if ev.Status != "" {
		sub.Status = ev.Status
	}
	if ev.ProviderPlanRef != "" {
		sub.ProviderPlanRef = ev.ProviderPlanRef
		if plan, interval, ok := planFromPriceRef(ev.ProviderPlanRef); ok {
			sub.Plan = string(plan)
			sub.BillingInterval = interval
		} else {
			log.Warnf("[Billing] unmapped price ref %q for user %d, plan unchanged", ev.ProviderPlanRef, sub.UserID)
		}
	}
	if ev.PeriodStart != nil {
		sub.CurrentPeriodStart = ev.PeriodStart
	}
	if ev.PeriodEnd != nil {
		sub.CurrentPeriodEnd = ev.PeriodEnd
	}
	if ev.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *ev.CancelAtPeriodEnd
	}
}

// locate resolves the event to a local subscription, creating the implicit
// free record when the event routes to a known user without one.
func (s *Service) locate(ev NormalizedEvent) (*models.Subscription, error) {
	if ev.UserID != 0 {
		sub, err := s.repo.GetSubscriptionByUserID(ev.UserID)
		if err == nil {
			return sub, nil
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.DefaultSubscription(ev.UserID, time.Now()), nil
		}
		return nil, err
	}

	sub, err := s.repo.GetSubscriptionByProviderRef(ev.ProviderCustomerID, ev.ProviderSubscriptionID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if ev.ProviderCustomerID != "" {
		user, uerr := s.repo.GetUserByStripeCustomerID(ev.ProviderCustomerID)
		if uerr == nil {
			fresh := models.DefaultSubscription(user.ID, time.Now())
			fresh.ProviderCustomerID = ev.ProviderCustomerID
			return fresh, nil
		}
		if !errors.Is(uerr, gorm.ErrRecordNotFound) {
			return nil, uerr
		}
	}
	return nil, ErrUnknownSubscriber
}

// Upgrade creates a provider checkout session for the requested paid plan
// and returns the redirect URL.
func (s *Service) Upgrade(ctx context.Context, user *models.User, plan plans.PlanID, interval string) (string, error) {
	target := plans.Normalize(string(plan))
	if target == plans.PlanFree {
		return "", errors.New("cannot upgrade to the free plan")
	}

	customerID, err := s.gateway.EnsureCustomer(ctx, user)
	if err != nil {
		return "", err
	}
	if user.StripeCustomerID != customerID {
		user.StripeCustomerID = customerID
		if err := s.repo.SetUserStripeCustomerID(user.ID, customerID); err != nil {
			log.Warnf("[Billing] failed to persist customer id for user %d: %v", user.ID, err)
		}
	}

	return s.gateway.CreateCheckoutSession(ctx, customerID, target, normalizeInterval(interval))
}

// Cancel requests cancellation at period end. The provider-side webhook
// confirms the final state; locally only the cancel flag flips immediately.
func (s *Service) Cancel(ctx context.Context, userID uint) (*models.Subscription, error) {
	sub, err := s.GetSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if plans.Normalize(sub.Plan) == plans.PlanFree {
		return nil, errors.New("free plan has no subscription to cancel")
	}

	if sub.ProviderSubscriptionID != "" {
		if err := s.gateway.CancelAtPeriodEnd(ctx, sub.ProviderSubscriptionID); err != nil {
			return nil, err
		}
	}

	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()
	sub.CancelAtPeriodEnd = true
	if err := s.repo.SaveSubscription(sub); err != nil {
		return nil, err
	}
	s.saveSnapshot(sub)
	return sub, nil
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.WebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

// IncrementUsage implements entitlements.UsageStore. It holds the same
// per-user lock as Apply so counter writes never interleave with a webhook
// rewriting the subscription row.
func (s *Service) IncrementUsage(ctx context.Context, userID uint, feature string, delta int64) error {
	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()
	return s.repo.IncrementUsage(userID, feature, delta)
}

// SaveUsage implements entitlements.UsageStore.
func (s *Service) SaveUsage(ctx context.Context, sub *models.Subscription) error {
	l := s.userLock(sub.UserID)
	l.Lock()
	defer l.Unlock()
	if err := s.repo.SaveSubscription(sub); err != nil {
		return err
	}
	s.saveSnapshot(sub)
	return nil
}

func (s *Service) saveSnapshot(sub *models.Subscription) {
	data, err := json.Marshal(sub)
	if err != nil {
		log.Errorf("[Billing] failed to marshal snapshot for user %d: %v", sub.UserID, err)
		return
	}
	if err := cache.Set(snapshotKey(sub.UserID), data, snapshotTTL); err != nil {
		log.Warnf("[Billing] failed to cache snapshot for user %d: %v", sub.UserID, err)
	}
}

// LoadSnapshot reads the advisory subscription copy from Redis.
func LoadSnapshot(userID uint) (*models.Subscription, error) {
	raw, err := cache.Get(snapshotKey(userID))
	if err != nil {
		return nil, err
	}
	var sub models.Subscription
	if err := json.Unmarshal([]byte(raw), &sub); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &sub, nil
}

func snapshotKey(userID uint) string {
	return fmt.Sprintf("%s%d", SnapshotKeyPrefix, userID)
}
