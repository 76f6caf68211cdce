package entitlements

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/housecrystal-18/shopscanner/app/models"
	"github.com/housecrystal-18/shopscanner/internal/pkg/plans"
)

// ErrQuotaExceeded is returned by Consume when the plan limit for a feature
// is already reached. Callers block the action and prompt for an upgrade;
// this is never a crash.
var ErrQuotaExceeded = errors.New("quota exceeded for feature")

// ErrUnknownFeature is returned for feature names outside the metered set.
var ErrUnknownFeature = errors.New("unknown feature")

// UsageStore persists counter changes. The canonical copy lives in the
// database; PendingStore buffers optimistic deltas when the store is down.
type UsageStore interface {
	IncrementUsage(ctx context.Context, userID uint, feature string, delta int64) error
	SaveUsage(ctx context.Context, sub *models.Subscription) error
}

// PendingStore records locally-applied deltas awaiting reconciliation into
// the canonical store.
type PendingStore interface {
	AddPending(ctx context.Context, feature string, userID uint, delta int64) error
	PendingFor(ctx context.Context, feature string, userID uint) (int64, error)
}

// CanUse reports whether the subscription permits one more use of feature.
// Unlimited limits always permit; finite limits permit strictly below the cap.
func CanUse(sub *models.Subscription, feature plans.Feature) bool {
	limit := planLimit(sub, feature)
	if limit.IsUnlimited() {
		return true
	}
	return sub.Usage.Get(string(feature)) < int64(limit)
}

// Remaining returns the remaining quota for feature. The second return is
// false when the feature is unlimited; finite remainders clamp at zero.
func Remaining(sub *models.Subscription, feature plans.Feature) (int64, bool) {
	limit := planLimit(sub, feature)
	if limit.IsUnlimited() {
		return 0, false
	}
	left := int64(limit) - sub.Usage.Get(string(feature))
	if left < 0 {
		left = 0
	}
	return left, true
}

// UsagePercent returns consumed quota as a percentage in [0,100].
// Unlimited features always report 0.
func UsagePercent(sub *models.Subscription, feature plans.Feature) float64 {
	limit := planLimit(sub, feature)
	if limit.IsUnlimited() || limit <= 0 {
		return 0
	}
	pct := float64(sub.Usage.Get(string(feature))) / float64(limit) * 100
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

func planLimit(sub *models.Subscription, feature plans.Feature) plans.Limit {
	return plans.MustGet(plans.Normalize(sub.Plan)).Limit(feature)
}

// MaybeReset zeroes the usage counters when the billing period has rolled
// over since the last reset. Paid subscriptions roll with the provider
// period start; free-tier records roll on calendar months. Returns true if
// counters were reset.
func MaybeReset(sub *models.Subscription, now time.Time) bool {
	last := sub.Usage.LastResetAt
	if sub.CurrentPeriodStart != nil {
		if last.Before(*sub.CurrentPeriodStart) && !now.Before(*sub.CurrentPeriodStart) {
			sub.Usage.ResetAll(now)
			return true
		}
		return false
	}
	if last.Year() != now.Year() || last.Month() != now.Month() {
		sub.Usage.ResetAll(now)
		return true
	}
	return false
}

// Evaluator applies quota decisions and writes counter changes through the
// canonical store, falling back to a pending optimistic delta when the
// store is unavailable.
type Evaluator struct {
	store   UsageStore
	pending PendingStore
	now     func() time.Time
}

func NewEvaluator(store UsageStore, pending PendingStore) *Evaluator {
	return &Evaluator{store: store, pending: pending, now: time.Now}
}

// MergePending folds buffered counter deltas into the in-memory usage view
// so reads and quota checks see increments the canonical store has not
// absorbed yet. The merge is never persisted; the flush worker reconciles
// the deltas into the store. A failing pending store degrades to the
// canonical counters alone.
func (e *Evaluator) MergePending(ctx context.Context, sub *models.Subscription) {
	for _, feature := range plans.Features {
		delta, err := e.pending.PendingFor(ctx, string(feature), sub.UserID)
		if err != nil {
			log.Warnf("[Entitlements] failed to read pending %s delta for user %d: %v", feature, sub.UserID, err)
			continue
		}
		if delta > 0 {
			sub.Usage.Add(string(feature), delta)
		}
	}
}

// Consume permits and records one use of feature. On success the passed
// subscription is updated in place and returned. Fails with ErrQuotaExceeded
// when CanUse would deny the action.
func (e *Evaluator) Consume(ctx context.Context, sub *models.Subscription, feature plans.Feature) (*models.Subscription, error) {
	f, ok := plans.NormalizeFeature(string(feature))
	if !ok {
		return nil, ErrUnknownFeature
	}

	if MaybeReset(sub, e.now()) {
		if err := e.store.SaveUsage(ctx, sub); err != nil {
			log.Warnf("[Entitlements] failed to persist usage reset for user %d: %v", sub.UserID, err)
		}
	}

	e.MergePending(ctx, sub)

	if !CanUse(sub, f) {
		return nil, ErrQuotaExceeded
	}

	if err := e.store.IncrementUsage(ctx, sub.UserID, string(f), 1); err != nil {
		// Canonical store unreachable. Apply the increment optimistically and
		// park the delta for the flush worker to reconcile.
		log.Warnf("[Entitlements] usage increment for user %d feature %s failed, recording pending delta: %v", sub.UserID, f, err)
		if perr := e.pending.AddPending(ctx, string(f), sub.UserID, 1); perr != nil {
			log.Errorf("[Entitlements] pending delta for user %d feature %s lost: %v", sub.UserID, f, perr)
		}
	}

	sub.Usage.Add(string(f), 1)
	return sub, nil
}
