package controllers

import (
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/housecrystal-18/shopscanner/app/models"
	"github.com/housecrystal-18/shopscanner/internal/pkg/alerting"
	"github.com/housecrystal-18/shopscanner/internal/pkg/billing"
	"github.com/housecrystal-18/shopscanner/internal/pkg/database"
	"github.com/housecrystal-18/shopscanner/internal/pkg/entitlements"
	"github.com/housecrystal-18/shopscanner/internal/pkg/plans"
	"github.com/housecrystal-18/shopscanner/internal/pkg/usagecounter"
)

var validate = validator.New()

var (
	billingService *billing.Service
	evaluator      *entitlements.Evaluator
	serviceOnce    sync.Once
)

// getBillingService returns the shared billing service and entitlement
// evaluator, created on first use.
func getBillingService() (*billing.Service, *entitlements.Evaluator) {
	serviceOnce.Do(func() {
		billingService = billing.NewServiceFromDB(database.GetDB())
		evaluator = entitlements.NewEvaluator(billingService, usagecounter.Store{})
	})
	return billingService, evaluator
}

// SetBillingService overrides the shared services. Used by tests.
func SetBillingService(svc *billing.Service, eval *entitlements.Evaluator) {
	serviceOnce.Do(func() {})
	billingService = svc
	evaluator = eval
}

var (
	aggregator     *alerting.Aggregator
	aggregatorOnce sync.Once
)

// GetAggregator returns the shared alert aggregator.
func GetAggregator() *alerting.Aggregator {
	aggregatorOnce.Do(func() {
		var critical alerting.ErrorSink
		if ws := alerting.NewWebhookSinkFromEnv(); ws != nil {
			critical = ws
		}
		aggregator = alerting.NewAggregator(critical, alerting.NewLogSink())
	})
	return aggregator
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// usageResponse renders one feature's limit and counters.
func usageResponse(sub *models.Subscription, plan plans.Plan, feature plans.Feature) map[string]interface{} {
	limit := plan.Limit(feature)
	used := sub.Usage.Get(string(feature))
	remaining, finite := entitlements.Remaining(sub, feature)
	out := map[string]interface{}{
		"used":          used,
		"limit":         int64(limit),
		"unlimited":     limit.IsUnlimited(),
		"usage_percent": entitlements.UsagePercent(sub, feature),
	}
	if finite {
		out["remaining"] = remaining
	}
	return out
}

// subscriptionResponse renders the subscription with its plan and usage.
func subscriptionResponse(sub *models.Subscription) map[string]interface{} {
	plan := plans.MustGet(plans.Normalize(sub.Plan))
	usage := make(map[string]interface{}, len(plans.Features))
	for _, feature := range plans.Features {
		usage[string(feature)] = usageResponse(sub, plan, feature)
	}
	return map[string]interface{}{
		"plan":                 string(plan.ID),
		"plan_name":            plan.Name,
		"status":               sub.Status,
		"billing_interval":     sub.BillingInterval,
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
		"current_period_start": formatTimePtr(sub.CurrentPeriodStart),
		"current_period_end":   formatTimePtr(sub.CurrentPeriodEnd),
		"entitled":             sub.IsEntitled(),
		"usage":                usage,
	}
}
