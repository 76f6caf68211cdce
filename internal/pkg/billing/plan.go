package billing

import (
	"strings"

	"github.com/housecrystal-18/shopscanner/app/models"
	"github.com/housecrystal-18/shopscanner/internal/pkg/env"
	"github.com/housecrystal-18/shopscanner/internal/pkg/plans"
)

func normalizeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.SubscriptionStatusActive:
		return models.SubscriptionStatusActive
	case models.SubscriptionStatusTrialing:
		return models.SubscriptionStatusTrialing
	case models.SubscriptionStatusPastDue, "unpaid":
		return models.SubscriptionStatusPastDue
	case models.SubscriptionStatusCanceled:
		return models.SubscriptionStatusCanceled
	case models.SubscriptionStatusIncomplete, "incomplete_expired":
		return models.SubscriptionStatusIncomplete
	default:
		return ""
	}
}

func normalizeInterval(interval string) string {
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case models.BillingIntervalYear:
		return models.BillingIntervalYear
	default:
		return models.BillingIntervalMonth
	}
}

// priceRefEnvKeys maps (plan, interval) to the env var holding the Stripe
// price ID, with predictable defaults for dev and tests.
var priceRefDefaults = map[string]string{
	"STRIPE_PRICE_PREMIUM_MONTH":  "price_premium_month",
	"STRIPE_PRICE_PREMIUM_YEAR":   "price_premium_year",
	"STRIPE_PRICE_BUSINESS_MONTH": "price_business_month",
	"STRIPE_PRICE_BUSINESS_YEAR":  "price_business_year",
}

func priceRefFor(plan plans.PlanID, interval string) string {
	key := "STRIPE_PRICE_" + strings.ToUpper(string(plan)) + "_" + strings.ToUpper(normalizeInterval(interval))
	return env.GetEnv(key, priceRefDefaults[key])
}

// planFromPriceRef resolves a provider price reference back to the internal
// plan and interval. Unknown refs resolve to ("", "", false).
func planFromPriceRef(ref string) (plans.PlanID, string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", false
	}
	for _, plan := range []plans.PlanID{plans.PlanPremium, plans.PlanBusiness} {
		for _, interval := range []string{models.BillingIntervalMonth, models.BillingIntervalYear} {
			if priceRefFor(plan, interval) == ref {
				return plan, interval, true
			}
		}
	}
	return "", "", false
}
