package plans

import (
	"strings"

	"github.com/housecrystal-18/shopscanner/app/models"
)

// PlanID identifies a pricing tier. The set is closed and defined at build time.
type PlanID string

const (
	PlanFree     PlanID = "free"
	PlanPremium  PlanID = "premium"
	PlanBusiness PlanID = "business"
)

// Feature names a metered capability. Values match the counter names stored
// on models.UsageRecord.
type Feature string

const (
	FeatureScan                Feature = models.FeatureScan
	FeatureStoreAnalysis       Feature = models.FeatureStoreAnalysis
	FeatureCrossPlatformSearch Feature = models.FeatureCrossPlatformSearch
)

// Features lists all metered features in stable order.
var Features = []Feature{FeatureScan, FeatureStoreAnalysis, FeatureCrossPlatformSearch}

// Limit is a per-period usage ceiling. Unlimited disables metering entirely.
type Limit int64

const Unlimited Limit = -1

func (l Limit) IsUnlimited() bool {
	return l < 0
}

// Plan describes one pricing tier and its feature limits. Immutable.
type Plan struct {
	ID                   PlanID
	Name                 string
	PriceCents           int64
	Currency             string
	Interval             string
	Limits               map[Feature]Limit
	HistoryRetentionDays int
	PrioritySupport      bool
}

// Limit returns the ceiling for a feature. Features missing from the plan
// map are treated as unavailable (limit 0).
func (p Plan) Limit(f Feature) Limit {
	if l, ok := p.Limits[f]; ok {
		return l
	}
	return 0
}

var catalog = map[PlanID]Plan{
	PlanFree: {
		ID:       PlanFree,
		Name:     "Free",
		Currency: "USD",
		Interval: models.BillingIntervalMonth,
		Limits: map[Feature]Limit{
			FeatureScan:                10,
			FeatureStoreAnalysis:       3,
			FeatureCrossPlatformSearch: 5,
		},
		HistoryRetentionDays: 30,
	},
	PlanPremium: {
		ID:         PlanPremium,
		Name:       "Premium",
		PriceCents: 999,
		Currency:   "USD",
		Interval:   models.BillingIntervalMonth,
		Limits: map[Feature]Limit{
			FeatureScan:                Unlimited,
			FeatureStoreAnalysis:       50,
			FeatureCrossPlatformSearch: Unlimited,
		},
		HistoryRetentionDays: 365,
	},
	PlanBusiness: {
		ID:         PlanBusiness,
		Name:       "Business",
		PriceCents: 2999,
		Currency:   "USD",
		Interval:   models.BillingIntervalMonth,
		Limits: map[Feature]Limit{
			FeatureScan:                Unlimited,
			FeatureStoreAnalysis:       Unlimited,
			FeatureCrossPlatformSearch: Unlimited,
		},
		HistoryRetentionDays: 730,
		PrioritySupport:      true,
	},
}

var ordered = []PlanID{PlanFree, PlanPremium, PlanBusiness}

// Get looks up a plan by ID.
func Get(id PlanID) (Plan, bool) {
	p, ok := catalog[id]
	return p, ok
}

// MustGet returns the plan for id, falling back to the free plan for
// unknown IDs so entitlement checks always have a catalog entry.
func MustGet(id PlanID) Plan {
	if p, ok := catalog[id]; ok {
		return p
	}
	return catalog[PlanFree]
}

// All returns every plan in stable display order.
func All() []Plan {
	out := make([]Plan, 0, len(ordered))
	for _, id := range ordered {
		out = append(out, catalog[id])
	}
	return out
}

// Normalize maps arbitrary plan strings onto the closed PlanID set.
func Normalize(plan string) PlanID {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case string(PlanPremium):
		return PlanPremium
	case string(PlanBusiness):
		return PlanBusiness
	default:
		return PlanFree
	}
}

// Rank orders plans for best-plan reconciliation.
func Rank(id PlanID) int {
	switch Normalize(string(id)) {
	case PlanBusiness:
		return 2
	case PlanPremium:
		return 1
	default:
		return 0
	}
}

// NormalizeFeature maps arbitrary feature strings onto the closed Feature
// set, reporting whether the input was a known feature.
func NormalizeFeature(feature string) (Feature, bool) {
	f := Feature(strings.ToLower(strings.TrimSpace(feature)))
	for _, known := range Features {
		if f == known {
			return known, true
		}
	}
	return "", false
}
