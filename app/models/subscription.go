package models

import "time"

const (
	BillingIntervalMonth = "month"
	BillingIntervalYear  = "year"
)

const (
	SubscriptionStatusActive     = "active"
	SubscriptionStatusTrialing   = "trialing"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusCanceled   = "canceled"
	SubscriptionStatusIncomplete = "incomplete"
)

// Metered feature names. The plan catalog and entitlement evaluator use
// typed constants that normalize to these strings.
const (
	FeatureScan                = "scan"
	FeatureStoreAnalysis       = "store_analysis"
	FeatureCrossPlatformSearch = "cross_platform_search"
)

// UsageRecord holds per-feature counters for the current billing period.
// Counters only grow within a period and are zeroed exactly once on rollover.
type UsageRecord struct {
	ScansUsed                 int64     `gorm:"not null;default:0" json:"scans_used"`
	StoreAnalysesUsed         int64     `gorm:"not null;default:0" json:"store_analyses_used"`
	CrossPlatformSearchesUsed int64     `gorm:"not null;default:0" json:"cross_platform_searches_used"`
	LastResetAt               time.Time `gorm:"type:timestamp;autoCreateTime" json:"last_reset_at"`
}

// Get returns the counter value for a feature name, 0 for unknown features.
func (ur *UsageRecord) Get(feature string) int64 {
	switch feature {
	case FeatureScan:
		return ur.ScansUsed
	case FeatureStoreAnalysis:
		return ur.StoreAnalysesUsed
	case FeatureCrossPlatformSearch:
		return ur.CrossPlatformSearchesUsed
	default:
		return 0
	}
}

// Add increments the counter for a feature name.
func (ur *UsageRecord) Add(feature string, delta int64) {
	switch feature {
	case FeatureScan:
		ur.ScansUsed += delta
	case FeatureStoreAnalysis:
		ur.StoreAnalysesUsed += delta
	case FeatureCrossPlatformSearch:
		ur.CrossPlatformSearchesUsed += delta
	}
}

// ResetAll zeroes every counter and stamps the reset time.
func (ur *UsageRecord) ResetAll(now time.Time) {
	ur.ScansUsed = 0
	ur.StoreAnalysesUsed = 0
	ur.CrossPlatformSearchesUsed = 0
	ur.LastResetAt = now
}

// Subscription maps a user to an internal plan plus the provider-side
// subscription state reconciled from webhook events. Exactly one row per
// user; users without a row are implicitly on the free plan.
type Subscription struct {
	ID                     uint        `gorm:"primaryKey" json:"id"`
	UserID                 uint        `gorm:"not null;uniqueIndex" json:"user_id"`
	Plan                   string      `gorm:"type:varchar(50);not null;default:'free';index" json:"plan"`
	Provider               string      `gorm:"type:varchar(20);not null;default:'stripe'" json:"provider"`
	ProviderSubscriptionID string      `gorm:"type:varchar(191);not null;default:'';index" json:"provider_subscription_id"`
	ProviderCustomerID     string      `gorm:"type:varchar(191);not null;default:'';index" json:"provider_customer_id"`
	ProviderPlanRef        string      `gorm:"type:varchar(191);not null;default:''" json:"provider_plan_ref"`
	BillingInterval        string      `gorm:"type:varchar(16);not null;default:'month'" json:"billing_interval"`
	Status                 string      `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	CurrentPeriodStart     *time.Time  `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time  `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool        `gorm:"default:false" json:"cancel_at_period_end"`
	LastEventSeq           int64       `gorm:"not null;default:0" json:"last_event_seq"`
	Usage                  UsageRecord `gorm:"embedded" json:"usage"`
	CreatedAt              time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsEntitled reports whether the subscription status currently grants the
// plan's paid entitlements. past_due keeps access while payment is retried.
func (s *Subscription) IsEntitled() bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

// DefaultSubscription returns the implicit free-tier record used when a user
// has no subscription row yet.
func DefaultSubscription(userID uint, now time.Time) *Subscription {
	return &Subscription{
		UserID:          userID,
		Plan:            "free",
		Provider:        "stripe",
		BillingInterval: BillingIntervalMonth,
		Status:          SubscriptionStatusActive,
		Usage:           UsageRecord{LastResetAt: now},
	}
}
