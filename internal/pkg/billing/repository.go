package billing

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/housecrystal-18/shopscanner/app/models"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	GetSubscriptionByUserID(userID uint) (*models.Subscription, error)
	GetSubscriptionByProviderRef(customerID, subscriptionID string) (*models.Subscription, error)
	UpsertSubscription(sub *models.Subscription) error
	SaveSubscription(sub *models.Subscription) error
	IncrementUsage(userID uint, feature string, delta int64) error
	GetUserByStripeCustomerID(customerID string) (*models.User, error)
	SetUserStripeCustomerID(userID uint, customerID string) error
	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetSubscriptionByUserID(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByProviderRef(customerID, subscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	q := r.db
	switch {
	case subscriptionID != "":
		q = q.Where("provider_subscription_id = ?", subscriptionID)
	case customerID != "":
		q = q.Where("provider_customer_id = ?", customerID)
	default:
		return nil, gorm.ErrRecordNotFound
	}
	if err := q.First(&sub).Error; err != nil {
		// Fall back to the customer reference when the subscription id is
		// unknown locally (first event for a fresh checkout).
		if subscriptionID != "" && customerID != "" {
			var byCustomer models.Subscription
			if cerr := r.db.Where("provider_customer_id = ?", customerID).First(&byCustomer).Error; cerr == nil {
				return &byCustomer, nil
			}
		}
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) UpsertSubscription(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"plan",
			"provider",
			"provider_subscription_id",
			"provider_customer_id",
			"provider_plan_ref",
			"billing_interval",
			"status",
			"current_period_start",
			"current_period_end",
			"cancel_at_period_end",
			"last_event_seq",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("user_id = ?", sub.UserID).First(sub).Error
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func usageColumn(feature string) (string, error) {
	switch feature {
	case models.FeatureScan:
		return "scans_used", nil
	case models.FeatureStoreAnalysis:
		return "store_analyses_used", nil
	case models.FeatureCrossPlatformSearch:
		return "cross_platform_searches_used", nil
	default:
		return "", fmt.Errorf("no usage column for feature %q", feature)
	}
}

func (r *gormRepository) IncrementUsage(userID uint, feature string, delta int64) error {
	column, err := usageColumn(feature)
	if err != nil {
		return err
	}
	res := r.db.Model(&models.Subscription{}).
		Where("user_id = ?", userID).
		UpdateColumn(column, gorm.Expr(column+" + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormRepository) GetUserByStripeCustomerID(customerID string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("stripe_customer_id = ?", customerID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) SetUserStripeCustomerID(userID uint, customerID string) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).
		UpdateColumn("stripe_customer_id", customerID).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
