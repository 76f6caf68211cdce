package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/housecrystal-18/shopscanner/app/models"
	"github.com/housecrystal-18/shopscanner/internal/pkg/syncqueue"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByStripeCustomerID(customerID string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	Update(user *models.User) error
	Delete(id uint) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
	Search(query string) ([]models.User, error)
}

// QueueRepository exposes read access to the offline action queue for the
// status endpoints.
type QueueRepository interface {
	PendingActions(ctx context.Context) ([]syncqueue.Action, error)
	QueueSize(ctx context.Context) (int64, error)
	QueueStats(ctx context.Context) (map[string]int64, error)
}

// Repositories holds all repository instances
type Repositories struct {
	User  UserRepository
	Queue QueueRepository
}

// NewRepositories creates all repositories with the given database connection
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:  NewUserRepository(db),
		Queue: NewQueueRepository(syncqueue.GetManager().GetQueue()),
	}
}
