package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to existing controllers to keep behavior consistent
	"github.com/housecrystal-18/shopscanner/app/controllers"
)

// APIServer implements the ServerInterface
type APIServer struct{}

// NewAPIServer creates a new API server instance
func NewAPIServer() *APIServer {
	return &APIServer{}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// GetPlans returns the public plan catalog.
func (s *APIServer) GetPlans(c *fiber.Ctx) error {
	return controllers.HandleListPlans(c)
}

// GetSubscription returns the authenticated user's subscription.
// Security is enforced via API key middleware attached in the router.
func (s *APIServer) GetSubscription(c *fiber.Ctx) error {
	return controllers.HandleGetSubscription(c)
}

// PostSubscriptionUpgrade starts a checkout session for a paid plan.
func (s *APIServer) PostSubscriptionUpgrade(c *fiber.Ctx) error {
	return controllers.HandleUpgradeSubscription(c)
}

// PostSubscriptionCancel requests cancellation at period end.
func (s *APIServer) PostSubscriptionCancel(c *fiber.Ctx) error {
	return controllers.HandleCancelSubscription(c)
}

// GetUsage returns per-feature usage counters.
func (s *APIServer) GetUsage(c *fiber.Ctx) error {
	return controllers.HandleGetUsage(c)
}

// PostUsageConsume consumes one unit of a feature quota.
func (s *APIServer) PostUsageConsume(c *fiber.Ctx) error {
	return controllers.HandleConsumeFeature(c)
}

// GetAlerts lists visible payment alerts.
func (s *APIServer) GetAlerts(c *fiber.Ctx) error {
	return controllers.HandleListAlerts(c)
}

// DeleteAlert dismisses one alert.
func (s *APIServer) DeleteAlert(c *fiber.Ctx) error {
	return controllers.HandleDismissAlert(c)
}

// PostActions enqueues an offline action.
func (s *APIServer) PostActions(c *fiber.Ctx) error {
	return controllers.HandleEnqueueAction(c)
}

// GetActions lists queued actions.
func (s *APIServer) GetActions(c *fiber.Ctx) error {
	return controllers.HandleListActions(c)
}

// PostActionsFlush replays the action queue immediately.
func (s *APIServer) PostActionsFlush(c *fiber.Ctx) error {
	return controllers.HandleFlushActions(c)
}

// GetActionsStats reports queue depth and upstream reachability.
func (s *APIServer) GetActionsStats(c *fiber.Ctx) error {
	return controllers.HandleSyncStatus(c)
}

// GetAccount returns account information for the authenticated user.
func (s *APIServer) GetAccount(c *fiber.Ctx) error {
	return controllers.HandleGetAccount(c)
}

// PostAccountAPIKey rotates the account API key.
func (s *APIServer) PostAccountAPIKey(c *fiber.Ctx) error {
	return controllers.HandleRotateAPIKey(c)
}

// PostAdminUsers creates a new user account with a fresh API key.
func (s *APIServer) PostAdminUsers(c *fiber.Ctx) error {
	return controllers.HandleCreateUser(c)
}

// DeleteAdminUserAPIKey revokes another user's API key.
func (s *APIServer) DeleteAdminUserAPIKey(c *fiber.Ctx) error {
	return controllers.HandleRevokeUserAPIKey(c)
}
