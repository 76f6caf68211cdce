package apiv1

import (
	"github.com/gofiber/fiber/v2"

	"github.com/housecrystal-18/shopscanner/internal/pkg/middleware"
)

// Pong is the response payload for GET /ping.
type Pong struct {
	Ping string `json:"ping"`
}

// RegisterHandlers attaches the v1 routes to the given router group. All
// routes except ping and the plan catalog require an API key.
func RegisterHandlers(router fiber.Router, si *APIServer) {
	router.Get("/ping", si.GetPing)
	router.Get("/plans", si.GetPlans)

	authed := router.Group("", middleware.APIKeyAuthMiddleware(), middleware.RequireAuth)

	authed.Get("/account", si.GetAccount)
	authed.Post("/account/api-key", si.PostAccountAPIKey)

	authed.Get("/subscription", si.GetSubscription)
	authed.Post("/subscription/upgrade", si.PostSubscriptionUpgrade)
	authed.Post("/subscription/cancel", si.PostSubscriptionCancel)

	authed.Get("/usage", si.GetUsage)
	authed.Post("/usage/:feature/consume", si.PostUsageConsume)

	authed.Get("/alerts", si.GetAlerts)
	authed.Delete("/alerts/:id", si.DeleteAlert)

	authed.Post("/actions", si.PostActions)
	authed.Get("/actions", si.GetActions)
	authed.Post("/actions/flush", si.PostActionsFlush)
	authed.Get("/actions/stats", si.GetActionsStats)

	admin := authed.Group("/admin", middleware.RequireAdmin)
	admin.Post("/users", si.PostAdminUsers)
	admin.Delete("/users/:id/api-key", si.DeleteAdminUserAPIKey)
}
