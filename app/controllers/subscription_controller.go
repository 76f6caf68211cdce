package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/housecrystal-18/shopscanner/app/repository"
	"github.com/housecrystal-18/shopscanner/internal/pkg/plans"
	"github.com/housecrystal-18/shopscanner/internal/pkg/usercontext"
)

// HandleListPlans returns the static plan catalog.
func HandleListPlans(c *fiber.Ctx) error {
	out := make([]fiber.Map, 0, 3)
	for _, plan := range plans.All() {
		limits := make(fiber.Map, len(plan.Limits))
		for feature, limit := range plan.Limits {
			limits[string(feature)] = fiber.Map{
				"limit":     int64(limit),
				"unlimited": limit.IsUnlimited(),
			}
		}
		out = append(out, fiber.Map{
			"id":                     string(plan.ID),
			"name":                   plan.Name,
			"price_cents":            plan.PriceCents,
			"currency":               plan.Currency,
			"interval":               plan.Interval,
			"history_retention_days": plan.HistoryRetentionDays,
			"priority_support":       plan.PrioritySupport,
			"limits":                 limits,
		})
	}
	return c.JSON(fiber.Map{"plans": out})
}

// HandleGetSubscription returns the authenticated user's subscription with
// plan limits and usage counters.
func HandleGetSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	svc, eval := getBillingService()
	sub, err := svc.GetSubscription(c.Context(), userCtx.UserID)
	if err != nil {
		log.Errorf("[Subscription] failed to load subscription for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load subscription"})
	}
	eval.MergePending(c.Context(), sub)

	return c.JSON(subscriptionResponse(sub))
}

// UpgradeRequest is the body for POST /api/v1/subscription/upgrade.
type UpgradeRequest struct {
	Plan     string `json:"plan" validate:"required,oneof=premium business"`
	Interval string `json:"interval" validate:"omitempty,oneof=month year"`
}

// HandleUpgradeSubscription starts a provider checkout for a paid plan and
// returns the redirect URL.
func HandleUpgradeSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req UpgradeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	user, err := repo.GetByID(userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
	}

	svc, _ := getBillingService()
	checkoutURL, err := svc.Upgrade(c.Context(), user, plans.PlanID(req.Plan), req.Interval)
	if err != nil {
		log.Errorf("[Subscription] upgrade failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "payment_provider_error", "message": "Failed to create checkout session"})
	}

	if err := repo.Update(user); err != nil {
		log.Warnf("[Subscription] failed to persist user %d after checkout: %v", userCtx.UserID, err)
	}

	return c.JSON(fiber.Map{"checkout_url": checkoutURL})
}

// HandleCancelSubscription requests cancellation at period end.
func HandleCancelSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	svc, _ := getBillingService()
	sub, err := svc.Cancel(c.Context(), userCtx.UserID)
	if err != nil {
		log.Warnf("[Subscription] cancel failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": err.Error()})
	}

	return c.JSON(subscriptionResponse(sub))
}
