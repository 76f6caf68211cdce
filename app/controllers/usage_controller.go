package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/housecrystal-18/shopscanner/internal/pkg/entitlements"
	"github.com/housecrystal-18/shopscanner/internal/pkg/plans"
	"github.com/housecrystal-18/shopscanner/internal/pkg/usercontext"
)

// HandleGetUsage returns usage counters for every feature of the user's plan.
func HandleGetUsage(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	svc, eval := getBillingService()
	sub, err := svc.GetSubscription(c.Context(), userCtx.UserID)
	if err != nil {
		log.Errorf("[Usage] failed to load subscription for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load usage"})
	}
	eval.MergePending(c.Context(), sub)

	plan := plans.MustGet(plans.Normalize(sub.Plan))
	usage := make(fiber.Map, len(plans.Features))
	for _, feature := range plans.Features {
		usage[string(feature)] = usageResponse(sub, plan, feature)
	}
	return c.JSON(fiber.Map{
		"plan":          string(plan.ID),
		"usage":         usage,
		"last_reset_at": sub.Usage.LastResetAt.UTC(),
	})
}

// HandleConsumeFeature consumes one unit of a feature's quota. A depleted
// quota returns 429 with the upgrade hint.
func HandleConsumeFeature(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	feature, ok := plans.NormalizeFeature(c.Params("feature"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Unknown feature"})
	}

	svc, eval := getBillingService()
	sub, err := svc.GetSubscription(c.Context(), userCtx.UserID)
	if err != nil {
		log.Errorf("[Usage] failed to load subscription for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load subscription"})
	}

	updated, err := eval.Consume(c.Context(), sub, feature)
	if err != nil {
		if errors.Is(err, entitlements.ErrQuotaExceeded) {
			remaining, _ := entitlements.Remaining(sub, feature)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":     "quota_exceeded",
				"message":   "Feature quota exhausted for the current billing period",
				"feature":   string(feature),
				"remaining": remaining,
				"upgrade":   true,
			})
		}
		if errors.Is(err, entitlements.ErrUnknownFeature) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Unknown feature"})
		}
		log.Errorf("[Usage] consume failed for user %d feature %s: %v", userCtx.UserID, feature, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to record usage"})
	}

	plan := plans.MustGet(plans.Normalize(updated.Plan))
	return c.JSON(fiber.Map{
		"feature": string(feature),
		"usage":   usageResponse(updated, plan, feature),
	})
}
