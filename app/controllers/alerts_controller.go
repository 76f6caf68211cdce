package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/housecrystal-18/shopscanner/internal/pkg/usercontext"
)

// HandleListAlerts returns the visible payment alerts, most recent first.
func HandleListAlerts(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	alerts := GetAggregator().Visible(userCtx.UserID)
	return c.JSON(fiber.Map{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// HandleDismissAlert removes one alert by id.
func HandleDismissAlert(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	id := c.Params("id")
	if !GetAggregator().Dismiss(userCtx.UserID, id) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Alert not found"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}
