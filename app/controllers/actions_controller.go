package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/housecrystal-18/shopscanner/app/repository"
	"github.com/housecrystal-18/shopscanner/internal/pkg/syncqueue"
	"github.com/housecrystal-18/shopscanner/internal/pkg/usercontext"
)

// EnqueueActionRequest is the body for POST /api/v1/actions.
type EnqueueActionRequest struct {
	Type     string                 `json:"type" validate:"required,min=1,max=64"`
	Endpoint string                 `json:"endpoint" validate:"required,startswith=/"`
	Method   string                 `json:"method" validate:"omitempty,oneof=POST PUT PATCH DELETE"`
	Payload  map[string]interface{} `json:"payload"`
}

// HandleEnqueueAction buffers one outbound action for replay.
func HandleEnqueueAction(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req EnqueueActionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	queue := syncqueue.GetManager().GetQueue()
	action, err := queue.Enqueue(c.Context(), req.Type, req.Payload, req.Endpoint, req.Method)
	if err != nil {
		log.Errorf("[Actions] enqueue failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to enqueue action"})
	}

	return c.Status(fiber.StatusAccepted).JSON(action)
}

// HandleListActions lists queued actions in enqueue order.
func HandleListActions(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	repo := repository.GetGlobalFactory().GetQueueRepository()
	actions, err := repo.PendingActions(c.Context())
	if err != nil {
		log.Errorf("[Actions] failed to list queue: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to read action queue"})
	}

	return c.JSON(fiber.Map{
		"actions": actions,
		"count":   len(actions),
	})
}

// HandleFlushActions replays the queue immediately.
func HandleFlushActions(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	result, err := syncqueue.GetManager().Flush(c.Context())
	if err != nil {
		log.Errorf("[Actions] manual flush failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to flush action queue"})
	}

	return c.JSON(result)
}

// HandleSyncStatus reports upstream reachability and queue depth.
func HandleSyncStatus(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	manager := syncqueue.GetManager()
	repo := repository.GetGlobalFactory().GetQueueRepository()

	size, err := repo.QueueSize(c.Context())
	if err != nil {
		log.Errorf("[Actions] failed to read queue size: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to read queue state"})
	}
	stats, err := repo.QueueStats(c.Context())
	if err != nil {
		log.Errorf("[Actions] failed to read queue stats: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to read queue state"})
	}

	return c.JSON(fiber.Map{
		"online":  manager.Online(),
		"pending": size,
		"stats":   stats,
	})
}
