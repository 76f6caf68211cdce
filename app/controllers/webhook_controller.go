package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/housecrystal-18/shopscanner/internal/pkg/alerting"
	"github.com/housecrystal-18/shopscanner/internal/pkg/billing"
	"github.com/housecrystal-18/shopscanner/internal/pkg/env"
	"github.com/housecrystal-18/shopscanner/internal/pkg/events"
)

// HandleStripeWebhook ingests provider webhook events: verify the signature,
// persist idempotently, normalize, apply, and publish on the event bus.
// Replays and stale events are acknowledged with 200 without reapplication.
func HandleStripeWebhook(c *fiber.Ctx) error {
	payload := c.Body()
	sigHeader := c.Get("Stripe-Signature")
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	event, signatureValid, err := billing.VerifyAndParse(payload, sigHeader, secret)
	if err != nil {
		log.Warnf("[Webhook] rejected stripe payload: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Webhook verification failed"})
	}

	svc, _ := getBillingService()
	created, stored, err := svc.RecordWebhookEvent(c.Context(), billing.WebhookEventInput{
		Provider:        billing.ProviderStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		PayloadJSON:     string(payload),
		SignatureValid:  signatureValid,
	})
	if err != nil {
		log.Errorf("[Webhook] failed to record stripe event %s: %v", event.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to record event"})
	}
	if !created {
		// Replay of an already-seen event.
		return c.JSON(fiber.Map{"received": true, "duplicate": true})
	}

	normalized, err := billing.Normalize(event)
	if err != nil {
		if errors.Is(err, billing.ErrUnhandledEventType) {
			// Recorded, not applied.
			_ = svc.MarkWebhookProcessed(c.Context(), stored.ID, nil)
			return c.JSON(fiber.Map{"received": true, "handled": false})
		}
		markFailed(c, svc, stored.ID, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed event payload"})
	}

	// Alerting is fed independently of the reconciler: stale and not-yet-
	// routable events still publish once the duplicate ledger let them
	// through. Only hard apply failures stay off the bus, since the
	// provider retries those deliveries.
	sub, err := svc.Apply(c.Context(), normalized)
	if sub != nil {
		normalized.UserID = sub.UserID
	}
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrStaleEvent):
			_ = svc.MarkWebhookProcessed(c.Context(), stored.ID, err)
			events.Default().PublishBilling(normalized)
			return c.JSON(fiber.Map{"received": true, "stale": true})
		case errors.Is(err, billing.ErrUnknownSubscriber):
			_ = svc.MarkWebhookProcessed(c.Context(), stored.ID, err)
			log.Warnf("[Webhook] stripe event %s does not match any subscriber", event.ID)
			events.Default().PublishBilling(normalized)
			return c.JSON(fiber.Map{"received": true, "handled": false})
		default:
			markFailed(c, svc, stored.ID, err)
			// 5xx so the provider retries.
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to apply event"})
		}
	}

	events.Default().PublishBilling(normalized)
	if err := svc.MarkWebhookProcessed(c.Context(), stored.ID, nil); err != nil {
		log.Warnf("[Webhook] failed to mark event %s processed: %v", event.ID, err)
	}

	return c.JSON(fiber.Map{"received": true})
}

func markFailed(c *fiber.Ctx, svc *billing.Service, eventID uint, cause error) {
	if err := svc.MarkWebhookProcessed(c.Context(), eventID, cause); err != nil {
		log.Warnf("[Webhook] failed to record processing error for event %d: %v", eventID, err)
	}
	GetAggregator().Ingest(alerting.PaymentAlert{
		Type:      alerting.TypeWebhookFailure,
		Severity:  alerting.SeverityHigh,
		Title:     "Webhook Processing Failed",
		Message:   cause.Error(),
		Timestamp: time.Now(),
	})
}
