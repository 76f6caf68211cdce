package alerting

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/housecrystal-18/shopscanner/internal/pkg/env"
)

// ErrorSink receives every ingested alert.
type ErrorSink interface {
	Report(alert PaymentAlert)
}

type logSink struct{}

func (logSink) Report(alert PaymentAlert) {
	log.Warnf("[Alerting] %s severity=%s type=%s message=%q at=%s metadata=%v",
		alert.Title, alert.Severity, alert.Type, alert.Message,
		alert.Timestamp.Format(time.RFC3339), alert.Metadata)
}

// NewLogSink returns the structured-log sink.
func NewLogSink() ErrorSink {
	return logSink{}
}

const webhookTimeout = 5 * time.Second

// WebhookSink forwards alerts to an external alerting endpoint. Delivery is
// best effort; failures are logged and swallowed.
type WebhookSink struct {
	url     string
	service string
	client  *http.Client
}

// NewWebhookSink creates a sink posting to the given URL.
func NewWebhookSink(url, service string) *WebhookSink {
	if service == "" {
		service = "shopscanner"
	}
	return &WebhookSink{
		url:     url,
		service: service,
		client:  &http.Client{Timeout: webhookTimeout},
	}
}

// NewWebhookSinkFromEnv reads ALERT_WEBHOOK_URL; without it no sink is
// configured and nil is returned.
func NewWebhookSinkFromEnv() *WebhookSink {
	url := env.GetEnv("ALERT_WEBHOOK_URL", "")
	if url == "" {
		return nil
	}
	return NewWebhookSink(url, env.GetEnv("ALERT_SERVICE_NAME", "shopscanner"))
}

type webhookPayload struct {
	Severity  string         `json:"severity"`
	Service   string         `json:"service"`
	ErrorType string         `json:"error_type"`
	Message   string         `json:"message"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (s *WebhookSink) Report(alert PaymentAlert) {
	body, err := json.Marshal(webhookPayload{
		Severity:  string(alert.Severity),
		Service:   s.service,
		ErrorType: string(alert.Type),
		Message:   alert.Message,
		Timestamp: alert.Timestamp.UTC().Format(time.RFC3339),
		Metadata:  alert.Metadata,
	})
	if err != nil {
		log.Errorf("[Alerting] failed to marshal webhook payload: %v", err)
		return
	}

	resp, err := s.client.Post(s.url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Warnf("[Alerting] alert webhook delivery failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Warnf("[Alerting] alert webhook returned status %d", resp.StatusCode)
	}
}
