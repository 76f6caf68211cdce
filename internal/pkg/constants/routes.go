package constants

// Static route constants
const (
	APIRoute           = "/api"
	HealthRoute        = "/health"
	MetricsRoute       = "/metrics"
	StripeWebhookRoute = "/webhooks/stripe"
)
