package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v83"
	checkoutsession "github.com/stripe/stripe-go/v83/checkout/session"
	"github.com/stripe/stripe-go/v83/customer"
	"github.com/stripe/stripe-go/v83/subscription"

	"github.com/housecrystal-18/shopscanner/app/models"
	"github.com/housecrystal-18/shopscanner/internal/pkg/env"
	"github.com/housecrystal-18/shopscanner/internal/pkg/plans"
)

// PaymentGateway abstracts the provider calls the billing service needs.
type PaymentGateway interface {
	EnsureCustomer(ctx context.Context, user *models.User) (string, error)
	CreateCheckoutSession(ctx context.Context, customerID string, plan plans.PlanID, interval string) (string, error)
	CancelAtPeriodEnd(ctx context.Context, providerSubscriptionID string) error
}

type stripeGateway struct {
	successURL string
	cancelURL  string
}

// NewStripeGatewayFromEnv configures the global stripe client from the
// environment and returns the gateway.
func NewStripeGatewayFromEnv() PaymentGateway {
	stripe.Key = strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", ""))
	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000"), "/")
	return &stripeGateway{
		successURL: env.GetEnv("STRIPE_CHECKOUT_SUCCESS_URL", base+"/account/subscription?checkout=success"),
		cancelURL:  env.GetEnv("STRIPE_CHECKOUT_CANCEL_URL", base+"/account/subscription?checkout=canceled"),
	}
}

func (g *stripeGateway) EnsureCustomer(ctx context.Context, user *models.User) (string, error) {
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Email:  stripe.String(user.Email),
		Metadata: map[string]string{
			"user_id": strconv.FormatUint(uint64(user.ID), 10),
		},
	}
	c, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create stripe customer: %w", err)
	}
	return c.ID, nil
}

func (g *stripeGateway) CreateCheckoutSession(ctx context.Context, customerID string, plan plans.PlanID, interval string) (string, error) {
	priceRef := priceRefFor(plan, interval)
	if priceRef == "" {
		return "", fmt.Errorf("no price configured for plan %s (%s)", plan, interval)
	}

	params := &stripe.CheckoutSessionParams{
		Params:   stripe.Params{Context: ctx},
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceRef),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(g.successURL),
		CancelURL:  stripe.String(g.cancelURL),
	}

	s, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return s.URL, nil
}

func (g *stripeGateway) CancelAtPeriodEnd(ctx context.Context, providerSubscriptionID string) error {
	if strings.TrimSpace(providerSubscriptionID) == "" {
		return errors.New("provider subscription id is required")
	}

	params := &stripe.SubscriptionParams{
		Params:            stripe.Params{Context: ctx},
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	if _, err := subscription.Update(providerSubscriptionID, params); err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}
	return nil
}
