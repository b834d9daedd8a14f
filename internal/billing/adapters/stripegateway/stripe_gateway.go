// Package stripegateway implements the PaymentProcessor port on the Stripe
// SDK. All Stripe wire shapes stay inside this package.
package stripegateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/agendazap/backend/internal/billing/domain"
)

// PlanPriceIDs maps catalog plan ids to Stripe price ids. The prices must be
// created in the Stripe dashboard to match the catalog amounts.
type PlanPriceIDs map[string]string

// StripeGateway is the Stripe-backed PaymentProcessor.
type StripeGateway struct {
	webhookSecret string
	planPriceIDs  PlanPriceIDs
	priceplanIDs  map[string]string // reverse: price id -> plan id
	logger        *slog.Logger
}

// NewStripeGateway configures the global Stripe client key and returns the
// gateway.
func NewStripeGateway(apiKey, webhookSecret string, planPriceIDs PlanPriceIDs, logger *slog.Logger) *StripeGateway {
	stripe.Key = apiKey
	reverse := make(map[string]string, len(planPriceIDs))
	for planID, priceID := range planPriceIDs {
		reverse[priceID] = planID
	}
	return &StripeGateway{
		webhookSecret: webhookSecret,
		planPriceIDs:  planPriceIDs,
		priceplanIDs:  reverse,
		logger:        logger.With("component", "stripe_gateway"),
	}
}

func (g *StripeGateway) CreateCustomer(_ context.Context, tenantID uuid.UUID, email string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Metadata: map[string]string{
			"tenant_id": tenantID.String(),
		},
	}
	c, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return c.ID, nil
}

func (g *StripeGateway) CreateCheckoutSession(_ context.Context, p domain.CheckoutSessionParams) (string, error) {
	priceID, ok := g.planPriceIDs[p.PlanID]
	if !ok {
		return "", fmt.Errorf("plan %q: %w", p.PlanID, domain.ErrUnknownPlan)
	}

	metadata := map[string]string{
		"tenant_id": p.TenantID.String(),
		"plan_id":   p.PlanID,
	}
	params := &stripe.CheckoutSessionParams{
		Customer:   stripe.String(p.CustomerID),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
		Metadata: metadata,
	}
	if p.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(int64(p.TrialDays))
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

func (g *StripeGateway) CreateBillingPortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	sess, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}

func (g *StripeGateway) GetSubscription(_ context.Context, subscriptionID string) (*domain.ProcessorSubscription, error) {
	sub, err := subscription.Get(subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("get stripe subscription %s: %w", subscriptionID, err)
	}
	return g.toProcessorSubscription(sub), nil
}

func (g *StripeGateway) UpdateSubscriptionItemPrice(_ context.Context, subscriptionID, itemID, planID string) error {
	priceID, ok := g.planPriceIDs[planID]
	if !ok {
		return fmt.Errorf("plan %q: %w", planID, domain.ErrUnknownPlan)
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{ID: stripe.String(itemID), Price: stripe.String(priceID)},
		},
		ProrationBehavior: stripe.String("always_invoice"),
	}
	if _, err := subscription.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("update subscription %s item price: %w", subscriptionID, err)
	}
	return nil
}

func (g *StripeGateway) CancelSubscriptionAtPeriodEnd(_ context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	if _, err := subscription.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("schedule cancellation for subscription %s: %w", subscriptionID, err)
	}
	return nil
}

func (g *StripeGateway) CancelSubscriptionNow(_ context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{
		Prorate: stripe.Bool(true),
	}
	if _, err := subscription.Cancel(subscriptionID, params); err != nil {
		return fmt.Errorf("cancel subscription %s: %w", subscriptionID, err)
	}
	return nil
}

func (g *StripeGateway) ConstructWebhookEvent(payload []byte, signature string) (*domain.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	eventType := string(event.Type)
	return &domain.Event{
		ID:   event.ID,
		Type: eventType,
		Kind: domain.KindOfEvent(eventType),
		Data: event.Data.Raw,
	}, nil
}

func (g *StripeGateway) ParseCheckoutSession(data json.RawMessage) (*domain.ProcessorCheckoutSession, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parse checkout session payload: %w", err)
	}
	out := &domain.ProcessorCheckoutSession{
		ID:       sess.ID,
		TenantID: sess.Metadata["tenant_id"],
		PlanID:   sess.Metadata["plan_id"],
	}
	if sess.Customer != nil {
		out.CustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		out.SubscriptionID = sess.Subscription.ID
	}
	return out, nil
}

func (g *StripeGateway) ParseSubscription(data json.RawMessage) (*domain.ProcessorSubscription, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("parse subscription payload: %w", err)
	}
	return g.toProcessorSubscription(&sub), nil
}

// invoicePayload mirrors only the invoice fields this service reads. The
// subscription id sits under parent.subscription_details since API version
// 2025-03-31.
type invoicePayload struct {
	ID         string `json:"id"`
	AmountPaid int64  `json:"amount_paid"`
	AmountDue  int64  `json:"amount_due"`
	Currency   string `json:"currency"`
	Parent     *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (g *StripeGateway) ParseInvoice(data json.RawMessage) (*domain.ProcessorInvoice, error) {
	var inv invoicePayload
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("parse invoice payload: %w", err)
	}
	out := &domain.ProcessorInvoice{
		ID:          inv.ID,
		AmountCents: inv.AmountPaid,
		Currency:    inv.Currency,
	}
	if out.AmountCents == 0 {
		out.AmountCents = inv.AmountDue
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		out.SubscriptionID = inv.Parent.SubscriptionDetails.Subscription
	}
	return out, nil
}

func (g *StripeGateway) toProcessorSubscription(sub *stripe.Subscription) *domain.ProcessorSubscription {
	out := &domain.ProcessorSubscription{
		ID:                sub.ID,
		TenantID:          sub.Metadata["tenant_id"],
		Status:            domain.SubscriptionStatus(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		TrialEnd:          unixTime(sub.TrialEnd),
		CanceledAt:        unixTime(sub.CanceledAt),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			pi := domain.ProcessorSubscriptionItem{
				ID:                 item.ID,
				CurrentPeriodStart: unixTime(item.CurrentPeriodStart),
				CurrentPeriodEnd:   unixTime(item.CurrentPeriodEnd),
			}
			if item.Price != nil {
				pi.PriceID = item.Price.ID
				pi.PlanID = g.priceplanIDs[item.Price.ID]
			}
			out.Items = append(out.Items, pi)
		}
	}
	return out
}

func unixTime(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
