package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventKind is the closed set of processor webhook events this service acts
// on, plus an explicit unknown variant for everything else.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventCheckoutCompleted
	EventSubscriptionCreated
	EventSubscriptionUpdated
	EventSubscriptionDeleted
	EventPaymentSucceeded
	EventPaymentFailed
)

// KindOfEvent maps a processor event type string to an EventKind.
func KindOfEvent(eventType string) EventKind {
	switch eventType {
	case "checkout.session.completed":
		return EventCheckoutCompleted
	case "customer.subscription.created":
		return EventSubscriptionCreated
	case "customer.subscription.updated":
		return EventSubscriptionUpdated
	case "customer.subscription.deleted":
		return EventSubscriptionDeleted
	case "invoice.payment_succeeded":
		return EventPaymentSucceeded
	case "invoice.payment_failed":
		return EventPaymentFailed
	default:
		return EventUnknown
	}
}

// Event is a signature-verified processor webhook event.
type Event struct {
	ID   string
	Type string
	Kind EventKind
	Data json.RawMessage
}

// CheckoutSessionParams are the inputs for a processor-hosted checkout flow.
// TenantID and PlanID travel in the session metadata and come back with the
// completion event.
type CheckoutSessionParams struct {
	CustomerID string
	TenantID   uuid.UUID
	PlanID     string
	TrialDays  int
	SuccessURL string
	CancelURL  string
}

// ProcessorSubscriptionItem is one billable line item of a processor
// subscription. Period bounds live on the item. PlanID is the catalog plan
// resolved from the processor price, empty when the price is not in the
// catalog.
type ProcessorSubscriptionItem struct {
	ID                 string
	PriceID            string
	PlanID             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
}

// ProcessorSubscription is the processor's view of a subscription. TenantID
// is read from the subscription metadata written at checkout time; it is
// empty for subscriptions created outside this platform.
type ProcessorSubscription struct {
	ID                string
	CustomerID        string
	TenantID          string
	Status            SubscriptionStatus
	Items             []ProcessorSubscriptionItem
	TrialEnd          *time.Time
	CancelAtPeriodEnd bool
	CanceledAt        *time.Time
}

// ProcessorCheckoutSession is the completed-checkout payload the service
// consumes. TenantID stays a string here so a malformed metadata value can be
// reported instead of silently zeroed.
type ProcessorCheckoutSession struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	TenantID       string
	PlanID         string
}

// ProcessorInvoice is the invoice payload the payment handlers consume.
type ProcessorInvoice struct {
	ID             string
	SubscriptionID string
	AmountCents    int64
	Currency       string
}

// PaymentProcessor abstracts the payment provider. The concrete adapter wraps
// the Stripe SDK; tests substitute a mock. The Parse* methods decode raw
// webhook event payloads so provider wire shapes never leak past the adapter.
type PaymentProcessor interface {
	CreateCustomer(ctx context.Context, tenantID uuid.UUID, email string) (customerID string, err error)
	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (url string, err error)
	CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (url string, err error)
	GetSubscription(ctx context.Context, subscriptionID string) (*ProcessorSubscription, error)

	// UpdateSubscriptionItemPrice swaps the price of one line item to the
	// given plan's price, invoicing the prorated difference immediately.
	UpdateSubscriptionItemPrice(ctx context.Context, subscriptionID, itemID, planID string) error

	CancelSubscriptionAtPeriodEnd(ctx context.Context, subscriptionID string) error

	// CancelSubscriptionNow terminates immediately with proration.
	CancelSubscriptionNow(ctx context.Context, subscriptionID string) error

	// ConstructWebhookEvent verifies the payload signature before returning
	// the event; an invalid signature yields ErrInvalidSignature.
	ConstructWebhookEvent(payload []byte, signature string) (*Event, error)

	ParseCheckoutSession(data json.RawMessage) (*ProcessorCheckoutSession, error)
	ParseSubscription(data json.RawMessage) (*ProcessorSubscription, error)
	ParseInvoice(data json.RawMessage) (*ProcessorInvoice, error)
}
