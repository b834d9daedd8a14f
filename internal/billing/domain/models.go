package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("billing record not found")
	ErrInvalidSignature = errors.New("webhook signature verification failed")
	ErrProcessor        = errors.New("payment processor error")
	ErrUnknownPlan      = errors.New("unknown plan")
	ErrNoSubscription   = errors.New("tenant has no subscription")
	ErrNoBillableItem   = errors.New("subscription has no billable item")
)

// SubscriptionStatus mirrors the processor-reported subscription states.
type SubscriptionStatus string

const (
	StatusTrialing   SubscriptionStatus = "trialing"
	StatusActive     SubscriptionStatus = "active"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusCanceled   SubscriptionStatus = "canceled"
	StatusIncomplete SubscriptionStatus = "incomplete"
	StatusUnpaid     SubscriptionStatus = "unpaid"
)

// Subscription is the local mirror of a processor subscription. It is owned
// by the billing service and mutated only in response to webhook events.
type Subscription struct {
	ID                   uuid.UUID          `json:"id"`
	TenantID             uuid.UUID          `json:"tenant_id"`
	StripeSubscriptionID string             `json:"stripe_subscription_id"`
	StripeCustomerID     string             `json:"stripe_customer_id"`
	PlanID               string             `json:"plan_id"`
	Status               SubscriptionStatus `json:"status"`
	CurrentPeriodStart   *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time         `json:"current_period_end,omitempty"`
	TrialEnd             *time.Time         `json:"trial_end,omitempty"`
	CancelAtPeriodEnd    bool               `json:"cancel_at_period_end"`
	CanceledAt           *time.Time         `json:"canceled_at,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// TenantBilling is the partial tenant view this service writes; every other
// component reads it.
type TenantBilling struct {
	TenantID           uuid.UUID          `json:"tenant_id"`
	StripeCustomerID   *string            `json:"stripe_customer_id,omitempty"`
	SubscriptionID     *string            `json:"subscription_id,omitempty"`
	PlanID             *string            `json:"plan_id,omitempty"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	TrialEndsAt        *time.Time         `json:"trial_ends_at,omitempty"`
}

// PaymentStatus classifies payment-history entries.
type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// PaymentRecord is one append-only audit entry for a processor invoice.
type PaymentRecord struct {
	ID             uuid.UUID     `json:"id"`
	SubscriptionID string        `json:"subscription_id"`
	InvoiceID      string        `json:"invoice_id"`
	AmountCents    int64         `json:"amount_cents"`
	Currency       string        `json:"currency"`
	Status         PaymentStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
}

// WebhookEvent records a processed processor event for redelivery dedup.
type WebhookEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	ProcessedAt time.Time `json:"processed_at"`
}
