package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/agendazap/backend/internal/billing/domain"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx so repository methods
// can run inside or outside an enclosing transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// SubscriptionRepository persists the local mirror of processor subscriptions.
// All writes key on the processor subscription id so redelivered events apply
// idempotently.
type SubscriptionRepository interface {
	Insert(ctx context.Context, q Querier, sub *domain.Subscription) (*domain.Subscription, error)
	GetByStripeID(ctx context.Context, q Querier, stripeSubscriptionID string) (*domain.Subscription, error)
	GetActiveByTenant(ctx context.Context, q Querier, tenantID uuid.UUID) (*domain.Subscription, error)

	// UpsertByStripeID mirrors processor-reported state onto the local record.
	UpsertByStripeID(ctx context.Context, q Querier, sub *domain.Subscription) error

	// MarkCanceled force-sets status=canceled with the given timestamp.
	MarkCanceled(ctx context.Context, q Querier, stripeSubscriptionID string, canceledAt time.Time) error
}

// TenantBillingRepository writes the billing columns of the tenant row.
type TenantBillingRepository interface {
	Get(ctx context.Context, q Querier, tenantID uuid.UUID) (*domain.TenantBilling, error)

	// SetCheckoutResult records the processor identifiers after checkout
	// completion, sets status=active and the provisional trial end.
	SetCheckoutResult(ctx context.Context, q Querier, tenantID uuid.UUID, customerID, subscriptionID, planID string, trialEndsAt time.Time) error

	SetCustomerID(ctx context.Context, q Querier, tenantID uuid.UUID, customerID string) error
	SetSubscriptionStatus(ctx context.Context, q Querier, tenantID uuid.UUID, status domain.SubscriptionStatus) error
	SetSubscriptionStatusByStripeSubscription(ctx context.Context, q Querier, stripeSubscriptionID string, status domain.SubscriptionStatus) error
	SetPlan(ctx context.Context, q Querier, tenantID uuid.UUID, planID string) error
}

// PaymentRepository is the append-only payment audit trail.
type PaymentRepository interface {
	Insert(ctx context.Context, q Querier, record *domain.PaymentRecord) (*domain.PaymentRecord, error)
	ListBySubscription(ctx context.Context, q Querier, stripeSubscriptionID string, limit, offset int) ([]domain.PaymentRecord, error)
}

// WebhookEventRepository stores processed event ids for redelivery dedup.
type WebhookEventRepository interface {
	// InsertIfAbsent records the event id and reports whether it had already
	// been seen. The unique constraint makes concurrent deliveries safe.
	InsertIfAbsent(ctx context.Context, q Querier, event *domain.WebhookEvent) (alreadySeen bool, err error)
}
