package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agendazap/backend/internal/billing/domain"
	"github.com/agendazap/backend/internal/billing/repository"
)

const subscriptionColumns = `id, tenant_id, stripe_subscription_id, stripe_customer_id, plan_id,
		status, current_period_start, current_period_end, trial_end,
		cancel_at_period_end, canceled_at, created_at, updated_at`

type pgSubscriptionRepository struct {
	logger *slog.Logger
}

// NewPgSubscriptionRepository creates the PostgreSQL SubscriptionRepository.
func NewPgSubscriptionRepository(logger *slog.Logger) repository.SubscriptionRepository {
	return &pgSubscriptionRepository{logger: logger.With("repository", "subscriptions")}
}

func (r *pgSubscriptionRepository) Insert(ctx context.Context, q repository.Querier, sub *domain.Subscription) (*domain.Subscription, error) {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := q.Exec(ctx, query,
		sub.ID, sub.TenantID, sub.StripeSubscriptionID, sub.StripeCustomerID, sub.PlanID,
		sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialEnd,
		sub.CancelAtPeriodEnd, sub.CanceledAt, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert subscription %s: %w", sub.StripeSubscriptionID, err)
	}
	return sub, nil
}

func (r *pgSubscriptionRepository) GetByStripeID(ctx context.Context, q repository.Querier, stripeSubscriptionID string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE stripe_subscription_id = $1`
	sub := &domain.Subscription{}
	err := q.QueryRow(ctx, query, stripeSubscriptionID).Scan(
		&sub.ID, &sub.TenantID, &sub.StripeSubscriptionID, &sub.StripeCustomerID, &sub.PlanID,
		&sub.Status, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.TrialEnd,
		&sub.CancelAtPeriodEnd, &sub.CanceledAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get subscription %s: %w", stripeSubscriptionID, err)
	}
	return sub, nil
}

func (r *pgSubscriptionRepository) GetActiveByTenant(ctx context.Context, q repository.Querier, tenantID uuid.UUID) (*domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE tenant_id = $1 AND status NOT IN ('canceled')
		ORDER BY created_at DESC
		LIMIT 1
	`
	sub := &domain.Subscription{}
	err := q.QueryRow(ctx, query, tenantID).Scan(
		&sub.ID, &sub.TenantID, &sub.StripeSubscriptionID, &sub.StripeCustomerID, &sub.PlanID,
		&sub.Status, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.TrialEnd,
		&sub.CancelAtPeriodEnd, &sub.CanceledAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNoSubscription
		}
		return nil, fmt.Errorf("get active subscription for tenant %s: %w", tenantID, err)
	}
	return sub, nil
}

func (r *pgSubscriptionRepository) UpsertByStripeID(ctx context.Context, q repository.Querier, sub *domain.Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (stripe_subscription_id) DO UPDATE SET
			plan_id = COALESCE(NULLIF(EXCLUDED.plan_id, ''), subscriptions.plan_id),
			status = EXCLUDED.status,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			trial_end = EXCLUDED.trial_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			canceled_at = EXCLUDED.canceled_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err := q.Exec(ctx, query,
		sub.ID, sub.TenantID, sub.StripeSubscriptionID, sub.StripeCustomerID, sub.PlanID,
		sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialEnd,
		sub.CancelAtPeriodEnd, sub.CanceledAt, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert subscription %s: %w", sub.StripeSubscriptionID, err)
	}
	return nil
}

func (r *pgSubscriptionRepository) MarkCanceled(ctx context.Context, q repository.Querier, stripeSubscriptionID string, canceledAt time.Time) error {
	query := `
		UPDATE subscriptions
		SET status = $2, canceled_at = $3, updated_at = $4
		WHERE stripe_subscription_id = $1
	`
	_, err := q.Exec(ctx, query, stripeSubscriptionID, domain.StatusCanceled, canceledAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark subscription %s canceled: %w", stripeSubscriptionID, err)
	}
	return nil
}
