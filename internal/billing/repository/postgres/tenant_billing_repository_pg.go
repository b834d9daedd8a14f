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

type pgTenantBillingRepository struct {
	logger *slog.Logger
}

// NewPgTenantBillingRepository creates the PostgreSQL TenantBillingRepository.
func NewPgTenantBillingRepository(logger *slog.Logger) repository.TenantBillingRepository {
	return &pgTenantBillingRepository{logger: logger.With("repository", "tenant_billing")}
}

func (r *pgTenantBillingRepository) Get(ctx context.Context, q repository.Querier, tenantID uuid.UUID) (*domain.TenantBilling, error) {
	query := `
		SELECT id, stripe_customer_id, subscription_id, plan_id, subscription_status, trial_ends_at
		FROM tenants WHERE id = $1
	`
	tb := &domain.TenantBilling{}
	var status *string
	err := q.QueryRow(ctx, query, tenantID).Scan(
		&tb.TenantID, &tb.StripeCustomerID, &tb.SubscriptionID, &tb.PlanID, &status, &tb.TrialEndsAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get tenant billing %s: %w", tenantID, err)
	}
	if status != nil {
		tb.SubscriptionStatus = domain.SubscriptionStatus(*status)
	}
	return tb, nil
}

func (r *pgTenantBillingRepository) SetCheckoutResult(ctx context.Context, q repository.Querier, tenantID uuid.UUID, customerID, subscriptionID, planID string, trialEndsAt time.Time) error {
	query := `
		UPDATE tenants
		SET stripe_customer_id = $2, subscription_id = $3, plan_id = $4,
		    subscription_status = $5, trial_ends_at = $6, updated_at = $7
		WHERE id = $1
	`
	_, err := q.Exec(ctx, query, tenantID, customerID, subscriptionID, planID,
		domain.StatusActive, trialEndsAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set checkout result for tenant %s: %w", tenantID, err)
	}
	return nil
}

func (r *pgTenantBillingRepository) SetCustomerID(ctx context.Context, q repository.Querier, tenantID uuid.UUID, customerID string) error {
	query := `UPDATE tenants SET stripe_customer_id = $2, updated_at = $3 WHERE id = $1`
	_, err := q.Exec(ctx, query, tenantID, customerID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set stripe customer for tenant %s: %w", tenantID, err)
	}
	return nil
}

func (r *pgTenantBillingRepository) SetSubscriptionStatus(ctx context.Context, q repository.Querier, tenantID uuid.UUID, status domain.SubscriptionStatus) error {
	query := `UPDATE tenants SET subscription_status = $2, updated_at = $3 WHERE id = $1`
	_, err := q.Exec(ctx, query, tenantID, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set subscription status for tenant %s: %w", tenantID, err)
	}
	return nil
}

func (r *pgTenantBillingRepository) SetSubscriptionStatusByStripeSubscription(ctx context.Context, q repository.Querier, stripeSubscriptionID string, status domain.SubscriptionStatus) error {
	query := `UPDATE tenants SET subscription_status = $2, updated_at = $3 WHERE subscription_id = $1`
	_, err := q.Exec(ctx, query, stripeSubscriptionID, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set subscription status by subscription %s: %w", stripeSubscriptionID, err)
	}
	return nil
}

func (r *pgTenantBillingRepository) SetPlan(ctx context.Context, q repository.Querier, tenantID uuid.UUID, planID string) error {
	query := `UPDATE tenants SET plan_id = $2, updated_at = $3 WHERE id = $1`
	_, err := q.Exec(ctx, query, tenantID, planID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set plan for tenant %s: %w", tenantID, err)
	}
	return nil
}
