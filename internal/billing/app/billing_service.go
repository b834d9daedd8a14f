package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agendazap/backend/internal/billing/domain"
	"github.com/agendazap/backend/internal/billing/repository"
)

// URLs are the redirect targets handed to the payment processor's hosted
// pages.
type URLs struct {
	CheckoutSuccess string
	CheckoutCancel  string
	PortalReturn    string
}

// Service implements the subscription lifecycle over the payment processor
// and the local billing tables. The processor is the source of truth; this
// service mirrors its state and never invents billing facts of its own.
type Service struct {
	subs      repository.SubscriptionRepository
	tenants   repository.TenantBillingRepository
	payments  repository.PaymentRepository
	events    repository.WebhookEventRepository
	db        repository.Querier
	processor domain.PaymentProcessor
	urls      URLs
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires the billing Service.
func NewService(
	subs repository.SubscriptionRepository,
	tenants repository.TenantBillingRepository,
	payments repository.PaymentRepository,
	events repository.WebhookEventRepository,
	db repository.Querier,
	processor domain.PaymentProcessor,
	urls URLs,
	logger *slog.Logger,
) *Service {
	return &Service{
		subs:      subs,
		tenants:   tenants,
		payments:  payments,
		events:    events,
		db:        db,
		processor: processor,
		urls:      urls,
		logger:    logger.With("service", "billing"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetPlans returns the static catalog, cheapest first.
func (s *Service) GetPlans() []domain.Plan {
	return domain.Plans()
}

// GetPlan looks one plan up by id.
func (s *Service) GetPlan(planID string) (*domain.Plan, error) {
	return domain.PlanByID(planID)
}

// CreateCheckoutSession returns the hosted checkout URL for the tenant and
// plan. A processor customer is created lazily on first use and remembered on
// the tenant row.
func (s *Service) CreateCheckoutSession(ctx context.Context, tenantID uuid.UUID, email, planID string) (string, error) {
	plan, err := domain.PlanByID(planID)
	if err != nil {
		return "", err
	}

	tenant, err := s.tenants.Get(ctx, s.db, tenantID)
	if err != nil {
		return "", err
	}

	customerID := ""
	if tenant.StripeCustomerID != nil {
		customerID = *tenant.StripeCustomerID
	}
	if customerID == "" {
		customerID, err = s.processor.CreateCustomer(ctx, tenantID, email)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to create processor customer",
				"tenant_id", tenantID, "error", err)
			return "", err
		}
		if err := s.tenants.SetCustomerID(ctx, s.db, tenantID, customerID); err != nil {
			return "", err
		}
	}

	url, err := s.processor.CreateCheckoutSession(ctx, domain.CheckoutSessionParams{
		CustomerID: customerID,
		TenantID:   tenantID,
		PlanID:     plan.ID,
		TrialDays:  plan.TrialDays,
		SuccessURL: s.urls.CheckoutSuccess,
		CancelURL:  s.urls.CheckoutCancel,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to create checkout session",
			"tenant_id", tenantID, "plan_id", plan.ID, "error", err)
		return "", err
	}

	checkoutSessionsCounter.Inc()
	s.logger.InfoContext(ctx, "checkout session created",
		"tenant_id", tenantID, "plan_id", plan.ID, "customer_id", customerID)
	return url, nil
}

// CreateBillingPortalSession returns the hosted self-service portal URL.
// Tenants without a processor customer have nothing to manage there.
func (s *Service) CreateBillingPortalSession(ctx context.Context, tenantID uuid.UUID) (string, error) {
	tenant, err := s.tenants.Get(ctx, s.db, tenantID)
	if err != nil {
		return "", err
	}
	if tenant.StripeCustomerID == nil || *tenant.StripeCustomerID == "" {
		return "", domain.ErrNoSubscription
	}

	url, err := s.processor.CreateBillingPortalSession(ctx, *tenant.StripeCustomerID, s.urls.PortalReturn)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to create billing portal session",
			"tenant_id", tenantID, "error", err)
		return "", err
	}
	return url, nil
}

// CancelSubscription schedules cancellation at the end of the paid period.
// The local mirror keeps status unchanged until the processor confirms via
// webhook; only the cancel flag is recorded eagerly.
func (s *Service) CancelSubscription(ctx context.Context, tenantID uuid.UUID) (*domain.Subscription, error) {
	sub, err := s.subs.GetActiveByTenant(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}

	if err := s.processor.CancelSubscriptionAtPeriodEnd(ctx, sub.StripeSubscriptionID); err != nil {
		s.logger.ErrorContext(ctx, "failed to schedule subscription cancellation",
			"tenant_id", tenantID, "subscription_id", sub.StripeSubscriptionID, "error", err)
		return nil, err
	}

	sub.CancelAtPeriodEnd = true
	if err := s.subs.UpsertByStripeID(ctx, s.db, sub); err != nil {
		return nil, err
	}

	cancellationsCounter.WithLabelValues("period_end").Inc()
	s.logger.InfoContext(ctx, "subscription cancellation scheduled",
		"tenant_id", tenantID, "subscription_id", sub.StripeSubscriptionID,
		"current_period_end", sub.CurrentPeriodEnd)
	return sub, nil
}

// CancelSubscriptionImmediately terminates the subscription now, with
// proration handled by the processor.
func (s *Service) CancelSubscriptionImmediately(ctx context.Context, tenantID uuid.UUID) error {
	sub, err := s.subs.GetActiveByTenant(ctx, s.db, tenantID)
	if err != nil {
		return err
	}

	if err := s.processor.CancelSubscriptionNow(ctx, sub.StripeSubscriptionID); err != nil {
		s.logger.ErrorContext(ctx, "failed to cancel subscription",
			"tenant_id", tenantID, "subscription_id", sub.StripeSubscriptionID, "error", err)
		return err
	}

	canceledAt := s.now()
	if err := s.subs.MarkCanceled(ctx, s.db, sub.StripeSubscriptionID, canceledAt); err != nil {
		return err
	}
	if err := s.tenants.SetSubscriptionStatus(ctx, s.db, tenantID, domain.StatusCanceled); err != nil {
		return err
	}

	cancellationsCounter.WithLabelValues("immediate").Inc()
	s.logger.InfoContext(ctx, "subscription canceled immediately",
		"tenant_id", tenantID, "subscription_id", sub.StripeSubscriptionID)
	return nil
}

// ChangeSubscriptionPlan swaps the subscription's single billable item to the
// new plan's price, invoicing the prorated difference immediately.
func (s *Service) ChangeSubscriptionPlan(ctx context.Context, tenantID uuid.UUID, newPlanID string) (*domain.Subscription, error) {
	plan, err := domain.PlanByID(newPlanID)
	if err != nil {
		return nil, err
	}

	sub, err := s.subs.GetActiveByTenant(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if sub.PlanID == plan.ID {
		return sub, nil
	}

	psub, err := s.processor.GetSubscription(ctx, sub.StripeSubscriptionID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to fetch processor subscription",
			"tenant_id", tenantID, "subscription_id", sub.StripeSubscriptionID, "error", err)
		return nil, err
	}
	if len(psub.Items) == 0 {
		return nil, fmt.Errorf("subscription %s: %w", sub.StripeSubscriptionID, domain.ErrNoBillableItem)
	}

	// Plans map to single-item subscriptions; the first item is the plan item.
	item := psub.Items[0]
	if err := s.processor.UpdateSubscriptionItemPrice(ctx, sub.StripeSubscriptionID, item.ID, plan.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to change subscription plan",
			"tenant_id", tenantID, "subscription_id", sub.StripeSubscriptionID,
			"plan_id", plan.ID, "error", err)
		return nil, err
	}

	sub.PlanID = plan.ID
	if err := s.subs.UpsertByStripeID(ctx, s.db, sub); err != nil {
		return nil, err
	}
	if err := s.tenants.SetPlan(ctx, s.db, tenantID, plan.ID); err != nil {
		return nil, err
	}

	planChangesCounter.Inc()
	s.logger.InfoContext(ctx, "subscription plan changed",
		"tenant_id", tenantID, "subscription_id", sub.StripeSubscriptionID, "plan_id", plan.ID)
	return sub, nil
}

// GetSubscription returns the tenant's current non-canceled subscription.
func (s *Service) GetSubscription(ctx context.Context, tenantID uuid.UUID) (*domain.Subscription, error) {
	return s.subs.GetActiveByTenant(ctx, s.db, tenantID)
}

// ListPayments pages through the payment audit trail of the tenant's current
// subscription, newest first.
func (s *Service) ListPayments(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]domain.PaymentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	sub, err := s.subs.GetActiveByTenant(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	return s.payments.ListBySubscription(ctx, s.db, sub.StripeSubscriptionID, limit, offset)
}
