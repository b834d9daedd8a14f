package app

import (
	"context"

	"github.com/google/uuid"

	"github.com/agendazap/backend/internal/billing/domain"
)

// HandleWebhook verifies, deduplicates and dispatches one processor webhook
// delivery. Individual handlers log their own failures and never propagate
// them: the processor retries the whole delivery on non-2xx, and the dedup
// record already marks the event as consumed.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.processor.ConstructWebhookEvent(payload, signature)
	if err != nil {
		webhookEventsCounter.WithLabelValues("unknown", "invalid_signature").Inc()
		s.logger.WarnContext(ctx, "rejected webhook delivery with invalid signature", "error", err)
		return err
	}

	alreadySeen, err := s.events.InsertIfAbsent(ctx, s.db, &domain.WebhookEvent{
		EventID:     event.ID,
		EventType:   event.Type,
		ProcessedAt: s.now(),
	})
	if err != nil {
		webhookEventsCounter.WithLabelValues(event.Type, "error").Inc()
		s.logger.ErrorContext(ctx, "failed to record webhook event",
			"event_id", event.ID, "event_type", event.Type, "error", err)
		return err
	}
	if alreadySeen {
		webhookEventsCounter.WithLabelValues(event.Type, "duplicate").Inc()
		s.logger.InfoContext(ctx, "skipping redelivered webhook event",
			"event_id", event.ID, "event_type", event.Type)
		return nil
	}

	switch event.Kind {
	case domain.EventCheckoutCompleted:
		s.handleCheckoutCompleted(ctx, event)
	case domain.EventSubscriptionCreated, domain.EventSubscriptionUpdated:
		s.handleSubscriptionChanged(ctx, event)
	case domain.EventSubscriptionDeleted:
		s.handleSubscriptionDeleted(ctx, event)
	case domain.EventPaymentSucceeded:
		s.handlePayment(ctx, event, domain.PaymentSucceeded)
	case domain.EventPaymentFailed:
		s.handlePayment(ctx, event, domain.PaymentFailed)
	default:
		s.logger.DebugContext(ctx, "ignoring unhandled webhook event type",
			"event_id", event.ID, "event_type", event.Type)
	}

	webhookEventsCounter.WithLabelValues(event.Type, "processed").Inc()
	return nil
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event *domain.Event) {
	sess, err := s.processor.ParseCheckoutSession(event.Data)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to parse checkout session event",
			"event_id", event.ID, "error", err)
		return
	}
	if sess.TenantID == "" || sess.PlanID == "" {
		// Checkout sessions created outside this platform carry no metadata.
		s.logger.WarnContext(ctx, "checkout session without tenant metadata, dropping",
			"event_id", event.ID, "session_id", sess.ID)
		return
	}
	tenantID, err := uuid.Parse(sess.TenantID)
	if err != nil {
		s.logger.WarnContext(ctx, "checkout session with malformed tenant id, dropping",
			"event_id", event.ID, "session_id", sess.ID, "tenant_id", sess.TenantID)
		return
	}

	plan, err := domain.PlanByID(sess.PlanID)
	if err != nil {
		s.logger.WarnContext(ctx, "checkout session references unknown plan, dropping",
			"event_id", event.ID, "session_id", sess.ID, "plan_id", sess.PlanID)
		return
	}

	trialEndsAt := s.now().AddDate(0, 0, plan.TrialDays)
	var mirror *domain.Subscription
	if sess.SubscriptionID != "" {
		psub, err := s.processor.GetSubscription(ctx, sess.SubscriptionID)
		if err != nil {
			s.logger.WarnContext(ctx, "could not fetch subscription after checkout, mirroring from session",
				"event_id", event.ID, "subscription_id", sess.SubscriptionID, "error", err)
		} else {
			if psub.TrialEnd != nil {
				trialEndsAt = *psub.TrialEnd
			}
			mirror = subscriptionFromProcessor(psub, tenantID, plan.ID)
		}
	}
	if mirror == nil {
		// The checkout always yields a local trialing record, even when the
		// session carries no subscription id yet or the fetch failed.
		trialEnd := trialEndsAt
		mirror = &domain.Subscription{
			TenantID:             tenantID,
			StripeSubscriptionID: sess.SubscriptionID,
			StripeCustomerID:     sess.CustomerID,
			PlanID:               plan.ID,
			Status:               domain.StatusTrialing,
			TrialEnd:             &trialEnd,
		}
	}
	if sess.SubscriptionID != "" {
		err = s.subs.UpsertByStripeID(ctx, s.db, mirror)
	} else {
		_, err = s.subs.Insert(ctx, s.db, mirror)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to mirror subscription after checkout",
			"event_id", event.ID, "subscription_id", sess.SubscriptionID, "error", err)
		return
	}

	if err := s.tenants.SetCheckoutResult(ctx, s.db, tenantID,
		sess.CustomerID, sess.SubscriptionID, plan.ID, trialEndsAt); err != nil {
		s.logger.ErrorContext(ctx, "failed to record checkout result",
			"event_id", event.ID, "tenant_id", tenantID, "error", err)
		return
	}

	s.logger.InfoContext(ctx, "checkout completed",
		"tenant_id", tenantID, "plan_id", plan.ID, "subscription_id", sess.SubscriptionID)
}

func (s *Service) handleSubscriptionChanged(ctx context.Context, event *domain.Event) {
	psub, err := s.processor.ParseSubscription(event.Data)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to parse subscription event",
			"event_id", event.ID, "error", err)
		return
	}

	tenantID, fallbackPlanID, ok := s.resolveTenant(ctx, psub)
	if !ok {
		s.logger.WarnContext(ctx, "subscription event without resolvable tenant, dropping",
			"event_id", event.ID, "subscription_id", psub.ID)
		return
	}

	sub := subscriptionFromProcessor(psub, tenantID, fallbackPlanID)
	if err := s.subs.UpsertByStripeID(ctx, s.db, sub); err != nil {
		s.logger.ErrorContext(ctx, "failed to mirror subscription state",
			"event_id", event.ID, "subscription_id", psub.ID, "error", err)
		return
	}
	if err := s.tenants.SetSubscriptionStatusByStripeSubscription(ctx, s.db, psub.ID, psub.Status); err != nil {
		s.logger.ErrorContext(ctx, "failed to update tenant subscription status",
			"event_id", event.ID, "subscription_id", psub.ID, "error", err)
		return
	}

	s.logger.InfoContext(ctx, "subscription state mirrored",
		"tenant_id", tenantID, "subscription_id", psub.ID, "status", psub.Status)
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event *domain.Event) {
	psub, err := s.processor.ParseSubscription(event.Data)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to parse subscription deleted event",
			"event_id", event.ID, "error", err)
		return
	}

	canceledAt := s.now()
	if psub.CanceledAt != nil {
		canceledAt = *psub.CanceledAt
	}
	if err := s.subs.MarkCanceled(ctx, s.db, psub.ID, canceledAt); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark subscription canceled",
			"event_id", event.ID, "subscription_id", psub.ID, "error", err)
		return
	}
	if err := s.tenants.SetSubscriptionStatusByStripeSubscription(ctx, s.db, psub.ID, domain.StatusCanceled); err != nil {
		s.logger.ErrorContext(ctx, "failed to update tenant after subscription deletion",
			"event_id", event.ID, "subscription_id", psub.ID, "error", err)
		return
	}

	s.logger.InfoContext(ctx, "subscription canceled by processor",
		"subscription_id", psub.ID, "canceled_at", canceledAt)
}

func (s *Service) handlePayment(ctx context.Context, event *domain.Event, status domain.PaymentStatus) {
	inv, err := s.processor.ParseInvoice(event.Data)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to parse invoice event",
			"event_id", event.ID, "error", err)
		return
	}
	if inv.SubscriptionID == "" {
		// One-off invoices are outside the subscription audit trail.
		s.logger.DebugContext(ctx, "invoice without subscription, dropping",
			"event_id", event.ID, "invoice_id", inv.ID)
		return
	}

	if _, err := s.payments.Insert(ctx, s.db, &domain.PaymentRecord{
		SubscriptionID: inv.SubscriptionID,
		InvoiceID:      inv.ID,
		AmountCents:    inv.AmountCents,
		Currency:       inv.Currency,
		Status:         status,
		CreatedAt:      s.now(),
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to record payment",
			"event_id", event.ID, "invoice_id", inv.ID, "error", err)
		return
	}
	paymentsRecordedCounter.WithLabelValues(string(status)).Inc()

	// Subscription state is mirrored by the subscription.* events; a payment
	// only demotes the tenant, and only once the processor itself reports the
	// subscription as past due (Stripe keeps it active through early retries).
	if status == domain.PaymentFailed {
		psub, err := s.processor.GetSubscription(ctx, inv.SubscriptionID)
		if err != nil {
			s.logger.WarnContext(ctx, "could not check subscription status after failed payment",
				"event_id", event.ID, "subscription_id", inv.SubscriptionID, "error", err)
		} else if psub.Status == domain.StatusPastDue {
			if err := s.tenants.SetSubscriptionStatusByStripeSubscription(ctx, s.db, inv.SubscriptionID, domain.StatusPastDue); err != nil {
				s.logger.ErrorContext(ctx, "failed to demote tenant after failed payment",
					"event_id", event.ID, "subscription_id", inv.SubscriptionID, "error", err)
				return
			}
		}
	}

	s.logger.InfoContext(ctx, "payment recorded",
		"invoice_id", inv.ID, "subscription_id", inv.SubscriptionID,
		"status", status, "amount_cents", inv.AmountCents)
}

// resolveTenant finds the tenant for a processor subscription: the existing
// local mirror wins, subscription metadata is the fallback for first sight.
// The mirror's plan id is returned so an event whose price is missing from
// the catalog map does not erase a previously resolved plan.
func (s *Service) resolveTenant(ctx context.Context, psub *domain.ProcessorSubscription) (uuid.UUID, string, bool) {
	if existing, err := s.subs.GetByStripeID(ctx, s.db, psub.ID); err == nil {
		return existing.TenantID, existing.PlanID, true
	}
	if psub.TenantID != "" {
		if id, err := uuid.Parse(psub.TenantID); err == nil {
			return id, "", true
		}
	}
	return uuid.Nil, "", false
}

// subscriptionFromProcessor maps processor state onto the local mirror row.
// Period bounds and plan come from the first item; fallbackPlanID covers
// items whose price is not in the catalog map.
func subscriptionFromProcessor(psub *domain.ProcessorSubscription, tenantID uuid.UUID, fallbackPlanID string) *domain.Subscription {
	sub := &domain.Subscription{
		TenantID:             tenantID,
		StripeSubscriptionID: psub.ID,
		StripeCustomerID:     psub.CustomerID,
		PlanID:               fallbackPlanID,
		Status:               psub.Status,
		TrialEnd:             psub.TrialEnd,
		CancelAtPeriodEnd:    psub.CancelAtPeriodEnd,
		CanceledAt:           psub.CanceledAt,
	}
	if len(psub.Items) > 0 {
		item := psub.Items[0]
		sub.CurrentPeriodStart = item.CurrentPeriodStart
		sub.CurrentPeriodEnd = item.CurrentPeriodEnd
		if item.PlanID != "" {
			sub.PlanID = item.PlanID
		}
	}
	return sub
}
