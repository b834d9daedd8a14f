package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agendazap/backend/internal/billing/domain"
	"github.com/agendazap/backend/internal/billing/repository"
)

type pgPaymentRepository struct {
	logger *slog.Logger
}

// NewPgPaymentRepository creates the PostgreSQL PaymentRepository.
func NewPgPaymentRepository(logger *slog.Logger) repository.PaymentRepository {
	return &pgPaymentRepository{logger: logger.With("repository", "payment_history")}
}

func (r *pgPaymentRepository) Insert(ctx context.Context, q repository.Querier, record *domain.PaymentRecord) (*domain.PaymentRecord, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO payment_history (id, subscription_id, invoice_id, amount_cents, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (invoice_id, status) DO NOTHING
	`
	_, err := q.Exec(ctx, query,
		record.ID, record.SubscriptionID, record.InvoiceID,
		record.AmountCents, record.Currency, record.Status, record.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert payment record for invoice %s: %w", record.InvoiceID, err)
	}
	return record, nil
}

func (r *pgPaymentRepository) ListBySubscription(ctx context.Context, q repository.Querier, stripeSubscriptionID string, limit, offset int) ([]domain.PaymentRecord, error) {
	query := `
		SELECT id, subscription_id, invoice_id, amount_cents, currency, status, created_at
		FROM payment_history
		WHERE subscription_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := q.Query(ctx, query, stripeSubscriptionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list payments for subscription %s: %w", stripeSubscriptionID, err)
	}
	defer rows.Close()

	var records []domain.PaymentRecord
	for rows.Next() {
		var rec domain.PaymentRecord
		if err := rows.Scan(&rec.ID, &rec.SubscriptionID, &rec.InvoiceID,
			&rec.AmountCents, &rec.Currency, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
