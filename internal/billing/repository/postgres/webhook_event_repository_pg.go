package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agendazap/backend/internal/billing/domain"
	"github.com/agendazap/backend/internal/billing/repository"
)

type pgWebhookEventRepository struct {
	logger *slog.Logger
}

// NewPgWebhookEventRepository creates the PostgreSQL WebhookEventRepository.
func NewPgWebhookEventRepository(logger *slog.Logger) repository.WebhookEventRepository {
	return &pgWebhookEventRepository{logger: logger.With("repository", "webhook_events")}
}

func (r *pgWebhookEventRepository) InsertIfAbsent(ctx context.Context, q repository.Querier, event *domain.WebhookEvent) (bool, error) {
	if event.ProcessedAt.IsZero() {
		event.ProcessedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO billing_webhook_events (event_id, event_type, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`
	tag, err := q.Exec(ctx, query, event.EventID, event.EventType, event.ProcessedAt)
	if err != nil {
		return false, fmt.Errorf("record webhook event %s: %w", event.EventID, err)
	}
	// Zero rows affected means the unique constraint absorbed a redelivery.
	return tag.RowsAffected() == 0, nil
}
