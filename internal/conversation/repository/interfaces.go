package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/agendazap/backend/internal/conversation/domain"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx so repository methods
// can run inside or outside an enclosing transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// MessageRepository persists and queries the conversation log.
type MessageRepository interface {
	Insert(ctx context.Context, q Querier, msg *domain.Message) (*domain.Message, error)

	// ListByPhone returns up to limit messages for a phone+tenant pair,
	// newest first. A non-nil before restricts to messages created strictly
	// before that instant (backward pagination).
	ListByPhone(ctx context.Context, q Querier, phone string, tenantID uuid.UUID, limit int, before *time.Time) ([]domain.Message, error)

	Search(ctx context.Context, q Querier, params domain.SearchParams) ([]domain.Message, int, error)

	GetSummary(ctx context.Context, q Querier, phone string, tenantID uuid.UUID) (*domain.Summary, error)
	GetStats(ctx context.Context, q Querier, tenantID uuid.UUID, start, end *time.Time) (*domain.Stats, error)

	// ListForCleanup reports conversations whose newest message predates cutoff.
	ListForCleanup(ctx context.Context, q Querier, tenantID uuid.UUID, cutoff time.Time) ([]domain.CleanupCandidate, error)

	// DeleteOlderThan removes messages created strictly before cutoff.
	// The server-side procedure is assumed atomic.
	DeleteOlderThan(ctx context.Context, q Querier, tenantID uuid.UUID, cutoff time.Time) (*domain.CleanupResult, error)
}
