package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agendazap/backend/internal/conversation/domain"
	"github.com/agendazap/backend/internal/conversation/repository"
)

const messageColumns = `id, tenant_id, user_id, phone_number, user_name, is_from_user,
		message_type, message_content, display_content, raw_message,
		intent_detected, confidence_score, conversation_context, message_id, created_at`

type pgMessageRepository struct {
	logger *slog.Logger
}

// NewPgMessageRepository creates the PostgreSQL MessageRepository.
func NewPgMessageRepository(logger *slog.Logger) repository.MessageRepository {
	return &pgMessageRepository{logger: logger.With("repository", "conversation_messages")}
}

func (r *pgMessageRepository) Insert(ctx context.Context, q repository.Querier, msg *domain.Message) (*domain.Message, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO conversation_history (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := q.Exec(ctx, query,
		msg.ID, msg.TenantID, msg.UserID, msg.PhoneNumber, msg.UserName, msg.IsFromUser,
		msg.MessageType, msg.MessageContent, msg.DisplayContent, msg.RawMessage,
		msg.IntentDetected, msg.ConfidenceScore, msg.ConversationContext, msg.MessageID, msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert conversation message (message_id %s): %w", msg.MessageID, err)
	}
	return msg, nil
}

func (r *pgMessageRepository) ListByPhone(ctx context.Context, q repository.Querier, phone string, tenantID uuid.UUID, limit int, before *time.Time) ([]domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM conversation_history
		WHERE phone_number = $1 AND tenant_id = $2
	`
	args := []interface{}{phone, tenantID}
	if before != nil {
		query += fmt.Sprintf(" AND created_at < $%d", len(args)+1)
		args = append(args, *before)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversation by phone %s: %w", phone, err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *pgMessageRepository) Search(ctx context.Context, q repository.Querier, params domain.SearchParams) ([]domain.Message, int, error) {
	where, args := buildSearchFilter(params)

	countQuery := "SELECT COUNT(*) FROM conversation_history" + where
	var total int
	if err := q.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conversation search: %w", err)
	}

	query := "SELECT " + messageColumns + " FROM conversation_history" + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, params.Limit, params.Offset)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search conversations: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

// buildSearchFilter composes the WHERE clause from the set filters only.
func buildSearchFilter(params domain.SearchParams) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(clause string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	add("tenant_id = $%d", params.TenantID)
	if params.PhoneNumber != "" {
		add("phone_number = $%d", params.PhoneNumber)
	}
	if params.UserID != nil {
		add("user_id = $%d", *params.UserID)
	}
	if params.StartDate != nil {
		add("created_at >= $%d", *params.StartDate)
	}
	if params.EndDate != nil {
		add("created_at <= $%d", *params.EndDate)
	}
	if params.MessageType != "" {
		add("message_type = $%d", params.MessageType)
	}
	if params.Intent != "" {
		add("intent_detected = $%d", params.Intent)
	}
	if params.IsFromUser != nil {
		add("is_from_user = $%d", *params.IsFromUser)
	}

	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *pgMessageRepository) GetSummary(ctx context.Context, q repository.Querier, phone string, tenantID uuid.UUID) (*domain.Summary, error) {
	query := `
		SELECT phone_number, user_name, message_count, first_message_at,
		       last_message_at, last_intent, user_message_count
		FROM get_conversation_summary($1, $2)
	`
	s := &domain.Summary{}
	err := q.QueryRow(ctx, query, phone, tenantID).Scan(
		&s.PhoneNumber, &s.UserName, &s.MessageCount, &s.FirstMessageAt,
		&s.LastMessageAt, &s.LastIntent, &s.UserMessageCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Empty procedure result defaults to a zero summary for the pair.
			return &domain.Summary{PhoneNumber: phone}, nil
		}
		return nil, fmt.Errorf("get conversation summary for %s: %w", phone, err)
	}
	return s, nil
}

func (r *pgMessageRepository) GetStats(ctx context.Context, q repository.Querier, tenantID uuid.UUID, start, end *time.Time) (*domain.Stats, error) {
	query := `
		SELECT total_messages, total_conversations, messages_by_type,
		       messages_from_users, messages_from_system
		FROM get_conversation_stats($1, $2, $3)
	`
	s := &domain.Stats{MessagesByType: map[string]int{}}
	err := q.QueryRow(ctx, query, tenantID, start, end).Scan(
		&s.TotalMessages, &s.TotalConversations, &s.MessagesByType,
		&s.MessagesFromUsers, &s.MessagesFromSystem,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.Stats{MessagesByType: map[string]int{}}, nil
		}
		return nil, fmt.Errorf("get conversation stats: %w", err)
	}
	if s.MessagesByType == nil {
		s.MessagesByType = map[string]int{}
	}
	return s, nil
}

func (r *pgMessageRepository) ListForCleanup(ctx context.Context, q repository.Querier, tenantID uuid.UUID, cutoff time.Time) ([]domain.CleanupCandidate, error) {
	query := `
		SELECT phone_number, message_count, oldest_message, newest_message
		FROM get_conversations_for_cleanup($1, $2)
	`
	rows, err := q.Query(ctx, query, tenantArg(tenantID), cutoff)
	if err != nil {
		return nil, fmt.Errorf("list conversations for cleanup: %w", err)
	}
	defer rows.Close()

	var candidates []domain.CleanupCandidate
	for rows.Next() {
		var c domain.CleanupCandidate
		if err := rows.Scan(&c.PhoneNumber, &c.MessageCount, &c.OldestMessage, &c.NewestMessage); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return candidates, nil
}

func (r *pgMessageRepository) DeleteOlderThan(ctx context.Context, q repository.Querier, tenantID uuid.UUID, cutoff time.Time) (*domain.CleanupResult, error) {
	query := `SELECT deleted_messages, deleted_conversations FROM cleanup_old_conversations($1, $2)`
	res := &domain.CleanupResult{}
	err := q.QueryRow(ctx, query, tenantArg(tenantID), cutoff).Scan(&res.DeletedMessages, &res.DeletedConversations)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.CleanupResult{}, nil
		}
		return nil, fmt.Errorf("cleanup old conversations (cutoff %s): %w", cutoff.Format(time.RFC3339), err)
	}
	return res, nil
}

// tenantArg maps the zero UUID to SQL NULL; the cleanup procedures treat a
// NULL tenant as "all tenants".
func tenantArg(tenantID uuid.UUID) interface{} {
	if tenantID == uuid.Nil {
		return nil
	}
	return tenantID
}

func scanMessages(rows pgx.Rows) ([]domain.Message, error) {
	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		err := rows.Scan(
			&m.ID, &m.TenantID, &m.UserID, &m.PhoneNumber, &m.UserName, &m.IsFromUser,
			&m.MessageType, &m.MessageContent, &m.DisplayContent, &m.RawMessage,
			&m.IntentDetected, &m.ConfidenceScore, &m.ConversationContext, &m.MessageID, &m.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}
