package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/agendazap/backend/internal/conversation/domain"
	"github.com/agendazap/backend/internal/conversation/repository"
)

var ErrInvalidLimit = errors.New("limit must be positive")

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 100

	// StoredEventSubject carries a notification for every stored message.
	StoredEventSubject = "conversation.message.stored"
)

// EventPublisher is the slice of the NATS client the service needs.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// StoreOptions carry the optional attributes of a stored message.
type StoreOptions struct {
	UserID              *uuid.UUID
	Intent              *string
	Confidence          *float64
	ConversationContext json.RawMessage

	// MessageID overrides the source message id; used by system messages
	// that have no channel-assigned id.
	MessageID string
}

// Service implements the conversation-history operations over an injected
// repository and event publisher.
type Service struct {
	repo      repository.MessageRepository
	db        repository.Querier
	publisher EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates the conversation Service. publisher may be nil when the
// service runs without a broker (tests, one-off tools).
func NewService(repo repository.MessageRepository, db repository.Querier, publisher EventPublisher, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		db:        db,
		publisher: publisher,
		logger:    logger.With("service", "conversation"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// StoreMessage records one inbound chat turn. The store error propagates to
// the caller; no retry is attempted here.
func (s *Service) StoreMessage(ctx context.Context, inbound *domain.InboundMessage, tenantID uuid.UUID, userName string, opts StoreOptions) (*domain.Message, error) {
	content := inbound.ExtractContent()
	raw := inbound.Raw
	if raw == nil {
		raw, _ = json.Marshal(inbound)
	}

	msg := &domain.Message{
		TenantID:            tenantID,
		UserID:              opts.UserID,
		PhoneNumber:         inbound.From,
		UserName:            userName,
		IsFromUser:          true,
		MessageType:         inbound.NormalizedType(),
		MessageContent:      content,
		DisplayContent:      domain.Truncate(content),
		RawMessage:          raw,
		IntentDetected:      opts.Intent,
		ConfidenceScore:     opts.Confidence,
		ConversationContext: opts.ConversationContext,
		MessageID:           inbound.ID,
		CreatedAt:           s.now(),
	}
	return s.store(ctx, msg)
}

// StoreSystemMessage records an outbound turn originated by this platform.
// A synthetic message id is assigned when the caller supplies none.
func (s *Service) StoreSystemMessage(ctx context.Context, tenantID uuid.UUID, phone, userName, content string, opts StoreOptions) (*domain.Message, error) {
	messageID := opts.MessageID
	if messageID == "" {
		messageID = fmt.Sprintf("sys-%d", s.now().UnixNano())
	}

	msg := &domain.Message{
		TenantID:            tenantID,
		UserID:              opts.UserID,
		PhoneNumber:         phone,
		UserName:            userName,
		IsFromUser:          false,
		MessageType:         domain.MessageTypeText,
		MessageContent:      content,
		DisplayContent:      domain.Truncate(content),
		IntentDetected:      opts.Intent,
		ConfidenceScore:     opts.Confidence,
		ConversationContext: opts.ConversationContext,
		MessageID:           messageID,
		CreatedAt:           s.now(),
	}
	return s.store(ctx, msg)
}

func (s *Service) store(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	stored, err := s.repo.Insert(ctx, s.db, msg)
	if err != nil {
		storeFailuresCounter.Inc()
		s.logger.ErrorContext(ctx, "failed to store conversation message",
			"tenant_id", msg.TenantID, "phone_number", msg.PhoneNumber,
			"message_id", msg.MessageID, "error", err)
		return nil, err
	}

	direction := "system"
	if stored.IsFromUser {
		direction = "user"
	}
	messagesStoredCounter.WithLabelValues(string(stored.MessageType), direction).Inc()

	if s.publisher != nil {
		event, _ := json.Marshal(map[string]string{
			"message_id":   stored.MessageID,
			"tenant_id":    stored.TenantID.String(),
			"phone_number": stored.PhoneNumber,
			"message_type": string(stored.MessageType),
		})
		if err := s.publisher.Publish(ctx, StoredEventSubject, event); err != nil {
			// Notification only; the message is already durable.
			s.logger.WarnContext(ctx, "failed to publish stored-message event",
				"message_id", stored.MessageID, "error", err)
		}
	}
	return stored, nil
}

// GetConversationByPhone returns the most recent limit messages for the
// phone+tenant pair, re-ordered chronologically ascending. A non-nil before
// enables backward pagination.
func (s *Service) GetConversationByPhone(ctx context.Context, phone string, tenantID uuid.UUID, limit int, before *time.Time) ([]domain.Message, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	messages, err := s.repo.ListByPhone(ctx, s.db, phone, tenantID, limit, before)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to get conversation",
			"phone_number", phone, "tenant_id", tenantID, "error", err)
		return nil, err
	}

	// Repository returns newest first; callers expect chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// SearchConversations applies the composable filters with offset/limit
// pagination. The limit defaults to 50 and is capped at 100.
func (s *Service) SearchConversations(ctx context.Context, params domain.SearchParams) (*domain.SearchResult, error) {
	if params.Limit <= 0 {
		params.Limit = defaultSearchLimit
	}
	if params.Limit > maxSearchLimit {
		params.Limit = maxSearchLimit
	}
	if params.Offset < 0 {
		params.Offset = 0
	}

	timer := prometheus.NewTimer(searchDurationHist)
	messages, total, err := s.repo.Search(ctx, s.db, params)
	timer.ObserveDuration()
	if err != nil {
		s.logger.ErrorContext(ctx, "conversation search failed",
			"tenant_id", params.TenantID, "error", err)
		return nil, err
	}

	return &domain.SearchResult{
		Messages: messages,
		Total:    total,
		HasMore:  total > params.Offset+params.Limit,
	}, nil
}

// GetConversationSummary shapes parameters for the server-side summary
// procedure; the repository defaults the result when the remote returns none.
func (s *Service) GetConversationSummary(ctx context.Context, phone string, tenantID uuid.UUID) (*domain.Summary, error) {
	summary, err := s.repo.GetSummary(ctx, s.db, phone, tenantID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to get conversation summary",
			"phone_number", phone, "tenant_id", tenantID, "error", err)
		return nil, err
	}
	return summary, nil
}

// GetConversationStats delegates aggregation to the stats procedure.
func (s *Service) GetConversationStats(ctx context.Context, tenantID uuid.UUID, start, end *time.Time) (*domain.Stats, error) {
	stats, err := s.repo.GetStats(ctx, s.db, tenantID, start, end)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to get conversation stats", "tenant_id", tenantID, "error", err)
		return nil, err
	}
	return stats, nil
}

// GetConversationsForCleanup reports the retention-eligible subset without
// deleting anything.
func (s *Service) GetConversationsForCleanup(ctx context.Context, tenantID uuid.UUID, retentionDays int) ([]domain.CleanupCandidate, error) {
	cutoff := s.cutoff(retentionDays)
	candidates, err := s.repo.ListForCleanup(ctx, s.db, tenantID, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list conversations for cleanup",
			"tenant_id", tenantID, "cutoff", cutoff, "error", err)
		return nil, err
	}
	return candidates, nil
}

// CleanupOldConversations deletes messages created strictly before
// now − retentionDays. The boundary is exclusive: a message exactly
// retentionDays old is retained. The remote procedure is assumed atomic; no
// local transactional coordination is performed.
func (s *Service) CleanupOldConversations(ctx context.Context, tenantID uuid.UUID, retentionDays int) (*domain.CleanupResult, error) {
	if retentionDays <= 0 {
		return nil, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}
	cutoff := s.cutoff(retentionDays)

	result, err := s.repo.DeleteOlderThan(ctx, s.db, tenantID, cutoff)
	if err != nil {
		cleanupRunsCounter.WithLabelValues("failure").Inc()
		s.logger.ErrorContext(ctx, "retention cleanup failed",
			"tenant_id", tenantID, "cutoff", cutoff, "error", err)
		return nil, err
	}

	cleanupRunsCounter.WithLabelValues("success").Inc()
	cleanupDeletedCounter.Add(float64(result.DeletedMessages))
	s.logger.InfoContext(ctx, "retention cleanup completed",
		"tenant_id", tenantID,
		"cutoff", cutoff,
		"deleted_messages", result.DeletedMessages,
		"deleted_conversations", result.DeletedConversations)
	return result, nil
}

func (s *Service) cutoff(retentionDays int) time.Time {
	return s.now().AddDate(0, 0, -retentionDays)
}

// exportColumns is the fixed CSV column order. Every exported row has exactly
// these eight cells regardless of which optional fields are set.
var exportColumns = []string{
	"timestamp", "phone", "name", "direction", "type", "content", "intent", "confidence",
}

// ExportConversationHistory streams the full (uncapped) search result as CSV.
func (s *Service) ExportConversationHistory(ctx context.Context, params domain.SearchParams, w io.Writer) (int, error) {
	// Export bypasses the pagination caps: page through the repository until
	// the result set is exhausted.
	params.Offset = 0
	params.Limit = maxSearchLimit

	writer := csv.NewWriter(w)
	if err := writer.Write(exportColumns); err != nil {
		return 0, fmt.Errorf("write export header: %w", err)
	}

	exported := 0
	for {
		messages, total, err := s.repo.Search(ctx, s.db, params)
		if err != nil {
			s.logger.ErrorContext(ctx, "conversation export failed",
				"tenant_id", params.TenantID, "offset", params.Offset, "error", err)
			return exported, err
		}

		for _, m := range messages {
			direction := "outbound"
			if m.IsFromUser {
				direction = "inbound"
			}
			intent := ""
			if m.IntentDetected != nil {
				intent = *m.IntentDetected
			}
			confidence := ""
			if m.ConfidenceScore != nil {
				confidence = strconv.FormatFloat(*m.ConfidenceScore, 'f', -1, 64)
			}
			row := []string{
				m.CreatedAt.Format(time.RFC3339),
				m.PhoneNumber,
				m.UserName,
				direction,
				string(m.MessageType),
				m.MessageContent,
				intent,
				confidence,
			}
			if err := writer.Write(row); err != nil {
				return exported, fmt.Errorf("write export row: %w", err)
			}
			exported++
		}

		params.Offset += len(messages)
		if len(messages) == 0 || params.Offset >= total {
			break
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return exported, fmt.Errorf("flush export: %w", err)
	}

	s.logger.InfoContext(ctx, "conversation export completed",
		"tenant_id", params.TenantID, "rows", exported)
	return exported, nil
}

// GetRecentContext maps recent messages into a role-tagged transcript for the
// downstream language model. This path fails soft: any error yields an empty
// transcript, since the consumer is a best-effort feature.
func (s *Service) GetRecentContext(ctx context.Context, phone string, tenantID uuid.UUID, limit int) []domain.ContextEntry {
	if limit <= 0 {
		limit = 10
	}

	messages, err := s.GetConversationByPhone(ctx, phone, tenantID, limit, nil)
	if err != nil {
		s.logger.WarnContext(ctx, "recent context unavailable, returning empty",
			"phone_number", phone, "tenant_id", tenantID, "error", err)
		return []domain.ContextEntry{}
	}

	entries := make([]domain.ContextEntry, 0, len(messages))
	for _, m := range messages {
		role := domain.ContextRoleAssistant
		if m.IsFromUser {
			role = domain.ContextRoleUser
		}
		entries = append(entries, domain.ContextEntry{Role: role, Content: m.MessageContent})
	}
	return entries
}
