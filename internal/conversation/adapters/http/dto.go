package http

import (
	"time"

	"github.com/agendazap/backend/internal/conversation/domain"
)

// StoreMessageRequest is the body of POST /messages.
type StoreMessageRequest struct {
	TenantID   string                 `json:"tenant_id" validate:"required,uuid"`
	UserName   string                 `json:"user_name"`
	UserID     *string                `json:"user_id,omitempty" validate:"omitempty,uuid"`
	Intent     *string                `json:"intent,omitempty"`
	Confidence *float64               `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	Message    *domain.InboundMessage `json:"message" validate:"required"`
}

// StoreSystemMessageRequest is the body of POST /messages/system.
type StoreSystemMessageRequest struct {
	TenantID    string  `json:"tenant_id" validate:"required,uuid"`
	PhoneNumber string  `json:"phone_number" validate:"required,min=8"`
	UserName    string  `json:"user_name"`
	Content     string  `json:"content" validate:"required"`
	MessageID   string  `json:"message_id,omitempty"`
	Intent      *string `json:"intent,omitempty"`
}

// StoreMessageResponse echoes the stored message identity.
type StoreMessageResponse struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SearchRequest is the body of POST /conversations/search and
// POST /conversations/export.
type SearchRequest struct {
	TenantID    string     `json:"tenant_id" validate:"required,uuid"`
	PhoneNumber string     `json:"phone_number,omitempty"`
	UserID      *string    `json:"user_id,omitempty" validate:"omitempty,uuid"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	MessageType string     `json:"message_type,omitempty"`
	Intent      string     `json:"intent,omitempty"`
	IsFromUser  *bool      `json:"is_from_user,omitempty"`
	Limit       int        `json:"limit,omitempty" validate:"omitempty,gte=1,lte=100"`
	Offset      int        `json:"offset,omitempty" validate:"omitempty,gte=0"`
}

// CleanupRequest is the body of POST /admin/cleanup.
type CleanupRequest struct {
	TenantID      string `json:"tenant_id,omitempty" validate:"omitempty,uuid"`
	RetentionDays int    `json:"retention_days" validate:"required,gt=0"`
}

// GenericErrorResponse for API errors.
type GenericErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
