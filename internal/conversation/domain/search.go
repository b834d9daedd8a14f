package domain

import (
	"time"

	"github.com/google/uuid"
)

// SearchParams are composable equality/range filters over the message log.
// Zero-valued fields are not applied.
type SearchParams struct {
	PhoneNumber string
	TenantID    uuid.UUID
	UserID      *uuid.UUID
	StartDate   *time.Time
	EndDate     *time.Time
	MessageType MessageType
	Intent      string
	IsFromUser  *bool
	Limit       int
	Offset      int
}

// SearchResult carries one page of matches plus pagination state.
// HasMore is true iff Total exceeds Offset+Limit.
type SearchResult struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
	HasMore  bool      `json:"has_more"`
}

// Summary is the shape returned by the get_conversation_summary procedure.
type Summary struct {
	PhoneNumber      string     `json:"phone_number"`
	UserName         string     `json:"user_name"`
	MessageCount     int        `json:"message_count"`
	FirstMessageAt   *time.Time `json:"first_message_at,omitempty"`
	LastMessageAt    *time.Time `json:"last_message_at,omitempty"`
	LastIntent       *string    `json:"last_intent,omitempty"`
	UserMessageCount int        `json:"user_message_count"`
}

// Stats is the shape returned by the get_conversation_stats procedure.
type Stats struct {
	TotalMessages      int            `json:"total_messages"`
	TotalConversations int            `json:"total_conversations"`
	MessagesByType     map[string]int `json:"messages_by_type"`
	MessagesFromUsers  int            `json:"messages_from_users"`
	MessagesFromSystem int            `json:"messages_from_system"`
}

// CleanupResult reports what a retention cleanup pass removed.
type CleanupResult struct {
	DeletedMessages      int `json:"deleted_messages"`
	DeletedConversations int `json:"deleted_conversations"`
}

// CleanupCandidate is one conversation eligible for deletion, as reported by
// the get_conversations_for_cleanup procedure.
type CleanupCandidate struct {
	PhoneNumber   string    `json:"phone_number"`
	MessageCount  int       `json:"message_count"`
	OldestMessage time.Time `json:"oldest_message"`
	NewestMessage time.Time `json:"newest_message"`
}
