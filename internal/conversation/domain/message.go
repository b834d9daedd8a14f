package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrMessageNotFound = errors.New("conversation message not found")

// MessageType classifies the payload of a WhatsApp chat turn.
type MessageType string

const (
	MessageTypeText        MessageType = "text"
	MessageTypeImage       MessageType = "image"
	MessageTypeAudio       MessageType = "audio"
	MessageTypeVideo       MessageType = "video"
	MessageTypeDocument    MessageType = "document"
	MessageTypeLocation    MessageType = "location"
	MessageTypeButton      MessageType = "button"
	MessageTypeInteractive MessageType = "interactive"
	MessageTypeContacts    MessageType = "contacts"
	MessageTypeUnknown     MessageType = "unknown"
)

// DisplayContentMaxLen caps the human-readable content stored for listing.
const DisplayContentMaxLen = 500

// Message is one durable conversation turn. Rows are append-only: they are
// never mutated after insert and are removed only by retention cleanup.
type Message struct {
	ID                  uuid.UUID       `json:"id"`
	TenantID            uuid.UUID       `json:"tenant_id"`
	UserID              *uuid.UUID      `json:"user_id,omitempty"`
	PhoneNumber         string          `json:"phone_number"`
	UserName            string          `json:"user_name"`
	IsFromUser          bool            `json:"is_from_user"`
	MessageType         MessageType     `json:"message_type"`
	MessageContent      string          `json:"message_content"`
	DisplayContent      string          `json:"display_content"`
	RawMessage          json.RawMessage `json:"raw_message,omitempty"`
	IntentDetected      *string         `json:"intent_detected,omitempty"`
	ConfidenceScore     *float64        `json:"confidence_score,omitempty"`
	ConversationContext json.RawMessage `json:"conversation_context,omitempty"`
	MessageID           string          `json:"message_id"`
	CreatedAt           time.Time       `json:"created_at"`
}

// Truncate shortens s to DisplayContentMaxLen runes for the display column.
func Truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= DisplayContentMaxLen {
		return s
	}
	return string(runes[:DisplayContentMaxLen])
}

// ContextRole tags transcript entries fed to the language model.
type ContextRole string

const (
	ContextRoleUser      ContextRole = "user"
	ContextRoleAssistant ContextRole = "assistant"
)

// ContextEntry is one role-tagged line of recent conversation context.
type ContextEntry struct {
	Role    ContextRole `json:"role"`
	Content string      `json:"content"`
}
