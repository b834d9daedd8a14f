package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// InboundMessage is the WhatsApp channel payload for one received message.
// Exactly one of the type-specific fields is set, matching Type; anything the
// channel sends that we do not model stays available through Raw.
type InboundMessage struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Type string `json:"type"`

	Text        *TextPayload        `json:"text,omitempty"`
	Image       *MediaPayload       `json:"image,omitempty"`
	Audio       *MediaPayload       `json:"audio,omitempty"`
	Video       *MediaPayload       `json:"video,omitempty"`
	Document    *DocumentPayload    `json:"document,omitempty"`
	Location    *LocationPayload    `json:"location,omitempty"`
	Button      *ButtonPayload      `json:"button,omitempty"`
	Interactive *InteractivePayload `json:"interactive,omitempty"`
	Contacts    []ContactPayload    `json:"contacts,omitempty"`

	Raw json.RawMessage `json:"-"`
}

type TextPayload struct {
	Body string `json:"body"`
}

type MediaPayload struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

type DocumentPayload struct {
	ID       string `json:"id"`
	Filename string `json:"filename,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

type LocationPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type ButtonPayload struct {
	Text    string `json:"text"`
	Payload string `json:"payload,omitempty"`
}

type InteractivePayload struct {
	Type        string            `json:"type"`
	ButtonReply *InteractiveReply `json:"button_reply,omitempty"`
	ListReply   *InteractiveReply `json:"list_reply,omitempty"`
}

type InteractiveReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type ContactPayload struct {
	Name struct {
		FormattedName string `json:"formatted_name"`
	} `json:"name"`
}

// NormalizedType maps the channel's type string onto our MessageType enum,
// falling back to MessageTypeUnknown for unrecognized kinds.
func (m *InboundMessage) NormalizedType() MessageType {
	switch strings.ToLower(m.Type) {
	case "text":
		return MessageTypeText
	case "image":
		return MessageTypeImage
	case "audio":
		return MessageTypeAudio
	case "video":
		return MessageTypeVideo
	case "document":
		return MessageTypeDocument
	case "location":
		return MessageTypeLocation
	case "button":
		return MessageTypeButton
	case "interactive":
		return MessageTypeInteractive
	case "contacts":
		return MessageTypeContacts
	default:
		return MessageTypeUnknown
	}
}

// ExtractContent derives the human-readable content for one message:
// body text, media captions, fixed placeholders for payloads that carry no
// text, and the selected option title for button/interactive replies.
func (m *InboundMessage) ExtractContent() string {
	switch m.NormalizedType() {
	case MessageTypeText:
		if m.Text != nil {
			return m.Text.Body
		}
	case MessageTypeImage:
		if m.Image != nil && m.Image.Caption != "" {
			return m.Image.Caption
		}
		return "[Image]"
	case MessageTypeAudio:
		return "[Audio message]"
	case MessageTypeVideo:
		if m.Video != nil && m.Video.Caption != "" {
			return m.Video.Caption
		}
		return "[Video]"
	case MessageTypeDocument:
		if m.Document != nil {
			if m.Document.Caption != "" {
				return m.Document.Caption
			}
			if m.Document.Filename != "" {
				return fmt.Sprintf("[Document: %s]", m.Document.Filename)
			}
		}
		return "[Document]"
	case MessageTypeLocation:
		if m.Location != nil && m.Location.Name != "" {
			return fmt.Sprintf("[Location: %s]", m.Location.Name)
		}
		return "[Location]"
	case MessageTypeButton:
		if m.Button != nil {
			return m.Button.Text
		}
	case MessageTypeInteractive:
		if m.Interactive != nil {
			if m.Interactive.ButtonReply != nil {
				return m.Interactive.ButtonReply.Title
			}
			if m.Interactive.ListReply != nil {
				return m.Interactive.ListReply.Title
			}
		}
	case MessageTypeContacts:
		return "[Contact card]"
	}
	return "[Unsupported message]"
}
