package messaging

import (
	"strconv"
	"strings"
	"time"
)

// WebhookPayload is the WhatsApp Cloud API notification body.
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

type WebhookChange struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         ValueMetadata    `json:"metadata"`
	Contacts         []Contact        `json:"contacts"`
	Messages         []WebhookMessage `json:"messages"`
	Statuses         []MessageStatus  `json:"statuses"`
}

type ValueMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type WebhookMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Button *struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button,omitempty"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply,omitempty"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`
}

// MessageStatus is a delivery receipt for an outbound message.
type MessageStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
}

// Content extracts the patient's answer. Button and list replies count as text.
func (m WebhookMessage) Content() (string, bool) {
	switch m.Type {
	case "text":
		if m.Text != nil {
			return strings.TrimSpace(m.Text.Body), m.Text.Body != ""
		}
	case "button":
		if m.Button != nil {
			return m.Button.Text, m.Button.Text != ""
		}
	case "interactive":
		if m.Interactive == nil {
			return "", false
		}
		if r := m.Interactive.ButtonReply; r != nil {
			return r.Title, true
		}
		if r := m.Interactive.ListReply; r != nil {
			return r.Title, true
		}
	}
	return "", false
}

// SentAt parses the unix-seconds timestamp, falling back to fallback.
func (m WebhookMessage) SentAt(fallback time.Time) time.Time {
	sec, err := strconv.ParseInt(m.Timestamp, 10, 64)
	if err != nil || sec <= 0 {
		return fallback
	}
	return time.Unix(sec, 0).UTC()
}
