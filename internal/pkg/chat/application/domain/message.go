package chat

import (
	"errors"
	"strings"
	"time"
)

// Message is an immutable log entry in a conversation. TaskID is carried
// denormalized so downstream consumers can attribute the message without an
// extra conversation lookup. Only the Read flag may change after creation,
// and not through this service.
type Message struct {
	ID             string    `db:"id"`
	ConversationID string    `db:"conversation_id"`
	SenderID       string    `db:"sender_id"`
	TaskID         string    `db:"task_id"`
	Content        string    `db:"content"`
	Read           bool      `db:"read"`
	CreatedAt      time.Time `db:"created_at"`
}

// NewMessage validates and normalizes a message prior to persistence.
func NewMessage(m Message) (*Message, error) {
	if m.ConversationID == "" || m.SenderID == "" {
		return nil, errors.New("conversation_id and sender_id are required")
	}

	m.Content = strings.TrimSpace(m.Content)
	if m.Content == "" {
		return nil, ErrEmptyMessage
	}

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.Read = false

	return &m, nil
}
