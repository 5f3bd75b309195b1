package chat

import (
	"errors"
	"time"
)

// Domain-level errors for chat behaviors
var (
	ErrConversationNotFound = errors.New("chat: conversation not found")
	ErrNotParticipant       = errors.New("chat: user is not a participant in the conversation")
	ErrUserNotFound         = errors.New("chat: user not found")
	ErrEmptyMessage         = errors.New("chat: message content is empty")
)

// Conversation is the chat thread attached to a single task. Its two
// participants (the task's client and the bidding worker) are fixed at
// creation time; LastMessageAt advances whenever a message is persisted.
type Conversation struct {
	ID            string    `db:"id"`
	TaskID        string    `db:"task_id"`
	ClientID      string    `db:"client_id"`
	WorkerID      string    `db:"worker_id"`
	CreatedAt     time.Time `db:"created_at"`
	LastMessageAt time.Time `db:"last_message_at"`
}

// HasParticipant tells whether userID may access this conversation.
// Membership in a realtime room is never a substitute for this check.
func (c *Conversation) HasParticipant(userID string) bool {
	if c == nil || userID == "" {
		return false
	}
	return userID == c.ClientID || userID == c.WorkerID
}
