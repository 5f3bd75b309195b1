package repository

import (
	"context"

	chat "taskchat/internal/pkg/chat/application/domain"
)

// ChatRepository defines persistence operations for the realtime chat core.
// The conversation and message tables are owned by the marketplace API; this
// service only reads conversations and appends messages.
type ChatRepository interface {
	// FindConversation returns the conversation or chat.ErrConversationNotFound.
	FindConversation(ctx context.Context, id string) (*chat.Conversation, error)

	// CreateMessage persists m and advances the conversation's
	// last_message_at in the same transaction, so a message row never
	// exists without the recency bump (and vice versa).
	CreateMessage(ctx context.Context, m chat.Message) (*chat.Message, error)
}

// UserDirectory resolves claimed identities during the connection handshake.
type UserDirectory interface {
	// FindUserByID returns the user or chat.ErrUserNotFound.
	FindUserByID(ctx context.Context, id string) (*chat.User, error)
}
