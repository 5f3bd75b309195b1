package usecase

import (
	"context"
	"errors"
	"fmt"

	chat "taskchat/internal/pkg/chat/application/domain"
	repository "taskchat/internal/pkg/chat/persistence/repository/port"
)

// SendMessageInput carries the data needed to send a new message.
type SendMessageInput struct {
	ConversationID string
	SenderID       string
	Content        string
}

// SendMessageResult bundles the persisted message with the conversation it
// landed in, so the caller can fan out to both participants without a second
// lookup.
type SendMessageResult struct {
	Message      *chat.Message
	Conversation *chat.Conversation
}

// SendMessageUseCase authorizes, validates and persists a message.
// Authorization is re-resolved against current participants on every send;
// room membership established at join time is never trusted as a cache.
type SendMessageUseCase struct {
	Repo repository.ChatRepository
}

func NewSendMessageUseCase(repo repository.ChatRepository) *SendMessageUseCase {
	return &SendMessageUseCase{Repo: repo}
}

// Execute persists a new message and advances the conversation recency.
// Nothing is written when authorization or validation fails.
func (uc *SendMessageUseCase) Execute(ctx context.Context, in SendMessageInput) (*SendMessageResult, error) {
	if in.ConversationID == "" || in.SenderID == "" {
		return nil, fmt.Errorf("conversation_id and sender_id are required")
	}

	conv, err := uc.Repo.FindConversation(ctx, in.ConversationID)
	if errors.Is(err, chat.ErrConversationNotFound) {
		return nil, chat.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !conv.HasParticipant(in.SenderID) {
		return nil, chat.ErrNotParticipant
	}

	msg, err := chat.NewMessage(chat.Message{
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		TaskID:         conv.TaskID,
		Content:        in.Content,
	})
	if err != nil {
		return nil, err
	}

	persisted, err := uc.Repo.CreateMessage(ctx, *msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	conv.LastMessageAt = persisted.CreatedAt
	return &SendMessageResult{Message: persisted, Conversation: conv}, nil
}
