package usecase

import (
	"context"
	"errors"
	"fmt"

	chat "taskchat/internal/pkg/chat/application/domain"
	repository "taskchat/internal/pkg/chat/persistence/repository/port"
)

// JoinConversationInput validates a request to attach a user session to a conversation.
type JoinConversationInput struct {
	ConversationID string
	UserID         string
}

// JoinConversationUseCase ensures the user is one of the conversation's two
// participants before the realtime room is joined.
type JoinConversationUseCase struct {
	Repo repository.ChatRepository
}

func NewJoinConversationUseCase(repo repository.ChatRepository) *JoinConversationUseCase {
	return &JoinConversationUseCase{Repo: repo}
}

func (uc *JoinConversationUseCase) Execute(ctx context.Context, in JoinConversationInput) (*chat.Conversation, error) {
	if in.ConversationID == "" || in.UserID == "" {
		return nil, fmt.Errorf("conversation_id and user_id are required")
	}

	conv, err := uc.Repo.FindConversation(ctx, in.ConversationID)
	if errors.Is(err, chat.ErrConversationNotFound) {
		return nil, chat.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !conv.HasParticipant(in.UserID) {
		return nil, chat.ErrNotParticipant
	}
	return conv, nil
}
