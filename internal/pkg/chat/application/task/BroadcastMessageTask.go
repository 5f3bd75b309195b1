package task

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	qport "taskchat/internal/infrastructure/queue/port"
	"taskchat/internal/infrastructure/realtime"
	chat "taskchat/internal/pkg/chat/application/domain"
	repository "taskchat/internal/pkg/chat/persistence/repository/port"
)

// BroadcastMessageTaskType is the queue task name for fanning out a message
// that was persisted outside this service (the marketplace's HTTP API writes
// the row, then enqueues here so open conversation views still update live).
const BroadcastMessageTaskType = "realtime:broadcast_message"

// BroadcastMessageTaskPayload is the JSON payload transported via the queue.
// Kept decoupled from domain types to avoid tight coupling with JSON tags.
type BroadcastMessageTaskPayload struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	TaskID         string    `json:"taskId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

type feedFrame struct {
	Type           string         `json:"type"`
	ConversationID string         `json:"conversation_id"`
	Message        messagePayload `json:"message"`
}

type inboxFrame struct {
	Type           string         `json:"type"`
	ConversationID string         `json:"conversation_id"`
	LastMessage    messagePayload `json:"last_message"`
	SenderID       string         `json:"sender_id"`
}

type messagePayload struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	TaskID         string    `json:"task_id"`
	Content        string    `json:"content"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}

// RegisterBroadcastMessageTask binds the task handler to the provided server.
// The handler re-resolves the conversation for its current participants and
// performs the same dual fan-out as the socket send path. The message is
// already persisted by the producer, so this handler never writes.
func RegisterBroadcastMessageTask(srv qport.Server, repo repository.ChatRepository, router *realtime.Router) {
	srv.Register(BroadcastMessageTaskType, func(ctx context.Context, t qport.Task) error {
		var p BroadcastMessageTaskPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			// malformed payload: do not retry indefinitely
			return err
		}

		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		conv, err := repo.FindConversation(ctx, p.ConversationID)
		if errors.Is(err, chat.ErrConversationNotFound) {
			// The conversation is gone; there is nobody to deliver to
			// and retrying cannot change that.
			return nil
		}
		if err != nil {
			return err
		}

		msg := messagePayload{
			ID:             p.MessageID,
			ConversationID: p.ConversationID,
			SenderID:       p.SenderID,
			TaskID:         p.TaskID,
			Content:        p.Content,
			CreatedAt:      p.CreatedAt,
		}

		if feed, err := json.Marshal(feedFrame{
			Type:           "message:new",
			ConversationID: conv.ID,
			Message:        msg,
		}); err == nil {
			router.Publish(realtime.ChannelConversation, conv.ID, feed, "")
		}

		inbox, err := json.Marshal(inboxFrame{
			Type:           "conversation:newMessage",
			ConversationID: conv.ID,
			LastMessage:    msg,
			SenderID:       p.SenderID,
		})
		if err != nil {
			return err
		}
		router.Publish(realtime.ChannelUser, conv.ClientID, inbox, "")
		router.Publish(realtime.ChannelUser, conv.WorkerID, inbox, "")
		return nil
	})
}
