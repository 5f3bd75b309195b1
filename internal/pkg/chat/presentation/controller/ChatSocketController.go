package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"taskchat/internal/infrastructure/realtime"
	chat "taskchat/internal/pkg/chat/application/domain"
	"taskchat/internal/pkg/chat/application/usecase"
	repository "taskchat/internal/pkg/chat/persistence/repository/port"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// ChatSocketController handles the websocket endpoint for realtime chat traffic.
type ChatSocketController struct {
	router          *realtime.Router
	authUC          *usecase.AuthenticateConnectionUseCase
	joinUC          *usecase.JoinConversationUseCase
	sendUC          *usecase.SendMessageUseCase
	inflightTimeout time.Duration
}

func NewChatSocketController(repo repository.ChatRepository, directory repository.UserDirectory, router *realtime.Router) *ChatSocketController {
	return &ChatSocketController{
		router:          router,
		authUC:          usecase.NewAuthenticateConnectionUseCase(directory),
		joinUC:          usecase.NewJoinConversationUseCase(repo),
		sendUC:          usecase.NewSendMessageUseCase(repo),
		inflightTimeout: 5 * time.Second,
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Cookie auth is issued by the marketplace API on the same origin;
		// cross-origin sockets carry no credentials worth protecting here.
		return true
	},
}

type inboundFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content,omitempty"`
	AckID          string `json:"ack_id,omitempty"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ackFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type typingFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	UserName       string `json:"user_name,omitempty"`
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

// conversationFrame is the feed event for connections viewing the conversation.
type conversationFrame struct {
	Type           string         `json:"type"`
	ConversationID string         `json:"conversation_id"`
	Message        messagePayload `json:"message"`
}

// inboxFrame is the lighter per-user event that refreshes conversation lists.
// It deliberately rides a different event name than conversationFrame so a
// client with the conversation open does not render the message twice.
type inboxFrame struct {
	Type           string         `json:"type"`
	ConversationID string         `json:"conversation_id"`
	LastMessage    messagePayload `json:"last_message"`
	SenderID       string         `json:"sender_id"`
}

type sendAckFrame struct {
	Type    string          `json:"type"`
	AckID   string          `json:"ack_id"`
	Message *messagePayload `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

const defaultReadTimeout = 60 * time.Second

// Handle authenticates the handshake, upgrades to websocket and processes
// frames until the client disconnects. Authentication failures reject the
// connection before any presence or channel state exists.
func (ctl *ChatSocketController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "authentication required"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), ctl.inflightTimeout)
		user, err := ctl.authUC.Execute(ctx, usecase.AuthenticateConnectionInput{
			UserID:       userID,
			FallbackName: c.Query("user_name"),
		})
		cancel()
		if err != nil {
			if errors.Is(err, chat.ErrUserNotFound) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
				return
			}
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "authentication unavailable"})
			return
		}

		ws, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the response; just return.
			return
		}

		conn := realtime.NewConnection(user.ID, user.Name, ws)
		ctl.router.Attach(conn)
		defer func() {
			ctl.router.Detach(conn)
			conn.Close(websocket.CloseNormalClosure, "session closed")
		}()

		ws.SetReadLimit(1 << 20) // 1MB payload cap
		_ = ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		})

		if payload, err := json.Marshal(ackFrame{Type: "connected"}); err == nil {
			_ = conn.Send(payload)
		}

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}

			var frame inboundFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				ctl.replyError(conn, "invalid payload")
				continue
			}

			switch frame.Type {
			case "join:conversation":
				ctl.handleJoin(c, conn, frame)
			case "leave:conversation":
				ctl.handleLeave(conn, frame)
			case "typing:start", "typing:stop":
				ctl.handleTyping(conn, frame)
			case "message:send":
				ctl.handleMessage(c, conn, frame)
			default:
				ctl.replyError(conn, "unknown frame type")
			}
		}
	}
}

func (ctl *ChatSocketController) handleJoin(c *gin.Context, conn *realtime.Connection, frame inboundFrame) {
	if frame.ConversationID == "" {
		ctl.replyError(conn, "conversation_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), ctl.inflightTimeout)
	defer cancel()

	_, err := ctl.joinUC.Execute(ctx, usecase.JoinConversationInput{
		ConversationID: frame.ConversationID,
		UserID:         conn.UserID,
	})
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrConversationNotFound):
			ctl.replyError(conn, "conversation not found")
		case errors.Is(err, chat.ErrNotParticipant):
			ctl.replyError(conn, "not authorized")
		default:
			ctl.replyError(conn, "failed to join conversation")
		}
		return
	}

	ctl.router.Join(frame.ConversationID, conn)

	if payload, err := json.Marshal(ackFrame{Type: "joined", ConversationID: frame.ConversationID}); err == nil {
		_ = conn.Send(payload)
	}
}

func (ctl *ChatSocketController) handleLeave(conn *realtime.Connection, frame inboundFrame) {
	if frame.ConversationID == "" {
		ctl.replyError(conn, "conversation_id is required")
		return
	}
	ctl.router.Leave(frame.ConversationID, conn)

	if payload, err := json.Marshal(ackFrame{Type: "left", ConversationID: frame.ConversationID}); err == nil {
		_ = conn.Send(payload)
	}
}

// handleTyping relays a typing indicator to the other members of the room.
// Gated on current membership only; never persisted, never echoed back to
// the emitting connection, never acknowledged.
func (ctl *ChatSocketController) handleTyping(conn *realtime.Connection, frame inboundFrame) {
	if frame.ConversationID == "" || !ctl.router.InRoom(frame.ConversationID, conn) {
		return
	}

	out := typingFrame{
		Type:           frame.Type,
		ConversationID: frame.ConversationID,
		UserID:         conn.UserID,
	}
	if frame.Type == "typing:start" {
		out.UserName = conn.UserName
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return
	}
	ctl.router.Publish(realtime.ChannelConversation, frame.ConversationID, payload, conn.ID)
}

// handleMessage runs the send pipeline: re-authorize, persist, then fan out
// to the conversation feed and to both participants' inbox streams. Fan-out
// never happens unless persistence succeeded.
func (ctl *ChatSocketController) handleMessage(c *gin.Context, conn *realtime.Connection, frame inboundFrame) {
	if frame.ConversationID == "" {
		ctl.replySendFailure(conn, frame.AckID, "failed to send message")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), ctl.inflightTimeout)
	defer cancel()

	result, err := ctl.sendUC.Execute(ctx, usecase.SendMessageInput{
		ConversationID: frame.ConversationID,
		SenderID:       conn.UserID,
		Content:        frame.Content,
	})
	if err != nil {
		ctl.replySendFailure(conn, frame.AckID, sendFailureMessage(err))
		return
	}

	msg := toPayload(*result.Message)
	ctl.fanOut(result.Conversation, msg)

	if frame.AckID != "" {
		if payload, err := json.Marshal(sendAckFrame{Type: "message:ack", AckID: frame.AckID, Message: &msg}); err == nil {
			_ = conn.Send(payload)
		}
	}
}

// fanOut publishes a persisted message to its two audiences: the
// conversation room under "message:new" and each participant's user channel
// under "conversation:newMessage". The sender is not excluded from either.
func (ctl *ChatSocketController) fanOut(conv *chat.Conversation, msg messagePayload) {
	if feed, err := json.Marshal(conversationFrame{
		Type:           "message:new",
		ConversationID: conv.ID,
		Message:        msg,
	}); err == nil {
		ctl.router.Publish(realtime.ChannelConversation, conv.ID, feed, "")
	}

	inbox, err := json.Marshal(inboxFrame{
		Type:           "conversation:newMessage",
		ConversationID: conv.ID,
		LastMessage:    msg,
		SenderID:       msg.SenderID,
	})
	if err != nil {
		return
	}
	ctl.router.Publish(realtime.ChannelUser, conv.ClientID, inbox, "")
	ctl.router.Publish(realtime.ChannelUser, conv.WorkerID, inbox, "")
}

func sendFailureMessage(err error) string {
	switch {
	case errors.Is(err, chat.ErrConversationNotFound):
		return "conversation not found"
	case errors.Is(err, chat.ErrNotParticipant):
		return "not authorized"
	default:
		return "failed to send message"
	}
}

// replySendFailure reports a failed send through the caller's correlation id
// when one was supplied, otherwise through the scoped error event.
func (ctl *ChatSocketController) replySendFailure(conn *realtime.Connection, ackID string, message string) {
	if ackID == "" {
		ctl.replyError(conn, message)
		return
	}
	if payload, err := json.Marshal(sendAckFrame{Type: "message:ack", AckID: ackID, Error: message}); err == nil {
		_ = conn.Send(payload)
	}
}

func (ctl *ChatSocketController) replyError(conn *realtime.Connection, message string) {
	if payload, err := json.Marshal(errorFrame{Type: "error", Message: message}); err == nil {
		_ = conn.Send(payload)
	}
}

func toPayload(msg chat.Message) messagePayload {
	return messagePayload{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		TaskID:         msg.TaskID,
		Content:        msg.Content,
		Read:           msg.Read,
		CreatedAt:      msg.CreatedAt,
	}
}
