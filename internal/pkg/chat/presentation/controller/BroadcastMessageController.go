package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	queueport "taskchat/internal/infrastructure/queue/port"
	"taskchat/internal/pkg/chat/application/task"

	"github.com/gin-gonic/gin"
)

// BroadcastMessageController handles the internal ingest endpoint the
// marketplace API calls after persisting a message through its own CRUD
// path. It only enqueues; delivery happens in the queue worker.
type BroadcastMessageController struct {
	Q queueport.Client
}

func NewBroadcastMessageController(client queueport.Client) *BroadcastMessageController {
	return &BroadcastMessageController{Q: client}
}

// broadcastRequest is the DTO for the HTTP request body
type broadcastRequest struct {
	MessageID string    `json:"message_id" binding:"required"`
	SenderID  string    `json:"sender_id" binding:"required"`
	TaskID    string    `json:"task_id"`
	Content   string    `json:"content" binding:"required"`
	CreatedAt time.Time `json:"created_at"`
}

// Handle returns a gin handler that enqueues a background fan-out task
func (h *BroadcastMessageController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("conversationId")
		if conversationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId is required"})
			return
		}

		var req broadcastRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.CreatedAt.IsZero() {
			req.CreatedAt = time.Now().UTC()
		}

		payload := task.BroadcastMessageTaskPayload{
			MessageID:      req.MessageID,
			ConversationID: conversationID,
			SenderID:       req.SenderID,
			TaskID:         req.TaskID,
			Content:        req.Content,
			CreatedAt:      req.CreatedAt,
		}
		b, err := json.Marshal(payload)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode task payload"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		opts := queueport.EnqueueOption{Queue: "realtime", MaxRetry: 5}
		id, err := h.Q.Enqueue(ctx, queueport.Task{Type: task.BroadcastMessageTaskType, Payload: b}, opts)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to enqueue broadcast"})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"status":          "queued",
			"task_id":         id,
			"conversation_id": conversationID,
		})
	}
}
