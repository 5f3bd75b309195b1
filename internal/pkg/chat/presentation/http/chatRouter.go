package http

import (
	"time"

	cacheport "taskchat/internal/infrastructure/cache/port"
	qport "taskchat/internal/infrastructure/queue/port"
	"taskchat/internal/infrastructure/realtime"
	repoAdapter "taskchat/internal/pkg/chat/persistence/repository/adapter"
	repository "taskchat/internal/pkg/chat/persistence/repository/port"
	"taskchat/internal/pkg/chat/presentation/controller"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RegisterRoutes registers the realtime chat endpoints under the given
// router group. The cache is optional; when present, handshake user lookups
// go through it.
func RegisterRoutes(g *gin.RouterGroup, pool *pgxpool.Pool, client qport.Client, rt *realtime.Router, cache cacheport.Cache) {
	repo := repoAdapter.NewPgChatRepository(pool)

	var directory repository.UserDirectory = repoAdapter.NewPgUserDirectory(pool)
	if cache != nil {
		directory = repoAdapter.NewCachedUserDirectory(directory, cache, 5*time.Minute)
	}

	socketCtl := controller.NewChatSocketController(repo, directory, rt)
	broadcastCtl := controller.NewBroadcastMessageController(client)

	// GET /api/v1/chat/ws -> websocket endpoint for realtime chat
	g.GET("/chat/ws", socketCtl.Handle())

	// POST /api/v1/internal/conversations/:conversationId/broadcast
	// -> the marketplace API pushes messages it persisted itself
	g.POST("/internal/conversations/:conversationId/broadcast", broadcastCtl.Handle())
}
