package v1

import (
	cacheport "taskchat/internal/infrastructure/cache/port"
	qport "taskchat/internal/infrastructure/queue/port"
	"taskchat/internal/infrastructure/realtime"
	httpHandler "taskchat/internal/pkg/chat/presentation/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RegisterRoutes mounts all version 1 API routes under /api/v1
func RegisterRoutes(r *gin.Engine, pool *pgxpool.Pool, client qport.Client, rt *realtime.Router, cache cacheport.Cache) {
	v1 := r.Group("/api/v1")
	httpHandler.RegisterRoutes(v1, pool, client, rt, cache)
}
