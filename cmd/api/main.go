package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	v1 "taskchat/cmd/api/router/v1"
	cacheAdapter "taskchat/internal/infrastructure/cache/adapter"
	cacheport "taskchat/internal/infrastructure/cache/port"
	"taskchat/internal/infrastructure/database"
	queueAdapter "taskchat/internal/infrastructure/queue/adapter"
	"taskchat/internal/infrastructure/realtime"
	"taskchat/internal/pkg/chat/application/task"
	repoAdapter "taskchat/internal/pkg/chat/persistence/repository/adapter"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found or could not be loaded: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	pool, err := database.NewPoolFromEnv(connectCtx)
	cancel()
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	// Redis is optional: without it, handshake user lookups simply skip
	// the read-through cache.
	var cache cacheport.Cache
	if c, err := cacheAdapter.NewRedisAdapter(); err != nil {
		log.Printf("Warning: redis cache disabled: %v", err)
	} else {
		cache = c
		defer c.Close()
	}

	qclient, err := queueAdapter.NewAsynqClientFromEnv()
	if err != nil {
		log.Fatalf("failed to create queue client: %v", err)
	}
	defer qclient.Close()

	rt := realtime.NewRouter(realtime.NewPresenceRegistry())
	defer rt.Close()

	qserver, err := queueAdapter.NewAsynqServer()
	if err != nil {
		log.Fatalf("failed to create queue server: %v", err)
	}
	task.RegisterBroadcastMessageTask(qserver, repoAdapter.NewPgChatRepository(pool), rt)
	go func() {
		if err := qserver.Run(ctx); err != nil {
			log.Printf("queue server stopped: %v", err)
		}
	}()

	r := gin.Default()

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	v1.RegisterRoutes(r, pool, qclient, rt, cache)

	// Start HTTP server (blocks until shutdown)
	if err := r.Run(); err != nil {
		log.Fatalf("http server stopped: %v", err)
	}
}
