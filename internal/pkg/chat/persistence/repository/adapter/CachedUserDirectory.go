package adapter

import (
	"context"
	"encoding/json"
	"time"

	cacheport "taskchat/internal/infrastructure/cache/port"
	chat "taskchat/internal/pkg/chat/application/domain"
	repository "taskchat/internal/pkg/chat/persistence/repository/port"
)

// CachedUserDirectory is a read-through cache in front of another directory.
// Handshake lookups hit the directory once per connection and names change
// rarely, so a short TTL takes the load off the account table without making
// stale names a problem.
type CachedUserDirectory struct {
	next  repository.UserDirectory
	cache cacheport.Cache
	ttl   time.Duration
}

func NewCachedUserDirectory(next repository.UserDirectory, cache cacheport.Cache, ttl time.Duration) *CachedUserDirectory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedUserDirectory{next: next, cache: cache, ttl: ttl}
}

var _ repository.UserDirectory = (*CachedUserDirectory)(nil)

func (d *CachedUserDirectory) FindUserByID(ctx context.Context, id string) (*chat.User, error) {
	key := "chat:user:" + id

	if raw, err := d.cache.Get(ctx, key); err == nil {
		var u chat.User
		if json.Unmarshal([]byte(raw), &u) == nil {
			return &u, nil
		}
	}
	// Misses, transport errors and unreadable entries all fall through;
	// the directory stays the source of truth and must not be failed by
	// the cache.

	u, err := d.next.FindUserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(u); err == nil {
		_ = d.cache.Set(ctx, key, string(raw), d.ttl)
	}
	return u, nil
}
