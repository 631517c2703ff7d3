// Package redisstate shares per-session coordination between server instances through redis.
package redisstate

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/mbolis/voiceform/dialogue"
	"github.com/mbolis/voiceform/log"
	"github.com/redis/go-redis/v9"
)

const (
	lockTTL   = 30 * time.Second
	lockRetry = 25 * time.Millisecond
)

var _ dialogue.Locker = (*Locker)(nil)

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a dialogue.Locker held in redis, so that turns of a session are
// serialised across every instance sharing the database.
type Locker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewLocker(client redis.UniversalClient) *Locker {
	return &Locker{client: client, ttl: lockTTL}
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.Must(uuid.NewV4()).String()
	k := lockKey(key)

	ticker := time.NewTicker(lockRetry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := unlockScript.Run(ctx, l.client, []string{k}, token).Err(); err != nil {
			log.WithError(err).WithField("session", key).Warn("redis unlock failed")
		}
	}, nil
}

func lockKey(sessionID string) string {
	return fmt.Sprintf("voiceform:lock:%s", sessionID)
}
