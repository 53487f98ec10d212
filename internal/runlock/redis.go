package runlock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"horse.fit/jobdedup/internal/posting"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lease never removes a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock %s: %w", name, err)
	}
	if !ok {
		return nil, posting.ErrRunLocked
	}

	return &lease{
		token: token,
		extend: func(ctx context.Context, ttl time.Duration) error {
			extended, err := extendScript.Run(ctx, r.client, []string{name}, token, ttl.Milliseconds()).Int()
			if err != nil {
				return fmt.Errorf("extend run lock %s: %w", name, err)
			}
			if extended == 0 {
				return ErrLeaseLost
			}
			return nil
		},
		release: func(ctx context.Context) error {
			if err := releaseScript.Run(ctx, r.client, []string{name}, token).Err(); err != nil {
				return fmt.Errorf("release run lock %s: %w", name, err)
			}
			return nil
		},
	}, nil
}
