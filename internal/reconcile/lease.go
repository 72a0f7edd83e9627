package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const leaseKey = "reconcile:lease:v1"

// releaseScript deletes the lease only while it is still held by the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// lease keeps two instances from reconciling at the same time. A nil cache
// means a single instance and the lease always succeeds.
type lease struct {
	cache redis.Cmdable
	key   string
	owner string
}

func newLease(cache redis.Cmdable) *lease {
	return &lease{cache: cache, key: leaseKey, owner: uuid.NewString()}
}

// acquire reports whether this instance now holds the lease for ttl.
func (l *lease) acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	if l.cache == nil {
		return true, nil
	}
	ok, err := l.cache.SetNX(ctx, l.key, l.owner, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (l *lease) release(ctx context.Context) error {
	if l.cache == nil {
		return nil
	}
	err := releaseScript.Run(ctx, l.cache, []string{l.key}, l.owner).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
