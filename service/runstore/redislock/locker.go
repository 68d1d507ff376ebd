// Package redislock provides a runstore.Locker backed by Redis leases so that
// several gateway processes can share one run store.
package redislock

import (
	"context"
	"fmt"
	"time"

	"github.com/aidant64/atlas/internal/idgen"
	"github.com/aidant64/atlas/service/runstore"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker acquires leases with SET NX PX.
type Locker struct {
	client goredis.UniversalClient
	prefix string
}

func New(client goredis.UniversalClient, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	leaseKey := l.prefix + ":lease:" + key
	token := idgen.New()
	ok, err := l.client.SetNX(ctx, leaseKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lease %s: %w", key, err)
	}
	if !ok {
		return nil, runstore.ErrClaimed
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{leaseKey}, token).Err()
	}, nil
}

var _ runstore.Locker = (*Locker)(nil)
