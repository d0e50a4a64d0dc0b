// Package registrar implements the atomic merge-and-register step. The whole
// sequence runs as one server-side Lua script because it touches two keys:
// the bucket's payload set and the per-type discovery index. Any client-side
// interleaving between "is the bucket registered" and "register it" would let
// two producers both schedule a job for the same bucket.
package registrar

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// KEYS[1] = bucket key, KEYS[2] = index key
// ARGV[1] = serialized payload, ARGV[2] = bucket timestamp, ARGV[3] = ttl sec
//
// The SADD is unconditional: duplicate payloads collapse under set semantics,
// so the only result that has to be exact is whether the ZADD NX inserted.
var register = redis.NewScript(`
redis.call('SADD', KEYS[1], ARGV[1])
redis.call('EXPIRE', KEYS[1], ARGV[3])
local added = redis.call('ZADD', KEYS[2], 'NX', ARGV[2], KEYS[1])
if added == 1 then
  redis.call('EXPIRE', KEYS[2], ARGV[3])
end
return added
`)

type Registrar struct {
	rdb redis.Scripter
}

func New(rdb redis.Scripter) *Registrar { return &Registrar{rdb: rdb} }

// Register merges payload into the bucket's set, refreshes both TTLs, and
// inserts the bucket into the discovery index if absent. Returns true only
// for the invocation that performed the insert; that caller owns dispatching
// the bucket's one job.
func (r *Registrar) Register(ctx context.Context, bucketKey, indexKey, payload string, bucketTS, ttl int64) (bool, error) {
	added, err := register.Run(ctx, r.rdb, []string{bucketKey, indexKey}, payload, bucketTS, ttl).Int64()
	if err != nil {
		return false, errors.Wrapf(err, "registrar: register %s", bucketKey)
	}
	return added == 1, nil
}
