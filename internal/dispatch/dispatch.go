// Package dispatch submits one deferred job per freshly registered bucket to
// the delayed queue: a ZSET scored by execute-at, the same shape the rest of
// the queue infrastructure drains.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
)

const delayPrefix = "delay:"

type zadder interface {
	ZAdd(ctx context.Context, key string, members ...r.Z) *r.IntCmd
}

type Dispatcher struct {
	rdb zadder
	now func() time.Time
}

func New(rdb zadder, now func() time.Time) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{rdb: rdb, now: now}
}

// Dispatch schedules the drain job for one bucket at bucketTS+margin.
// Fire-and-forget: no read-back, retries belong to the queue.
func (d *Dispatcher) Dispatch(ctx context.Context, queue, resourceType string, bucketTS, margin int64) error {
	at := bucketTS + margin
	j := Job{
		JID:        uuid.NewString(),
		Queue:      queue,
		Class:      HandlerID,
		At:         at,
		Args:       []interface{}{resourceType, bucketTS},
		EnqueuedAt: d.now().Unix(),
	}
	raw, err := json.Marshal(j)
	if err != nil {
		return errors.Wrap(err, "dispatch: marshal job")
	}
	err = d.rdb.ZAdd(ctx, delayPrefix+queue, r.Z{Score: float64(at), Member: raw}).Err()
	return errors.Wrapf(err, "dispatch: enqueue %s/%d", resourceType, bucketTS)
}

// DelayKey is the delayed-queue ZSET for a queue name; the worker scans it.
func DelayKey(queue string) string { return delayPrefix + queue }
