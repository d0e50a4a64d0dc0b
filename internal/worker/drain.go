// Package worker drains due time buckets: everything the discovery index
// lists at or before a job's bucket timestamp is emptied, decoded, unioned
// and handed to the reindexer in one batch.
package worker

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/reindexq/internal/chunk"
	"github.com/you/reindexq/internal/payload"
)

// Reindexer performs the actual reindex for a drained batch. A nil fields
// slice means the whole document.
type Reindexer interface {
	Reindex(ctx context.Context, resourceType string, ids, fields []string) error
}

type store interface {
	ZRangeByScore(ctx context.Context, key string, opt *r.ZRangeBy) *r.StringSliceCmd
	SMembers(ctx context.Context, key string) *r.StringSliceCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *r.IntCmd
	Del(ctx context.Context, keys ...string) *r.IntCmd
}

type Drainer struct {
	rdb       store
	keyer     chunk.Keyer
	reindexer Reindexer
	log       *zap.Logger
}

func NewDrainer(rdb store, keyer chunk.Keyer, rix Reindexer, log *zap.Logger) *Drainer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Drainer{rdb: rdb, keyer: keyer, reindexer: rix, log: log}
}

// Drain processes every bucket of resourceType due at or before upTo. Buckets
// are deleted from the store as they are read; duplicate or stale job runs
// then simply find nothing. Payload merging is set-shaped on the store side,
// so the union here recovers exactly the ids the producers sent.
func (d *Drainer) Drain(ctx context.Context, resourceType string, upTo int64) error {
	indexKey := d.keyer.IndexKey(resourceType)
	bucketKeys, err := d.rdb.ZRangeByScore(ctx, indexKey, &r.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", upTo),
	}).Result()
	if err != nil {
		return errors.Wrapf(err, "worker: scan %s", indexKey)
	}
	if len(bucketKeys) == 0 {
		return nil
	}

	idSet := make(map[string]struct{})
	fieldSet := make(map[string]struct{})
	all := false
	for _, bucketKey := range bucketKeys {
		members, err := d.rdb.SMembers(ctx, bucketKey).Result()
		if err != nil {
			return errors.Wrapf(err, "worker: read %s", bucketKey)
		}
		if err := d.rdb.Del(ctx, bucketKey).Err(); err != nil {
			return errors.Wrapf(err, "worker: delete %s", bucketKey)
		}
		if err := d.rdb.ZRem(ctx, indexKey, bucketKey).Err(); err != nil {
			return errors.Wrapf(err, "worker: unregister %s", bucketKey)
		}
		for _, m := range members {
			ids, fields, err := payload.Decode(m)
			if err != nil {
				d.log.Warn("skipping malformed payload", zap.String("bucket", bucketKey), zap.Error(err))
				continue
			}
			for _, id := range ids {
				idSet[id] = struct{}{}
			}
			for _, f := range fields {
				if f == payload.AllFields {
					all = true
					continue
				}
				fieldSet[f] = struct{}{}
			}
		}
	}
	if len(idSet) == 0 {
		return nil
	}

	ids := sortedKeys(idSet)
	var fields []string
	if !all {
		fields = sortedKeys(fieldSet)
	}
	d.log.Info("draining buckets",
		zap.String("type", resourceType),
		zap.Int("buckets", len(bucketKeys)),
		zap.Int("ids", len(ids)),
	)
	return d.reindexer.Reindex(ctx, resourceType, ids, fields)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
