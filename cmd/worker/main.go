package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/reindexq/internal/chunk"
	"github.com/you/reindexq/internal/config"
	"github.com/you/reindexq/internal/dispatch"
	"github.com/you/reindexq/internal/reindex"
	"github.com/you/reindexq/internal/worker"
)

const popBatch = 100

func main() {
	cfg := config.Load()
	log, err := newLogger(cfg.AppEnv)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()
	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer db.Close()

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	drainer := worker.NewDrainer(rdb, chunk.New(cfg.KeyPrefix, nil), reindex.NewPg(db, log), log)
	delayKey := dispatch.DelayKey(cfg.QueueName)

	log.Info("worker started", zap.String("queue", cfg.QueueName))
	tick := time.NewTicker(1000 * time.Millisecond)
	defer tick.Stop()

	for range tick.C {
		if err := runDue(ctx, rdb, drainer, delayKey, log); err != nil {
			log.Error("tick failed", zap.Error(err))
		}
	}
}

// runDue pops job envelopes whose execute-at has passed and drains their
// buckets. An envelope is removed only after a successful drain, so failures
// are retried on a later tick (at-least-once; the drain itself tolerates
// reruns because consumed buckets are gone).
func runDue(ctx context.Context, rdb *r.Client, drainer *worker.Drainer, delayKey string, log *zap.Logger) error {
	now := time.Now().UTC().Unix()
	raws, err := rdb.ZRangeByScore(ctx, delayKey, &r.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now), Offset: 0, Count: popBatch,
	}).Result()
	if err != nil || len(raws) == 0 {
		return err
	}

	for _, raw := range raws {
		resourceType, bucketTS, err := decodeJob(raw)
		if err != nil {
			log.Warn("dropping undecodable job", zap.Error(err))
			_ = rdb.ZRem(ctx, delayKey, raw).Err()
			continue
		}
		if err := drainer.Drain(ctx, resourceType, bucketTS); err != nil {
			log.Error("drain failed", zap.String("type", resourceType), zap.Int64("bucket_ts", bucketTS), zap.Error(err))
			continue
		}
		if err := rdb.ZRem(ctx, delayKey, raw).Err(); err != nil {
			return err
		}
	}
	return nil
}

func decodeJob(raw string) (string, int64, error) {
	var j dispatch.Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return "", 0, err
	}
	if j.Class != dispatch.HandlerID {
		return "", 0, fmt.Errorf("unknown handler %q", j.Class)
	}
	if len(j.Args) != 2 {
		return "", 0, fmt.Errorf("want 2 args, got %d", len(j.Args))
	}
	resourceType, ok := j.Args[0].(string)
	if !ok {
		return "", 0, fmt.Errorf("bad resource type arg %v", j.Args[0])
	}
	ts, ok := j.Args[1].(float64)
	if !ok {
		return "", 0, fmt.Errorf("bad timestamp arg %v", j.Args[1])
	}
	return resourceType, int64(ts), nil
}

func newLogger(appEnv string) (*zap.Logger, error) {
	if appEnv == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
