// Package postpone coalesces reindex notifications. Every call lands in the
// time bucket its resource type and the current clock agree on; the single
// caller whose registration turns out to be new schedules the bucket's one
// drain job.
package postpone

import (
	"context"

	"go.uber.org/zap"

	"github.com/you/reindexq/internal/chunk"
	"github.com/you/reindexq/internal/config"
	"github.com/you/reindexq/internal/payload"
)

// Request is one reindex notification. It lives only for the duration of the
// call. Ids and field names must not contain ',' or ';'.
type Request struct {
	Type         string
	IDs          []string
	UpdateFields []string
}

// Registrar is the atomic merge-and-register step against the store.
type Registrar interface {
	Register(ctx context.Context, bucketKey, indexKey, payload string, bucketTS, ttl int64) (bool, error)
}

// Dispatcher submits the deferred drain job for a newly registered bucket.
type Dispatcher interface {
	Dispatch(ctx context.Context, queue, resourceType string, bucketTS, margin int64) error
}

type Postponer struct {
	resolver   *config.Resolver
	keyer      chunk.Keyer
	registrar  Registrar
	dispatcher Dispatcher
	log        *zap.Logger
}

func New(resolver *config.Resolver, keyer chunk.Keyer, reg Registrar, disp Dispatcher, log *zap.Logger) *Postponer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Postponer{resolver: resolver, keyer: keyer, registrar: reg, dispatcher: disp, log: log}
}

// Postpone merges the request into its bucket and, when this call registered
// the bucket, schedules its drain job. Store and queue errors propagate to
// the caller untouched; there is no retry here.
func (p *Postponer) Postpone(ctx context.Context, req Request) error {
	if len(req.IDs) == 0 {
		return nil
	}
	tun := p.resolver.Resolve(req.Type)

	ts := p.keyer.Timestamp(tun.Latency)
	bucketKey := p.keyer.BucketKey(req.Type, ts)
	indexKey := p.keyer.IndexKey(req.Type)
	enc := payload.Encode(req.IDs, req.UpdateFields)

	fresh, err := p.registrar.Register(ctx, bucketKey, indexKey, enc, ts, tun.TTL)
	if err != nil {
		return err
	}
	p.log.Debug("merged into bucket",
		zap.String("type", req.Type),
		zap.Int64("bucket_ts", ts),
		zap.Int("ids", len(req.IDs)),
		zap.Bool("registered", fresh),
	)
	if !fresh {
		return nil
	}
	return p.dispatcher.Dispatch(ctx, tun.Queue, req.Type, ts, tun.Margin)
}
