// Package chunk computes the time buckets that concurrent postpone calls
// agree on without talking to each other: every caller inside the same
// latency window derives the same bucket timestamp and the same keys.
package chunk

import (
	"fmt"
	"time"
)

const indexSuffix = "timechunks"

// Keyer derives bucket timestamps and store keys. Now is injectable so tests
// can pin the clock; a zero Keyer is not usable, construct with New.
type Keyer struct {
	prefix string
	now    func() time.Time
}

func New(prefix string, now func() time.Time) Keyer {
	if now == nil {
		now = time.Now
	}
	return Keyer{prefix: prefix, now: now}
}

// Timestamp returns the bucket timestamp for the current moment: latency
// seconds from now, truncated down to a multiple of latency. latency must be
// positive; the resolver rejects anything else before we get here.
func (k Keyer) Timestamp(latency int64) int64 {
	at := k.now().Add(time.Duration(latency) * time.Second).Unix()
	return at / latency * latency
}

// BucketKey is the payload-set key for one (type, timestamp) bucket.
func (k Keyer) BucketKey(resourceType string, ts int64) string {
	return fmt.Sprintf("%s:%s:%d", k.prefix, resourceType, ts)
}

// IndexKey is the per-type discovery index (ZSET of bucket keys by timestamp).
func (k Keyer) IndexKey(resourceType string) string {
	return fmt.Sprintf("%s:%s:%s", k.prefix, resourceType, indexSuffix)
}
