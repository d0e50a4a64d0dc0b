package chunk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixed(sec int64, nsec int64) func() time.Time {
	return func() time.Time { return time.Unix(sec, nsec) }
}

func TestTimestampDeterministicWithinWindow(t *testing.T) {
	a := New("reindex", fixed(1000, 200_000_000)) // t=1000.2
	b := New("reindex", fixed(1000, 600_000_000)) // t=1000.6, same 2s window

	assert.Equal(t, int64(1002), a.Timestamp(2))
	assert.Equal(t, int64(1002), b.Timestamp(2))
}

func TestTimestampStraddlesBoundary(t *testing.T) {
	before := New("reindex", fixed(1000, 600_000_000)) // t=1000.6
	after := New("reindex", fixed(1002, 400_000_000))  // t=1002.4

	assert.Equal(t, int64(1002), before.Timestamp(2))
	assert.Equal(t, int64(1004), after.Timestamp(2))
}

func TestTimestampDefaultLatency(t *testing.T) {
	k := New("reindex", fixed(1000, 100_000_000))
	// 1000.1 + 10 = 1010.1, truncated to the 10s grid.
	assert.Equal(t, int64(1010), k.Timestamp(10))

	k = New("reindex", fixed(1009, 900_000_000))
	// 1009.9 + 10 = 1019.9, still the same grid slot.
	assert.Equal(t, int64(1010), k.Timestamp(10))
}

func TestKeys(t *testing.T) {
	k := New("reindex", fixed(1000, 0))
	assert.Equal(t, "reindex:users:1002", k.BucketKey("users", 1002))
	assert.Equal(t, "reindex:users:timechunks", k.IndexKey("users"))
}

func TestNilClockFallsBackToWallClock(t *testing.T) {
	k := New("reindex", nil)
	ts := k.Timestamp(10)
	assert.Zero(t, ts%10)
	assert.Greater(t, ts, time.Now().Unix())
}
