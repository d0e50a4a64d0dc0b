package postpone

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/reindexq/internal/chunk"
	"github.com/you/reindexq/internal/config"
)

// memRegistrar mirrors the store-side semantics: payloads accumulate in a
// set, the first registration per bucket wins.
type memRegistrar struct {
	mu      sync.Mutex
	buckets map[string]map[string]struct{}
	index   map[string]map[string]int64
	ttls    map[string]int64
	err     error
}

func newMemRegistrar() *memRegistrar {
	return &memRegistrar{
		buckets: make(map[string]map[string]struct{}),
		index:   make(map[string]map[string]int64),
		ttls:    make(map[string]int64),
	}
}

func (m *memRegistrar) Register(ctx context.Context, bucketKey, indexKey, payload string, bucketTS, ttl int64) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buckets[bucketKey] == nil {
		m.buckets[bucketKey] = make(map[string]struct{})
	}
	m.buckets[bucketKey][payload] = struct{}{}
	m.ttls[bucketKey] = ttl
	if m.index[indexKey] == nil {
		m.index[indexKey] = make(map[string]int64)
	}
	if _, ok := m.index[indexKey][bucketKey]; ok {
		return false, nil
	}
	m.index[indexKey][bucketKey] = bucketTS
	return true, nil
}

type dispatched struct {
	queue        string
	resourceType string
	bucketTS     int64
	margin       int64
}

type memDispatcher struct {
	mu    sync.Mutex
	calls []dispatched
	err   error
}

func (m *memDispatcher) Dispatch(ctx context.Context, queue, resourceType string, bucketTS, margin int64) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, dispatched{queue, resourceType, bucketTS, margin})
	return nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) set(sec int64, nsec int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = time.Unix(sec, nsec)
}

func newPostponer(t *testing.T, tun config.Tunables, clk *fakeClock) (*Postponer, *memRegistrar, *memDispatcher) {
	t.Helper()
	resolver, err := config.NewResolver(tun, nil)
	require.NoError(t, err)
	reg := newMemRegistrar()
	disp := &memDispatcher{}
	p := New(resolver, chunk.New("reindex", clk.now), reg, disp, nil)
	return p, reg, disp
}

func TestPostponeEndToEndScenario(t *testing.T) {
	clk := &fakeClock{}
	p, reg, disp := newPostponer(t, config.Tunables{Latency: 2, Margin: 2, TTL: 86400, Queue: "chewy"}, clk)
	ctx := context.Background()

	clk.set(1000, 200_000_000)
	require.NoError(t, p.Postpone(ctx, Request{Type: "TypeA", IDs: []string{"1"}}))
	clk.set(1000, 600_000_000)
	require.NoError(t, p.Postpone(ctx, Request{Type: "TypeA", IDs: []string{"2"}}))
	clk.set(1002, 400_000_000)
	require.NoError(t, p.Postpone(ctx, Request{Type: "TypeA", IDs: []string{"3"}}))

	// first two calls share bucket 1002, the third opens 1004
	first := reg.buckets["reindex:TypeA:1002"]
	assert.Contains(t, first, "1;all")
	assert.Contains(t, first, "2;all")
	assert.Len(t, first, 2)
	assert.Contains(t, reg.buckets["reindex:TypeA:1004"], "3;all")

	require.Len(t, disp.calls, 2)
	assert.Equal(t, dispatched{"chewy", "TypeA", 1002, 2}, disp.calls[0])
	assert.Equal(t, dispatched{"chewy", "TypeA", 1004, 2}, disp.calls[1])
}

func TestPostponeConcurrentCallersDispatchOnce(t *testing.T) {
	clk := &fakeClock{}
	clk.set(1000, 0)
	p, reg, disp := newPostponer(t, config.Tunables{Latency: 10, Margin: 2, TTL: 600, Queue: "chewy"}, clk)
	ctx := context.Background()

	const callers = 32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := p.Postpone(ctx, Request{Type: "users", IDs: []string{string(rune('a' + i))}}); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, disp.calls, 1, "one job per bucket no matter how many producers")
	assert.Len(t, reg.buckets["reindex:users:1010"], callers)
}

func TestPostponeEmptyIDsIsNoop(t *testing.T) {
	clk := &fakeClock{}
	clk.set(1000, 0)
	p, reg, disp := newPostponer(t, config.Tunables{Latency: 10, Margin: 2, TTL: 600, Queue: "chewy"}, clk)

	require.NoError(t, p.Postpone(context.Background(), Request{Type: "users"}))
	assert.Empty(t, reg.buckets)
	assert.Empty(t, disp.calls)
}

func TestPostponeUsesTypeOverrides(t *testing.T) {
	clk := &fakeClock{}
	clk.set(1000, 0)
	lat, queue := int64(5), "urgent"
	resolver, err := config.NewResolver(
		config.Tunables{Latency: 10, Margin: 2, TTL: 600, Queue: "chewy"},
		map[string]config.Override{"users": {Latency: &lat, Queue: &queue}},
	)
	require.NoError(t, err)
	reg := newMemRegistrar()
	disp := &memDispatcher{}
	p := New(resolver, chunk.New("reindex", clk.now), reg, disp, nil)

	require.NoError(t, p.Postpone(context.Background(), Request{Type: "users", IDs: []string{"1"}}))

	// 1000 + 5 = 1005, truncated to the 5s grid
	assert.Contains(t, reg.buckets, "reindex:users:1005")
	require.Len(t, disp.calls, 1)
	assert.Equal(t, "urgent", disp.calls[0].queue)
	assert.Equal(t, int64(1005), disp.calls[0].bucketTS)
}

func TestPostponeStoreErrorPropagates(t *testing.T) {
	clk := &fakeClock{}
	clk.set(1000, 0)
	p, reg, disp := newPostponer(t, config.Tunables{Latency: 10, Margin: 2, TTL: 600, Queue: "chewy"}, clk)
	reg.err = assert.AnError

	err := p.Postpone(context.Background(), Request{Type: "users", IDs: []string{"1"}})
	assert.Error(t, err)
	assert.Empty(t, disp.calls)
}

func TestPostponeQueueErrorPropagates(t *testing.T) {
	clk := &fakeClock{}
	clk.set(1000, 0)
	p, _, disp := newPostponer(t, config.Tunables{Latency: 10, Margin: 2, TTL: 600, Queue: "chewy"}, clk)
	disp.err = assert.AnError

	err := p.Postpone(context.Background(), Request{Type: "users", IDs: []string{"1"}})
	assert.Error(t, err)
}
