package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     int
	closed int32
}

func (c *fakeConn) Close() error                      { atomic.StoreInt32(&c.closed, 1); return nil }
func (c *fakeConn) Healthy(_ context.Context) bool     { return atomic.LoadInt32(&c.closed) == 0 }
func (c *fakeConn) isClosed() bool                     { return atomic.LoadInt32(&c.closed) == 1 }

func countingFactory(calls *int32, failAfter int32) Factory {
	return func(_ context.Context) (Connection, error) {
		n := atomic.AddInt32(calls, 1)
		if failAfter > 0 && n > failAfter {
			return nil, fmt.Errorf("dial failed")
		}
		return &fakeConn{id: int(n)}, nil
	}
}

func TestAcquireReusesExistingConnection(t *testing.T) {
	p := New(Options{})
	var calls int32
	factory := countingFactory(&calls, 0)

	conn1, rel1, err := p.Acquire(context.Background(), "host-a", factory)
	require.NoError(t, err)
	rel1()

	conn2, rel2, err := p.Acquire(context.Background(), "host-a", factory)
	require.NoError(t, err)
	defer rel2()

	assert.Same(t, conn1, conn2)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestAcquireDistinctKeysDialSeparately(t *testing.T) {
	p := New(Options{})
	var calls int32
	factory := countingFactory(&calls, 0)

	_, relA, err := p.Acquire(context.Background(), "host-a", factory)
	require.NoError(t, err)
	defer relA()
	_, relB, err := p.Acquire(context.Background(), "host-b", factory)
	require.NoError(t, err)
	defer relB()

	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestAcquireConcurrentDialsAreCoalesced(t *testing.T) {
	p := New(Options{})
	var calls int32
	factory := countingFactory(&calls, 0)

	var wg sync.WaitGroup
	releases := make(chan Release, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, rel, err := p.Acquire(context.Background(), "shared", factory)
			assert.NoError(t, err)
			releases <- rel
		}()
	}
	wg.Wait()
	close(releases)
	for rel := range releases {
		rel()
	}

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestAcquireRespectsMaxPerKeyAndBlocksUntilContextDone(t *testing.T) {
	p := New(Options{MaxPerKey: 1})
	var calls int32
	factory := countingFactory(&calls, 0)

	_, rel1, err := p.Acquire(context.Background(), "k", factory)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err = p.Acquire(ctx, "k", factory)
	assert.Error(t, err, "second borrower must block until release, then time out")

	rel1()
}

func TestAcquireWaiterWokenOnRelease(t *testing.T) {
	p := New(Options{MaxPerKey: 1})
	var calls int32
	factory := countingFactory(&calls, 0)

	_, rel1, err := p.Acquire(context.Background(), "k", factory)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_, rel2, err := p.Acquire(context.Background(), "k", factory)
		assert.NoError(t, err)
		rel2()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	rel1()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter was never woken")
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "waiter reused the same connection")
}

func TestAcquirePropagatesDialError(t *testing.T) {
	p := New(Options{})
	var calls int32
	factory := countingFactory(&calls, 0)
	factory = func(ctx context.Context) (Connection, error) { return nil, fmt.Errorf("refused") }

	_, _, err := p.Acquire(context.Background(), "bad", factory)
	assert.Error(t, err)

	// A later Acquire for the same key must retry the dial, not reuse a cached failure.
	_, rel, err := p.Acquire(context.Background(), "bad", countingFactory(&calls, 0))
	require.NoError(t, err)
	rel()
}

func TestDrainClosesIdleConnections(t *testing.T) {
	p := New(Options{})
	var calls int32
	factory := countingFactory(&calls, 0)

	conn, rel, err := p.Acquire(context.Background(), "k", factory)
	require.NoError(t, err)
	rel()

	require.NoError(t, p.Drain())
	assert.True(t, conn.(*fakeConn).isClosed())

	_, _, err = p.Acquire(context.Background(), "k", factory)
	assert.Error(t, err, "pool rejects Acquire after Drain")
}

func TestIdleEvictionClosesExpiredConnection(t *testing.T) {
	p := New(Options{IdleTTL: 30 * time.Millisecond})
	var calls int32
	factory := countingFactory(&calls, 0)

	conn, rel, err := p.Acquire(context.Background(), "k", factory)
	require.NoError(t, err)
	rel()

	assert.Eventually(t, func() bool {
		return conn.(*fakeConn).isClosed()
	}, time.Second, 10*time.Millisecond)
}

func TestMetricsTrackActiveBorrowsAndReuse(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	p := New(Options{Metrics: m})
	var calls int32
	factory := countingFactory(&calls, 0)

	_, rel1, err := p.Acquire(context.Background(), "k", factory)
	require.NoError(t, err)
	_, rel2, err := p.Acquire(context.Background(), "k", factory)
	require.NoError(t, err)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ActiveBorrows.WithLabelValues("k")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReuseCount.WithLabelValues("k")))

	rel1()
	rel2()
}
