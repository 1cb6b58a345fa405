// Package pool implements the target-agnostic connection pool shared by all
// adapters. A Connection is always multi-tenant: SSH multiplexes independent
// channels over one transport, Docker and Kubernetes clients are safe for
// concurrent use, so Acquire hands out reference-counted borrows rather than
// exclusive checkouts. Per-key concurrency and total pool size are capped;
// callers beyond the cap queue FIFO until a release or the context is done.
package pool

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/launchrctl/xec/pkg/command"
)

// Connection is anything a pool can hold a reference to: an SSH transport, a
// Docker client bound to one daemon, or a Kubernetes clientset bound to one
// context. Implementations must tolerate concurrent use by multiple borrowers.
type Connection interface {
	// Close tears down the underlying transport. Called once, only when the
	// last borrower has released and the connection is evicted or the pool
	// is drained.
	Close() error
	// Healthy runs a cheap liveness probe (SSH keepalive, Docker /_ping,
	// Kubernetes discovery hit). A false result causes the pool to discard
	// the connection instead of handing it out again.
	Healthy(ctx context.Context) bool
}

// Factory dials a fresh Connection for the key passed to Acquire. Adapters
// supply their own factory closures; the pool never constructs connections
// itself, which is how one pool type serves SSH, Docker, and Kubernetes alike.
type Factory func(ctx context.Context) (Connection, error)

// Release returns a borrowed reference to the pool. Calling it more than
// once is a no-op after the first call.
type Release func()

// Options configures a Pool at construction time.
type Options struct {
	// MaxPerKey caps concurrent borrows of a single key (e.g. SSH channels
	// sharing one transport). Zero means unlimited.
	MaxPerKey int
	// MaxTotal caps concurrent borrows across all keys combined. Zero means
	// unlimited.
	MaxTotal int
	// IdleTTL is how long an unborrowed connection is kept before it is
	// closed. Zero disables idle eviction.
	IdleTTL time.Duration
	// AcquireTimeout bounds how long Acquire waits for a free slot when the
	// caller's context carries no deadline; on expiry Acquire fails with a
	// KindPoolExhausted error. Zero means wait indefinitely (subject to
	// ctx.Done()).
	AcquireTimeout time.Duration
	Metrics        *Metrics
}

// Pool hands out reference-counted Connections keyed by an opaque string
// (Target.PoolKey()).
type Pool struct {
	opts Options
	sf   singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
	total   int
	closed  bool

	idle *gocache.Cache // key -> Connection released idle, evicts via callback
}

type entry struct {
	key     string
	conn    Connection
	borrows int
	waiters *list.List // of chan acquireResult
}

type acquireResult struct {
	conn Connection
	err  error
}

// New builds a Pool. Pass a zero Options for an unbounded pool with no idle
// eviction.
func New(opts Options) *Pool {
	p := &Pool{
		opts:    opts,
		entries: make(map[string]*entry),
	}
	if opts.IdleTTL > 0 {
		p.idle = gocache.New(opts.IdleTTL, opts.IdleTTL/2)
		p.idle.OnEvicted(p.onIdleEvicted)
	}
	return p
}

// Acquire borrows a Connection for key, dialing one via factory if none
// exists yet or the cached one fails its health check. Concurrent Acquire
// calls for a key with no existing connection are coalesced into a single
// dial. The returned Release must be called exactly once when the caller is
// done with the connection.
func (p *Pool) Acquire(ctx context.Context, key string, factory Factory) (Connection, Release, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, nil, fmt.Errorf("pool: closed")
		}
		e, ok := p.entries[key]
		if !ok {
			e = &entry{key: key, waiters: list.New()}
			p.entries[key] = e
		}
		if p.idle != nil {
			p.idle.Delete(key)
		}

		switch {
		case e.conn == nil:
			// First borrower of this key dials; others pile onto singleflight below.
			p.mu.Unlock()
			return p.dialAndBorrow(ctx, e, factory)

		case e.borrows == 0:
			// Nobody else is using this connection right now (it was idle or
			// just resurfaced from eviction limbo) — worth a cheap liveness
			// probe before handing it out again, since the remote end may
			// have dropped it without the pool noticing.
			conn := e.conn
			p.mu.Unlock()
			if conn.Healthy(ctx) {
				p.mu.Lock()
				if e.conn == conn && p.withinLimits(e) {
					e.borrows++
					p.total++
					p.mu.Unlock()
					p.observeBorrow(key, e)
					if p.opts.Metrics != nil {
						p.opts.Metrics.ReuseCount.WithLabelValues(key).Inc()
					}
					return e.conn, p.releaseFn(key, e), nil
				}
				p.mu.Unlock()
				continue
			}
			p.mu.Lock()
			if e.conn == conn {
				e.conn = nil
			}
			p.mu.Unlock()
			_ = conn.Close()
			if p.opts.Metrics != nil {
				p.opts.Metrics.ConnectionsDestroyed.WithLabelValues(key).Inc()
			}
			continue

		case p.withinLimits(e):
			e.borrows++
			p.total++
			p.mu.Unlock()
			p.observeBorrow(key, e)
			return e.conn, p.releaseFn(key, e), nil

		default:
			// At capacity: queue FIFO and wait for a release or ctx.
			ch := make(chan acquireResult, 1)
			elem := e.waiters.PushBack(ch)
			p.mu.Unlock()

			var timeoutC <-chan time.Time
			if _, hasDeadline := ctx.Deadline(); !hasDeadline && p.opts.AcquireTimeout > 0 {
				timer := time.NewTimer(p.opts.AcquireTimeout)
				defer timer.Stop()
				timeoutC = timer.C
			}

			select {
			case res := <-ch:
				if res.err != nil {
					return nil, nil, res.err
				}
				if p.opts.Metrics != nil {
					p.opts.Metrics.ActiveBorrows.WithLabelValues(key).Inc()
					p.opts.Metrics.ReuseCount.WithLabelValues(key).Inc()
				}
				return res.conn, p.releaseFn(key, e), nil
			case <-ctx.Done():
				p.mu.Lock()
				e.waiters.Remove(elem)
				p.mu.Unlock()
				return nil, nil, fmt.Errorf("pool: acquire %s: %w", key, ctx.Err())
			case <-timeoutC:
				p.mu.Lock()
				e.waiters.Remove(elem)
				p.mu.Unlock()
				return nil, nil, command.NewError(command.KindPoolExhausted, nil, "",
					fmt.Errorf("pool: acquire %s: no free slot within %s", key, p.opts.AcquireTimeout))
			}
		}
	}
}

func (p *Pool) withinLimits(e *entry) bool {
	if p.opts.MaxPerKey > 0 && e.borrows >= p.opts.MaxPerKey {
		return false
	}
	if p.opts.MaxTotal > 0 && p.total >= p.opts.MaxTotal {
		return false
	}
	return true
}

// dialAndBorrow dials (deduped via singleflight) and returns the first
// borrow, waking any FIFO waiters that queued while the dial was in flight.
func (p *Pool) dialAndBorrow(ctx context.Context, e *entry, factory Factory) (Connection, Release, error) {
	key := e.key
	v, err, _ := p.sf.Do(key, func() (interface{}, error) {
		conn, err := factory(ctx)
		if err != nil {
			if p.opts.Metrics != nil {
				p.opts.Metrics.ConnectFailures.WithLabelValues(key).Inc()
			}
			return nil, err
		}
		if p.opts.Metrics != nil {
			p.opts.Metrics.ConnectionsCreated.WithLabelValues(key).Inc()
		}
		return conn, nil
	})

	p.mu.Lock()
	cur := p.entries[key]
	if err != nil {
		// Dial failed: wake any waiters with the error, drop the entry.
		p.failWaiters(cur, err)
		delete(p.entries, key)
		p.mu.Unlock()
		return nil, nil, err
	}
	conn := v.(Connection)
	if cur.conn == nil {
		cur.conn = conn
	}
	cur.borrows++
	p.total++
	p.wakeWaiters(cur)
	p.mu.Unlock()
	p.observeBorrow(key, cur)
	return cur.conn, p.releaseFn(key, cur), nil
}

// wakeWaiters hands the now-available connection to queued waiters up to
// whatever headroom withinLimits allows. Caller holds p.mu.
func (p *Pool) wakeWaiters(e *entry) {
	for e.waiters.Len() > 0 && p.withinLimits(e) {
		front := e.waiters.Front()
		e.waiters.Remove(front)
		ch := front.Value.(chan acquireResult)
		e.borrows++
		p.total++
		ch <- acquireResult{conn: e.conn}
	}
}

func (p *Pool) failWaiters(e *entry, err error) {
	if e == nil {
		return
	}
	for e.waiters.Len() > 0 {
		front := e.waiters.Front()
		e.waiters.Remove(front)
		front.Value.(chan acquireResult) <- acquireResult{err: err}
	}
}

func (p *Pool) releaseFn(key string, e *entry) Release {
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			e.borrows--
			p.total--
			if p.opts.Metrics != nil {
				p.opts.Metrics.ActiveBorrows.WithLabelValues(key).Dec()
			}
			if e.borrows < 0 {
				e.borrows = 0
			}
			p.wakeWaiters(e)
			idle := e.borrows == 0
			conn := e.conn
			drained := idle && p.closed && p.entries[key] == e
			if drained {
				delete(p.entries, key)
			}
			p.mu.Unlock()

			if drained {
				if conn != nil {
					_ = conn.Close()
					if p.opts.Metrics != nil {
						p.opts.Metrics.ConnectionsDestroyed.WithLabelValues(key).Inc()
					}
				}
				return
			}
			if idle {
				if p.opts.Metrics != nil {
					p.opts.Metrics.Idle.WithLabelValues(key).Inc()
				}
				if p.idle != nil {
					p.idle.SetDefault(key, conn)
				}
			}
		})
	}
}

func (p *Pool) observeBorrow(key string, e *entry) {
	if p.opts.Metrics == nil {
		return
	}
	p.opts.Metrics.ActiveBorrows.WithLabelValues(key).Inc()
	if e.borrows > 1 {
		p.opts.Metrics.ReuseCount.WithLabelValues(key).Inc()
	}
}

// onIdleEvicted closes a connection whose idle TTL expired, but only if it is
// still genuinely idle (a racing Acquire may have already borrowed it again
// and cleared the go-cache entry, in which case this is a stale callback).
func (p *Pool) onIdleEvicted(key string, _ interface{}) {
	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok || e.borrows > 0 || e.conn == nil {
		p.mu.Unlock()
		return
	}
	conn := e.conn
	delete(p.entries, key)
	p.mu.Unlock()

	_ = conn.Close()
	if p.opts.Metrics != nil {
		p.opts.Metrics.ConnectionsDestroyed.WithLabelValues(key).Inc()
		p.opts.Metrics.Idle.WithLabelValues(key).Dec()
	}
}

// Drain closes every idle connection immediately and prevents further
// Acquire calls from succeeding. Borrowed connections are closed as their
// last Release fires after Drain was called.
func (p *Pool) Drain() error {
	p.mu.Lock()
	p.closed = true
	var toClose []Connection
	for key, e := range p.entries {
		if e.borrows == 0 && e.conn != nil {
			toClose = append(toClose, e.conn)
			delete(p.entries, key)
		}
	}
	p.mu.Unlock()

	var firstErr error
	for _, c := range toClose {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.idle != nil {
		p.idle.Flush()
	}
	return firstErr
}

// Stats is a point-in-time snapshot, mainly useful in tests.
type Stats struct {
	Keys    int
	Total   int
	PerKey  map[string]int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Keys: len(p.entries), Total: p.total, PerKey: make(map[string]int, len(p.entries))}
	for k, e := range p.entries {
		s.PerKey[k] = e.borrows
	}
	return s
}
