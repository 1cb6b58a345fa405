package xec

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/launchrctl/xec/pkg/command"
)

// ParallelRunner holds the All/AllSettled/Map/Settled primitives from §4.5.
// It needs no state of its own — every primitive is a free function bound
// only by a concurrency cap — but is kept as a named type so call sites read
// `xec.Parallel.Map(...)` rather than a bare package function, mirroring the
// teacher's grouping of related helpers under one exported value
// (`core/builder.Builder`-style namespacing).
type ParallelRunner struct{}

// Parallel is the package-level ParallelRunner instance; its methods are
// pure and safe for concurrent use.
var Parallel ParallelRunner

// Outcome is one builder's result in an AllSettled/Settled call.
type Outcome struct {
	Result *command.Result
	Err    error
}

// Ok reports whether this outcome succeeded.
func (o Outcome) Ok() bool { return o.Err == nil }

// All runs every promise concurrently (bounded by concurrency, 0 meaning
// unbounded) and fails fast: the first error cancels the rest, and All
// returns it once every started promise has stopped. Grounded on the
// teacher's use of golang.org/x/sync/semaphore fan-out in its build-parallel
// commands, adapted here from "build N images" to "await N promises".
func (ParallelRunner) All(ctx context.Context, concurrency int, promises ...*ProcessPromise) ([]*command.Result, error) {
	results := make([]*command.Result, len(promises))
	sem := newSemaphore(concurrency)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	done := make(chan struct{})
	remaining := int32(len(promises))
	if remaining == 0 {
		return results, nil
	}

	for i, p := range promises {
		i, p := i, p
		go func() {
			if err := sem.Acquire(runCtx, 1); err != nil {
				reportDone(&remaining, done)
				return
			}
			defer sem.Release(1)

			res, err := p.Await(runCtx)
			results[i] = res
			if err != nil {
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
			reportDone(&remaining, done)
		}()
	}

	<-done
	select {
	case err := <-errCh:
		return results, err
	default:
		return results, nil
	}
}

// AllSettled runs every promise concurrently and returns every outcome,
// success or failure, in positional order.
func (ParallelRunner) AllSettled(ctx context.Context, concurrency int, promises ...*ProcessPromise) []Outcome {
	outcomes := make([]Outcome, len(promises))
	sem := newSemaphore(concurrency)

	done := make(chan struct{})
	remaining := int32(len(promises))
	if remaining == 0 {
		return outcomes
	}

	for i, p := range promises {
		i, p := i, p
		go func() {
			if err := sem.Acquire(ctx, 1); err != nil {
				outcomes[i] = Outcome{Err: err}
				reportDone(&remaining, done)
				return
			}
			defer sem.Release(1)

			res, err := p.Await(ctx)
			outcomes[i] = Outcome{Result: res, Err: err}
			reportDone(&remaining, done)
		}()
	}

	<-done
	return outcomes
}

// Settled groups AllSettled's outcomes into succeeded/failed slices,
// preserving each group's relative order.
func (r ParallelRunner) Settled(ctx context.Context, concurrency int, promises ...*ProcessPromise) (succeeded, failed []Outcome) {
	for _, o := range r.AllSettled(ctx, concurrency, promises...) {
		if o.Ok() {
			succeeded = append(succeeded, o)
		} else {
			failed = append(failed, o)
		}
	}
	return succeeded, failed
}

// MapFunc produces one ProcessPromise for an input item.
type MapFunc func(item interface{}) *ProcessPromise

// Map runs fn(item) for every item with bounded concurrency, preserving
// input order in the returned results. The first error cancels outstanding
// work and is returned, matching All's fail-fast semantics.
func (r ParallelRunner) Map(ctx context.Context, items []interface{}, fn MapFunc, concurrency int) ([]*command.Result, error) {
	promises := make([]*ProcessPromise, len(items))
	for i, item := range items {
		promises[i] = fn(item)
	}
	return r.All(ctx, concurrency, promises...)
}

func newSemaphore(concurrency int) *semaphore.Weighted {
	if concurrency <= 0 {
		concurrency = 1 << 20 // effectively unbounded
	}
	return semaphore.NewWeighted(int64(concurrency))
}

func reportDone(remaining *int32, done chan struct{}) {
	if atomic.AddInt32(remaining, -1) == 0 {
		close(done)
	}
}
