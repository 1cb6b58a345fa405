package xec

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/launchrctl/xec/pkg/command"
)

// RetryOptions configures the `.retry()` builder modifier.
type RetryOptions struct {
	Max       int           // maximum additional attempts after the first
	BaseDelay time.Duration // initial backoff interval
	Factor    float64       // backoff multiplier per attempt
	// Classes restricts retries to these error kinds. Empty means the
	// default set per §4.2: spawn, connect, command-failed.
	Classes []command.ErrorKind
}

var defaultRetryClasses = []command.ErrorKind{command.KindSpawn, command.KindConnect, command.KindCommand}

func (o RetryOptions) classes() []command.ErrorKind {
	if len(o.Classes) > 0 {
		return o.Classes
	}
	return defaultRetryClasses
}

func (o RetryOptions) retryable(err error) bool {
	var cmdErr *command.Error
	if !errors.As(err, &cmdErr) {
		return false
	}
	for _, k := range o.classes() {
		if cmdErr.Kind == k {
			return true
		}
	}
	return false
}

// runWithRetry re-dispatches spec through engine.Run on retryable errors,
// using an exponential backoff policy. Grounded on the teacher's use of
// github.com/cenkalti/backoff/v4 for connection retry in other_examples'
// reconnect helpers; here generalized from "reconnect" to "re-run".
func runWithRetry(ctx context.Context, e *Engine, target command.Target, spec *command.RunSpec, opts RetryOptions) (*command.Result, error) {
	bo := backoff.NewExponentialBackOff()
	if opts.BaseDelay > 0 {
		bo.InitialInterval = opts.BaseDelay
	}
	if opts.Factor > 0 {
		bo.Multiplier = opts.Factor
	}
	bo.MaxElapsedTime = 0 // bounded by opts.Max attempts instead of elapsed time

	maxRetries := opts.Max
	if maxRetries < 0 {
		maxRetries = 0
	}
	boCtx := backoff.WithMaxRetries(backoff.WithContext(bo, ctx), uint64(maxRetries))

	var (
		res    *command.Result
		runErr error
	)
	_ = backoff.Retry(func() error {
		res, runErr = e.Run(ctx, target, spec)
		if runErr == nil {
			return nil
		}
		if !opts.retryable(runErr) {
			return backoff.Permanent(runErr)
		}
		return runErr
	}, boCtx)

	return res, runErr
}
