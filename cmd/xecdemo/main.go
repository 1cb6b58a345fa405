// Package executes a small demonstration of the engine: a local run, a
// parallel fan-out, and event-bus logging wired through the console logger.
// It takes no subcommands and parses no flags; it exists to exercise the
// public surface of pkg/xec end to end.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/launchrctl/xec/internal/xec"
	"github.com/launchrctl/xec/pkg/pool"
	xecpkg "github.com/launchrctl/xec/pkg/xec"
)

func main() {
	xec.SetLogger(xec.NewConsoleLogger(os.Stdout))
	log := xec.Log()

	engine := xecpkg.New(xecpkg.Options{
		Pool: pool.Options{
			MaxPerKey: 4,
			IdleTTL:   30 * time.Second,
			Metrics:   pool.NewMetrics(nil),
		},
	})
	defer engine.Pool().Drain() //nolint:errcheck // best-effort on process exit

	engine.Bus().Subscribe(func(ev xecpkg.Event) {
		switch ev.Kind {
		case xecpkg.EventStart:
			log.Debug("run started", "target", ev.Target, "command", ev.Command)
		case xecpkg.EventEnd:
			log.Info("run finished", "target", ev.Target, "exitCode", ev.Result.ExitCode, "duration", ev.Result.Duration)
		case xecpkg.EventError:
			log.Error("run failed", "target", ev.Target, "error", ev.Err)
		}
	})

	ctx := context.Background()

	res, err := engine.Local().Shellf("echo hello from %s", "xec").Await(ctx)
	if err != nil {
		log.Error("local run failed", "error", err)
		os.Exit(1)
	}
	fmt.Print(res.StdoutString())

	items := make([]interface{}, 5)
	for i := range items {
		items[i] = i
	}
	results, err := xecpkg.Parallel.Map(ctx, items, func(item interface{}) *xecpkg.ProcessPromise {
		return engine.Local().Shellf("echo item-%s", fmt.Sprint(item))
	}, 3)
	if err != nil {
		log.Error("parallel map failed", "error", err)
		os.Exit(1)
	}
	for _, r := range results {
		fmt.Print(r.StdoutString())
	}
}
