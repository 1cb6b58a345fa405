// Package adapter implements the uniform Adapter contract
// (Execute(RunSpec) -> RunHandle) for each of the four target kinds, on top
// of the shared command model and connection pool.
package adapter

import (
	"context"
	"os"

	"github.com/launchrctl/xec/pkg/command"
	"github.com/launchrctl/xec/pkg/runner"
)

// Adapter is the contract every target kind implements.
type Adapter interface {
	// Execute starts spec against target and returns a live RunHandle.
	// Execute itself never blocks for the command to finish; callers use
	// the returned Handle's Wait.
	Execute(ctx context.Context, target command.Target, spec *command.RunSpec) (*runner.Handle, error)
}

//go:generate go run go.uber.org/mock/mockgen@latest -source=adapter.go -destination=mock_adapter/mock_adapter.go

// buildStdioSinks is the piece every adapter shares: turning a RunSpec's
// stdout/stderr Routing into concrete StreamBuf sinks honoring maxBuffer.
// RouteInherit has no Writer of its own in RunSpec (command is target-
// agnostic), so it is resolved here, at the one place that knows which
// real stream each slot corresponds to, into a forward-only Sink against
// os.Stdout/os.Stderr.
func buildStdioSinks(spec *command.RunSpec) (stdout, stderr *runner.StreamBuf) {
	return runner.NewStreamBuf(resolveInherit(spec.StdoutRouting, os.Stdout), spec.MaxBuffer),
		runner.NewStreamBuf(resolveInherit(spec.StderrRouting, os.Stderr), spec.MaxBuffer)
}

func resolveInherit(r command.Routing, w *os.File) command.Routing {
	if r.Kind == command.RouteInherit {
		return command.Routing{Kind: command.RouteSink, Writer: w}
	}
	return r
}
