package xec

import (
	"context"
	"fmt"
	"os"
	gosignal "os/signal"
	"strings"

	"github.com/moby/sys/signal"
)

// HandleSignals forwards OS signals received on sigc to killFn, translating
// them to the signal name table the adapters understand, until ctx is done
// or sigc is closed.
func HandleSignals(ctx context.Context, sigc <-chan os.Signal, killFn func(s os.Signal, name string) error) {
	for {
		var (
			s  os.Signal
			ok bool
		)
		select {
		case s, ok = <-sigc:
			if !ok {
				return
			}
		case <-ctx.Done():
			return
		}

		if s == signal.SIGCHLD || s == signal.SIGPIPE {
			continue
		}
		// Go's runtime issues SIGURG as a preemption signal on Linux; never forward it.
		if isRuntimeSig(s) {
			continue
		}

		name := signalName(s)
		if name == "" {
			continue
		}
		if err := killFn(s, name); err != nil {
			Log().Debug("error sending signal", "error", err, "signal", name)
		}
	}
}

func signalName(s os.Signal) string {
	for name, n := range signal.SignalMap {
		if n == s {
			return name
		}
	}
	return ""
}

// SignalFromName resolves a RunSpec.KillSignal-style name ("TERM", "SIGTERM",
// "KILL", case-insensitive) to an os.Signal via the same table signalName
// reads from.
func SignalFromName(name string) (os.Signal, error) {
	key := strings.ToUpper(strings.TrimPrefix(strings.ToUpper(name), "SIG"))
	if s, ok := signal.SignalMap[key]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("xec: unknown signal %q", name)
}

// NotifySignals starts watching the given OS signals.
func NotifySignals(sig ...os.Signal) chan os.Signal {
	sigc := make(chan os.Signal, 128)
	gosignal.Notify(sigc, sig...)
	return sigc
}

// StopCatchSignals stops watching signals and closes sigc.
func StopCatchSignals(sigc chan os.Signal) {
	gosignal.Stop(sigc)
	close(sigc)
}
