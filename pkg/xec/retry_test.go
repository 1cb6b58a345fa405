package xec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchrctl/xec/pkg/command"
)

// counterScript returns a shell one-liner that fails until it has been
// invoked succeedOnAttempt times, tracked via a counter file — the classic
// way to make a deterministic, retry-able flaky command without a real
// flaky dependency.
func counterScript(t *testing.T, succeedOnAttempt int) (script string, counterPath string) {
	t.Helper()
	dir := t.TempDir()
	counterPath = filepath.Join(dir, "attempts")
	require.NoError(t, os.WriteFile(counterPath, []byte("0"), 0o600))
	q := command.POSIXQuoter.Quote(counterPath)
	script = fmt.Sprintf(
		`n=$(cat %s); n=$((n+1)); echo "$n" > %s; if [ "$n" -lt %d ]; then exit 1; fi; echo succeeded-on-$n`,
		q, q, succeedOnAttempt,
	)
	return script, counterPath
}

func TestRetrySucceedsAfterConfiguredAttempts(t *testing.T) {
	e := newTestEngine(t)
	script, counterPath := counterScript(t, 3)

	res, err := e.Local().Shell(script).Retry(RetryOptions{Max: 5, BaseDelay: 5 * time.Millisecond, Factor: 1.5}).
		Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "succeeded-on-3\n", res.StdoutString())

	attempts, readErr := os.ReadFile(counterPath)
	require.NoError(t, readErr)
	assert.Equal(t, "3\n", string(attempts))
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	e := newTestEngine(t)
	script, _ := counterScript(t, 100)

	_, err := e.Local().Shell(script).Retry(RetryOptions{Max: 2, BaseDelay: 2 * time.Millisecond, Factor: 1.2}).
		Await(context.Background())
	require.Error(t, err)
}

func TestRetryDoesNotRetryOutsideConfiguredClasses(t *testing.T) {
	e := newTestEngine(t)
	script, counterPath := counterScript(t, 2)

	_, err := e.Local().Shell(script).
		Retry(RetryOptions{Max: 5, BaseDelay: time.Millisecond, Classes: []command.ErrorKind{command.KindTimeout}}).
		Await(context.Background())
	require.Error(t, err)

	attempts, readErr := os.ReadFile(counterPath)
	require.NoError(t, readErr)
	assert.Equal(t, "1\n", string(attempts)) // no retry: failed once and stopped
}
