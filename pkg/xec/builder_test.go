package xec

import (
	"bytes"
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchrctl/xec/pkg/command"
	"github.com/launchrctl/xec/pkg/pool"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("local adapter tests assume a POSIX shell")
	}
	return New(Options{Pool: pool.Options{}})
}

func TestShellRunsAndCapturesStdout(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Local().Shell("echo hello").Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello\n", res.StdoutString())
	assert.True(t, res.Ok())
}

func TestShellfQuotesArguments(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Local().Shellf("echo %s", "two words").Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "two words\n", res.StdoutString())
}

func TestShellfExpandsNestedBuilderAsCapturedStdout(t *testing.T) {
	e := newTestEngine(t)
	inner := e.Local().Shell("echo nested")
	outer := e.Local().Shellf("echo got:%s", inner)
	res, err := outer.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "got:nested\n", res.StdoutString())
}

func TestShellfExpandsSliceArgAsSpaceSeparatedTokens(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Local().Shellf("echo %s", []string{"a b", "c"}).Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a b c\n", res.StdoutString())
}

func TestExecBypassesShell(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Local().Exec("printf", "%s", "raw").Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "raw", res.StdoutString())
}

func TestNonZeroExitThrowsByDefault(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Local().Shell("exit 3").Await(context.Background())
	require.Error(t, err)
	var cmdErr *command.Error
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, command.KindCommand, cmdErr.Kind)
	assert.Equal(t, 3, cmdErr.ExitCode)
}

func TestNoThrowReturnsResultInstead(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Local().Shell("exit 3").NoThrow().Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.Ok())
}

func TestAwaitMemoizesResult(t *testing.T) {
	e := newTestEngine(t)
	p := e.Local().Shell("echo once")
	r1, err1 := p.Await(context.Background())
	r2, err2 := p.Await(context.Background())
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Same(t, r1, r2)
}

func TestTimeoutKillsLongRunningCommand(t *testing.T) {
	e := newTestEngine(t)
	start := time.Now()
	_, err := e.Local().Shell("sleep 5").Timeout(100 * time.Millisecond).Await(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestPipeFeedsStdoutAsDownstreamStdin(t *testing.T) {
	e := newTestEngine(t)
	upstream := e.Local().Shell("printf 'b\\na\\nc\\n'")
	downstream := e.Local().Shell("sort")
	res, err := upstream.Pipe(downstream).Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\n", res.StdoutString())
}

func TestPipeToWriterSinksStdout(t *testing.T) {
	e := newTestEngine(t)
	var buf bytes.Buffer
	res, err := e.Local().Shell("echo sinked").Pipe(&buf).Await(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Stdout) // RouteSink does not also capture
	assert.Equal(t, "sinked\n", buf.String())
}

func TestWithComposesDefaultOptions(t *testing.T) {
	e := newTestEngine(t)
	quiet := e.With(command.WithQuiet())
	res, err := quiet.Local().Shell("echo should-not-be-captured").Await(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Stdout)
}

func TestEventBusEmitsStartAndEnd(t *testing.T) {
	e := newTestEngine(t)
	var kinds []EventKind
	e.Bus().Subscribe(func(ev Event) { kinds = append(kinds, ev.Kind) })

	_, err := e.Local().Shell("echo hi").Await(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, kinds)
	assert.Equal(t, EventStart, kinds[0])
	assert.Equal(t, EventEnd, kinds[len(kinds)-1])
}

func TestEventBusEmitsStdoutChunks(t *testing.T) {
	e := newTestEngine(t)
	var chunks [][]byte
	e.Bus().Subscribe(func(ev Event) {
		if ev.Kind == EventStdout {
			chunks = append(chunks, ev.Chunk)
		}
	})

	_, err := e.Local().Shell("echo chunked").Await(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Contains(t, string(bytes.Join(chunks, nil)), "chunked")
}
