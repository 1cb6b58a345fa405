package adapter

import (
	"bytes"
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchrctl/xec/pkg/command"
)

func skipUnlessPOSIX(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("local adapter tests assume a POSIX shell")
	}
}

func TestLocalAdapterExecutesShellAndCapturesStdout(t *testing.T) {
	skipUnlessPOSIX(t)
	a := NewLocalAdapter("")
	spec, err := command.NewSpec(command.WithShellString("echo hello"))
	require.NoError(t, err)

	h, err := a.Execute(context.Background(), command.LocalTarget{}, spec)
	require.NoError(t, err)
	defer h.Close()

	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", string(res.Stdout))
}

func TestLocalAdapterExecBypassesShellInterpretation(t *testing.T) {
	skipUnlessPOSIX(t)
	a := NewLocalAdapter("")
	spec, err := command.NewSpec(command.WithExec("echo", "$HOME"))
	require.NoError(t, err)

	h, err := a.Execute(context.Background(), command.LocalTarget{}, spec)
	require.NoError(t, err)
	defer h.Close()

	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "$HOME\n", string(res.Stdout)) // no shell, so no variable expansion
}

func TestLocalAdapterPropagatesNonZeroExitCode(t *testing.T) {
	skipUnlessPOSIX(t)
	a := NewLocalAdapter("")
	spec, err := command.NewSpec(command.WithShellString("exit 5"))
	require.NoError(t, err)

	h, err := a.Execute(context.Background(), command.LocalTarget{}, spec)
	require.NoError(t, err)
	defer h.Close()

	res, err := h.Wait(context.Background())
	require.NoError(t, err) // non-zero exit isn't itself a Wait error; Engine decides whether to throw
	assert.Equal(t, 5, res.ExitCode)
}

func TestLocalAdapterHonorsCwd(t *testing.T) {
	skipUnlessPOSIX(t)
	dir := t.TempDir()
	a := NewLocalAdapter("")
	spec, err := command.NewSpec(command.WithShellString("pwd"), command.WithCwd(dir))
	require.NoError(t, err)

	h, err := a.Execute(context.Background(), command.LocalTarget{}, spec)
	require.NoError(t, err)
	defer h.Close()

	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(res.Stdout), dir)
}

func TestLocalAdapterEnvOverlayAddsVariable(t *testing.T) {
	skipUnlessPOSIX(t)
	a := NewLocalAdapter("")
	spec, err := command.NewSpec(
		command.WithShellString("echo $XEC_TEST_VAR"),
		command.WithEnv(command.EnvOverlay, command.EnvVar{Name: "XEC_TEST_VAR", Value: "overlaid"}),
	)
	require.NoError(t, err)

	h, err := a.Execute(context.Background(), command.LocalTarget{}, spec)
	require.NoError(t, err)
	defer h.Close()

	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "overlaid\n", string(res.Stdout))
}

func TestLocalAdapterEnvReplaceAllDropsInheritedVars(t *testing.T) {
	skipUnlessPOSIX(t)
	t.Setenv("XEC_SHOULD_NOT_LEAK", "leaked")
	a := NewLocalAdapter("")
	spec, err := command.NewSpec(
		command.WithShellString("echo [$XEC_SHOULD_NOT_LEAK]"),
		command.WithEnv(command.EnvReplaceAll),
	)
	require.NoError(t, err)

	h, err := a.Execute(context.Background(), command.LocalTarget{}, spec)
	require.NoError(t, err)
	defer h.Close()

	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(res.Stdout))
}

func TestLocalAdapterEnvReplaceSensitiveStripsDenyListedVars(t *testing.T) {
	skipUnlessPOSIX(t)
	t.Setenv("AWS_SECRET_ACCESS_KEY", "shouldnotleak")
	t.Setenv("XEC_KEEPME", "kept")
	a := NewLocalAdapter("")
	spec, err := command.NewSpec(
		command.WithShellString("echo [$AWS_SECRET_ACCESS_KEY] [$XEC_KEEPME]"),
		command.WithEnv(command.EnvReplaceSensitive),
	)
	require.NoError(t, err)

	h, err := a.Execute(context.Background(), command.LocalTarget{}, spec)
	require.NoError(t, err)
	defer h.Close()

	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "[] [kept]\n", string(res.Stdout))
}

func TestLocalAdapterStdinBytesFeedsProcess(t *testing.T) {
	skipUnlessPOSIX(t)
	a := NewLocalAdapter("")
	spec, err := command.NewSpec(command.WithShellString("cat"), command.WithStdinBytes([]byte("piped in")))
	require.NoError(t, err)

	h, err := a.Execute(context.Background(), command.LocalTarget{}, spec)
	require.NoError(t, err)
	defer h.Close()

	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "piped in", string(res.Stdout))
}

func TestLocalAdapterTimeoutKillsLongRunningCommand(t *testing.T) {
	skipUnlessPOSIX(t)
	a := NewLocalAdapter("")
	spec, err := command.NewSpec(command.WithShellString("sleep 5"), command.WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	// Mirrors Engine.Run: the same deadlined context goes to both Execute and
	// Wait, so Wait's ctx.Err() classification can see the deadline that
	// actually killed the process.
	ctx, cancel := context.WithTimeout(context.Background(), spec.Timeout)
	defer cancel()

	h, err := a.Execute(ctx, command.LocalTarget{}, spec)
	require.NoError(t, err)
	defer h.Close()

	start := time.Now()
	_, err = h.Wait(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)

	var cmdErr *command.Error
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, command.KindTimeout, cmdErr.Kind)
}

func TestLocalAdapterSinkRoutingForwardsWithoutCapturing(t *testing.T) {
	skipUnlessPOSIX(t)
	a := NewLocalAdapter("")
	var out bytes.Buffer
	spec, err := command.NewSpec(
		command.WithShellString("echo sinked"),
		command.WithStdoutRouting(command.Routing{Kind: command.RouteSink, Writer: &out}),
	)
	require.NoError(t, err)

	h, err := a.Execute(context.Background(), command.LocalTarget{}, spec)
	require.NoError(t, err)
	defer h.Close()

	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Stdout)
	assert.Equal(t, "sinked\n", out.String())
}

func TestLocalAdapterRejectsEmptyExecArgv(t *testing.T) {
	_, err := command.NewSpec(command.WithExec())
	require.Error(t, err) // NewSpec itself rejects an empty argv
}
