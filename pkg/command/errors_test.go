package command

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := NewCommandError(LocalTarget{}, "false", 7, "boom")
	assert.True(t, errors.Is(err, ErrCommand))
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestCommandErrorCarriesExitCodeAndStderr(t *testing.T) {
	err := NewCommandError(LocalTarget{}, "false", 7, "boom")
	var ce *Error
	require := assert.New(t)
	require.True(errors.As(err, &ce))
	require.Equal(7, ce.ExitCode)
	require.Equal("boom", ce.Stderr)
}

func TestTimeoutErrorCarriesAfter(t *testing.T) {
	err := NewTimeoutError(LocalTarget{}, "sleep 5", 100*time.Millisecond)
	assert.True(t, errors.Is(err, ErrTimeout))
	var te *Error
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, 100*time.Millisecond, te.After)
}

func TestRetryableDefaults(t *testing.T) {
	assert.True(t, KindConnect.Retryable())
	assert.True(t, KindTimeout.Retryable())
	assert.True(t, KindPoolExhausted.Retryable())
	assert.False(t, KindCommand.Retryable())
	assert.False(t, KindAuth.Retryable())
	assert.False(t, KindCancelled.Retryable())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewError(KindConnect, LocalTarget{}, "", errors.New("refused"))))
	assert.False(t, IsRetryable(NewCommandError(LocalTarget{}, "false", 1, "")))
	assert.False(t, IsRetryable(errors.New("plain error")))
}

func TestErrorNeverLeaksStdinBytes(t *testing.T) {
	// Sanity: Error has no field that could carry raw stdin payloads.
	e := &Error{}
	_ = e.Stderr // only stderr (capped) is ever attached, never stdin
}
