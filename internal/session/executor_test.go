package session

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/acolita/shellconn/internal/config"
	"github.com/acolita/shellconn/internal/errors"
	"github.com/acolita/shellconn/internal/ports"
	"github.com/acolita/shellconn/internal/testing/fakes/fakechannel"
	"github.com/acolita/shellconn/internal/testing/fakes/fakeclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestExecutor(t *testing.T, opts ...ExecutorOption) (*Executor, *fakeclock.Clock) {
	t.Helper()
	clock := fakeclock.New(epoch)
	base := []ExecutorOption{
		WithExecutorClock(clock),
		WithExecutorLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return NewExecutor(append(base, opts...)...), clock
}

func promptConfig(patterns ...string) config.PromptConfig {
	pc := config.DefaultPromptConfig()
	if len(patterns) > 0 {
		pc.Patterns = patterns
	}
	return pc
}

func boolPtr(b bool) *bool { return &b }

// untimed hides ReadTimeout so the executor falls back to Read.
type untimed struct{ ports.ShellChannel }

func TestNormalizeCommand(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ls", "ls\n"},
		{"ls\n", "ls\n"},
		{"ls\n\n\n", "ls\n"},
		{"ls\r\n", "ls\n"},
		{"", "\n"},
		{"printf 'a\\nb'", "printf 'a\\nb'\n"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeCommand(tt.in), "NormalizeCommand(%q)", tt.in)
	}
}

func TestRun_StopsAtPrompt(t *testing.T) {
	e, _ := newTestExecutor(t)
	ch := fakechannel.New().SetResponder(fakechannel.EchoShell("[root@host ~]# "))

	res, err := e.Run(context.Background(), ch, "echo hi\n\n", promptConfig(), nil)
	require.NoError(t, err)

	assert.Equal(t, StopPrompt, res.Reason)
	assert.Equal(t, "]# ", res.Pattern)
	assert.Equal(t, "echo hi\r\nhi\r\n[root@host ~]# ", res.Output)
	assert.Equal(t, "echo hi\n", ch.Written())
	assert.Equal(t, len(res.Output), res.BytesRead)
	assert.Equal(t, 2, res.Reads)
}

func TestRun_SmartDetectionOnListing(t *testing.T) {
	e, _ := newTestExecutor(t)
	ch := fakechannel.New().AddResponse("total 0\ndrwxr-xr-x  2 root root 4096 Jan 1 00:00 .\n[root@host ~]# ")

	res, err := e.Run(context.Background(), ch, "ls -la", promptConfig("]# "), nil)
	require.NoError(t, err)
	assert.Equal(t, StopPrompt, res.Reason)
}

func TestRun_IgnoresPromptInsideOutput(t *testing.T) {
	e, _ := newTestExecutor(t)
	ch := fakechannel.New().AddResponse("echo \"]# \"\r\n]# \r\nstill running\r\n")

	res, err := e.Run(context.Background(), ch, `echo "]# "`, promptConfig("]# "), nil)
	require.NoError(t, err)
	assert.Equal(t, StopEmptyReads, res.Reason)
	assert.Contains(t, res.Output, "still running")
}

func TestRun_SimpleDetectionMatchesSubstring(t *testing.T) {
	e, _ := newTestExecutor(t)
	ch := fakechannel.New().AddResponse("echo \"]# \"\r\n]# \r\nstill running\r\n")

	pc := promptConfig("]# ")
	pc.SmartDetection = false
	res, err := e.Run(context.Background(), ch, `echo "]# "`, pc, nil)
	require.NoError(t, err)
	assert.Equal(t, StopPrompt, res.Reason)
}

func TestRun_EmptyReadLimit(t *testing.T) {
	e, clock := newTestExecutor(t)
	ch := fakechannel.New().AddResponse("working...\r\n")

	pc := promptConfig()
	pc.MaxEmptyReads = 5
	res, err := e.Run(context.Background(), ch, "make", pc, nil)
	require.NoError(t, err)

	assert.Equal(t, StopEmptyReads, res.Reason)
	assert.Equal(t, 6, ch.ReadCount())
	assert.Equal(t, 4*emptyReadBackoff, clock.Slept())
}

func TestRun_IdleTimeout(t *testing.T) {
	e, _ := newTestExecutor(t)
	ch := fakechannel.New().AddResponse("partial")

	pc := promptConfig()
	pc.MaxEmptyReads = 0
	res, err := e.Run(context.Background(), ch, "tail", pc, nil)
	require.NoError(t, err)

	assert.Equal(t, StopIdle, res.Reason)
	assert.Equal(t, "partial", res.Output)
	assert.Greater(t, res.Elapsed, idleTimeout)
	assert.LessOrEqual(t, res.Elapsed, idleTimeout+emptyReadBackoff)
}

func TestRun_IdleTimeoutOption(t *testing.T) {
	e, _ := newTestExecutor(t, WithIdleTimeout(3*time.Second))
	ch := fakechannel.New().AddResponse("partial")

	pc := promptConfig()
	pc.MaxEmptyReads = 0
	pc.MaxWaitTime = 60_000
	res, err := e.Run(context.Background(), ch, "tail", pc, nil)
	require.NoError(t, err)

	assert.Equal(t, StopIdle, res.Reason)
	assert.Greater(t, res.Elapsed, 3*time.Second)
	assert.LessOrEqual(t, res.Elapsed, 3*time.Second+emptyReadBackoff)
}

func TestRun_DeadlineWithSilentChannel(t *testing.T) {
	e, _ := newTestExecutor(t)
	ch := fakechannel.New()

	pc := promptConfig()
	pc.MaxEmptyReads = 1_000_000
	pc.MaxWaitTime = 500
	res, err := e.Run(context.Background(), ch, "sleep 100", pc, nil)
	require.NoError(t, err)

	assert.Equal(t, StopDeadline, res.Reason)
	assert.LessOrEqual(t, res.Elapsed, pc.MaxWait()+emptyReadBackoff)
}

func TestRun_DeadlineWithEndlessOutput(t *testing.T) {
	e, clock := newTestExecutor(t)
	ch := fakechannel.New()
	ch.SetOnRead(func() {
		clock.Advance(100 * time.Millisecond)
		ch.AddResponse("line\r\n")
	})

	pc := promptConfig()
	pc.MaxWaitTime = 1000
	res, err := e.Run(context.Background(), ch, "yes", pc, nil)
	require.NoError(t, err)

	assert.Equal(t, StopDeadline, res.Reason)
	assert.LessOrEqual(t, res.Elapsed, pc.MaxWait()+100*time.Millisecond)
	assert.True(t, strings.HasPrefix(res.Output, "line\r\n"))
}

func TestRun_TimeoutOptionOverridesMaxWait(t *testing.T) {
	e, _ := newTestExecutor(t)
	ch := fakechannel.New()

	pc := promptConfig()
	pc.MaxEmptyReads = 0
	res, err := e.Run(context.Background(), ch, "sleep 100", pc, &CommandOptions{Timeout: 200 * time.Millisecond})
	require.NoError(t, err)

	assert.Equal(t, StopDeadline, res.Reason)
	assert.LessOrEqual(t, res.Elapsed, 250*time.Millisecond)
}

func TestRun_CustomPromptsReplacePatterns(t *testing.T) {
	e, _ := newTestExecutor(t)
	ch := fakechannel.New().AddResponse("Python 3.12\r\n>>> ")

	pc := promptConfig("$ ")
	res, err := e.Run(context.Background(), ch, "python3", pc, &CommandOptions{CustomPrompts: []string{">>> "}})
	require.NoError(t, err)
	assert.Equal(t, StopPrompt, res.Reason)
	assert.Equal(t, ">>> ", res.Pattern)
}

func TestRun_SingleShotTimed(t *testing.T) {
	e, _ := newTestExecutor(t)
	ch := fakechannel.New()

	pc := promptConfig()
	pc.MaxWaitTime = 3000
	res, err := e.Run(context.Background(), ch, "reboot", pc, &CommandOptions{WaitForPrompt: boolPtr(false)})
	require.NoError(t, err)

	assert.Equal(t, StopSingleRead, res.Reason)
	assert.Equal(t, 1, ch.ReadCount())
	assert.Equal(t, []time.Duration{3 * time.Second}, ch.Timeouts())
	assert.Empty(t, res.Output)
}

func TestRun_SingleShotReturnsFirstChunkOnly(t *testing.T) {
	e, _ := newTestExecutor(t)
	ch := fakechannel.New().AddResponses("first\r\n", "second\r\n$ ")

	res, err := e.Run(context.Background(), untimed{ch}, "cat", promptConfig(), &CommandOptions{WaitForPrompt: boolPtr(false)})
	require.NoError(t, err)

	assert.Equal(t, StopSingleRead, res.Reason)
	assert.Equal(t, "first\r\n", res.Output)
	assert.Equal(t, 1, ch.ReadCount())
	assert.Empty(t, ch.Timeouts())
}

func TestRun_DrainingIsRetried(t *testing.T) {
	e, clock := newTestExecutor(t)
	ch := fakechannel.New().
		AddError(ports.ErrChannelDraining).
		AddError(ports.ErrChannelDraining).
		AddError(ports.ErrChannelDraining).
		AddResponse("ok\r\n$ ")

	pc := promptConfig()
	pc.MaxEmptyReads = 1
	res, err := e.Run(context.Background(), ch, "true", pc, nil)
	require.NoError(t, err)

	assert.Equal(t, StopPrompt, res.Reason)
	assert.Equal(t, 3*drainBackoff, clock.Slept())
}

type temporaryErr struct{}

func (temporaryErr) Error() string   { return "resource temporarily unavailable" }
func (temporaryErr) Temporary() bool { return true }

func TestRun_TemporaryErrorCountsAsDraining(t *testing.T) {
	e, _ := newTestExecutor(t)
	ch := fakechannel.New().AddError(temporaryErr{}).AddResponse("$ ")

	res, err := e.Run(context.Background(), ch, "true", promptConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, StopPrompt, res.Reason)
}

func TestRun_DrainLimit(t *testing.T) {
	e, _ := newTestExecutor(t)
	ch := fakechannel.New()
	for i := 0; i < maxDrainRetries+10; i++ {
		ch.AddError(ports.ErrChannelDraining)
	}

	pc := promptConfig()
	pc.MaxWaitTime = 60_000
	res, err := e.Run(context.Background(), ch, "true", pc, nil)
	require.NoError(t, err)

	assert.Equal(t, StopDrainLimit, res.Reason)
	assert.Equal(t, maxDrainRetries, ch.ReadCount())
	assert.ErrorIs(t, res.ReadErr, ports.ErrChannelDraining)
}

func TestRun_MaxDrainRetriesOption(t *testing.T) {
	e, _ := newTestExecutor(t, WithMaxDrainRetries(3))
	ch := fakechannel.New()
	for i := 0; i < 10; i++ {
		ch.AddError(ports.ErrChannelDraining)
	}

	res, err := e.Run(context.Background(), ch, "true", promptConfig(), nil)
	require.NoError(t, err)

	assert.Equal(t, StopDrainLimit, res.Reason)
	assert.Equal(t, 3, ch.ReadCount())
}

func TestRun_ReadErrorReturnsPartialOutput(t *testing.T) {
	e, _ := newTestExecutor(t)
	ch := fakechannel.New().AddResponse("partial output").AddError(io.EOF)

	res, err := e.Run(context.Background(), ch, "exit", promptConfig(), nil)
	require.NoError(t, err)

	assert.Equal(t, StopReadError, res.Reason)
	assert.Equal(t, "partial output", res.Output)
	assert.ErrorIs(t, res.ReadErr, io.EOF)
}

func TestRun_CanceledMidLoop(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := fakechannel.New().AddResponse("some output\r\n")
	reads := 0
	ch.SetOnRead(func() {
		reads++
		if reads == 3 {
			cancel()
		}
	})

	pc := promptConfig()
	pc.MaxEmptyReads = 0
	res, err := e.Run(ctx, ch, "find /", pc, nil)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, StopCanceled, res.Reason)
	assert.Equal(t, "some output\r\n", res.Output)
}

func TestRun_CanceledBeforeWrite(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := fakechannel.New()
	_, err := e.Run(ctx, ch, "ls", promptConfig(), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ch.Written())
}

func TestRun_WriteFailureIsTransportError(t *testing.T) {
	e, _ := newTestExecutor(t)
	ch := fakechannel.New().SetWriteError(io.ErrClosedPipe)

	_, err := e.Run(context.Background(), ch, "ls", promptConfig(), nil)
	assert.True(t, errors.IsCode(err, errors.CodeTransport))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestRun_DebugOutputLogsChunks(t *testing.T) {
	var buf bytes.Buffer
	clock := fakeclock.New(epoch)
	e := NewExecutor(
		WithExecutorClock(clock),
		WithExecutorLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))),
	)
	ch := fakechannel.New().SetResponder(fakechannel.EchoShell("$ "))

	_, err := e.Run(context.Background(), ch, "echo hi", promptConfig(), &CommandOptions{DebugOutput: true})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "shell output")
	assert.Contains(t, buf.String(), `echo hi`)

	buf.Reset()
	_, err = e.Run(context.Background(), ch, "echo quiet", promptConfig(), nil)
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}
