package session

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/acolita/shellconn/internal/adapters/realclock"
	"github.com/acolita/shellconn/internal/config"
	"github.com/acolita/shellconn/internal/errors"
	"github.com/acolita/shellconn/internal/logging"
	"github.com/acolita/shellconn/internal/ports"
	"github.com/acolita/shellconn/internal/prompt"
)

// Read loop tuning.
const (
	readBufferSize   = 4096
	idleTimeout      = 1 * time.Second
	emptyReadBackoff = 50 * time.Millisecond
	drainBackoff     = 100 * time.Millisecond
	// maxDrainRetries bounds consecutive "draining" errors so a wedged
	// transport cannot spin until the wall clock runs out.
	maxDrainRetries = 50

	debugChunkLimit = 512
)

// StopReason names the condition that ended a read loop.
type StopReason string

const (
	StopPrompt     StopReason = "prompt"      // a prompt was detected
	StopSingleRead StopReason = "single_read" // wait_for_prompt was off
	StopEmptyReads StopReason = "empty_reads" // max_empty_reads reached
	StopIdle       StopReason = "idle"        // no data for idleTimeout
	StopDeadline   StopReason = "deadline"    // max_wait_time elapsed
	StopReadError  StopReason = "read_error"  // the channel failed or closed
	StopCanceled   StopReason = "canceled"    // the context was done
	StopDrainLimit StopReason = "drain_limit" // too many draining retries
)

// CommandOptions are per-call overrides. None of them is persisted.
type CommandOptions struct {
	// CustomPrompts replaces the configured patterns for this call.
	CustomPrompts []string `json:"custom_prompts,omitempty"`
	// Timeout replaces max_wait_time when positive.
	Timeout time.Duration `json:"timeout,omitempty"`
	// WaitForPrompt defaults to true. False performs a single read.
	WaitForPrompt *bool `json:"wait_for_prompt,omitempty"`
	// DebugOutput logs every chunk read at info level.
	DebugOutput bool `json:"debug_output,omitempty"`
}

func (o *CommandOptions) waitForPrompt() bool {
	return o == nil || o.WaitForPrompt == nil || *o.WaitForPrompt
}

func (o *CommandOptions) debug() bool {
	return o != nil && o.DebugOutput
}

// ExecResult is the output of one command and how its read loop ended.
type ExecResult struct {
	Output    string        `json:"output"`
	Reason    StopReason    `json:"reason"`
	Pattern   string        `json:"pattern,omitempty"`
	BytesRead int           `json:"bytes_read"`
	Reads     int           `json:"reads"`
	Elapsed   time.Duration `json:"elapsed"`
	// ReadErr is the channel error behind StopReadError.
	ReadErr error `json:"-"`
}

// Executor runs commands on a shell channel and decides when their output
// is complete.
type Executor struct {
	clock           ports.Clock
	logger          *slog.Logger
	idleTimeout     time.Duration
	emptyBackoff    time.Duration
	drainBackoff    time.Duration
	maxDrainRetries int
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorClock sets the clock that paces and bounds the read loop.
func WithExecutorClock(c ports.Clock) ExecutorOption {
	return func(e *Executor) { e.clock = c }
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithIdleTimeout sets how long the channel may stay quiet after data.
func WithIdleTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.idleTimeout = d }
}

// WithMaxDrainRetries bounds consecutive draining retries.
func WithMaxDrainRetries(n int) ExecutorOption {
	return func(e *Executor) { e.maxDrainRetries = n }
}

// NewExecutor creates an Executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		idleTimeout:     idleTimeout,
		emptyBackoff:    emptyReadBackoff,
		drainBackoff:    drainBackoff,
		maxDrainRetries: maxDrainRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = realclock.New()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// NormalizeCommand makes command end in exactly one newline.
func NormalizeCommand(command string) string {
	return strings.TrimRight(command, "\r\n") + "\n"
}

// Run writes command to ch and reads until the output looks complete.
//
// Read failures end the loop but are not returned as errors: the partial
// output is still useful, and result.Reason and result.ReadErr say what
// happened. A write failure is a TransportError. A done ctx returns the
// partial result together with ctx.Err().
func (e *Executor) Run(ctx context.Context, ch ports.ShellChannel, command string, pc config.PromptConfig, opts *CommandOptions) (*ExecResult, error) {
	if err := ctx.Err(); err != nil {
		return &ExecResult{Reason: StopCanceled}, err
	}

	line := NormalizeCommand(command)
	if _, err := ch.Write([]byte(line)); err != nil {
		return nil, errors.Wrap(err, errors.CodeTransport, "write command")
	}
	if f, ok := ch.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return nil, errors.Wrap(err, errors.CodeTransport, "flush command")
		}
	}

	maxWait := pc.MaxWait()
	if opts != nil && opts.Timeout > 0 {
		maxWait = opts.Timeout
	}
	if maxWait <= 0 {
		maxWait = config.DefaultPromptConfig().MaxWait()
	}

	if !opts.waitForPrompt() {
		return e.readOnce(ch, maxWait, opts.debug()), nil
	}

	patterns := pc.Patterns
	if opts != nil && len(opts.CustomPrompts) > 0 {
		patterns = opts.CustomPrompts
	}
	loop := readLoop{
		Executor: e,
		ch:       ch,
		detector: prompt.NewDetector(patterns, pc.SmartDetection),
		maxWait:  maxWait,
		maxEmpty: pc.MaxEmptyReads,
		debug:    opts.debug(),
	}
	return loop.run(ctx)
}

// readOnce performs the single read of wait_for_prompt=false.
func (e *Executor) readOnce(ch ports.ShellChannel, maxWait time.Duration, debug bool) *ExecResult {
	start := e.clock.Now()
	buf := make([]byte, readBufferSize)

	var n int
	var err error
	if tr, ok := ch.(ports.TimedReader); ok {
		n, err = tr.ReadTimeout(buf, maxWait)
	} else {
		n, err = ch.Read(buf)
	}

	if debug && n > 0 {
		e.logger.Info("shell output", logging.Chunk("chunk", buf[:n], debugChunkLimit))
	}

	res := &ExecResult{
		Output:    string(buf[:n]),
		Reason:    StopSingleRead,
		BytesRead: n,
		Reads:     1,
		Elapsed:   e.clock.Since(start),
	}
	if err != nil {
		res.Reason = StopReadError
		res.ReadErr = err
	}
	return res
}

// readLoop holds the state of one prompt-detecting read loop.
type readLoop struct {
	*Executor
	ch       ports.ShellChannel
	detector *prompt.Detector
	maxWait  time.Duration
	maxEmpty int
	debug    bool

	out      bytes.Buffer
	reads    int
	empty    int
	drains   int
	start    time.Time
	lastData time.Time
}

func (l *readLoop) run(ctx context.Context) (*ExecResult, error) {
	l.start = l.clock.Now()
	l.lastData = l.start
	buf := make([]byte, readBufferSize)

	for {
		if err := ctx.Err(); err != nil {
			return l.result(StopCanceled, nil), err
		}
		if l.clock.Since(l.start) > l.maxWait {
			return l.result(StopDeadline, nil), nil
		}

		n, err := l.ch.Read(buf)
		l.reads++

		if n > 0 {
			l.empty = 0
			l.lastData = l.clock.Now()
			chunk := buf[:n]
			l.out.Write(chunk)
			if l.debug {
				l.logger.Info("shell output", logging.Chunk("chunk", chunk, debugChunkLimit))
			}
			// Only the new chunk is inspected, which keeps detection cost
			// independent of output size.
			if d, ok := l.detector.Detect(string(chunk)); ok {
				res := l.result(StopPrompt, nil)
				res.Pattern = d.Pattern
				return res, nil
			}
		}

		if err != nil {
			if isDraining(err) {
				l.drains++
				if l.drains >= l.maxDrainRetries {
					return l.result(StopDrainLimit, err), nil
				}
				l.clock.Sleep(l.drainBackoff)
				continue
			}
			return l.result(StopReadError, err), nil
		}
		l.drains = 0

		if n == 0 {
			l.empty++
			if l.maxEmpty > 0 && l.empty >= l.maxEmpty {
				return l.result(StopEmptyReads, nil), nil
			}
			if l.clock.Since(l.lastData) > l.idleTimeout {
				return l.result(StopIdle, nil), nil
			}
			l.clock.Sleep(l.emptyBackoff)
		}
	}
}

func (l *readLoop) result(reason StopReason, readErr error) *ExecResult {
	return &ExecResult{
		Output:    l.out.String(),
		Reason:    reason,
		BytesRead: l.out.Len(),
		Reads:     l.reads,
		Elapsed:   l.clock.Since(l.start),
		ReadErr:   readErr,
	}
}

// isDraining reports a transient "try again" condition from the channel.
func isDraining(err error) bool {
	if errors.Is(err, ports.ErrChannelDraining) {
		return true
	}
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}
