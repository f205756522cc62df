// Package fakechannel provides a scripted shell channel for testing the
// command executor without a network.
package fakechannel

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/acolita/shellconn/internal/ports"
)

// Responder produces the output chunks for one command line written to the
// channel. Each chunk is delivered by a separate Read.
type Responder func(line string) []string

type item struct {
	data []byte
	err  error
}

// Channel is a fake ports.ShellChannel.
//
// Reads return queued items in order and (0, nil) once the queue is empty.
// A channel also tracks whether two commands were ever in flight at once:
// a write arriving while an earlier response is still queued, or while
// another Write is running, marks the channel as interleaved.
type Channel struct {
	mu        sync.Mutex
	queue     []item
	pending   []byte
	lineBuf   []byte
	responder Responder
	written   bytes.Buffer
	lines     []string
	reads     int
	closed    int
	timeouts  []time.Duration

	eofWhenEmpty bool
	onRead       func()
	readDelay    time.Duration
	writeDelay   time.Duration
	writeErr     error

	writing     int
	interleaved bool
}

// New creates an empty fake channel.
func New() *Channel {
	return &Channel{}
}

// AddResponse queues data to be returned by a later Read.
func (c *Channel) AddResponse(data string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, item{data: []byte(data)})
	return c
}

// AddResponses queues several responses, one per Read.
func (c *Channel) AddResponses(responses ...string) *Channel {
	for _, r := range responses {
		c.AddResponse(r)
	}
	return c
}

// AddError queues err to be returned by a later Read.
func (c *Channel) AddError(err error) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, item{err: err})
	return c
}

// SetResponder answers every complete line written to the channel.
func (c *Channel) SetResponder(r Responder) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responder = r
	return c
}

// SetEOFWhenEmpty makes Read return io.EOF instead of (0, nil) once the
// queue is drained.
func (c *Channel) SetEOFWhenEmpty(eof bool) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eofWhenEmpty = eof
	return c
}

// SetOnRead registers a hook run at the start of every Read, typically to
// advance a fake clock.
func (c *Channel) SetOnRead(fn func()) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRead = fn
	return c
}

// SetReadDelay makes every Read block for d of real time.
func (c *Channel) SetReadDelay(d time.Duration) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDelay = d
	return c
}

// SetWriteDelay makes every Write block for d of real time.
func (c *Channel) SetWriteDelay(d time.Duration) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeDelay = d
	return c
}

// SetWriteError makes every Write fail with err.
func (c *Channel) SetWriteError(err error) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
	return c
}

// Read implements io.Reader.
func (c *Channel) Read(b []byte) (int, error) {
	c.mu.Lock()
	onRead := c.onRead
	delay := c.readDelay
	c.reads++
	c.mu.Unlock()

	if onRead != nil {
		onRead()
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed > 0 {
		return 0, io.EOF
	}

	if len(c.pending) > 0 {
		n := copy(b, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}

	if len(c.queue) == 0 {
		if c.eofWhenEmpty {
			return 0, io.EOF
		}
		return 0, nil
	}

	next := c.queue[0]
	c.queue = c.queue[1:]
	if next.err != nil {
		return 0, next.err
	}

	n := copy(b, next.data)
	if n < len(next.data) {
		c.pending = next.data[n:]
	}
	return n, nil
}

// ReadTimeout records d and performs a normal Read.
func (c *Channel) ReadTimeout(b []byte, d time.Duration) (int, error) {
	c.mu.Lock()
	c.timeouts = append(c.timeouts, d)
	c.mu.Unlock()
	return c.Read(b)
}

// Write implements io.Writer.
func (c *Channel) Write(b []byte) (int, error) {
	c.mu.Lock()
	if c.closed > 0 {
		c.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return 0, err
	}
	if c.writing > 0 || len(c.queue) > 0 || len(c.pending) > 0 {
		c.interleaved = true
	}
	c.writing++
	delay := c.writeDelay
	c.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.writing--

	c.written.Write(b)
	c.lineBuf = append(c.lineBuf, b...)
	for {
		i := bytes.IndexByte(c.lineBuf, '\n')
		if i < 0 {
			break
		}
		line := string(c.lineBuf[:i])
		c.lineBuf = c.lineBuf[i+1:]
		c.lines = append(c.lines, line)
		if c.responder != nil {
			for _, chunk := range c.responder(line) {
				c.queue = append(c.queue, item{data: []byte(chunk)})
			}
		}
	}
	return len(b), nil
}

// Close marks the channel closed. Later reads return io.EOF.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

// Written returns everything written to the channel.
func (c *Channel) Written() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written.String()
}

// Lines returns the complete lines written so far.
func (c *Channel) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

// ReadCount returns how many times Read was called.
func (c *Channel) ReadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// Timeouts returns the durations passed to ReadTimeout.
func (c *Channel) Timeouts() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.timeouts...)
}

// CloseCount returns how many times Close was called.
func (c *Channel) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Interleaved reports whether two commands ever overlapped on the channel.
func (c *Channel) Interleaved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interleaved
}

// EchoShell is a Responder that behaves like a shell on a PTY: it echoes
// the line, answers "echo X" with X, and prints prompt afterwards.
func EchoShell(prompt string) Responder {
	return func(line string) []string {
		out := line + "\r\n"
		if rest, ok := strings.CutPrefix(line, "echo "); ok {
			out += rest + "\r\n"
		}
		return []string{out, prompt}
	}
}

var (
	_ ports.ShellChannel = (*Channel)(nil)
	_ ports.TimedReader  = (*Channel)(nil)
)
