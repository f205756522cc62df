package ssh

import (
	"io"
	"sync"
	"time"

	"github.com/acolita/shellconn/internal/ports"
	"golang.org/x/crypto/ssh"
)

// DefaultPollInterval bounds how long a plain Read waits for data.
const DefaultPollInterval = 100 * time.Millisecond

const pumpBufferSize = 4096

// ShellChannel is a PTY-backed interactive shell on an SSH connection.
//
// x/crypto/ssh reads block until data arrives, so a pump goroutine copies
// stdout into a channel and Read waits on that channel with a timeout.
type ShellChannel struct {
	session *ssh.Session
	stdin   io.WriteCloser

	chunks  chan []byte
	pending []byte
	poll    time.Duration

	mu      sync.Mutex
	readErr error

	closeOnce sync.Once
	closed    chan struct{}
}

var (
	_ ports.ShellChannel = (*ShellChannel)(nil)
	_ ports.TimedReader  = (*ShellChannel)(nil)
)

func openShell(conn *ssh.Client, req ports.ShellRequest) (ports.ShellChannel, error) {
	if req.Term == "" {
		req.Term = "xterm"
	}
	if req.Rows == 0 {
		req.Rows = 24
	}
	if req.Cols == 0 {
		req.Cols = 120
	}

	session, err := conn.NewSession()
	if err != nil {
		return nil, err
	}

	for key, value := range req.Env {
		// Servers commonly reject Setenv through AcceptEnv; that is not fatal.
		_ = session.Setenv(key, value)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(req.Term, req.Rows, req.Cols, modes); err != nil {
		session.Close()
		return nil, err
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, err
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, err
	}

	return newShellChannel(session, stdin, stdout, DefaultPollInterval), nil
}

func newShellChannel(session *ssh.Session, stdin io.WriteCloser, stdout io.Reader, poll time.Duration) *ShellChannel {
	s := &ShellChannel{
		session: session,
		stdin:   stdin,
		chunks:  make(chan []byte, 16),
		poll:    poll,
		closed:  make(chan struct{}),
	}
	go s.pump(stdout)
	return s
}

func (s *ShellChannel) pump(stdout io.Reader) {
	defer close(s.chunks)

	buf := make([]byte, pumpBufferSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			case <-s.closed:
				s.setReadErr(io.EOF)
				return
			}
		}
		if err != nil {
			s.setReadErr(err)
			return
		}
	}
}

func (s *ShellChannel) setReadErr(err error) {
	s.mu.Lock()
	if s.readErr == nil {
		s.readErr = err
	}
	s.mu.Unlock()
}

func (s *ShellChannel) terminalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr == nil {
		return io.EOF
	}
	return s.readErr
}

// Read returns buffered output, waiting at most one poll interval. It
// returns (0, nil) when nothing arrived and io.EOF once the shell exited.
func (s *ShellChannel) Read(p []byte) (int, error) {
	return s.ReadTimeout(p, s.poll)
}

// ReadTimeout is Read with an explicit wait.
func (s *ShellChannel) ReadTimeout(p []byte, d time.Duration) (int, error) {
	if len(s.pending) > 0 {
		n := copy(p, s.pending)
		s.pending = s.pending[n:]
		return n, nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case chunk, ok := <-s.chunks:
		if !ok {
			return 0, s.terminalErr()
		}
		n := copy(p, chunk)
		if n < len(chunk) {
			s.pending = chunk[n:]
		}
		return n, nil
	case <-timer.C:
		return 0, nil
	}
}

// Write sends input to the shell.
func (s *ShellChannel) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

// Resize changes the PTY window size.
func (s *ShellChannel) Resize(rows, cols int) error {
	return s.session.WindowChange(rows, cols)
}

// Close ends the shell session. It is safe to call twice.
func (s *ShellChannel) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.stdin.Close()
		err = s.session.Close()
		if err != nil && isClosedConnError(err) {
			err = nil
		}
	})
	return err
}
