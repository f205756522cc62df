// Package mockssh provides an in-process SSH server for tests.
//
// By default the "shell" request runs a scripted shell that prints a prompt,
// echoes each input line the way a PTY would, and answers a handful of
// commands. WithRealShell switches to a real shell on a creack/pty.
package mockssh

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/creack/pty"
	"golang.org/x/crypto/ssh"
)

// DefaultPrompt is printed by the scripted shell.
const DefaultPrompt = "u@test:~$ "

// Handler answers one scripted command line. Returning handled=false falls
// back to the built-in commands.
type Handler func(line string) (output string, handled bool)

// Server is a mock SSH server for testing.
type Server struct {
	listener net.Listener
	config   *ssh.ServerConfig
	addr     string

	realShell   string
	prompt      string
	banner      string
	handler     Handler
	interactive bool

	mu             sync.RWMutex
	users          map[string]string // username -> password
	authorizedKeys map[string][]byte // username -> marshaled public key
	submissions    int               // passwords received by any method

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup

	connsMu sync.Mutex
	conns   []*ssh.ServerConn
	shells  int

	sessionsMu sync.Mutex
	sessions   []*session
}

type session struct {
	channel ssh.Channel
	pty     *os.File
	cmd     *exec.Cmd
}

// Option configures the mock SSH server.
type Option func(*Server)

// WithUser adds a user/password pair for authentication.
func WithUser(username, password string) Option {
	return func(s *Server) {
		s.users[username] = password
	}
}

// WithAuthorizedKey lets username authenticate with key.
func WithAuthorizedKey(username string, key ssh.PublicKey) Option {
	return func(s *Server) {
		s.authorizedKeys[username] = key.Marshal()
	}
}

// WithKeyboardInteractive also accepts passwords as the answer to a
// keyboard-interactive "Password: " challenge.
func WithKeyboardInteractive() Option {
	return func(s *Server) {
		s.interactive = true
	}
}

// WithPrompt sets the shell prompt. A real shell gets it as PS1.
func WithPrompt(prompt string) Option {
	return func(s *Server) {
		s.prompt = prompt
	}
}

// WithBanner prints text before the first prompt.
func WithBanner(text string) Option {
	return func(s *Server) {
		s.banner = text
	}
}

// WithHandler adds custom scripted commands.
func WithHandler(h Handler) Option {
	return func(s *Server) {
		s.handler = h
	}
}

// WithRealShell answers shell requests with shell running on a PTY instead
// of the scripted shell.
func WithRealShell(shell string) Option {
	return func(s *Server) {
		s.realShell = shell
	}
}

// New creates and starts a mock SSH server on a random local port.
func New(opts ...Option) (*Server, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}

	signer, err := ssh.NewSignerFromKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	s := &Server{
		prompt: DefaultPrompt,
		users: map[string]string{
			"test": "test",
		},
		authorizedKeys: map[string][]byte{},
		done:           make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			return nil, s.checkPassword(c.User(), string(password))
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			s.mu.RLock()
			expected, ok := s.authorizedKeys[c.User()]
			s.mu.RUnlock()

			if ok && bytes.Equal(expected, key.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("public key rejected for %q", c.User())
		},
	}
	if s.interactive {
		config.KeyboardInteractiveCallback = func(c ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := challenge("", "", []string{"Password: "}, []bool{false})
			if err != nil {
				return nil, err
			}
			if len(answers) != 1 {
				return nil, fmt.Errorf("expected one answer, got %d", len(answers))
			}
			return nil, s.checkPassword(c.User(), answers[0])
		}
	}
	config.AddHostKey(signer)
	s.config = config

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.addr = listener.Addr().String()

	s.wg.Add(1)
	go s.acceptLoop()

	slog.Debug("mock SSH server started", slog.String("addr", s.addr))
	return s, nil
}

func (s *Server) checkPassword(user, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions++
	if expected, ok := s.users[user]; ok && password == expected {
		return nil
	}
	return fmt.Errorf("password rejected for %q", user)
}

// PasswordSubmissions counts the passwords clients sent, whether as
// "password" or as a keyboard-interactive answer.
func (s *Server) PasswordSubmissions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.submissions
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.addr
}

// Host returns the host part of the address.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.addr)
	return host
}

// Port returns the port the server is listening on.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.addr)
	p, _ := strconv.Atoi(port)
	return p
}

// ShellCount returns how many shell requests the server has accepted.
func (s *Server) ShellCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return s.shells
}

// DropConnections closes every client connection while leaving the
// listener up, simulating a remote that went away.
func (s *Server) DropConnections() {
	s.connsMu.Lock()
	conns := s.conns
	s.conns = nil
	s.connsMu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Close shuts down the mock SSH server. It is safe to call twice.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.shutdown()
	})
	return s.closeErr
}

func (s *Server) shutdown() error {
	close(s.done)
	err := s.listener.Close()

	s.DropConnections()

	s.sessionsMu.Lock()
	for _, sess := range s.sessions {
		if sess.pty != nil {
			sess.pty.Close()
		}
		if sess.cmd != nil && sess.cmd.Process != nil {
			sess.cmd.Process.Kill()
		}
		if sess.channel != nil {
			sess.channel.Close()
		}
	}
	s.sessions = nil
	s.sessionsMu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				slog.Debug("accept error", slog.String("error", err.Error()))
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(netConn net.Conn) {
	defer s.wg.Done()
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		slog.Debug("SSH handshake failed", slog.String("error", err.Error()))
		return
	}
	defer sshConn.Close()

	s.connsMu.Lock()
	s.conns = append(s.conns, sshConn)
	s.connsMu.Unlock()

	// Keepalives and other global requests get a negative reply.
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			slog.Debug("channel accept failed", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go s.handleChannel(channel, requests)
	}
}

func (s *Server) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer s.wg.Done()
	defer channel.Close()

	sess := &session{channel: channel}
	s.sessionsMu.Lock()
	s.sessions = append(s.sessions, sess)
	s.sessionsMu.Unlock()

	var ptyReq *ptyRequest

	for req := range requests {
		switch req.Type {
		case "pty-req":
			ptyReq = parsePtyRequest(req.Payload)
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "env":
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "shell":
			s.connsMu.Lock()
			s.shells++
			s.connsMu.Unlock()
			if req.WantReply {
				req.Reply(true, nil)
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if s.realShell != "" {
					s.runRealShell(sess, ptyReq)
					return
				}
				s.runScripted(channel)
			}()

		case "window-change":
			if sess.pty != nil {
				winReq := parseWindowChangeRequest(req.Payload)
				_ = pty.Setsize(sess.pty, &pty.Winsize{Rows: uint16(winReq.Height), Cols: uint16(winReq.Width)})
			}
			if req.WantReply {
				req.Reply(true, nil)
			}

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// runScripted emulates an interactive shell on a PTY: every input line is
// echoed, answered, and followed by a fresh prompt.
func (s *Server) runScripted(channel ssh.Channel) {
	if s.banner != "" {
		io.WriteString(channel, s.banner)
	}
	io.WriteString(channel, s.prompt)

	var line []byte
	buf := make([]byte, 256)
	for {
		n, err := channel.Read(buf)
		for _, b := range buf[:n] {
			if b != '\n' && b != '\r' {
				line = append(line, b)
				continue
			}
			cmd := string(line)
			line = line[:0]

			io.WriteString(channel, cmd+"\r\n")
			output, exit := s.answer(cmd)
			if exit {
				sendExitStatus(channel, 0)
				return
			}
			if output == hangOutput {
				continue
			}
			io.WriteString(channel, output+s.prompt)
		}
		if err != nil {
			return
		}
	}
}

const hangOutput = "\x00hang"

// answer runs one scripted command. "hang" produces neither output nor a
// prompt.
func (s *Server) answer(cmd string) (output string, exit bool) {
	cmd = strings.TrimSpace(cmd)
	if s.handler != nil {
		if out, ok := s.handler(cmd); ok {
			return crlf(out), false
		}
	}

	switch {
	case cmd == "":
		return "", false
	case cmd == "exit":
		return "", true
	case cmd == "hang":
		return hangOutput, false
	case cmd == "echo":
		return "\r\n", false
	case strings.HasPrefix(cmd, "echo "):
		return crlf(strings.Trim(strings.TrimPrefix(cmd, "echo "), `"'`) + "\n"), false
	case cmd == "whoami":
		return "u\r\n", false
	}

	name := strings.Fields(cmd)[0]
	return crlf("sh: " + name + ": command not found\n"), false
}

func crlf(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// runRealShell runs the configured shell on a PTY sized by the client's
// pty-req, with the server prompt as PS1.
func (s *Server) runRealShell(sess *session, ptyReq *ptyRequest) {
	if ptyReq == nil {
		ptyReq = &ptyRequest{Term: "xterm", Width: 80, Height: 24}
	}
	cmd := exec.Command(s.realShell)
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.TempDir(),
		"TERM=" + ptyReq.Term,
		"PS1=" + s.prompt,
		"ENV=",
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(ptyReq.Height), Cols: uint16(ptyReq.Width)})
	if err != nil {
		slog.Debug("pty start failed", slog.String("error", err.Error()))
		sendExitStatus(sess.channel, 1)
		return
	}
	s.sessionsMu.Lock()
	sess.pty = ptmx
	sess.cmd = cmd
	s.sessionsMu.Unlock()

	done := make(chan struct{})
	go func() {
		io.Copy(sess.channel, ptmx)
		close(done)
	}()
	go func() {
		io.Copy(ptmx, sess.channel)
	}()

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		exitCode = 1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
	}

	ptmx.Close()
	<-done
	sendExitStatus(sess.channel, exitCode)
}

func sendExitStatus(channel ssh.Channel, code int) {
	channel.CloseWrite()

	payload := make([]byte, 4)
	payload[0] = byte(code >> 24)
	payload[1] = byte(code >> 16)
	payload[2] = byte(code >> 8)
	payload[3] = byte(code)
	channel.SendRequest("exit-status", false, payload)

	channel.Close()
}

type ptyRequest struct {
	Term   string
	Width  uint32
	Height uint32
}

func parsePtyRequest(payload []byte) *ptyRequest {
	var req struct {
		Term     string
		Columns  uint32
		Rows     uint32
		Width    uint32
		Height   uint32
		Modelist string
	}
	if err := ssh.Unmarshal(payload, &req); err != nil {
		return &ptyRequest{Term: "xterm", Width: 80, Height: 24}
	}
	return &ptyRequest{Term: req.Term, Width: req.Columns, Height: req.Rows}
}

type windowChangeRequest struct {
	Width  uint32
	Height uint32
}

func parseWindowChangeRequest(payload []byte) *windowChangeRequest {
	var req struct {
		Columns uint32
		Rows    uint32
		Width   uint32
		Height  uint32
	}
	if err := ssh.Unmarshal(payload, &req); err != nil {
		return &windowChangeRequest{Width: 80, Height: 24}
	}
	return &windowChangeRequest{Width: req.Columns, Height: req.Rows}
}
