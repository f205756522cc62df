// Package ssh is the transport layer: it dials, authenticates and keeps
// SSH connections alive, and opens the PTY shell each session runs on.
package ssh

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/acolita/shellconn/internal/adapters/realclock"
	"github.com/acolita/shellconn/internal/adapters/realsshdialer"
	"github.com/acolita/shellconn/internal/config"
	"github.com/acolita/shellconn/internal/errors"
	"github.com/acolita/shellconn/internal/ports"
	"golang.org/x/crypto/ssh"
)

const keepaliveRequest = "keepalive@openssh.com"

// Client is an authenticated SSH connection. It implements ports.Transport.
type Client struct {
	conn   *ssh.Client
	addr   string
	mu     sync.Mutex
	closed bool

	authenticated atomic.Bool

	keepaliveInterval time.Duration
	keepaliveStop     chan struct{}

	clock  ports.Clock
	logger *slog.Logger
}

func newClient(conn *ssh.Client, addr string, keepalive time.Duration, clk ports.Clock, logger *slog.Logger) *Client {
	c := &Client{
		conn:              conn,
		addr:              addr,
		keepaliveInterval: keepalive,
		clock:             clk,
		logger:            logger,
	}
	// x/crypto/ssh only returns a client once user authentication has
	// succeeded.
	c.authenticated.Store(true)

	go func() {
		_ = conn.Wait()
		c.authenticated.Store(false)
	}()

	if keepalive > 0 {
		c.keepaliveStop = make(chan struct{})
		go c.keepalive(c.keepaliveStop)
	}
	return c
}

// keepalive pings the server so dead peers are noticed between commands.
func (c *Client) keepalive(stop <-chan struct{}) {
	ticker := c.clock.NewTicker(c.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			c.mu.Lock()
			conn := c.conn
			closed := c.closed
			c.mu.Unlock()
			if closed || conn == nil {
				return
			}
			if _, _, err := conn.SendRequest(keepaliveRequest, true, nil); err != nil {
				c.logger.Warn("keepalive failed",
					slog.String("addr", c.addr),
					slog.String("error", err.Error()),
				)
				c.authenticated.Store(false)
				return
			}
		}
	}
}

// Authenticated reports whether the connection is authenticated and alive.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	return !closed && c.authenticated.Load()
}

// OpenShell opens a PTY-backed interactive shell.
func (c *Client) OpenShell(req ports.ShellRequest) (ports.ShellChannel, error) {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()

	if closed || conn == nil {
		return nil, errors.New(errors.CodeChannelUnavailable, "transport to %s is closed", c.addr)
	}

	sh, err := openShell(conn, req)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeTransport, "open shell on %s", c.addr)
	}
	return sh, nil
}

// Close stops the keepalive and disconnects. It is safe to call twice.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.authenticated.Store(false)

	if c.keepaliveStop != nil {
		close(c.keepaliveStop)
		c.keepaliveStop = nil
	}

	err := c.conn.Close()
	if err != nil && isClosedConnError(err) {
		err = nil
	}
	return err
}

// RemoteAddr returns the remote address of the connection.
func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ServerVersion returns the server's SSH identification string.
func (c *Client) ServerVersion() string {
	return string(c.conn.ServerVersion())
}

// Connector dials and authenticates new transports.
type Connector struct {
	dialer          ports.SSHDialer
	clock           ports.Clock
	logger          *slog.Logger
	timeout         time.Duration
	keepalive       time.Duration
	hostKeyCallback ssh.HostKeyCallback
	hosts           *HostResolver
	agentSocket     string
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithDialer sets the SSH dialer.
func WithDialer(d ports.SSHDialer) ConnectorOption {
	return func(c *Connector) { c.dialer = d }
}

// WithClock sets the clock used by keepalive tickers.
func WithClock(clk ports.Clock) ConnectorOption {
	return func(c *Connector) { c.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ConnectorOption {
	return func(c *Connector) { c.logger = l }
}

// WithTimeout bounds TCP connect plus handshake.
func WithTimeout(d time.Duration) ConnectorOption {
	return func(c *Connector) { c.timeout = d }
}

// WithKeepalive sets the keepalive interval. Zero disables keepalive.
func WithKeepalive(d time.Duration) ConnectorOption {
	return func(c *Connector) { c.keepalive = d }
}

// WithHostKeyCallback sets the host key policy.
func WithHostKeyCallback(cb ssh.HostKeyCallback) ConnectorOption {
	return func(c *Connector) { c.hostKeyCallback = cb }
}

// WithHostResolver resolves ssh_config aliases before dialing.
func WithHostResolver(r *HostResolver) ConnectorOption {
	return func(c *Connector) { c.hosts = r }
}

// WithAgent adds the keys of the ssh-agent at socket after the configured
// key for private_key and both connections.
func WithAgent(socket string) ConnectorOption {
	return func(c *Connector) { c.agentSocket = socket }
}

// NewConnector creates a Connector with a 30s timeout, 30s keepalive and no
// host key verification unless options say otherwise.
func NewConnector(opts ...ConnectorOption) *Connector {
	c := &Connector{
		timeout:   30 * time.Second,
		keepalive: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = realsshdialer.New()
	}
	if c.clock == nil {
		c.clock = realclock.New()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.hostKeyCallback == nil {
		c.hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	return c
}

// NewConnectorFromConfig builds a Connector from the transport settings.
func NewConnectorFromConfig(tc config.TransportConfig, opts ...ConnectorOption) (*Connector, error) {
	cb, err := BuildHostKeyCallback(tc.KnownHosts, tc.StrictHostKey)
	if err != nil {
		return nil, err
	}
	hosts, err := LoadHostResolver(tc.SSHConfigPath)
	if err != nil {
		return nil, err
	}
	base := []ConnectorOption{
		WithTimeout(tc.ConnectTimeout),
		WithKeepalive(tc.KeepaliveInterval),
		WithHostKeyCallback(cb),
		WithHostResolver(hosts),
	}
	if tc.UseAgent {
		base = append(base, WithAgent(os.Getenv("SSH_AUTH_SOCK")))
	}
	return NewConnector(append(base, opts...)...), nil
}

// Connect dials cfg, performs the handshake and authenticates. The returned
// transport is always authenticated.
func (c *Connector) Connect(ctx context.Context, cfg config.ConnectionConfig) (ports.Transport, error) {
	methods, err := AuthMethods(cfg)
	if err != nil {
		return nil, err
	}
	if c.agentSocket != "" && cfg.AuthMethod != config.AuthPassword {
		am, closer, err := AgentAuth(c.agentSocket)
		if err != nil {
			c.logger.Debug("ssh-agent unavailable", slog.String("error", err.Error()))
		} else {
			defer closer.Close()
			methods = append(methods, am)
		}
	}

	target := cfg
	if c.hosts != nil {
		target.Host = c.hosts.Resolve(cfg.Host)
	}
	addr := target.Address()

	clientCfg := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            methods,
		HostKeyCallback: c.hostKeyCallback,
		Timeout:         c.timeout,
	}

	c.logger.Debug("dialing",
		slog.String("id", cfg.ID),
		slog.String("addr", addr),
		slog.String("user", cfg.Username),
	)

	conn, err := c.dialer.DialContext(ctx, "tcp", addr, clientCfg)
	if err != nil {
		return nil, classifyDialError(err, addr)
	}

	client := newClient(conn, addr, c.keepalive, c.clock, c.logger)
	if err := VerifyAuthenticated(client); err != nil {
		client.Close()
		return nil, err
	}
	c.logger.Debug("connected",
		slog.String("id", cfg.ID),
		slog.String("remote", client.RemoteAddr().String()),
		slog.String("server_version", client.ServerVersion()),
	)
	return client, nil
}

func isClosedConnError(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}

// String implements fmt.Stringer for log output.
func (c *Client) String() string {
	return fmt.Sprintf("ssh(%s)", c.addr)
}
