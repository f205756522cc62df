package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/acolita/shellconn/internal/adapters/realclock"
	"github.com/acolita/shellconn/internal/config"
	"github.com/acolita/shellconn/internal/errors"
	"github.com/acolita/shellconn/internal/ports"
	"github.com/acolita/shellconn/internal/prompt"
	"github.com/acolita/shellconn/internal/ssh"
	"github.com/google/uuid"
)

// DefaultBannerWait bounds how long Connect waits for the login banner and
// first prompt to arrive.
const DefaultBannerWait = 2 * time.Second

// Connector dials and authenticates a transport for a connection config.
type Connector interface {
	Connect(ctx context.Context, cfg config.ConnectionConfig) (ports.Transport, error)
}

// Manager is the public entry point of the connection core. It owns the
// registry, so independent managers never share sessions.
type Manager struct {
	registry   *Registry
	connector  Connector
	executor   *Executor
	clock      ports.Clock
	logger     *slog.Logger
	bannerWait time.Duration
	shellReq   ports.ShellRequest
	prompt     config.PromptConfig
	newID      func() string

	connectLocks *keyedLock

	pendingMu sync.Mutex
	pending   map[string]int
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithConnector sets the transport connector.
func WithConnector(c Connector) ManagerOption {
	return func(m *Manager) { m.connector = c }
}

// WithManagerClock sets the clock used for timestamps and the banner wait.
func WithManagerClock(c ports.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithBannerWait bounds the banner drain at connect. Zero disables it.
func WithBannerWait(d time.Duration) ManagerOption {
	return func(m *Manager) { m.bannerWait = d }
}

// WithExecutor sets the command executor.
func WithExecutor(e *Executor) ManagerOption {
	return func(m *Manager) { m.executor = e }
}

// WithShellRequest sets the PTY requested for every shell.
func WithShellRequest(req ports.ShellRequest) ManagerOption {
	return func(m *Manager) { m.shellReq = req }
}

// WithDefaultPrompt sets the prompt config used by connections that leave
// theirs unset.
func WithDefaultPrompt(pc config.PromptConfig) ManagerOption {
	return func(m *Manager) { m.prompt = pc }
}

// WithIDGenerator replaces the UUID generator used for configs without an id.
func WithIDGenerator(fn func() string) ManagerOption {
	return func(m *Manager) { m.newID = fn }
}

// NewManager creates a Manager. Without WithConnector it dials real SSH.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		registry:     NewRegistry(),
		bannerWait:   DefaultBannerWait,
		shellReq:     ports.ShellRequest{Term: "xterm", Rows: 24, Cols: 120},
		prompt:       config.DefaultPromptConfig(),
		newID:        uuid.NewString,
		connectLocks: newKeyedLock(),
		pending:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.clock == nil {
		m.clock = realclock.New()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.connector == nil {
		m.connector = ssh.NewConnector(ssh.WithLogger(m.logger))
	}
	if m.executor == nil {
		m.executor = NewExecutor(WithExecutorClock(m.clock), WithExecutorLogger(m.logger))
	}
	return m
}

// Connect validates cfg, dials it, opens the shell and registers the
// session. It returns the connection id, which is generated when cfg.ID is
// empty.
//
// A Connected session under the same id fails with AlreadyConnected. Any
// other session under the id is stale and gets replaced.
func (m *Manager) Connect(ctx context.Context, cfg config.ConnectionConfig) (string, error) {
	if cfg.ID == "" {
		cfg.ID = m.newID()
	}
	if cfg.Prompt.IsZero() {
		cfg.Prompt = m.prompt
	}
	if err := cfg.Validate(); err != nil {
		return "", errors.Wrap(err, errors.CodeConfigInvalid, "invalid connection %s", cfg.ID)
	}

	unlock, err := m.connectLocks.lock(ctx, cfg.ID)
	if err != nil {
		return "", err
	}
	defer unlock()

	if existing, ok := m.registry.Get(cfg.ID); ok {
		if existing.Status().IsConnected() {
			return "", errors.New(errors.CodeAlreadyConnected, "connection %s is already connected", cfg.ID)
		}
		if stale, ok := m.registry.Remove(cfg.ID); ok {
			m.logger.Info("replacing stale session",
				slog.String("id", cfg.ID),
				slog.String("status", stale.Status().String()),
			)
			stale.teardown(m.logger)
		}
	}

	m.markPending(cfg.ID, 1)
	defer m.markPending(cfg.ID, -1)

	logger := m.logger.With(slog.String("id", cfg.ID), slog.String("host", cfg.Host))
	logger.Debug("connecting")

	transport, err := m.connector.Connect(ctx, cfg)
	if err != nil {
		return "", asTransportError(err, "connect %s", cfg.ID)
	}

	channel, err := transport.OpenShell(m.shellReq)
	if err != nil {
		if cerr := transport.Close(); cerr != nil {
			logger.Warn("close transport after failed shell", slog.String("error", cerr.Error()))
		}
		return "", asTransportError(err, "open shell for %s", cfg.ID)
	}

	sess := newSession(cfg, transport, channel, m.clock.Now())
	sess.setBanner(m.settle(ctx, channel, cfg.Prompt))
	if err := ctx.Err(); err != nil {
		sess.teardown(logger)
		return "", errors.Wrap(err, errors.CodeTransport, "connect %s", cfg.ID)
	}

	if err := m.registry.Insert(sess); err != nil {
		sess.teardown(logger)
		return "", err
	}

	logger.Info("connected", slog.String("user", cfg.Username))
	return cfg.ID, nil
}

// settle reads the login banner until the first prompt shows up or
// bannerWait elapses, so the first command does not match the initial
// prompt. Nothing here is fatal.
func (m *Manager) settle(ctx context.Context, ch ports.ShellChannel, pc config.PromptConfig) string {
	if m.bannerWait <= 0 {
		return ""
	}

	detector := prompt.NewDetector(pc.Patterns, pc.SmartDetection)
	start := m.clock.Now()
	buf := make([]byte, readBufferSize)
	var banner []byte

	for m.clock.Since(start) < m.bannerWait && ctx.Err() == nil {
		n, err := ch.Read(buf)
		if n > 0 {
			banner = append(banner, buf[:n]...)
			if _, ok := detector.Detect(string(buf[:n])); ok {
				break
			}
		}
		if err != nil && !isDraining(err) {
			m.logger.Debug("banner read ended", slog.String("error", err.Error()))
			break
		}
		if n == 0 {
			m.clock.Sleep(emptyReadBackoff)
		}
	}
	return string(banner)
}

// Disconnect removes the session and tears it down. Close failures are
// logged, never returned.
func (m *Manager) Disconnect(id string) error {
	sess, ok := m.registry.Remove(id)
	if !ok {
		return errors.New(errors.CodeNotFound, "connection %s not found", id)
	}
	sess.teardown(m.logger)
	m.logger.Info("disconnected", slog.String("id", id))
	return nil
}

// DisconnectAll tears down every session and returns how many there were.
func (m *Manager) DisconnectAll() int {
	sessions := m.registry.Drain()
	for _, sess := range sessions {
		sess.teardown(m.logger)
	}
	if len(sessions) > 0 {
		m.logger.Info("disconnected all", slog.Int("count", len(sessions)))
	}
	return len(sessions)
}

// Close disconnects everything.
func (m *Manager) Close() error {
	m.DisconnectAll()
	return nil
}

// CheckHealth reports whether id is registered and its transport is still
// authenticated. A Connected session that fails the check is marked Error
// so the next Connect replaces it.
func (m *Manager) CheckHealth(id string) bool {
	sess, ok := m.registry.Get(id)
	if !ok {
		return false
	}
	if sess.Healthy() {
		return true
	}
	m.markFailed(sess, "transport is no longer authenticated")
	return false
}

// GetStatus returns the status of id. A connect in flight reports
// Connecting.
func (m *Manager) GetStatus(id string) (Status, error) {
	if m.isPending(id) {
		return StatusConnecting, nil
	}
	sess, ok := m.registry.Get(id)
	if !ok {
		return Status{}, errors.New(errors.CodeNotFound, "connection %s not found", id)
	}
	return sess.Status(), nil
}

// Session returns the registered session for id.
func (m *Manager) Session(id string) (*Session, error) {
	sess, ok := m.registry.Get(id)
	if !ok {
		return nil, errors.New(errors.CodeNotFound, "connection %s not found", id)
	}
	return sess, nil
}

// ListConnections returns the configs of every registered session, with
// secrets removed.
func (m *Manager) ListConnections() []config.ConnectionConfig {
	sessions := m.registry.List()
	out := make([]config.ConnectionConfig, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Config())
	}
	return out
}

// ListConnected is ListConnections restricted to Connected sessions.
func (m *Manager) ListConnected() []config.ConnectionConfig {
	var out []config.ConnectionConfig
	for _, s := range m.registry.List() {
		if s.Status().IsConnected() {
			out = append(out, s.Config())
		}
	}
	return out
}

// ConnectedCount returns the number of Connected sessions.
func (m *Manager) ConnectedCount() int {
	n := 0
	for _, s := range m.registry.List() {
		if s.Status().IsConnected() {
			n++
		}
	}
	return n
}

// List returns a snapshot of every session.
func (m *Manager) List() []Info {
	now := m.clock.Now()
	sessions := m.registry.List()
	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.info(now))
	}
	return out
}

// ExecuteCommand runs command on id and returns its output.
func (m *Manager) ExecuteCommand(ctx context.Context, id, command string, opts *CommandOptions) (string, error) {
	res, err := m.Execute(ctx, id, command, opts)
	if res == nil {
		return "", err
	}
	return res.Output, err
}

// Execute runs command on id. Commands on one connection queue behind each
// other; different connections run in parallel.
func (m *Manager) Execute(ctx context.Context, id, command string, opts *CommandOptions) (*ExecResult, error) {
	sess, ok := m.registry.Get(id)
	if !ok {
		return nil, errors.New(errors.CodeNotFound, "connection %s not found", id)
	}
	if err := checkUsable(sess); err != nil {
		return nil, err
	}

	if err := sess.acquire(ctx); err != nil {
		return nil, err
	}
	defer sess.release()

	// The session may have been torn down while this call waited.
	if err := checkUsable(sess); err != nil {
		return nil, err
	}

	m.logger.Debug("executing command",
		slog.String("id", id),
		slog.String("command", command),
	)

	res, err := m.executor.Run(ctx, sess.channel, command, sess.cfg.Prompt, opts)
	sess.touch(m.clock.Now())

	if err != nil {
		if errors.IsCode(err, errors.CodeTransport) {
			m.markFailed(sess, err.Error())
		}
		return res, err
	}

	if res.Reason == StopReadError && res.ReadErr != nil {
		m.markFailed(sess, res.ReadErr.Error())
	}

	m.logger.Debug("command finished",
		slog.String("id", id),
		slog.String("reason", string(res.Reason)),
		slog.Int("bytes", res.BytesRead),
		slog.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// Reconnect replaces whatever session is registered under cfg.ID with a
// fresh one.
func (m *Manager) Reconnect(ctx context.Context, cfg config.ConnectionConfig) (string, error) {
	if cfg.ID != "" {
		if err := m.Disconnect(cfg.ID); err != nil && !errors.IsCode(err, errors.CodeNotFound) {
			return "", err
		}
	}
	return m.Connect(ctx, cfg)
}

// TestConnection dials cfg and opens a shell without registering anything.
func (m *Manager) TestConnection(ctx context.Context, cfg config.ConnectionConfig) error {
	if cfg.Prompt.IsZero() {
		cfg.Prompt = m.prompt
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, errors.CodeConfigInvalid, "invalid connection %s", cfg.Name)
	}

	transport, err := m.connector.Connect(ctx, cfg)
	if err != nil {
		return asTransportError(err, "connect %s", cfg.Name)
	}
	defer transport.Close()

	channel, err := transport.OpenShell(m.shellReq)
	if err != nil {
		return asTransportError(err, "open shell for %s", cfg.Name)
	}
	return channel.Close()
}

func checkUsable(sess *Session) error {
	if sess.channel == nil {
		return errors.New(errors.CodeChannelUnavailable, "connection %s has no shell channel", sess.ID)
	}
	if st := sess.Status(); !st.IsConnected() {
		return errors.New(errors.CodeChannelUnavailable, "connection %s is %s", sess.ID, st)
	}
	return nil
}

func (m *Manager) markFailed(sess *Session, reason string) {
	sess.mu.Lock()
	changed := sess.status.IsConnected()
	if changed {
		sess.status = StatusError(reason)
	}
	sess.mu.Unlock()

	if changed {
		m.logger.Warn("session failed",
			slog.String("id", sess.ID),
			slog.String("reason", reason),
		)
	}
}

func (m *Manager) markPending(id string, delta int) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	m.pending[id] += delta
	if m.pending[id] <= 0 {
		delete(m.pending, id)
	}
}

func (m *Manager) isPending(id string) bool {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	return m.pending[id] > 0
}

// asTransportError keeps coded errors and classifies the rest as
// TransportError.
func asTransportError(err error, format string, args ...any) error {
	if errors.CodeOf(err) != "" {
		return err
	}
	return errors.Wrap(err, errors.CodeTransport, format, args...)
}
