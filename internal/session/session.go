// Package session is the connection core: the registry of live sessions,
// the prompt-detecting command executor and the Manager that ties them to
// the SSH transport.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/acolita/shellconn/internal/config"
	"github.com/acolita/shellconn/internal/ports"
)

// Session is one authenticated transport plus its single shell channel.
//
// The channel is opened once at connect time and shared by every command.
// Only one command may use it at a time; see acquire.
type Session struct {
	ID        string
	CreatedAt time.Time

	cfg       config.ConnectionConfig
	transport ports.Transport
	channel   ports.ShellChannel

	// lock is a one-slot semaphore so waiting for the channel honors ctx.
	lock chan struct{}

	mu       sync.Mutex
	status   Status
	banner   string
	lastUsed time.Time
}

func newSession(cfg config.ConnectionConfig, transport ports.Transport, channel ports.ShellChannel, now time.Time) *Session {
	return &Session{
		ID:        cfg.ID,
		CreatedAt: now,
		cfg:       cfg,
		transport: transport,
		channel:   channel,
		lock:      make(chan struct{}, 1),
		status:    StatusConnected,
		lastUsed:  now,
	}
}

// Config returns the connection config without secret material.
func (s *Session) Config() config.ConnectionConfig {
	return s.cfg.Redacted()
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// Banner returns whatever the shell printed before its first prompt.
func (s *Session) Banner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.banner
}

func (s *Session) setBanner(b string) {
	s.mu.Lock()
	s.banner = b
	s.mu.Unlock()
}

// LastUsed returns when a command last ran on the session.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
}

// Healthy reports whether the transport still claims to be authenticated.
func (s *Session) Healthy() bool {
	return s.transport != nil && s.transport.Authenticated()
}

// acquire checks the channel out for one command.
func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) release() {
	<-s.lock
}

// teardown closes the channel and then the transport. Failures are logged
// and never stop the teardown.
func (s *Session) teardown(logger *slog.Logger) {
	if s.channel != nil {
		if err := s.channel.Close(); err != nil {
			logger.Warn("close shell channel",
				slog.String("id", s.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			logger.Warn("close transport",
				slog.String("id", s.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	s.setStatus(StatusDisconnected)
}

// Info is a read-only snapshot of a session.
type Info struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Host       string            `json:"host"`
	Port       int               `json:"port"`
	Username   string            `json:"username"`
	AuthMethod config.AuthMethod `json:"auth_method"`
	Status     Status            `json:"status"`
	Healthy    bool              `json:"healthy"`
	CreatedAt  time.Time         `json:"created_at"`
	LastUsed   time.Time         `json:"last_used"`
	IdleTime   time.Duration     `json:"idle_time"`
}

func (s *Session) info(now time.Time) Info {
	lastUsed := s.LastUsed()
	return Info{
		ID:         s.ID,
		Name:       s.cfg.Name,
		Host:       s.cfg.Host,
		Port:       s.cfg.Port,
		Username:   s.cfg.Username,
		AuthMethod: s.cfg.AuthMethod,
		Status:     s.Status(),
		Healthy:    s.Healthy(),
		CreatedAt:  s.CreatedAt,
		LastUsed:   lastUsed,
		IdleTime:   now.Sub(lastUsed),
	}
}
