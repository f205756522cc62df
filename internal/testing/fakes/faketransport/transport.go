// Package faketransport provides fake SSH transports and a fake connector
// for testing the connection manager without a network.
package faketransport

import (
	"context"
	"errors"
	"sync"

	"github.com/acolita/shellconn/internal/config"
	"github.com/acolita/shellconn/internal/ports"
	"github.com/acolita/shellconn/internal/testing/fakes/fakechannel"
)

// DefaultPrompt is printed by the default fake shell.
const DefaultPrompt = "u@test:~$ "

// ChannelFactory builds the shell channel for each OpenShell call.
type ChannelFactory func() *fakechannel.Channel

// EchoChannel returns a channel that greets with DefaultPrompt and answers
// like fakechannel.EchoShell.
func EchoChannel() *fakechannel.Channel {
	return fakechannel.New().
		AddResponse(DefaultPrompt).
		SetResponder(fakechannel.EchoShell(DefaultPrompt))
}

// Transport is a fake ports.Transport that counts opens and closes.
type Transport struct {
	mu            sync.Mutex
	authenticated bool
	closes        int
	openErr       error
	closeErr      error
	factory       ChannelFactory
	channels      []*fakechannel.Channel
	requests      []ports.ShellRequest
}

// New creates an authenticated transport whose shells are EchoChannels.
func New() *Transport {
	return &Transport{authenticated: true, factory: EchoChannel}
}

// SetChannelFactory replaces the shell channel factory.
func (t *Transport) SetChannelFactory(f ChannelFactory) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.factory = f
	return t
}

// SetOpenError makes OpenShell fail with err.
func (t *Transport) SetOpenError(err error) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.openErr = err
	return t
}

// SetCloseError makes Close return err, as a broken remote would.
func (t *Transport) SetCloseError(err error) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeErr = err
	return t
}

// SetAuthenticated overrides the authenticated flag.
func (t *Transport) SetAuthenticated(auth bool) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.authenticated = auth
	return t
}

// OpenShell returns a fresh channel from the factory.
func (t *Transport) OpenShell(req ports.ShellRequest) (ports.ShellChannel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closes > 0 {
		return nil, errors.New("faketransport: closed")
	}
	if t.openErr != nil {
		return nil, t.openErr
	}
	ch := t.factory()
	t.channels = append(t.channels, ch)
	t.requests = append(t.requests, req)
	return ch, nil
}

// Authenticated reports the authenticated flag. A closed transport is
// never authenticated.
func (t *Transport) Authenticated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.authenticated && t.closes == 0
}

// Close counts the call and returns the configured close error.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	return t.closeErr
}

// CloseCount returns how many times Close was called.
func (t *Transport) CloseCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

// Channels returns every channel opened on the transport.
func (t *Transport) Channels() []*fakechannel.Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*fakechannel.Channel(nil), t.channels...)
}

// Requests returns the ShellRequest of every OpenShell call.
func (t *Transport) Requests() []ports.ShellRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ports.ShellRequest(nil), t.requests...)
}

// Connector is a fake connector handing out fake transports.
type Connector struct {
	mu         sync.Mutex
	factory    func(cfg config.ConnectionConfig) *Transport
	connectErr error
	gate       <-chan struct{}
	transports []*Transport
	configs    []config.ConnectionConfig
}

// NewConnector creates a connector that returns New() transports.
func NewConnector() *Connector {
	return &Connector{
		factory: func(config.ConnectionConfig) *Transport { return New() },
	}
}

// SetTransportFactory replaces how transports are built.
func (c *Connector) SetTransportFactory(f func(cfg config.ConnectionConfig) *Transport) *Connector {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factory = f
	return c
}

// SetError makes Connect fail with err.
func (c *Connector) SetError(err error) *Connector {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectErr = err
	return c
}

// SetGate makes Connect wait until gate is closed or ctx is done.
func (c *Connector) SetGate(gate <-chan struct{}) *Connector {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gate = gate
	return c
}

// Connect records cfg and returns a new fake transport.
func (c *Connector) Connect(ctx context.Context, cfg config.ConnectionConfig) (ports.Transport, error) {
	c.mu.Lock()
	c.configs = append(c.configs, cfg)
	gate := c.gate
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	t := c.factory(cfg)
	c.transports = append(c.transports, t)
	return t, nil
}

// Transports returns every transport handed out.
func (c *Connector) Transports() []*Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Transport(nil), c.transports...)
}

// Configs returns the config of every Connect call.
func (c *Connector) Configs() []config.ConnectionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]config.ConnectionConfig(nil), c.configs...)
}

// Leaks returns how many transports and channels were opened but never
// closed.
func (c *Connector) Leaks() (transports, channels int) {
	for _, t := range c.Transports() {
		if t.CloseCount() == 0 {
			transports++
		}
		for _, ch := range t.Channels() {
			if ch.CloseCount() == 0 {
				channels++
			}
		}
	}
	return transports, channels
}

var _ ports.Transport = (*Transport)(nil)
