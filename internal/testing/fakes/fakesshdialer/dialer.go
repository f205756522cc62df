// Package fakesshdialer provides a fake SSH dialer for testing.
package fakesshdialer

import (
	"context"
	"fmt"
	"sync"

	"github.com/acolita/shellconn/internal/adapters/realsshdialer"
	"github.com/acolita/shellconn/internal/ports"
	"golang.org/x/crypto/ssh"
)

// DialFunc is the behavior behind Dialer.DialContext.
type DialFunc func(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)

// Dialer is a fake SSH dialer that records calls and delegates to a DialFunc.
type Dialer struct {
	mu       sync.Mutex
	dialFunc DialFunc
	calls    []DialCall
}

// DialCall records a call to DialContext.
type DialCall struct {
	Network string
	Addr    string
	User    string
}

// New creates a fake Dialer that returns an error by default.
func New() *Dialer {
	return &Dialer{
		dialFunc: func(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
			return nil, fmt.Errorf("fakesshdialer: not configured")
		},
	}
}

// Redirect returns a Dialer that sends every dial to target, whatever
// address was asked for. It lets tests use made-up host names against a
// local mock server.
func Redirect(target string) *Dialer {
	real := realsshdialer.New()
	d := New()
	d.SetDialFunc(func(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
		return real.DialContext(ctx, network, target, config)
	})
	return d
}

// DialContext records the call and delegates to the configured DialFunc.
func (d *Dialer) DialContext(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d.mu.Lock()
	d.calls = append(d.calls, DialCall{Network: network, Addr: addr, User: config.User})
	fn := d.dialFunc
	d.mu.Unlock()
	return fn(ctx, network, addr, config)
}

// Calls returns all recorded calls.
func (d *Dialer) Calls() []DialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DialCall, len(d.calls))
	copy(out, d.calls)
	return out
}

// SetDialFunc replaces the dial behavior.
func (d *Dialer) SetDialFunc(fn DialFunc) {
	d.mu.Lock()
	d.dialFunc = fn
	d.mu.Unlock()
}

// SetError makes every dial fail with err.
func (d *Dialer) SetError(err error) {
	d.SetDialFunc(func(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
		return nil, err
	})
}

var _ ports.SSHDialer = (*Dialer)(nil)
