// Package realsshdialer implements ports.SSHDialer over TCP.
package realsshdialer

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/acolita/shellconn/internal/ports"
	"golang.org/x/crypto/ssh"
)

// Dialer dials TCP with a net.Dialer and runs the SSH handshake on the
// resulting connection.
type Dialer struct {
	net net.Dialer
}

// New creates a Dialer.
func New() *Dialer {
	return &Dialer{}
}

// DialContext establishes an SSH connection to addr. The handshake is bounded
// by config.Timeout and aborted when ctx is done.
func (d *Dialer) DialContext(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	conn, err := d.net.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	// Closing the socket is the only way to interrupt a handshake in
	// progress.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if !stop() && err == nil {
		c.Close()
		return nil, fmt.Errorf("handshake %s: %w", addr, ctx.Err())
	}
	if err != nil {
		conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("handshake %s: %w", addr, ctxErr)
		}
		return nil, err
	}

	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

var _ ports.SSHDialer = (*Dialer)(nil)
