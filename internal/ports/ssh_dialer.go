package ports

import (
	"context"

	"golang.org/x/crypto/ssh"
)

// SSHDialer opens an SSH client connection. The dial and the handshake both
// honor ctx.
type SSHDialer interface {
	DialContext(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
}
