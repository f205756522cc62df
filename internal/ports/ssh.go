package ports

import (
	"errors"
	"io"
	"time"
)

// ErrChannelDraining reports that the channel is temporarily unable to
// deliver data. Readers should back off and retry.
var ErrChannelDraining = errors.New("channel temporarily draining")

// ShellRequest describes the pseudo-terminal requested for a shell.
type ShellRequest struct {
	Term string
	Rows int
	Cols int
	Env  map[string]string
}

// Transport is an authenticated SSH connection.
type Transport interface {
	// OpenShell opens a PTY-backed interactive shell on the connection.
	OpenShell(req ShellRequest) (ShellChannel, error)

	// Authenticated reports whether the connection is still authenticated
	// and alive.
	Authenticated() bool

	// Close disconnects the transport.
	Close() error
}

// ShellChannel is a duplex byte stream to a remote shell.
//
// Read waits at most one poll interval and returns (0, nil) when no data
// arrived in that window. It returns io.EOF once the remote side closed.
type ShellChannel interface {
	io.Reader
	io.Writer
	io.Closer
}

// TimedReader is implemented by channels that can wait longer than their
// poll interval for a single read.
type TimedReader interface {
	ReadTimeout(p []byte, d time.Duration) (int, error)
}
