package ssh

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync/atomic"

	"github.com/acolita/shellconn/internal/config"
	"github.com/acolita/shellconn/internal/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethods returns the ordered auth methods for cfg.
//
// x/crypto/ssh authenticates during the handshake and tries methods in
// order, stopping at the first success. Each configured credential gets a
// single attempt.
func AuthMethods(cfg config.ConnectionConfig) ([]ssh.AuthMethod, error) {
	switch cfg.AuthMethod {
	case config.AuthPassword:
		if cfg.Password == "" {
			return nil, errors.New(errors.CodeMissingCredential, "password authentication selected but no password is set")
		}
		pw, interactive := passwordMethods(cfg.Password)
		return []ssh.AuthMethod{pw, interactive}, nil

	case config.AuthPrivateKey:
		if cfg.PrivateKeyPath == "" {
			return nil, errors.New(errors.CodeMissingCredential, "private key authentication selected but no key path is set")
		}
		key, err := privateKeyAuth(cfg.KeyPath(), cfg.Passphrase)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeAuthFailed, "load private key %s", cfg.PrivateKeyPath)
		}
		return []ssh.AuthMethod{key}, nil

	case config.AuthBoth:
		var methods []ssh.AuthMethod
		var interactive ssh.AuthMethod
		if cfg.Password != "" {
			var pw ssh.AuthMethod
			pw, interactive = passwordMethods(cfg.Password)
			methods = append(methods, pw)
		}
		if cfg.PrivateKeyPath != "" {
			key, err := privateKeyAuth(cfg.KeyPath(), cfg.Passphrase)
			if err != nil {
				// The password may still succeed on its own.
				if len(methods) == 0 {
					return nil, errors.Wrap(err, errors.CodeAuthFailed, "load private key %s", cfg.PrivateKeyPath)
				}
			} else {
				methods = append(methods, key)
			}
		}
		// Keyboard-interactive goes last so an aborted challenge never
		// precedes the key attempt.
		if interactive != nil {
			methods = append(methods, interactive)
		}
		if len(methods) == 0 {
			return nil, errors.New(errors.CodeMissingCredential, "neither password nor private key is configured")
		}
		return methods, nil
	}

	return nil, errors.New(errors.CodeConfigInvalid, "unknown auth method %q", cfg.AuthMethod)
}

// errPasswordSpent aborts a keyboard-interactive challenge once the
// password has been submitted.
var errPasswordSpent = fmt.Errorf("ssh: password already submitted")

// passwordMethods offers the password as "password" and as the answer to
// keyboard-interactive challenges, since many servers only enable the
// latter. Both share one submission: whichever runs first sends the
// password and the other refuses.
func passwordMethods(password string) (pw, interactive ssh.AuthMethod) {
	var spent atomic.Bool
	pw = ssh.PasswordCallback(func() (string, error) {
		if spent.Swap(true) {
			return "", errPasswordSpent
		}
		return password, nil
	})
	interactive = ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		if len(questions) == 0 {
			return nil, nil
		}
		if spent.Swap(true) {
			return nil, errPasswordSpent
		}
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	})
	return pw, interactive
}

func privateKeyAuth(keyPath, passphrase string) (ssh.AuthMethod, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return ssh.PublicKeys(signer), nil
}

// AgentAuth offers the keys held by the ssh-agent listening on socket. The
// returned closer releases the agent connection once the handshake is done.
func AgentAuth(socket string) (ssh.AuthMethod, io.Closer, error) {
	if socket == "" {
		return nil, nil, fmt.Errorf("agent socket not set")
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, nil, fmt.Errorf("dial agent: %w", err)
	}
	client := agent.NewClient(conn)
	return ssh.PublicKeysCallback(client.Signers), conn, nil
}

// Authenticator is anything that can report its authentication state.
type Authenticator interface {
	Authenticated() bool
}

// VerifyAuthenticated re-checks the transport after the handshake and turns
// a silently unauthenticated transport into AuthFailed.
func VerifyAuthenticated(a Authenticator) error {
	if !a.Authenticated() {
		return errors.New(errors.CodeAuthFailed, "transport reports not authenticated after handshake")
	}
	return nil
}

// classifyDialError separates credential rejections from network and
// handshake failures.
func classifyDialError(err error, addr string) error {
	var keyErr *knownhosts.KeyError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(err, errors.CodeTransport, "connect %s", addr)
	case strings.Contains(err.Error(), "unable to authenticate"), errors.Is(err, errPasswordSpent):
		return errors.Wrap(err, errors.CodeAuthFailed, "authenticate to %s", addr)
	case errors.As(err, &keyErr):
		return errors.Wrap(err, errors.CodeTransport, "host key verification for %s", addr)
	}
	return errors.Wrap(err, errors.CodeTransport, "connect %s", addr)
}

// BuildHostKeyCallback returns the host key policy.
//
// With strict checking the known_hosts file (default ~/.ssh/known_hosts)
// must exist. Without it, a present file is still honored and a missing
// one means any key is accepted.
func BuildHostKeyCallback(knownHostsPath string, strict bool) (ssh.HostKeyCallback, error) {
	if knownHostsPath == "" {
		if !strict {
			return ssh.InsecureIgnoreHostKey(), nil
		}
		knownHostsPath = "~/.ssh/known_hosts"
	}

	expanded := config.ExpandPath(knownHostsPath)
	if _, err := os.Stat(expanded); os.IsNotExist(err) {
		if strict {
			return nil, fmt.Errorf("known_hosts %s does not exist", expanded)
		}
		return ssh.InsecureIgnoreHostKey(), nil
	}

	callback, err := knownhosts.New(expanded)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return callback, nil
}
