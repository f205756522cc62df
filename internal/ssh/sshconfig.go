package ssh

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/acolita/shellconn/internal/config"
	"github.com/kevinburke/ssh_config"
)

// HostResolver maps ssh_config Host aliases to their HostName.
type HostResolver struct {
	cfg *ssh_config.Config
}

// LoadHostResolver reads an ssh_config file. An empty path means
// ~/.ssh/config. A missing file yields a resolver that returns hosts
// unchanged.
func LoadHostResolver(path string) (*HostResolver, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return &HostResolver{}, nil
		}
		path = filepath.Join(home, ".ssh", "config")
	}

	content, err := os.ReadFile(config.ExpandPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return &HostResolver{}, nil
		}
		return nil, fmt.Errorf("read ssh config: %w", err)
	}
	return ParseHostResolver(content)
}

// ParseHostResolver decodes ssh_config content. The library does not
// understand Match blocks, so everything from the first Match on is ignored.
func ParseHostResolver(content []byte) (*HostResolver, error) {
	cfg, err := ssh_config.Decode(bytes.NewReader(stripMatchBlocks(content)))
	if err != nil {
		return nil, fmt.Errorf("decode ssh config: %w", err)
	}
	return &HostResolver{cfg: cfg}, nil
}

// Resolve returns the HostName configured for alias, or alias itself.
func (r *HostResolver) Resolve(alias string) string {
	if r == nil || r.cfg == nil {
		return alias
	}
	if hostname, _ := r.cfg.Get(alias, "HostName"); hostname != "" {
		return hostname
	}
	return alias
}

// IdentityFile returns the IdentityFile configured for alias, expanded.
func (r *HostResolver) IdentityFile(alias string) string {
	if r == nil || r.cfg == nil {
		return ""
	}
	identity, _ := r.cfg.Get(alias, "IdentityFile")
	if identity == "" || identity == "~/.ssh/identity" {
		return ""
	}
	return config.ExpandPath(identity)
}

func stripMatchBlocks(content []byte) []byte {
	var out bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) > 0 && strings.EqualFold(fields[0], "match") {
			break
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	return out.Bytes()
}
