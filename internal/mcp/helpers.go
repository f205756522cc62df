package mcp

import (
	"encoding/json"
	"sort"

	"github.com/acolita/shellconn/internal/config"
	"github.com/acolita/shellconn/internal/errors"
	"github.com/acolita/shellconn/internal/session"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	descConnectionID = "The connection id returned by ssh_connect"

	errConnectionIDRequired = "connection_id is required"
	errTabIDRequired        = "tab_id is required"
	errNoProfileStore       = "profile store is not configured"
)

// connectionFromRequest builds the config for connect-like tools. A
// profile_id, or an id without a host, is looked up in the configured
// connections and then in the profile store.
func (s *Server) connectionFromRequest(req mcp.CallToolRequest) (config.ConnectionConfig, error) {
	if ref := req.GetString("profile_id", ""); ref != "" {
		return s.lookupProfile(ref)
	}

	conn := s.inlineConnection(req)
	if conn.Host == "" && conn.ID != "" {
		return s.lookupProfile(conn.ID)
	}
	if err := s.fillPassword(&conn); err != nil {
		return config.ConnectionConfig{}, err
	}
	return conn, nil
}

func (s *Server) lookupProfile(ref string) (config.ConnectionConfig, error) {
	cfg := s.currentConfig()

	if conn, ok := cfg.FindConnection(ref); ok {
		if err := s.fillPassword(&conn); err != nil {
			return config.ConnectionConfig{}, err
		}
		return conn.WithDefaults(cfg.Defaults), nil
	}
	if s.profiles == nil {
		return config.ConnectionConfig{}, errors.New(errors.CodeNotFound, "profile %s not found", ref)
	}

	conn, err := s.profiles.ResolveProfile(ref)
	if err != nil {
		return config.ConnectionConfig{}, err
	}
	return conn.WithDefaults(cfg.Defaults), nil
}

// fillPassword loads a missing password from the secrets store by id. A
// missing secret is left for validation to report.
func (s *Server) fillPassword(conn *config.ConnectionConfig) error {
	if s.secrets == nil || conn.ID == "" || conn.Password != "" || conn.AuthMethod == config.AuthPrivateKey {
		return nil
	}
	secret, err := s.secrets.LoadSecret(conn.ID)
	if err != nil {
		if errors.IsCode(err, errors.CodeMissingCredential) {
			return nil
		}
		return err
	}
	conn.Password = secret
	if conn.AuthMethod == "" && conn.PrivateKeyPath == "" {
		conn.AuthMethod = config.AuthPassword
	}
	return nil
}

// inlineConnection reads the connection fields of req. Unset fields take the
// configured defaults, and the name falls back to the host.
func (s *Server) inlineConnection(req mcp.CallToolRequest) config.ConnectionConfig {
	defaults := s.currentConfig().Defaults

	conn := config.ConnectionConfig{
		ID:             req.GetString("id", ""),
		Name:           req.GetString("name", ""),
		Host:           req.GetString("host", ""),
		Port:           req.GetInt("port", 0),
		Username:       req.GetString("username", ""),
		Password:       req.GetString("password", ""),
		PrivateKeyPath: req.GetString("private_key_path", ""),
		Passphrase:     req.GetString("passphrase", ""),
	}
	if conn.Name == "" {
		conn.Name = conn.Host
	}
	if method, ok := authMethodArg(req); ok {
		conn.AuthMethod = method
	}

	patterns := req.GetStringSlice("prompt_patterns", nil)
	maxWait := req.GetInt("max_wait_time", 0)
	if len(patterns) > 0 || maxWait > 0 {
		conn.Prompt = defaults.Prompt
		if conn.Prompt.IsZero() {
			conn.Prompt = config.DefaultPromptConfig()
		}
		if len(patterns) > 0 {
			conn.Prompt.Patterns = patterns
		}
		if maxWait > 0 {
			conn.Prompt.MaxWaitTime = int64(maxWait)
		}
	}

	if conn.Host == "" {
		return conn
	}
	return conn.WithDefaults(defaults)
}

// authMethodArg reads auth_method. An unknown value is returned as given so
// validation names the field.
func authMethodArg(req mcp.CallToolRequest) (config.AuthMethod, bool) {
	raw := req.GetString("auth_method", "")
	if raw == "" {
		return "", false
	}
	method, err := config.ParseAuthMethod(raw)
	if err != nil {
		return config.AuthMethod(raw), true
	}
	return method, true
}

// mergeProfile overwrites the fields of cfg that req sets. The id never
// changes.
func mergeProfile(cfg config.ConnectionConfig, req mcp.CallToolRequest) config.ConnectionConfig {
	for key, dst := range map[string]*string{
		"name":             &cfg.Name,
		"host":             &cfg.Host,
		"username":         &cfg.Username,
		"password":         &cfg.Password,
		"private_key_path": &cfg.PrivateKeyPath,
		"passphrase":       &cfg.Passphrase,
	} {
		if v := req.GetString(key, ""); v != "" {
			*dst = v
		}
	}
	if port := req.GetInt("port", 0); port > 0 {
		cfg.Port = port
	}
	if method, ok := authMethodArg(req); ok {
		cfg.AuthMethod = method
	}

	patterns := req.GetStringSlice("prompt_patterns", nil)
	maxWait := req.GetInt("max_wait_time", 0)
	if (len(patterns) > 0 || maxWait > 0) && cfg.Prompt.IsZero() {
		cfg.Prompt = config.DefaultPromptConfig()
	}
	if len(patterns) > 0 {
		cfg.Prompt.Patterns = patterns
	}
	if maxWait > 0 {
		cfg.Prompt.MaxWaitTime = int64(maxWait)
	}
	return cfg
}

// filterSessions keeps the sessions whose id, name or host matches pattern.
func filterSessions(infos []session.Info, pattern string, connectedOnly bool) ([]session.Info, error) {
	out := make([]session.Info, 0, len(infos))
	for _, info := range infos {
		if connectedOnly && !info.Status.IsConnected() {
			continue
		}
		ok, err := matchAny(pattern, info.ID, info.Name, info.Host)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// filterConfigs keeps the configs whose id, name or host matches pattern.
func filterConfigs(conns []config.ConnectionConfig, pattern string) ([]config.ConnectionConfig, error) {
	out := make([]config.ConnectionConfig, 0, len(conns))
	for _, c := range conns {
		ok, err := matchAny(pattern, c.ID, c.Name, c.Host)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func matchAny(pattern string, values ...string) (bool, error) {
	if pattern == "" {
		return true, nil
	}
	if !doublestar.ValidatePattern(pattern) {
		return false, errors.New(errors.CodeConfigInvalid, "invalid pattern %q", pattern)
	}
	for _, v := range values {
		if doublestar.MatchUnvalidated(pattern, v) {
			return true, nil
		}
	}
	return false, nil
}

// toolError reports err to the client, prefixed with its code when it has
// one.
func toolError(err error) *mcp.CallToolResult {
	if code := errors.CodeOf(err); code != "" {
		return mcp.NewToolResultError(string(code) + ": " + err.Error())
	}
	return mcp.NewToolResultError(err.Error())
}

// jsonResult converts a value to a JSON tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
