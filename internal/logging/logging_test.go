package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("invalid JSON log line %q: %v", buf.String(), err)
	}
	return m
}

func TestSanitizingHandlerRedactsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", true)

	logger.Info("connect",
		slog.String("host", "example.com"),
		slog.String("password", "hunter2"),
		slog.String("Key_Passphrase", "s3cret"),
		slog.String("auth_method", "both"),
	)

	m := decode(t, &buf)
	if m["host"] != "example.com" {
		t.Errorf("host = %v, want example.com", m["host"])
	}
	for _, k := range []string{"password", "Key_Passphrase", "auth_method"} {
		if m[k] != redacted {
			t.Errorf("%s = %v, want %s", k, m[k], redacted)
		}
	}
}

func TestSanitizingHandlerRedactsGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", true)

	logger.Info("cfg", slog.Group("conn", slog.String("user", "root"), slog.String("secret", "x")))

	conn, ok := decode(t, &buf)["conn"].(map[string]any)
	if !ok {
		t.Fatal("conn group missing")
	}
	if conn["user"] != "root" {
		t.Errorf("conn.user = %v", conn["user"])
	}
	if conn["secret"] != redacted {
		t.Errorf("conn.secret = %v, want %s", conn["secret"], redacted)
	}
}

func TestSanitizingHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", true).With(slog.String("token", "abc"), slog.String("id", "c1"))

	logger.Info("x")

	m := decode(t, &buf)
	if m["token"] != redacted {
		t.Errorf("token = %v, want %s", m["token"], redacted)
	}
	if m["id"] != "c1" {
		t.Errorf("id = %v", m["id"])
	}
}

func TestSanitizeDisabled(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", false)

	logger.Info("x", slog.String("password", "visible"))

	if got := decode(t, &buf)["password"]; got != "visible" {
		t.Errorf("password = %v, want visible when sanitizing is off", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", true)

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info record written at warn level: %s", buf.String())
	}
	if !logger.Handler().Enabled(context.Background(), slog.LevelError) {
		t.Error("error level should be enabled")
	}
}

func TestChunk(t *testing.T) {
	a := Chunk("data", []byte("line\r\n$ "), -1)
	if a.Value.String() != `"line\r\n$ "` {
		t.Errorf("Chunk() = %s", a.Value.String())
	}

	a = Chunk("data", []byte("abcdefgh"), 3)
	if a.Value.String() != `"abc..."` {
		t.Errorf("Chunk(truncated) = %s", a.Value.String())
	}
}
