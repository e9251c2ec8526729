package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoggerStampsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf, Component: ComponentBackup})

	l.Info("exported", FieldFile, "gastos.zip")
	out := buf.String()
	if !strings.Contains(out, "component=backup") || !strings.Contains(out, "file=gastos.zip") {
		t.Fatalf("unexpected output: %s", out)
	}

	buf.Reset()
	l.WithComponent(ComponentAMQP).Warn("publish failed")
	if !strings.Contains(buf.String(), "component=amqp") {
		t.Fatalf("component not switched: %s", buf.String())
	}
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf, Level: ParseLevel("warn")})
	l.Info("hidden")
	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected nothing below warn, got %s", buf.String())
	}
	l.Error("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("error not logged")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestStructuredLogger(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(New(Config{Output: &buf}))

	r := httptest.NewRequest("POST", "/backup/import?replace_all=true", nil)
	sl.LogHTTPEnd(context.Background(), r, 500, 12, "10.0.0.1")
	out := buf.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "status_code=500") {
		t.Fatalf("unexpected output: %s", out)
	}

	buf.Reset()
	sl.LogError(context.Background(), "import failed", errors.New("boom"), ComponentBackup, OpImport, nil)
	out = buf.String()
	if !strings.Contains(out, "error=boom") || !strings.Contains(out, "operation=import") || !strings.Contains(out, "component=backup") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestFromContextFallback(t *testing.T) {
	if l := FromContext(context.Background()); l == nil || l.Component() != "unknown" {
		t.Fatalf("expected fallback logger")
	}
}
