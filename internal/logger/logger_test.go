package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestDiscard(t *testing.T) {
	t.Parallel()
	log := Discard()
	log.With("k", "v").WithGroup("g").Error("dropped")
}

func TestOpen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		format string
		want   string
	}{
		{"json", `"msg":"opened"`},
		{"text", "msg=opened"},
		{"pretty", "opened"},
		{"", "opened"},
	}
	for _, tc := range tests {
		var buf bytes.Buffer
		log, err := Open(&buf, tc.format, "info")
		if err != nil {
			t.Fatalf("Open(%q): %v", tc.format, err)
		}
		log.Info("opened")
		if !strings.Contains(buf.String(), tc.want) {
			t.Fatalf("Open(%q): expected %q in output, got: %s", tc.format, tc.want, buf.String())
		}
	}

	if _, err := Open(&bytes.Buffer{}, "yaml", "info"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestOpenLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log, err := Open(&buf, "text", "warn")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	log.Info("quiet")
	if buf.Len() > 0 {
		t.Fatalf("expected info to be filtered at warn level, got: %s", buf.String())
	}
}

func TestPrettyWithoutColor(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil).WithoutColor()
	slog.New(h).Info("plain", "algo", 1)

	output := buf.String()
	if strings.Contains(output, "\033[") {
		t.Fatalf("expected no ANSI escapes, got: %q", output)
	}
	if !strings.Contains(output, "INFO  plain algo=1") {
		t.Fatalf("unexpected plain output: %q", output)
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		open  func(*bytes.Buffer) Logger
		quiet func(Logger)
		loud  func(Logger)
	}{
		{
			name:  "json warn",
			open:  func(b *bytes.Buffer) Logger { return JSON(b, slog.LevelWarn) },
			quiet: func(l Logger) { l.Info("selected algorithms") },
			loud:  func(l Logger) { l.Warn("serializing dgrad and wgrad") },
		},
		{
			name: "pretty debug",
			open: func(b *bytes.Buffer) Logger {
				return New(NewPrettyHandler(b, &slog.HandlerOptions{Level: slog.LevelInfo}).WithoutColor())
			},
			quiet: func(l Logger) { l.Debug("engine ready") },
			loud:  func(l Logger) { l.Error("discovery failed") },
		},
	}
	for _, tc := range tests {
		var buf bytes.Buffer
		log := tc.open(&buf)
		tc.quiet(log)
		if buf.Len() > 0 {
			t.Fatalf("%s: expected record to be filtered, got: %s", tc.name, buf.String())
		}
		tc.loud(log)
		if buf.Len() == 0 {
			t.Fatalf("%s: expected record to be written", tc.name)
		}
	}
}

func TestJSONAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo).With("backend", "sim").WithGroup("sel")
	log.Info("selected", "forward", 6)

	out := buf.String()
	for _, want := range []string{`"backend":"sim"`, `"sel":{"forward":6}`, `"level":"INFO"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in output, got: %s", want, out)
		}
	}
}

func TestPrettyAttrs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		log  func(Logger)
		want string
	}{
		{"plain", func(l Logger) { l.Info("ready", "arch", "sm_70") }, "ready arch=sm_70"},
		{"quoted", func(l Logger) { l.Info("ready", "device", "sim avx2") }, `device="sim avx2"`},
		{"with", func(l Logger) { l.With("role", "forward").Info("ready") }, "ready role=forward"},
		{"group", func(l Logger) { l.WithGroup("ws").WithGroup("dual").Info("plan", "bytes", 1536) }, "ws.dual.bytes=1536"},
		{"empty group", func(l Logger) { l.WithGroup("").Info("plan", "bytes", 512) }, "plan bytes=512"},
		{"nested attr", func(l Logger) { l.Info("plan", slog.Group("offsets", "data", 0, "filter", 1024)) }, "offsets={data=0 filter=1024}"},
	}
	for _, tc := range tests {
		var buf bytes.Buffer
		tc.log(New(NewPrettyHandler(&buf, nil).WithoutColor()))
		if !strings.Contains(buf.String(), tc.want) {
			t.Fatalf("%s: expected %q in output, got: %q", tc.name, tc.want, buf.String())
		}
	}
}

func TestContext(t *testing.T) {
	t.Parallel()

	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext should fall back to a default logger")
	}
	var buf bytes.Buffer
	ctx := WithContext(context.Background(), JSON(&buf, slog.LevelInfo))
	FromContext(ctx).Info("from context")
	if !strings.Contains(buf.String(), "from context") {
		t.Fatalf("expected context logger to be used, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
