package app

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestPrettyHandler_PlainLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))
	log.With("component", "ws").WithGroup("req").Warn("http.request",
		"method", "get",
		"status", 404,
		"duration_ms", int64(12),
		"note", "two words",
		"err", errors.New("boom"),
	)

	line := buf.String()
	for _, want := range []string{
		"WARN",
		"http.request",
		"component=ws",
		"req.method=GET",
		"req.status=404",
		"req.duration=12ms",
		`req.note="two words"`,
		"req.err=boom",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("missing %q in %q", want, line)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Errorf("unexpected escape codes in %q", line)
	}
}

func TestPrettyHandler_Color(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	slog.New(newPrettyHandler(&buf, nil, true)).Error("server.fail", "status", 503)
	if !strings.Contains(buf.String(), "\x1b[") {
		t.Fatalf("expected colored output, got %q", buf.String())
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":        `""`,
		"plain":   "plain",
		"a b":     `"a b"`,
		"k=v":     `"k=v"`,
		`say "x"`: `"say \"x\""`,
	}
	for in, want := range cases {
		if got := quoteIfNeeded(in); got != want {
			t.Errorf("quoteIfNeeded(%q)=%q want %q", in, got, want)
		}
	}
}
