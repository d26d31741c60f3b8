package logger

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestSLogLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewSLogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	l.Warn("snapshot resolution failed", "principal_id", int64(5), "error", errors.New("store down"), "dangling")

	out := buf.String()
	for _, want := range []string{"level=WARN", "principal_id=5", `error="store down"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "dangling") {
		t.Fatalf("odd trailing key should be dropped: %q", out)
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	r.Info("super admin bypass", "principal_id", int64(9))
	r.Info("super admin bypass", "principal_id", int64(9))
	r.Debug("snapshot invalidated")

	if r.Count("info", "super admin bypass") != 2 || r.Count("debug", "snapshot invalidated") != 1 {
		t.Fatalf("entries = %+v", r.Entries())
	}
	if got := r.Entries()[0].Fields["principal_id"]; got != int64(9) {
		t.Fatalf("field = %v", got)
	}
}

func TestLoggersSatisfyInterface(t *testing.T) {
	for _, l := range []Logger{NewNullLogger(), NewPhusluLogger(), NewRecorder(), NewSLogLogger(nil)} {
		l.Debug("ping", "k", 1)
	}
}
