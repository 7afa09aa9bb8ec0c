package slog

import (
	"bytes"
	stdslog "log/slog"
	"strings"
	"testing"

	"github.com/unkn0wn-root/gqlcache"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	l := Logger{L: stdslog.New(stdslog.NewTextHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelInfo}))}

	l.Debug("hidden", gqlcache.Fields{"x": 1})
	l.Warn("dropped persisted snapshot", gqlcache.Fields{"reason": "stale generation", "ns": "app"})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line written below level: %q", out)
	}
	want := `level=WARN msg="dropped persisted snapshot" ns=app reason="stale generation"`
	if !strings.Contains(out, want) {
		t.Fatalf("got %q want it to contain %q", out, want)
	}
}
