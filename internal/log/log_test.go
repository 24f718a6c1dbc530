package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func capture(t *testing.T, l Level, f Format) *bytes.Buffer {
	t.Helper()
	var b bytes.Buffer
	SetOutput(&b, f)
	SetLevel(l)
	t.Cleanup(func() {
		SetOutput(os.Stderr, FormatConsole)
		SetLevel(LevelInfo)
	})
	return &b
}

func lines(t *testing.T, b *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(b.String()), "\n") {
		if l == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(l), &m); err != nil {
			t.Fatalf("line %q is not JSON: %v", l, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLevelFilter(t *testing.T) {
	b := capture(t, LevelWarn, FormatJSON)

	Debug("d")
	Info("i")
	Warn("w")
	Error("e", errors.New("boom"))

	got := lines(t, b)
	if len(got) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(got), b)
	}
	if got[0]["level"] != "warn" || got[0]["message"] != "w" {
		t.Errorf("first line = %v", got[0])
	}
	if got[1]["level"] != "error" || got[1]["error"] != "boom" {
		t.Errorf("second line = %v", got[1])
	}
}

func TestKeyValues(t *testing.T) {
	b := capture(t, LevelDebug, FormatJSON)

	Info("refresh done", "color", "red", "took", 3*time.Second, "n", 3, 42, "skipped", "odd")

	got := lines(t, b)
	if len(got) != 1 {
		t.Fatalf("got %d lines", len(got))
	}
	m := got[0]
	if m["color"] != "red" || m["took"] != "3s" || m["n"] != float64(3) {
		t.Errorf("fields = %v", m)
	}
	if _, ok := m["odd"]; ok {
		t.Error("a trailing key without value must be dropped")
	}
	if _, ok := m["time"]; !ok {
		t.Error("missing timestamp")
	}
}

func TestConsoleFormat(t *testing.T) {
	b := capture(t, LevelInfo, FormatConsole)

	Info("panel cleared", "color", "white")

	out := b.String()
	if !strings.Contains(out, "INF") || !strings.Contains(out, "panel cleared") || !strings.Contains(out, "color=white") {
		t.Errorf("console line = %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		err  bool
	}{
		{"", LevelInfo, false},
		{"debug", LevelDebug, false},
		{" Info ", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"ERROR", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(JSON) = %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatConsole {
		t.Errorf("ParseFormat(\"\") = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("ParseFormat(xml) should fail")
	}
}
