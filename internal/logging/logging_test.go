package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestPreInitLoggerUsesConfiguredCore(t *testing.T) {
	logger := L("monitor")

	var buf bytes.Buffer
	Init("json", "info", &buf)

	logger.Info("controller connected", zap.String(KeyDevice, "/dev/input/event7"))

	out := buf.String()
	if !strings.Contains(out, `"msg":"controller connected"`) {
		t.Fatalf("expected message, got: %s", out)
	}
	if !strings.Contains(out, `"component":"monitor"`) {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, `"device":"/dev/input/event7"`) {
		t.Fatalf("expected device field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("idle")

	var buf bytes.Buffer
	Init("console", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown", zap.Error(errors.New("boom")))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "boom") {
		t.Fatalf("warn log should be emitted with error: %s", out)
	}
}

func TestChildFieldsSurviveReinit(t *testing.T) {
	logger := L("battery").With(zap.String(KeyMAC, "aa:bb"))

	var first, second bytes.Buffer
	Init("json", "debug", &first)
	logger.Debug("one")
	Init("json", "debug", &second)
	logger.Debug("two")

	if strings.Contains(first.String(), "two") {
		t.Fatalf("second entry written to first sink: %s", first.String())
	}
	if !strings.Contains(second.String(), `"mac":"aa:bb"`) {
		t.Fatalf("expected mac field after reinit, got: %s", second.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", "debug"},
		{"WARN", "warn"},
		{"warning", "warn"},
		{"error", "error"},
		{"", "info"},
		{"bogus", "info"},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in).String(); got != tt.want {
			t.Errorf("parseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestRotatingWriterRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "padwatch.log")
	rw, err := NewRotatingWriter(path, 1, 2)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer rw.Close()
	rw.maxSize = 16

	for _, line := range []string{"0123456789\n", "abcdefghij\n", "ABCDEFGHIJ\n"} {
		if _, err := rw.Write([]byte(line)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	cur, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(cur) != "ABCDEFGHIJ\n" {
		t.Errorf("current log = %q", cur)
	}
	b1, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatal(err)
	}
	if string(b1) != "abcdefghij\n" {
		t.Errorf("backup .1 = %q", b1)
	}
	b2, err := os.ReadFile(path + ".2")
	if err != nil {
		t.Fatal(err)
	}
	if string(b2) != "0123456789\n" {
		t.Errorf("backup .2 = %q", b2)
	}
}
