package log

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestSimpleFormatterLayout(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger("debug", &buf)

	logger.WithFields(map[string]interface{}{"robot": "dog-1", "a": 1}).Warnf("battery at %d%%", 18)

	line := strings.TrimSpace(buf.String())
	pattern := regexp.MustCompile(`^\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2}\.\d{6} \[WAR\] battery at 18% a=1 robot=dog-1$`)
	if !pattern.MatchString(line) {
		t.Fatalf("unexpected log line: %q", line)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger("warn", &buf)

	logger.Infof("hidden")
	logger.Debugf("hidden")
	logger.Errorf("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info/debug should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "[ERR] shown") {
		t.Errorf("expected error line, got %q", out)
	}
}

func TestInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger("chatty", &buf)
	logger.Debugf("debug")
	logger.Infof("info")
	if strings.Contains(buf.String(), "debug") || !strings.Contains(buf.String(), "info") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestWithFieldDoesNotLeak(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriterLogger("info", &buf)
	base.WithField("component", "engine").Infof("one")
	base.Infof("two")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.HasSuffix(lines[0], "one component=engine") {
		t.Errorf("field missing: %q", lines[0])
	}
	if strings.Contains(lines[1], "component") {
		t.Errorf("field leaked into parent logger: %q", lines[1])
	}
}

func TestRotatingLoggerWritesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger, err := NewRotatingLogger("info", dir, Rotation{MaxSizeMB: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("NewRotatingLogger failed: %v", err)
	}
	logger.Infof("persisted line")

	data, err := os.ReadFile(filepath.Join(dir, "controller.log"))
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if !strings.Contains(string(data), "[INF] persisted line") {
		t.Errorf("log file missing entry: %q", string(data))
	}
}
