package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/signalbox/internal/config"
	"go.uber.org/zap"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sb.log")
	logger, err := New(config.LoggingConfig{Level: "info", File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("listener online", zap.String("platform", "telegram"))
	logger.Debug("hidden at info level")
	logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("log lines = %d, want 1:\n%s", len(lines), data)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "listener online" || entry["platform"] != "telegram" {
		t.Errorf("entry = %v", entry)
	}
	if _, ok := entry["pid"]; !ok {
		t.Error("entry missing pid")
	}
}

func TestNew_DebugLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sb.log")
	logger, err := New(config.LoggingConfig{Level: "debug", File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug("visible")
	logger.Sync()
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "visible") {
		t.Error("debug entry not written at debug level")
	}
}

func TestNew_BadLevel(t *testing.T) {
	if _, err := New(config.LoggingConfig{Level: "chatty", File: Stderr}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	l := zap.NewExample()
	if OrNop(l) != l {
		t.Error("OrNop should return a non-nil logger unchanged")
	}
}
