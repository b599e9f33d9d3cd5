package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/telegraph"
	"gorm.io/gorm"
)

// testConfig writes a config whose store and log live in a temp dir and
// returns its path and the store path.
func testConfig(t *testing.T) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "signalbox.db")
	cfg := fmt.Sprintf(`store:
  path: %s
transport:
  platform: telegram
  telegram:
    chat_id: "100"
approvals:
  poll_interval_ms: 10
questions:
  poll_interval_ms: 10
logging:
  file: %s
`, dbPath, filepath.Join(dir, "signalbox.log"))
	cfgPath = filepath.Join(dir, "signalbox.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath, dbPath
}

// mockTransports swaps the transport factory for one handing out mock
// transports, and returns a func reporting every transport built so far.
func mockTransports(t *testing.T) func() []*telegraph.MockTransport {
	t.Helper()
	var (
		mu    sync.Mutex
		built []*telegraph.MockTransport
	)
	orig := transportFactory
	transportFactory = func(*env) (telegraph.Transport, error) {
		mu.Lock()
		defer mu.Unlock()
		m := telegraph.NewMockTransport("100")
		built = append(built, m)
		return m, nil
	}
	t.Cleanup(func() { transportFactory = orig })
	return func() []*telegraph.MockTransport {
		mu.Lock()
		defer mu.Unlock()
		return append([]*telegraph.MockTransport(nil), built...)
	}
}

// runSB executes sb with args against cfgPath and returns stdout.
func runSB(t *testing.T, cfgPath, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// openStore opens the test store directly.
func openStore(t *testing.T, path string) *gorm.DB {
	t.Helper()
	gormDB, err := db.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gormDB
}

func TestVersionCmd(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "sb dev") {
		t.Errorf("expected output to contain 'sb dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "sb 1.0.0") || !strings.Contains(out, "built: 2026-01-01") {
		t.Errorf("unexpected version output: %s", out)
	}
}

func TestRootCmdHelp(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("help command failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "signalbox") {
		t.Errorf("expected help output to contain 'signalbox', got: %s", out)
	}
	if !strings.Contains(out, "--config") {
		t.Errorf("expected help output to list the --config flag, got: %s", out)
	}
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	cmd := newRootCmd()
	subs := make(map[string]bool)
	for _, c := range cmd.Commands() {
		subs[c.Name()] = true
	}
	for _, expected := range []string{
		"version", "listen", "setup", "status", "cleanup",
		"session", "hook", "ask", "approve", "notify",
	} {
		if !subs[expected] {
			t.Errorf("expected subcommand %q", expected)
		}
	}
}

func TestExecute_ExitCodes(t *testing.T) {
	ok := &cobra.Command{Use: "ok", RunE: func(*cobra.Command, []string) error { return nil }}
	if code := execute(ok); code != 0 {
		t.Errorf("success exit = %d, want 0", code)
	}

	fail := &cobra.Command{Use: "fail", SilenceErrors: true, RunE: func(*cobra.Command, []string) error {
		return errors.New("boom")
	}}
	if code := execute(fail); code != 1 {
		t.Errorf("error exit = %d, want 1", code)
	}

	timeout := &cobra.Command{Use: "timeout", SilenceErrors: true, RunE: func(*cobra.Command, []string) error {
		return &exitError{code: exitTimeout, err: errors.New("timed out")}
	}}
	if code := execute(timeout); code != exitTimeout {
		t.Errorf("timeout exit = %d, want %d", code, exitTimeout)
	}
}

func TestLoadEnv_MissingConfigUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	missing := filepath.Join(dir, "nope.yaml")

	out, err := runSB(t, missing, "", "status")
	if err != nil {
		t.Fatalf("status with missing config: %v", err)
	}
	if !strings.Contains(out, "No active sessions.") {
		t.Errorf("output = %q", out)
	}
}

func TestLoadEnv_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("transport:\n  platform: irc\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := runSB(t, path, "", "status"); err == nil {
		t.Error("expected config validation error")
	}
}
