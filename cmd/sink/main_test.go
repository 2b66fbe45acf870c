package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modoterra/logsink/pkg/core"
)

func writeConfig(t *testing.T, logs string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sink.yaml")
	content := `sink:
  url: http://ci.example/logs/@@/log
  logs: ` + logs + `
  prune_interval: 0
github:
  token_file: ` + filepath.Join(t.TempDir(), "missing-token") + `
journal:
  enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	t.Cleanup(func() {
		configPath, dryRun, verbose = "", false, false
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRunCommand(t *testing.T) {
	// The run changes into its directory; the cleanup restores the cwd.
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
	logs := t.TempDir()
	cfgPath := writeConfig(t, logs)

	out, err := execute(t, "{\"message\":\"start\"}\nhello\n{\"message\":\"done\"}\n", "--config", cfgPath, "build-7")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "hello\n") {
		t.Errorf("log not echoed: %q", out)
	}

	log, err := os.ReadFile(filepath.Join(logs, "build-7", "log"))
	if err != nil || string(log) != "hello\n" {
		t.Errorf("log = %q, %v", log, err)
	}
	status, err := os.ReadFile(filepath.Join(logs, "build-7", "status"))
	if err != nil || !strings.Contains(string(status), `"message": "done"`) {
		t.Errorf("status = %s, %v", status, err)
	}
	if !strings.Contains(string(status), "http://ci.example/logs/build-7/log") {
		t.Errorf("status link not resolved: %s", status)
	}
}

func TestRunCommandRejectsIdentifier(t *testing.T) {
	logs := t.TempDir()
	cfgPath := writeConfig(t, logs)

	_, err := execute(t, "", "--config", cfgPath, "../escape")
	if !errors.Is(err, core.ErrInvalidIdentifier) {
		t.Fatalf("err = %v, want ErrInvalidIdentifier", err)
	}
	if entries, _ := os.ReadDir(logs); len(entries) != 0 {
		t.Errorf("log root touched: %v", entries)
	}
}

func TestPruneCommandDryRun(t *testing.T) {
	logs := t.TempDir()
	cfgPath := writeConfig(t, logs)
	if err := os.MkdirAll(filepath.Join(logs, "empty-run"), 0o755); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "", "prune", "--dry-run", "--config", cfgPath)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if !strings.Contains(out, "would remove 1") {
		t.Errorf("output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(logs, "empty-run")); err != nil {
		t.Errorf("dry run removed the run: %v", err)
	}
}

func TestConfigValidateCommand(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir())
	out, err := execute(t, "", "config", "validate", cfgPath)
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "valid") {
		t.Errorf("output = %q", out)
	}
}

func TestConfigValidateInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	content := "sink:\n  url: not-a-url\n  logs: relative/logs\n  prune_interval: -1\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "", "config", "validate", path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(out, "3 error(s)") {
		t.Errorf("output = %q", out)
	}
}

func TestConfigShowCommand(t *testing.T) {
	logs := t.TempDir()
	out, err := execute(t, "", "config", "show", "--config", writeConfig(t, logs))
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "logs: "+logs) {
		t.Errorf("output = %q", out)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "sink dev") {
		t.Errorf("version output = %q", out)
	}
}
