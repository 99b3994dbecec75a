package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"
)

// runApp runs the application with args and returns stdout and the error.
// Exit codes are returned instead of terminating the test binary.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := App()
	app.Writer = &stdout
	app.ErrWriter = &stderr
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run(append([]string{"dagnode"}, args...))
	return stdout.String(), err
}

func exitCodeOf(t *testing.T, err error) int {
	t.Helper()
	var coder cli.ExitCoder
	if !errors.As(err, &coder) {
		t.Fatalf("error %v carries no exit code", err)
	}
	return coder.ExitCode()
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dagnode.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func decodeJSON(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, s)
	}
	return m
}

func lookup(m map[string]any, path string) any {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		next, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = next[part]
	}
	return cur
}

func TestApp(t *testing.T) {
	app := App()
	if app.Name != "dagnode" {
		t.Errorf("Name = %q", app.Name)
	}
	if app.Action == nil {
		t.Error("running without a command should start the node")
	}

	commands := make(map[string]bool)
	for _, cmd := range app.Commands {
		commands[cmd.Name] = true
	}
	for _, name := range []string{"run", "config", "version"} {
		if !commands[name] {
			t.Errorf("missing command %q", name)
		}
	}

	flags := make(map[string]bool)
	for _, f := range app.Flags {
		flags[f.Names()[0]] = true
	}
	for name := range flagKeys {
		if !flags[name] {
			t.Errorf("override flag %q not registered", name)
		}
	}
	if !flags["config"] {
		t.Error("missing --config")
	}
}

func TestConfigShow_Layers(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: /from/file
network:
  bind_port: 4000
shutdown:
  release_timeout: 90s
secret_store:
  passphrase: hunter2-hunter2
`)
	t.Setenv("DAGNODE_NETWORK__BIND_PORT", "4100")

	out, err := runApp(t, "-c", path, "--data-dir", "/from/flag", "--mining", "config", "show", "-o", "json")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	m := decodeJSON(t, out)

	tests := []struct {
		key  string
		want any
	}{
		{"storage.data_dir", "/from/flag"},
		{"network.bind_port", 4100.0},
		{"shutdown.release_timeout", "1m30s"},
		{"mining.enabled", true},
		{"node.test_mode", false},
	}
	for _, tt := range tests {
		if got := lookup(m, tt.key); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.key, got, tt.want)
		}
	}
	if got := lookup(m, "secret_store.passphrase"); got == "hunter2-hunter2" {
		t.Error("passphrase printed in clear")
	}
}

func TestConfigCheck(t *testing.T) {
	author := strings.Repeat("ab", 20)

	tests := []struct {
		name     string
		args     []string
		wantCode int // 0 means success
	}{
		{"defaults", nil, 0},
		{"mining with author", []string{"--mining", "--author", author}, 0},
		{"mining without author", []string{"--mining"}, exitConfig},
		{"prefixed author", []string{"--author", "0x" + author}, exitConfig},
		{"bad log level", []string{"--log-level", "loud"}, exitConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append(append([]string{}, tt.args...), "config", "check", "-o", "yaml")
			out, err := runApp(t, args...)
			if tt.wantCode == 0 {
				if err != nil {
					t.Fatalf("config check: %v", err)
				}
				if !strings.Contains(out, "storage:\n") {
					t.Errorf("config check printed:\n%s", out)
				}
				return
			}
			if code := exitCodeOf(t, err); code != tt.wantCode {
				t.Errorf("exit code = %d, want %d (%v)", code, tt.wantCode, err)
			}
		})
	}
}

func TestConfigCheck_ConfigFromEnv(t *testing.T) {
	path := writeConfig(t, "network:\n  bind_port: 0\n  seeds: [\"nohost\"]\n")
	t.Setenv("DAGNODE_CONFIG", path)

	_, err := runApp(t, "config", "check")
	if code := exitCodeOf(t, err); code != exitConfig {
		t.Errorf("exit code = %d, want %d", code, exitConfig)
	}
}

func TestConfigCheck_UnreadableFile(t *testing.T) {
	_, err := runApp(t, "-c", filepath.Join(t.TempDir(), "absent.yaml"), "config", "check")
	if code := exitCodeOf(t, err); code != exitConfig {
		t.Errorf("exit code = %d, want %d", code, exitConfig)
	}
}

func TestConfigCheck_TableOutput(t *testing.T) {
	out, err := runApp(t, "config", "check", "-o", "table")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "KEY") || !strings.Contains(out, "network.bind_port") {
		t.Errorf("table output:\n%s", out)
	}

	_, err = runApp(t, "config", "check", "-o", "xml")
	if code := exitCodeOf(t, err); code != exitUsage {
		t.Errorf("exit code = %d, want %d", code, exitUsage)
	}
}

func TestVersion(t *testing.T) {
	out, err := runApp(t, "version", "-o", "json")
	if err != nil {
		t.Fatal(err)
	}
	m := decodeJSON(t, out)
	if m["version"] == "" || m["go_version"] == "" {
		t.Errorf("version output = %v", m)
	}

	out, err = runApp(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "commit") {
		t.Errorf("version table = %q", out)
	}
}

func TestRun_StartFailureExitCode(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	_, err := runApp(t, "--data-dir", dataDir, "--mining", "--log-level", "error", "run")
	if code := exitCodeOf(t, err); code != exitConfig {
		t.Errorf("exit code = %d, want %d (%v)", code, exitConfig, err)
	}
	if _, err := os.Stat(dataDir); !os.IsNotExist(err) {
		t.Error("data directory created for a rejected configuration")
	}
}
