package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// isolateEnv points HOME at an empty dir and clears every override so each
// test sees only what it sets.
func isolateEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, name := range []string{
		"WORKBENCH_CONFIG_PATH",
		"WORKBENCH_BACKEND_URL",
		"WORKBENCH_AGENT_KIND",
		"WORKBENCH_USER_ID",
		"WORKBENCH_IDLE_TIMEOUT_MS",
		"WORKBENCH_ARCHIVE_PATH",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
	} {
		t.Setenv(name, "")
	}
	return home
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workbench.config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	home := isolateEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://localhost:8000" || cfg.Backend.TimeoutMS != 10000 {
		t.Fatalf("backend = %+v", cfg.Backend)
	}
	if cfg.Agent.Kind != "data-modeler" || cfg.Agent.UserID != "local" {
		t.Fatalf("agent = %+v", cfg.Agent)
	}
	if cfg.Turn.IdleTimeoutMS != 30000 || cfg.Fallback.IntervalMS != 400 {
		t.Fatalf("turn = %+v, fallback = %+v", cfg.Turn, cfg.Fallback)
	}
	want := filepath.Join(home, ".workbench", "history.db")
	if cfg.Archive.Path != want || !cfg.Archive.Enabled {
		t.Fatalf("archive = %+v, want path %q", cfg.Archive, want)
	}
	if cfg.Server.Addr != ":8000" || cfg.Server.OpenAI.Model != "gpt-4o-mini" {
		t.Fatalf("server = %+v", cfg.Server)
	}
}

func TestLoadFileWithComments(t *testing.T) {
	isolateEnv(t)

	path := writeConfig(t, `{
		// line comments are allowed
		"backend": {
			"base_url": "http://example.com:9000/", /* trailing slash is trimmed */
			"timeout_ms": 5000
		},
		"agent": { "kind": "planner" }
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://example.com:9000" {
		t.Fatalf("base url = %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.TimeoutMS != 5000 {
		t.Fatalf("timeout = %d", cfg.Backend.TimeoutMS)
	}
	if cfg.Agent.Kind != "planner" {
		t.Fatalf("agent kind = %q", cfg.Agent.Kind)
	}
	// Sections the file omits keep their defaults.
	if cfg.Agent.UserID != "local" || cfg.Turn.IdleTimeoutMS != 30000 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadConfigPathEnvWins(t *testing.T) {
	isolateEnv(t)
	envPath := writeConfig(t, `{"agent": {"kind": "from-env-path"}}`)
	argPath := writeConfig(t, `{"agent": {"kind": "from-arg-path"}}`)
	t.Setenv("WORKBENCH_CONFIG_PATH", envPath)

	cfg, err := Load(argPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Kind != "from-env-path" {
		t.Fatalf("agent kind = %q", cfg.Agent.Kind)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	isolateEnv(t)
	path := writeConfig(t, `{"backend": {"base_url": "http://file.example"}}`)
	t.Setenv("WORKBENCH_BACKEND_URL", "http://env.example/")
	t.Setenv("WORKBENCH_AGENT_KIND", "reviewer")
	t.Setenv("WORKBENCH_USER_ID", "u42")
	t.Setenv("WORKBENCH_IDLE_TIMEOUT_MS", "1500")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://env.example" {
		t.Fatalf("base url = %q", cfg.Backend.BaseURL)
	}
	if cfg.Agent.Kind != "reviewer" || cfg.Agent.UserID != "u42" {
		t.Fatalf("agent = %+v", cfg.Agent)
	}
	if cfg.Turn.IdleTimeoutMS != 1500 {
		t.Fatalf("idle timeout = %d", cfg.Turn.IdleTimeoutMS)
	}
}

func TestInvalidIdleTimeoutEnv(t *testing.T) {
	for _, v := range []string{"soon", "0", "-5"} {
		isolateEnv(t)
		t.Setenv("WORKBENCH_IDLE_TIMEOUT_MS", v)
		if _, err := Load(""); err == nil {
			t.Fatalf("WORKBENCH_IDLE_TIMEOUT_MS=%q must error", v)
		}
	}
}

func TestLoadMalformedFile(t *testing.T) {
	isolateEnv(t)
	path := writeConfig(t, `{"backend": }`)
	if _, err := Load(path); err == nil {
		t.Fatal("malformed config must error")
	}
}

func TestStripJSONComments(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"line", "{\"a\": 1} // note\n", "{\"a\": 1} \n"},
		{"block", `{"a": /* gone */ 1}`, `{"a":  1}`},
		{"slashes in string", `{"url": "http://x//y"}`, `{"url": "http://x//y"}`},
		{"escaped quote", `{"a": "say \" // here"}`, `{"a": "say \" // here"}`},
		{"multiline block", "{\"a\": 1 /* spans\nlines */}", "{\"a\": 1 }"},
	}
	for _, tc := range cases {
		if got := string(stripJSONComments([]byte(tc.in))); got != tc.want {
			t.Fatalf("%s: stripJSONComments(%q) = %q, want %q", tc.name, tc.in, got, tc.want)
		}
	}
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := expandPath("~/notes/db.sqlite")
	if err != nil {
		t.Fatalf("expandPath: %v", err)
	}
	if got != filepath.Join(home, "notes", "db.sqlite") {
		t.Fatalf("expanded = %q", got)
	}

	got, err = expandPath("")
	if err != nil || got != "" {
		t.Fatalf("empty path = %q, err %v", got, err)
	}

	abs, err := expandPath("relative/path")
	if err != nil {
		t.Fatalf("expandPath relative: %v", err)
	}
	if !strings.HasPrefix(abs, string(os.PathSeparator)) {
		t.Fatalf("relative path not absolutized: %q", abs)
	}
}
