package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	if cfg.Server.Port != 8000 || cfg.Server.AgentVersion != "0.1.0" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Store.Driver != StoreMemory {
		t.Errorf("store driver = %q", cfg.Store.Driver)
	}
	urls := map[string]string{
		"researcher":      "http://localhost:8001",
		"judge":           "http://localhost:8002",
		"content_builder": "http://localhost:8003",
	}
	for name, want := range urls {
		if got := cfg.Workers[name].URL; got != want {
			t.Errorf("%s url = %q, want %q", name, got, want)
		}
	}
	if p := cfg.Workers["judge"].Port(); p != 8002 {
		t.Errorf("judge port = %d", p)
	}

	wf := cfg.Workflow
	if wf.Name != "course_creation_pipeline" || len(wf.Steps) != 2 {
		t.Fatalf("workflow = %+v", wf)
	}
	if wf.Steps[0].Kind != KindLoop || wf.Steps[0].MaxIterations != 3 {
		t.Errorf("first step = %+v", wf.Steps[0])
	}
	if wf.Steps[1].Name != "content_builder" {
		t.Errorf("second step = %q", wf.Steps[1].Name)
	}
}

func TestWorkerConfig_Port(t *testing.T) {
	tests := []struct {
		url  string
		want int
	}{
		{"http://localhost:8001", 8001},
		{"https://judge.example.com", 0},
		{"http://host:80abc", 0},
		{"::not a url", 0},
	}
	for _, tt := range tests {
		if got := (WorkerConfig{URL: tt.url}).Port(); got != tt.want {
			t.Errorf("Port(%q) = %d, want %d", tt.url, got, tt.want)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApplyEnv(env(map[string]string{
		"RESEARCHER_URL":        "http://researcher:8080",
		"JUDGE_URL":             "",
		"APP_URL":               "https://judge.example.com",
		"AGENT_VERSION":         "1.2.0",
		"PORT":                  "9090",
		"GOOGLE_API_KEY":        "g-key",
		"ANTHROPIC_API_KEY":     "a-key",
		"COURSEGRAPH_STORE_DSN": "sqlite:/tmp/runs.db",
	}))

	r := cfg.Workers["researcher"]
	if r.URL != "http://researcher:8080" || r.Model != "gemini-2.5-flash" {
		t.Errorf("researcher = %+v", r)
	}
	if got := cfg.Workers["judge"].URL; got != "http://localhost:8002" {
		t.Errorf("empty JUDGE_URL should be ignored, url = %q", got)
	}
	if cfg.Server.AppURL != "https://judge.example.com" || cfg.Server.AgentVersion != "1.2.0" || cfg.Server.Port != 9090 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Providers.Key(ProviderGoogle) != "g-key" || cfg.Providers.Key(ProviderAnthropic) != "a-key" {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	if cfg.Providers.Key(ProviderOpenAI) != "" {
		t.Errorf("openai key = %q, want empty", cfg.Providers.Key(ProviderOpenAI))
	}
	if want := (StoreConfig{Driver: StoreSQLite, DSN: "/tmp/runs.db"}); cfg.Store != want {
		t.Errorf("store = %+v, want %+v", cfg.Store, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestApplyEnv_MalformedPort(t *testing.T) {
	for _, v := range []string{"80abc", "eighty", "8080 "} {
		cfg := DefaultConfig()
		cfg.ApplyEnv(env(map[string]string{"PORT": v}))

		if cfg.Server.Port != 8000 {
			t.Errorf("PORT=%q changed the port to %d", v, cfg.Server.Port)
		}
		err := cfg.Validate()
		if !errors.Is(err, ErrInvalid) || !strings.Contains(err.Error(), "PORT") {
			t.Errorf("PORT=%q: Validate = %v, want an invalid PORT error", v, err)
		}
	}
}

func TestParseStoreDSN(t *testing.T) {
	if got := ParseStoreDSN("memory"); got != (StoreConfig{Driver: "memory"}) {
		t.Errorf("memory = %+v", got)
	}
	mysqlDSN := "user:pass@tcp(localhost:3306)/cg?parseTime=true"
	if got := ParseStoreDSN("mysql:" + mysqlDSN); got != (StoreConfig{Driver: "mysql", DSN: mysqlDSN}) {
		t.Errorf("mysql = %+v", got)
	}
}

func TestExpandEnv(t *testing.T) {
	lookup := env(map[string]string{"KEY": "secret", "HOST": "db"})

	tests := []struct{ in, want string }{
		{"key=${KEY} host=${HOST}", "key=secret host=db"},
		{"missing=${NOPE}", "missing="},
		{"pa$$word $KEY", "pa$$word $KEY"},
	}
	for _, tt := range tests {
		if got := ExpandEnv(tt.in, lookup); got != tt.want {
			t.Errorf("ExpandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coursegraph.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("CG_TEST_OPENAI_KEY", "sk-test")
	t.Setenv("JUDGE_URL", "http://judge:9000")
	t.Setenv("PORT", "")

	path := writeConfig(t, `
server:
  port: 8100
runner:
  delegate_timeout: 90s
providers:
  openai:
    api_key: ${CG_TEST_OPENAI_KEY}
workers:
  researcher:
    url: http://localhost:8001
    provider: openai
    model: gpt-4o-mini
    streaming: true
    timeout: 2m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8100 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Server.AgentVersion != "0.1.0" {
		t.Errorf("default agent version lost: %q", cfg.Server.AgentVersion)
	}
	if cfg.Runner.DelegateTimeout != 90*time.Second {
		t.Errorf("delegate timeout = %v", cfg.Runner.DelegateTimeout)
	}
	if cfg.Providers.OpenAI.APIKey != "sk-test" {
		t.Errorf("openai key = %q", cfg.Providers.OpenAI.APIKey)
	}

	r := cfg.Workers["researcher"]
	want := WorkerConfig{URL: "http://localhost:8001", Provider: ProviderOpenAI, Model: "gpt-4o-mini", Streaming: true, Timeout: 2 * time.Minute}
	if r != want {
		t.Errorf("researcher = %+v, want %+v", r, want)
	}
	if got := cfg.Workers["judge"].URL; got != "http://judge:9000" {
		t.Errorf("judge url = %q", got)
	}
	if !reflect.DeepEqual(cfg.Workflow, DefaultWorkflow()) {
		t.Errorf("workflow changed without a workflow section: %+v", cfg.Workflow)
	}
}

func TestLoad_BadPortEnv(t *testing.T) {
	t.Setenv("PORT", "80abc")

	_, err := Load(writeConfig(t, "server:\n  port: 8100\n"))
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("Load = %v, want ErrInvalid", err)
	}
}

func TestLoad_WorkflowReplacesDefault(t *testing.T) {
	path := writeConfig(t, `
workflow:
  name: quick_course
  kind: sequential
  steps:
    - name: researcher
      kind: worker
      delegate: researcher
      output_key: research_findings
    - name: content_builder
      kind: worker
      delegate: content_builder
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workflow.Name != "quick_course" || len(cfg.Workflow.Steps) != 2 {
		t.Errorf("workflow = %+v", cfg.Workflow)
	}
	if cfg.Workflow.MaxIterations != 0 {
		t.Errorf("max iterations = %d, want 0", cfg.Workflow.MaxIterations)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}

	_, err := Load(writeConfig(t, "server: [1, 2"))
	if err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Errorf("err = %v, want a parse error", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "out of range"},
		{"negative timeout", func(c *Config) { c.Runner.DelegateTimeout = -time.Second }, "delegate_timeout"},
		{"unknown store", func(c *Config) { c.Store.Driver = "redis" }, "unknown store driver"},
		{"sqlite without dsn", func(c *Config) { c.Store = StoreConfig{Driver: StoreSQLite} }, "needs a dsn"},
		{"unknown provider", func(c *Config) {
			w := c.Workers["judge"]
			w.Provider = "cohere"
			c.Workers["judge"] = w
		}, "unknown provider"},
		{"negative attempts", func(c *Config) { c.Workflow.Steps[1].MaxAttempts = -1 }, "max_attempts"},
		{"unknown kind", func(c *Config) { c.Workflow.Steps[1].Kind = "parallel" }, "unknown kind"},
		{"zero loop cap", func(c *Config) { c.Workflow.Steps[0].MaxIterations = 0 }, "max_iterations"},
		{"negative loop cap", func(c *Config) { c.Workflow.Steps[0].MaxIterations = -1 }, "max_iterations"},
		{"worker without delegate", func(c *Config) { c.Workflow.Steps[1].Delegate = "" }, "no delegate"},
		{"unknown delegate", func(c *Config) { c.Workflow.Steps[1].Delegate = "editor" }, "not configured"},
		{"delegate without url", func(c *Config) { c.Workers["content_builder"] = WorkerConfig{} }, "has no url"},
		{"duplicate name", func(c *Config) { c.Workflow.Steps[1].Name = "researcher" }, "duplicate step name"},
		{"empty name", func(c *Config) { c.Workflow.Name = "" }, "no name"},
		{"empty composite", func(c *Config) { c.Workflow.Steps[0].Steps = nil }, "has no steps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("err = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}
