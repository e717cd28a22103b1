// Package config loads orchestrator and worker settings.
//
// Settings come from three layers, later ones winning: built-in defaults, an
// optional YAML file, and environment variables. String values in the file
// may reference the environment as ${NAME}.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Step kinds accepted in a workflow tree.
const (
	KindSequential        = "sequential"
	KindLoop              = "loop"
	KindWorker            = "worker"
	KindEscalationChecker = "escalation_checker"
)

// Providers of chat models.
const (
	ProviderGoogle    = "google"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreMySQL  = "mysql"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the full configuration of an orchestrator or worker process.
type Config struct {
	Server    ServerConfig            `yaml:"server"`
	Runner    RunnerConfig            `yaml:"runner"`
	Store     StoreConfig             `yaml:"store"`
	Providers ProvidersConfig         `yaml:"providers"`
	Workers   map[string]WorkerConfig `yaml:"workers"`
	Workflow  StepSpec                `yaml:"workflow"`

	// envErrs collects environment values ApplyEnv could not use.
	envErrs []string
}

// ServerConfig describes how a process serves HTTP.
type ServerConfig struct {
	Port int `yaml:"port"`

	// AppURL is the externally visible base URL, advertised in agent cards.
	AppURL       string `yaml:"app_url"`
	AgentVersion string `yaml:"agent_version"`
}

// Addr returns the listen address for Port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// RunnerConfig tunes workflow execution.
type RunnerConfig struct {
	// DelegateTimeout bounds every delegate call without its own timeout.
	DelegateTimeout time.Duration `yaml:"delegate_timeout"`
}

// StoreConfig selects the run archive.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ProvidersConfig holds API keys per model provider.
type ProvidersConfig struct {
	Google    ProviderConfig `yaml:"google"`
	OpenAI    ProviderConfig `yaml:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic"`
}

// ProviderConfig holds one provider's credentials.
type ProviderConfig struct {
	APIKey string `yaml:"api_key"`
}

// Key returns the API key for provider, or "" for an unknown provider.
func (p ProvidersConfig) Key(provider string) string {
	switch provider {
	case ProviderGoogle:
		return p.Google.APIKey
	case ProviderOpenAI:
		return p.OpenAI.APIKey
	case ProviderAnthropic:
		return p.Anthropic.APIKey
	}
	return ""
}

// WorkerConfig describes one worker, both where the orchestrator reaches it
// and which model it runs when served by this binary.
//
// An entry in a config file replaces the default entry of the same name.
// An empty Provider means google and an empty Model the role's default.
type WorkerConfig struct {
	URL       string        `yaml:"url"`
	Streaming bool          `yaml:"streaming"`
	Timeout   time.Duration `yaml:"timeout"`
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`

	// MaxAttempts retries calls that fail to reach the worker. 0 or 1
	// means a single attempt.
	MaxAttempts int `yaml:"max_attempts"`
}

// Port returns the port in URL, or 0 if it has none.
func (w WorkerConfig) Port() int {
	u, err := url.Parse(w.URL)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return 0
	}
	return port
}

// StepSpec is one node of a declarative workflow tree.
type StepSpec struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	Description string `yaml:"description,omitempty"`

	// Worker fields. Delegate names an entry of Config.Workers.
	Delegate    string        `yaml:"delegate,omitempty"`
	OutputKey   string        `yaml:"output_key,omitempty"`
	Structured  bool          `yaml:"structured,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	MaxAttempts int           `yaml:"max_attempts,omitempty"`

	// Escalation checker field: the worker whose verdict is checked.
	Judge string `yaml:"judge,omitempty"`

	// Composite fields.
	MaxIterations int        `yaml:"max_iterations,omitempty"`
	Steps         []StepSpec `yaml:"steps,omitempty"`
}

// DefaultConfig returns the built-in configuration: three local workers on
// Gemini models and the course creation workflow.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8000,
			AppURL:       "http://localhost:8000",
			AgentVersion: "0.1.0",
		},
		Runner: RunnerConfig{DelegateTimeout: 5 * time.Minute},
		Store:  StoreConfig{Driver: StoreMemory},
		Workers: map[string]WorkerConfig{
			"researcher": {
				URL:      "http://localhost:8001",
				Provider: ProviderGoogle,
				Model:    "gemini-2.5-flash",
			},
			"judge": {
				URL:      "http://localhost:8002",
				Provider: ProviderGoogle,
				Model:    "gemini-2.5-pro",
			},
			"content_builder": {
				URL:      "http://localhost:8003",
				Provider: ProviderGoogle,
				Model:    "gemini-2.5-pro",
			},
		},
		Workflow: DefaultWorkflow(),
	}
}

// DefaultWorkflow returns the course creation pipeline: a research loop of
// at most three passes followed by the content builder.
func DefaultWorkflow() StepSpec {
	return StepSpec{
		Name: "course_creation_pipeline",
		Kind: KindSequential,
		Steps: []StepSpec{
			{
				Name:          "research_loop",
				Kind:          KindLoop,
				MaxIterations: 3,
				Steps: []StepSpec{
					{Name: "researcher", Kind: KindWorker, Delegate: "researcher", OutputKey: "research_findings"},
					{Name: "judge", Kind: KindWorker, Delegate: "judge", OutputKey: "judge_feedback", Structured: true},
					{Name: "escalation_checker", Kind: KindEscalationChecker, Judge: "judge"},
				},
			},
			{Name: "content_builder", Kind: KindWorker, Delegate: "content_builder"},
		},
	}
}

// Load builds a Config from the defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.Merge(data); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Merge overlays the YAML document data onto c after expanding
// ${NAME} references from the environment. A document with a workflow
// replaces the default workflow entirely.
func (c *Config) Merge(data []byte) error {
	expanded := ExpandEnv(string(data), os.LookupEnv)

	// Decode the workflow on its own so a partial tree never merges with
	// the default one.
	var probe struct {
		Workflow *StepSpec `yaml:"workflow"`
	}
	if err := yaml.Unmarshal([]byte(expanded), &probe); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if probe.Workflow != nil {
		c.Workflow = StepSpec{}
	}
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces every ${NAME} in s using lookup. Unset names expand to
// the empty string. A bare $NAME is left alone so DSNs and passwords keep
// their dollar signs.
func ExpandEnv(s string, lookup func(string) (string, bool)) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		val, _ := lookup(ref[2 : len(ref)-1])
		return val
	})
}

// ApplyEnv overrides settings from environment variables read with lookup.
// Values that cannot be parsed are reported by Validate.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	for name, env := range map[string]string{
		"researcher":      "RESEARCHER_URL",
		"judge":           "JUDGE_URL",
		"content_builder": "CONTENT_BUILDER_URL",
	} {
		if v, ok := lookup(env); ok && v != "" {
			if c.Workers == nil {
				c.Workers = make(map[string]WorkerConfig)
			}
			w := c.Workers[name]
			w.URL = v
			c.Workers[name] = w
		}
	}

	set("APP_URL", &c.Server.AppURL)
	set("AGENT_VERSION", &c.Server.AgentVersion)
	if v, ok := lookup("PORT"); ok && v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		} else {
			c.envErrs = append(c.envErrs, fmt.Sprintf("PORT %q is not a number", v))
		}
	}

	set("GOOGLE_API_KEY", &c.Providers.Google.APIKey)
	set("OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	set("ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)

	if v, ok := lookup("COURSEGRAPH_STORE_DSN"); ok && v != "" {
		c.Store = ParseStoreDSN(v)
	}
}

// ParseStoreDSN splits "driver:dsn" into a StoreConfig, e.g.
// "sqlite:/var/lib/coursegraph/runs.db" or
// "mysql:user:pass@tcp(localhost:3306)/coursegraph?parseTime=true".
// A bare "memory" selects the in-memory archive.
func ParseStoreDSN(s string) StoreConfig {
	driver, dsn, _ := strings.Cut(s, ":")
	return StoreConfig{Driver: driver, DSN: dsn}
}

// Validate checks the server, store, worker and workflow settings.
func (c *Config) Validate() error {
	if len(c.envErrs) > 0 {
		return invalidf("%s", strings.Join(c.envErrs, "; "))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return invalidf("server.port %d out of range", c.Server.Port)
	}
	if c.Runner.DelegateTimeout < 0 {
		return invalidf("runner.delegate_timeout must be >= 0")
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite, StoreMySQL:
		if c.Store.DSN == "" {
			return invalidf("store %q needs a dsn", c.Store.Driver)
		}
	default:
		return invalidf("unknown store driver %q", c.Store.Driver)
	}

	for name, w := range c.Workers {
		switch w.Provider {
		case "", ProviderGoogle, ProviderOpenAI, ProviderAnthropic:
		default:
			return invalidf("worker %q: unknown provider %q", name, w.Provider)
		}
		if w.Timeout < 0 {
			return invalidf("worker %q: timeout must be >= 0", name)
		}
		if w.MaxAttempts < 0 {
			return invalidf("worker %q: max_attempts must be >= 0", name)
		}
	}

	return c.validateStep(c.Workflow, make(map[string]bool))
}

func (c *Config) validateStep(s StepSpec, seen map[string]bool) error {
	if s.Name == "" {
		return invalidf("%s step has no name", s.Kind)
	}
	if seen[s.Name] {
		return invalidf("duplicate step name %q", s.Name)
	}
	seen[s.Name] = true

	switch s.Kind {
	case KindWorker:
		if s.Delegate == "" {
			return invalidf("worker %q has no delegate", s.Name)
		}
		w, ok := c.Workers[s.Delegate]
		if !ok {
			return invalidf("worker %q: delegate %q is not configured", s.Name, s.Delegate)
		}
		if w.URL == "" {
			return invalidf("worker %q: delegate %q has no url", s.Name, s.Delegate)
		}
		if s.Timeout < 0 {
			return invalidf("worker %q: timeout must be >= 0", s.Name)
		}
		if s.MaxAttempts < 0 {
			return invalidf("worker %q: max_attempts must be >= 0", s.Name)
		}
		return nil
	case KindEscalationChecker:
		return nil
	case KindLoop:
		if s.MaxIterations < 1 {
			return invalidf("loop %q needs max_iterations >= 1, got %d", s.Name, s.MaxIterations)
		}
	case KindSequential:
	default:
		return invalidf("step %q has unknown kind %q", s.Name, s.Kind)
	}

	if len(s.Steps) == 0 {
		return invalidf("%s %q has no steps", s.Kind, s.Name)
	}
	for _, child := range s.Steps {
		if err := c.validateStep(child, seen); err != nil {
			return err
		}
	}
	return nil
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
