package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalnine/verdict/internal/testcase"
)

const DefaultPath = "verdict.yaml"

type Config struct {
	TestsDir  string    `yaml:"tests_dir"`
	WorkDir   string    `yaml:"work_dir"`
	EnvFile   string    `yaml:"env_file"`
	LogLevel  string    `yaml:"log_level"`
	Execution Execution `yaml:"execution"`
	Patterns  Patterns  `yaml:"patterns"`
	LogSource LogSource `yaml:"log_source"`
	Judge     Judge     `yaml:"judge"`
	Results   Results   `yaml:"results"`
}

type Execution struct {
	Shell          string        `yaml:"shell"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	KillGrace      time.Duration `yaml:"kill_grace"`
}

// Patterns are the global error patterns the deterministic judge looks for in
// combined logs. An exclusion that matches the same logs suppresses them.
type Patterns struct {
	Errors     []string `yaml:"errors"`
	Exclusions []string `yaml:"exclusions"`
}

type LogSource struct {
	Type       string        `yaml:"type"`
	Command    string        `yaml:"command"`
	Labels     []string      `yaml:"labels"`
	Containers []string      `yaml:"containers"`
	SessionDir string        `yaml:"session_dir"`
	Retention  time.Duration `yaml:"retention"`
	StartGrace time.Duration `yaml:"start_grace"`
	StopGrace  time.Duration `yaml:"stop_grace"`
}

type Judge struct {
	Disabled                bool          `yaml:"disabled"`
	BaseURL                 string        `yaml:"base_url"`
	Model                   string        `yaml:"model"`
	BatchSize               int           `yaml:"batch_size"`
	Temperature             float64       `yaml:"temperature"`
	ContextSize             int           `yaml:"context_size"`
	RequestTimeout          time.Duration `yaml:"request_timeout"`
	HealthTimeout           time.Duration `yaml:"health_timeout"`
	MaxLogChars             int           `yaml:"max_log_chars"`
	FallbackToDeterministic bool          `yaml:"fallback_to_deterministic"`
	ServeCommand            string        `yaml:"serve_command"`
	ServeLogDir             string        `yaml:"serve_log_dir"`
	ServeTimeout            time.Duration `yaml:"serve_timeout"`
}

type Results struct {
	Dir         string `yaml:"dir"`
	MetricsFile string `yaml:"metrics_file"`
}

const (
	SourceCommand = "command"
	SourceDocker  = "docker"
	SourceNone    = "none"
)

var DefaultErrorPatterns = []string{
	`error`,
	`failed`,
	`panic`,
	`segmentation fault`,
	`out of memory`,
}

var DefaultExclusionPatterns = []string{
	`error.*handled`,
	`expected.*error`,
}

// Default returns the configuration used when no config file exists. Load
// decodes on top of it, so omitted keys keep these values.
func Default() *Config {
	return &Config{
		TestsDir: "tests",
		WorkDir:  ".",
		LogLevel: "info",
		Execution: Execution{
			Shell:          "sh",
			DefaultTimeout: 30 * time.Second,
			KillGrace:      5 * time.Second,
		},
		Patterns: Patterns{
			Errors:     append([]string(nil), DefaultErrorPatterns...),
			Exclusions: append([]string(nil), DefaultExclusionPatterns...),
		},
		LogSource: LogSource{
			Type:       SourceCommand,
			Command:    "docker compose logs -f --no-color --tail 0",
			SessionDir: ".verdict/sessions",
			Retention:  24 * time.Hour,
			StartGrace: 2 * time.Second,
			StopGrace:  5 * time.Second,
		},
		Judge: Judge{
			BaseURL:                 "http://localhost:11434",
			Model:                   "llama3.1:8b",
			BatchSize:               5,
			ContextSize:             16384,
			RequestTimeout:          3 * time.Minute,
			HealthTimeout:           3 * time.Second,
			MaxLogChars:             6000,
			FallbackToDeterministic: true,
			ServeLogDir:             ".verdict/server",
			ServeTimeout:            30 * time.Second,
		},
		Results: Results{
			Dir: ".verdict/results",
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path, falling back to Default when the file does not
// exist and the caller did not ask for it explicitly.
func LoadOrDefault(path string, explicit bool) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !explicit {
		return Default(), nil
	}
	return Load(path)
}

func validate(cfg *Config) error {
	if cfg.TestsDir == "" {
		return fmt.Errorf("tests_dir is required")
	}
	if cfg.Execution.Shell == "" {
		cfg.Execution.Shell = "sh"
	}
	if cfg.Execution.DefaultTimeout <= 0 {
		return fmt.Errorf("execution.default_timeout must be positive")
	}
	if cfg.Execution.KillGrace < 0 {
		return fmt.Errorf("execution.kill_grace must not be negative")
	}
	for i, p := range cfg.Patterns.Errors {
		if _, err := testcase.CompilePattern(p); err != nil {
			return fmt.Errorf("patterns.errors[%d]: %w", i, err)
		}
	}
	for i, p := range cfg.Patterns.Exclusions {
		if _, err := testcase.CompilePattern(p); err != nil {
			return fmt.Errorf("patterns.exclusions[%d]: %w", i, err)
		}
	}
	switch cfg.LogSource.Type {
	case SourceCommand:
		if cfg.LogSource.Command == "" {
			return fmt.Errorf("log_source.command is required for the command source")
		}
	case SourceDocker:
		if len(cfg.LogSource.Labels) == 0 && len(cfg.LogSource.Containers) == 0 {
			return fmt.Errorf("log_source: docker source needs labels or containers")
		}
	case SourceNone, "":
		cfg.LogSource.Type = SourceNone
	default:
		return fmt.Errorf("log_source.type: unknown source %q", cfg.LogSource.Type)
	}
	if cfg.LogSource.SessionDir == "" {
		return fmt.Errorf("log_source.session_dir is required")
	}
	if !cfg.Judge.Disabled {
		if cfg.Judge.BaseURL == "" {
			return fmt.Errorf("judge.base_url is required")
		}
		if cfg.Judge.Model == "" {
			return fmt.Errorf("judge.model is required")
		}
	}
	if cfg.Judge.BatchSize < 1 {
		return fmt.Errorf("judge.batch_size must be at least 1")
	}
	if cfg.Judge.MaxLogChars < 200 {
		return fmt.Errorf("judge.max_log_chars must be at least 200")
	}
	if cfg.Results.Dir == "" {
		return fmt.Errorf("results.dir is required")
	}
	return nil
}
