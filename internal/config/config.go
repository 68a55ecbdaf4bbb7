// Package config loads stepflow settings from a YAML file and the
// environment. Command line flags are applied by the caller afterwards.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is read when no config path is given and it exists
const DefaultFile = "stepflow.yaml"

type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Browser  BrowserConfig  `yaml:"browser"`
	Cache    CacheConfig    `yaml:"cache"`
	Run      RunConfig      `yaml:"run"`
	Timeouts TimeoutConfig  `yaml:"timeouts"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Record   RecordConfig   `yaml:"record"`
}

type ProviderConfig struct {
	Name         string `yaml:"name"`
	Model        string `yaml:"model"`
	AnthropicKey string `yaml:"anthropic_key"`
	OpenAIKey    string `yaml:"openai_key"`
	BaseURL      string `yaml:"base_url"`
	MaxTokens    int    `yaml:"max_tokens"`
}

// APIKey returns the key belonging to the selected provider
func (p ProviderConfig) APIKey() string {
	switch strings.ToLower(p.Name) {
	case "openai", "gpt":
		return p.OpenAIKey
	default:
		return p.AnthropicKey
	}
}

type BrowserConfig struct {
	Headless   bool   `yaml:"headless"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	ProfileDir string `yaml:"profile_dir"`
	Bin        string `yaml:"bin"`
}

type CacheConfig struct {
	Backend string `yaml:"backend"` // file, sqlite or memory
	Dir     string `yaml:"dir"`
	Path    string `yaml:"path"`
}

type RunConfig struct {
	StopOnError bool          `yaml:"stop_on_error"`
	StepDelay   time.Duration `yaml:"step_delay"`
}

type TimeoutConfig struct {
	Attach         time.Duration `yaml:"attach"`
	Action         time.Duration `yaml:"action"`
	Navigate       time.Duration `yaml:"navigate"`
	WaitSelector   time.Duration `yaml:"wait_selector"`
	DegradedPause  time.Duration `yaml:"degraded_pause"`
	NetworkIdle    time.Duration `yaml:"network_idle"`
	ConditionPause time.Duration `yaml:"condition_pause"`
	Semantic       time.Duration `yaml:"semantic"`
	Planning       time.Duration `yaml:"planning"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// SlogLevel maps Level to a slog level, defaulting to info
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the /metrics listener
}

type RecordConfig struct {
	Path       string        `yaml:"path"` // empty disables recording
	Width      int           `yaml:"width"`
	FrameDelay time.Duration `yaml:"frame_delay"`
}

// Default returns the built-in configuration
func Default() *Config {
	cacheRoot := ".stepflow"
	if dir, err := os.UserCacheDir(); err == nil {
		cacheRoot = filepath.Join(dir, "stepflow")
	}

	return &Config{
		Provider: ProviderConfig{Name: "claude", MaxTokens: 2048},
		Browser:  BrowserConfig{Headless: true, Width: 1280, Height: 720},
		Cache: CacheConfig{
			Backend: "file",
			Dir:     filepath.Join(cacheRoot, "plans"),
			Path:    filepath.Join(cacheRoot, "plans.db"),
		},
		Run: RunConfig{StopOnError: true},
		Timeouts: TimeoutConfig{
			Attach:         2 * time.Second,
			Action:         5 * time.Second,
			Navigate:       30 * time.Second,
			WaitSelector:   5 * time.Second,
			DegradedPause:  time.Second,
			NetworkIdle:    10 * time.Second,
			ConditionPause: 2 * time.Second,
			Semantic:       60 * time.Second,
			Planning:       2 * time.Minute,
		},
		Log:    LogConfig{Level: "warn", Format: "text"},
		Record: RecordConfig{Width: 800, FrameDelay: 1500 * time.Millisecond},
	}
}

// Load reads path over the defaults and applies the environment. An empty
// path falls back to DefaultFile when it exists.
func Load(path string) (*Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnv(getenv)
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	first := func(keys ...string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				return v
			}
		}
		return ""
	}

	if v := first("STEPFLOW_PROVIDER"); v != "" {
		c.Provider.Name = v
	}
	if v := first("STEPFLOW_MODEL"); v != "" {
		c.Provider.Model = v
	}
	if v := first("STEPFLOW_ANTHROPIC_KEY", "ANTHROPIC_API_KEY"); v != "" {
		c.Provider.AnthropicKey = v
	}
	if v := first("STEPFLOW_OPENAI_KEY", "OPENAI_API_KEY"); v != "" {
		c.Provider.OpenAIKey = v
	}
	if v := first("STEPFLOW_CACHE_DIR"); v != "" {
		c.Cache.Dir = v
	}
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Provider.Name) {
	case "claude", "anthropic", "openai", "gpt":
	default:
		errs = append(errs, fmt.Errorf("provider.name: unknown provider %q", c.Provider.Name))
	}
	if c.Provider.MaxTokens < 0 {
		errs = append(errs, errors.New("provider.max_tokens must not be negative"))
	}

	if c.Browser.Width <= 0 || c.Browser.Height <= 0 {
		errs = append(errs, fmt.Errorf("browser: viewport %dx%d must be positive", c.Browser.Width, c.Browser.Height))
	}

	switch c.Cache.Backend {
	case "file":
		if c.Cache.Dir == "" {
			errs = append(errs, errors.New("cache.dir is required for the file backend"))
		}
	case "sqlite":
		if c.Cache.Path == "" {
			errs = append(errs, errors.New("cache.path is required for the sqlite backend"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("cache.backend: must be file, sqlite or memory, got %q", c.Cache.Backend))
	}

	if c.Run.StepDelay < 0 {
		errs = append(errs, errors.New("run.step_delay must not be negative"))
	}

	for name, d := range map[string]time.Duration{
		"attach":          c.Timeouts.Attach,
		"action":          c.Timeouts.Action,
		"navigate":        c.Timeouts.Navigate,
		"wait_selector":   c.Timeouts.WaitSelector,
		"degraded_pause":  c.Timeouts.DegradedPause,
		"network_idle":    c.Timeouts.NetworkIdle,
		"condition_pause": c.Timeouts.ConditionPause,
		"semantic":        c.Timeouts.Semantic,
		"planning":        c.Timeouts.Planning,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("timeouts.%s must be positive", name))
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format))
	}

	if c.Record.Path != "" && c.Record.Width <= 0 {
		errs = append(errs, errors.New("record.width must be positive"))
	}

	return errors.Join(errs...)
}
