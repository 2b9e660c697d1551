// Package config loads service configuration from defaults, an optional
// YAML file, and environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Config is the root service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Browser BrowserConfig `yaml:"browser"`
	LLM     LLMConfig     `yaml:"llm"`
	Agent   AgentConfig   `yaml:"agent"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// RateLimit is requests per second per client for task creation.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

type BrowserConfig struct {
	ExecPath           string `yaml:"exec_path"`
	Headless           bool   `yaml:"headless"`
	DemoMode           bool   `yaml:"demo_mode"`
	WindowWidth        int    `yaml:"window_width"`
	WindowHeight       int    `yaml:"window_height"`
	Locale             string `yaml:"locale"`
	RecordVideo        bool   `yaml:"record_video"`
	VideoDir           string `yaml:"video_dir"`
	CaptureScreenshots bool   `yaml:"capture_screenshots"`
	ScreenshotsDir     string `yaml:"screenshots_dir"`
}

type LLMConfig struct {
	Model        string `yaml:"model"`
	OpenAIKey    string `yaml:"openai_api_key"`
	AnthropicKey string `yaml:"anthropic_api_key"`
}

type AgentConfig struct {
	MaxSteps    int           `yaml:"max_steps"`
	TaskTimeout time.Duration `yaml:"task_timeout"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the configuration used when nothing else is
// specified.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      8000,
			RateLimit: 5,
			RateBurst: 10,
		},
		Browser: BrowserConfig{
			Headless:           true,
			DemoMode:           false,
			WindowWidth:        1280,
			WindowHeight:       1100,
			Locale:             "en-US",
			RecordVideo:        true,
			VideoDir:           "videos",
			CaptureScreenshots: true,
			ScreenshotsDir:     "screenshots",
		},
		LLM: LLMConfig{
			Model: "gpt-4o-mini",
		},
		Agent: AgentConfig{
			MaxSteps:    25,
			TaskTimeout: 600 * time.Second,
		},
		Storage: StorageConfig{
			Path: "pilot.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			Enabled: false,
		},
	}
}

// Load reads the file at path (when non-empty) over the defaults, then
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("BROWSER_EXEC_PATH"); v != "" {
		c.Browser.ExecPath = v
	}
	if v := os.Getenv("BROWSER_HEADLESS"); v != "" {
		c.Browser.Headless = envBool(v)
	}
	if v := os.Getenv("BROWSER_DEMO_MODE"); v != "" {
		c.Browser.DemoMode = envBool(v)
	}
	if v := os.Getenv("BROWSER_WINDOW_WIDTH"); v != "" {
		if width, err := strconv.Atoi(v); err == nil {
			c.Browser.WindowWidth = width
		}
	}
	if v := os.Getenv("BROWSER_WINDOW_HEIGHT"); v != "" {
		if height, err := strconv.Atoi(v); err == nil {
			c.Browser.WindowHeight = height
		}
	}
	if v := os.Getenv("RECORD_VIDEO"); v != "" {
		c.Browser.RecordVideo = envBool(v)
	}
	if v := os.Getenv("VIDEO_DIR"); v != "" {
		c.Browser.VideoDir = v
	}
	if v := os.Getenv("CAPTURE_SCREENSHOTS"); v != "" {
		c.Browser.CaptureScreenshots = envBool(v)
	}
	if v := os.Getenv("SCREENSHOTS_DIR"); v != "" {
		c.Browser.ScreenshotsDir = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.OpenAIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.LLM.AnthropicKey = v
	}
	if v := os.Getenv("MAX_STEPS"); v != "" {
		if steps, err := strconv.Atoi(v); err == nil {
			c.Agent.MaxSteps = steps
		}
	}
	if v := os.Getenv("TASK_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Agent.TaskTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		c.Tracing.Enabled = envBool(v)
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("server.rate_limit must be positive")
	}
	if c.Server.RateBurst < 1 {
		return fmt.Errorf("server.rate_burst must be at least 1")
	}
	if c.Browser.WindowWidth < 1 || c.Browser.WindowHeight < 1 {
		return fmt.Errorf("browser window dimensions must be positive, got %dx%d",
			c.Browser.WindowWidth, c.Browser.WindowHeight)
	}
	if c.Browser.Locale != "" {
		if _, err := language.Parse(c.Browser.Locale); err != nil {
			return fmt.Errorf("browser.locale %q: %w", c.Browser.Locale, err)
		}
	}
	if c.Browser.RecordVideo && c.Browser.VideoDir == "" {
		return fmt.Errorf("browser.video_dir is required when record_video is on")
	}
	if c.Browser.CaptureScreenshots && c.Browser.ScreenshotsDir == "" {
		return fmt.Errorf("browser.screenshots_dir is required when capture_screenshots is on")
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		return fmt.Errorf("llm.model must not be empty")
	}
	if c.Agent.MaxSteps < 1 {
		return fmt.Errorf("agent.max_steps must be at least 1")
	}
	if c.Agent.TaskTimeout < time.Second {
		return fmt.Errorf("agent.task_timeout must be at least 1s")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path must not be empty")
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func envBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
