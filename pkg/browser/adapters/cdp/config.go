package cdp

import (
	"errors"
	"strings"
	"time"
)

// Config controls how the CDP adapter launches and connects to the browser.
type Config struct {
	// ExecPath overrides browser binary discovery. When empty, well-known
	// Chromium binary names are probed on PATH.
	ExecPath         string
	FFmpegPath       string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
	ScreencastFPS    int
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		FFmpegPath:       "ffmpeg",
		ConnectTimeout:   10 * time.Second,
		OperationTimeout: 30 * time.Second,
		ScreencastFPS:    4,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(c.ExecPath) != "" {
		defaults.ExecPath = c.ExecPath
	}
	if strings.TrimSpace(c.FFmpegPath) != "" {
		defaults.FFmpegPath = c.FFmpegPath
	}
	if c.ConnectTimeout != 0 {
		defaults.ConnectTimeout = c.ConnectTimeout
	}
	if c.OperationTimeout != 0 {
		defaults.OperationTimeout = c.OperationTimeout
	}
	if c.ScreencastFPS != 0 {
		defaults.ScreencastFPS = c.ScreencastFPS
	}
	return defaults
}

// Validate checks whether the config is usable.
func (c Config) Validate() error {
	if c.ConnectTimeout < 0 {
		return errors.New("connect_timeout must be zero or positive")
	}
	if c.OperationTimeout < 0 {
		return errors.New("operation_timeout must be zero or positive")
	}
	if c.ScreencastFPS <= 0 {
		return errors.New("screencast_fps must be greater than zero")
	}
	return nil
}
