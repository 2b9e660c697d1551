package observability

import (
	"log/slog"
	"os"
	"strings"
)

// Logger is a structured logger for pilot components
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new structured logger
func NewLogger(component string, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)

	logger := slog.New(handler).With(
		slog.String("component", component),
		slog.String("system", "pilot"),
	)

	return &Logger{Logger: logger}
}

// ParseLevel maps a config string onto a slog level. Unknown values
// fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// WithSession returns a logger with session-specific fields
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("session_id", sessionID),
		),
	}
}

// WithStep returns a logger with step-specific fields
func (l *Logger) WithStep(step int) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.Int("step", step),
		),
	}
}

// SessionStarted logs the beginning of an agent run
func (l *Logger) SessionStarted(sessionID, task, model string) {
	l.Info("session started",
		slog.String("session_id", sessionID),
		slog.String("task", task),
		slog.String("model", model),
	)
}

// SessionCompleted logs a finished agent run
func (l *Logger) SessionCompleted(sessionID string, steps int, durationSecs float64) {
	l.Info("session completed",
		slog.String("session_id", sessionID),
		slog.Int("steps", steps),
		slog.Float64("duration_secs", durationSecs),
	)
}

// SessionFailed logs a failed agent run
func (l *Logger) SessionFailed(sessionID, errorType string, err error) {
	l.Error("session failed",
		slog.String("session_id", sessionID),
		slog.String("error_type", errorType),
		slog.String("error", err.Error()),
	)
}

// ScreenshotFailed logs a non-fatal screenshot capture failure
func (l *Logger) ScreenshotFailed(sessionID string, step int, err error) {
	l.Warn("screenshot capture failed",
		slog.String("session_id", sessionID),
		slog.Int("step", step),
		slog.String("error", err.Error()),
	)
}

// VideoLocated logs the video file selected for a session
func (l *Logger) VideoLocated(sessionID, path string, ageSecs float64) {
	l.Info("video located",
		slog.String("session_id", sessionID),
		slog.String("path", path),
		slog.Float64("age_secs", ageSecs),
	)
}
