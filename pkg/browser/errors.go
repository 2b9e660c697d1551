package browser

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotInstalled     = errors.New("browser executable not installed")
	ErrUnavailable      = errors.New("browser runtime unavailable")
	ErrSessionClosed    = errors.New("browser session closed")
	ErrConnectionLost   = errors.New("browser connection lost")
	ErrOperationTimeout = errors.New("operation timeout")
)

// RuntimeError wraps errors from the browser process with additional context.
type RuntimeError struct {
	Code    string
	Message string
	Err     error
}

func (e *RuntimeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("browser error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("browser error [%s]: %s", e.Code, e.Message)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// WrapRuntimeError wraps an existing error with browser runtime context.
func WrapRuntimeError(code, message string, err error) *RuntimeError {
	return &RuntimeError{Code: code, Message: message, Err: err}
}

// IsNotInstalled reports whether the error indicates a missing browser
// executable, either via the sentinel or via the error text produced by
// exec when the binary cannot be found.
func IsNotInstalled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotInstalled) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not installed") ||
		strings.Contains(msg, "executable file not found")
}

// IsConnectionError returns true if the error indicates a lost connection.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectionLost) {
		return true
	}
	var runtimeErr *RuntimeError
	if errors.As(err, &runtimeErr) {
		return runtimeErr.Code == "connection_lost" || runtimeErr.Code == "unavailable"
	}
	return false
}
