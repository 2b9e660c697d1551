package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/odvcencio/pilot/pkg/browser"
)

// Error types carried on terminal error events. Consumers branch on
// these, so they are part of the stream contract.
const (
	errorTypeTimeout      = "timeout"
	errorTypeNotInstalled = "browser_not_installed"
	errorTypeCancelled    = "cancelled"
	errorTypeGeneric      = "error"
)

const (
	suggestionInstall   = "No Chromium-based browser was found. Install Google Chrome or Chromium and make sure the binary is on PATH, or set browser.exec_path."
	suggestionTimeout   = "The task hit the global time limit. Try a smaller task, raise timeouts.task, or lower the step budget."
	suggestionConnect   = "The browser connection was lost mid-run. Check that the machine has enough memory and that nothing killed the browser process, then retry."
	suggestionCancelled = "The run was cancelled before it finished. Start a new task to try again."
	suggestionGeneric   = "The run failed. Check the service logs for the full error and retry; if it persists, file the task text and the error together."
)

// classifyError maps a run failure to the error_type tag and the
// remediation text for the terminal event. Matching is best-effort
// substring probing of known failure signatures.
func classifyError(err error) (errorType, suggestion string) {
	if err == nil {
		return errorTypeGeneric, suggestionGeneric
	}
	if browser.IsNotInstalled(err) {
		return errorTypeNotInstalled, suggestionInstall
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errorTypeTimeout, suggestionTimeout
	}
	if errors.Is(err, context.Canceled) {
		return errorTypeCancelled, suggestionCancelled
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return errorTypeTimeout, suggestionTimeout
	case strings.Contains(msg, "websocket") ||
		strings.Contains(msg, "devtools") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection lost") ||
		strings.Contains(msg, "browser"):
		return errorTypeGeneric, suggestionConnect
	default:
		return errorTypeGeneric, suggestionGeneric
	}
}
