package agent

import (
	"fmt"
	"strings"
)

// fallbackResult is reported when every extraction tier comes up empty.
const fallbackResult = "Task finished, but no detailed result was captured."

// extractFinalResult digs a terminal summary out of the loosely
// structured history. Tiers run strictly in order; the first hit wins.
func extractFinalResult(h *History) string {
	if h == nil {
		return fallbackResult
	}

	// Tier 1: a result flagged done, newest step first.
	for i := len(h.Steps) - 1; i >= 0; i-- {
		for _, result := range h.Steps[i].Results {
			if !result.IsDone {
				continue
			}
			if result.ExtractedContent != "" {
				return result.ExtractedContent
			}
			if result.LongTermMemory != "" {
				return result.LongTermMemory
			}
		}
	}

	// Tier 2: the text parameter of a requested done action.
	for i := len(h.Steps) - 1; i >= 0; i-- {
		out := h.Steps[i].Output
		if out == nil {
			continue
		}
		for _, action := range out.Actions {
			if action.Name != "done" {
				continue
			}
			if value, ok := action.Params["text"]; ok {
				if text := strings.TrimSpace(fmt.Sprint(value)); text != "" {
					return text
				}
			}
		}
	}

	// Tier 3: the newest log message that mentions done or result.
	for i := len(h.Messages) - 1; i >= 0; i-- {
		lower := strings.ToLower(h.Messages[i])
		if strings.Contains(lower, "done") || strings.Contains(lower, "result") {
			if text := strings.TrimSpace(h.Messages[i]); text != "" {
				return clip(text, 1000)
			}
		}
	}

	// Tier 4: scan the rendered history text.
	text := h.Render()
	if idx := strings.Index(text, "Final Result"); idx >= 0 {
		after := strings.TrimLeft(text[idx+len("Final Result"):], ": \t")
		if summary := strings.TrimSpace(clip(after, 1000)); summary != "" {
			return summary
		}
	}
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if !strings.Contains(strings.ToLower(lines[i]), "done") {
			continue
		}
		window := strings.TrimSpace(strings.Join(lines[i:min(i+2, len(lines))], "\n"))
		if window != "" {
			return clip(window, 300)
		}
	}

	return fallbackResult
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
