package agent

import (
	"fmt"
	"strings"
)

// ModelOutput is one planning decision from the model. Seq is assigned
// once at creation from a session-monotonic counter; the extractor uses
// it to tell a fresh decision from a re-observed one, so values may
// repeat across steps without confusing deduplication.
type ModelOutput struct {
	Seq        uint64
	Thinking   string
	Evaluation string
	Memory     string
	NextGoal   string
	Actions    []ActionCall
}

// ActionCall is one requested action with its raw parameters.
type ActionCall struct {
	Name   string
	Params map[string]any
}

// ActionResult is the outcome of one executed action. All fields are
// optional; classification walks them in a fixed priority order.
type ActionResult struct {
	Success          *bool
	IsDone           bool
	Error            string
	ExtractedContent string
	LongTermMemory   string
}

// ResultSet is the result list for one completed step, stamped with its
// own sequence number for deduplication.
type ResultSet struct {
	Seq   uint64
	Items []ActionResult
}

// Snapshot is a read-only copy of the agent state at one instant. The
// step counter advances when a step begins, so end-of-step consumers
// subtract one to name the step that just ran.
type Snapshot struct {
	Step     int
	MaxSteps int
	Output   *ModelOutput
	Results  *ResultSet
}

// HistoryStep records one step of the finished run. Either field may
// be absent.
type HistoryStep struct {
	Output  *ModelOutput
	Results []ActionResult
}

// History is the loosely structured record of a finished run, consumed
// by the result-extraction tiers and rendered into the terminal event.
type History struct {
	Steps    []HistoryStep
	Messages []string
}

// Render produces the best-effort text form of the history carried on
// the completion event.
func (h *History) Render() string {
	if h == nil {
		return ""
	}
	var b strings.Builder
	for i, step := range h.Steps {
		fmt.Fprintf(&b, "Step %d:\n", i+1)
		if out := step.Output; out != nil {
			if out.Evaluation != "" {
				fmt.Fprintf(&b, "  evaluation: %s\n", out.Evaluation)
			}
			if out.Memory != "" {
				fmt.Fprintf(&b, "  memory: %s\n", out.Memory)
			}
			if out.NextGoal != "" {
				fmt.Fprintf(&b, "  next goal: %s\n", out.NextGoal)
			}
			for _, action := range out.Actions {
				fmt.Fprintf(&b, "  action: %s\n", action.Name)
			}
		}
		for _, res := range step.Results {
			switch {
			case res.IsDone && res.ExtractedContent != "":
				fmt.Fprintf(&b, "  Final Result: %s\n", res.ExtractedContent)
			case res.Error != "":
				fmt.Fprintf(&b, "  error: %s\n", res.Error)
			case res.ExtractedContent != "":
				fmt.Fprintf(&b, "  extracted: %s\n", res.ExtractedContent)
			}
		}
	}
	for _, msg := range h.Messages {
		b.WriteString(msg)
		b.WriteString("\n")
	}
	return b.String()
}
