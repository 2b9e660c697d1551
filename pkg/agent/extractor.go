package agent

import (
	"fmt"
	"strings"
	"sync"
)

// Truncation budgets are fixed policy. They bound event payloads no
// matter how verbose the model gets.
const (
	thinkingBudget = 2000
	fieldBudget    = 1000
	paramBudget    = 60
	ellipsis       = "..."
)

// actionParamAllowList names the parameters worth echoing into action
// events. Everything else is noise at stream granularity.
var actionParamAllowList = []string{"text", "index", "query", "url", "selector", "xpath", "tag"}

// Extractor turns agent state snapshots into update events, emitting
// each model decision and result list exactly once. It is called from
// both the step-end hook and the progress poller, so the last-seen
// sequence numbers live behind a mutex.
type Extractor struct {
	sessionID string
	queue     *EventQueue

	mu          sync.Mutex
	lastOutput  uint64
	lastResults uint64
}

func NewExtractor(sessionID string, queue *EventQueue) *Extractor {
	return &Extractor{sessionID: sessionID, queue: queue}
}

// Extract emits events for any model output or result list that has not
// been reported yet. A snapshot with nothing new emits nothing, which
// makes repeated calls at the same state free.
func (x *Extractor) Extract(snap Snapshot, step int) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if out := snap.Output; out != nil && out.Seq != x.lastOutput {
		x.lastOutput = out.Seq
		x.emitOutput(out, step)
	}
	if res := snap.Results; res != nil && res.Seq != x.lastResults {
		x.lastResults = res.Seq
		x.emitResults(res, step)
	}
}

func (x *Extractor) emitOutput(out *ModelOutput, step int) {
	fields := []struct {
		kind   EventKind
		value  string
		budget int
	}{
		{KindThinking, out.Thinking, thinkingBudget},
		{KindEvaluation, out.Evaluation, fieldBudget},
		{KindMemory, out.Memory, fieldBudget},
		{KindPlanning, out.NextGoal, fieldBudget},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			continue
		}
		x.queue.Push(newEvent(f.kind, x.sessionID, map[string]any{
			"step":    step,
			"message": truncate(f.value, f.budget),
		}))
	}

	if len(out.Actions) == 0 {
		return
	}
	labels := make([]string, 0, len(out.Actions))
	for _, action := range out.Actions {
		labels = append(labels, renderAction(action))
	}
	x.queue.Push(newEvent(KindAction, x.sessionID, map[string]any{
		"step":    step,
		"actions": labels,
		"count":   len(labels),
	}))
}

func (x *Extractor) emitResults(res *ResultSet, step int) {
	labels := make([]string, 0, len(res.Items))
	for _, item := range res.Items {
		if label := classifyResult(item); label != "" {
			labels = append(labels, label)
		}
	}
	if len(labels) == 0 {
		return
	}
	x.queue.Push(newEvent(KindResult, x.sessionID, map[string]any{
		"step":    step,
		"results": labels,
	}))
}

// renderAction produces a short label naming the action and any
// allow-listed parameters.
func renderAction(action ActionCall) string {
	var parts []string
	for _, key := range actionParamAllowList {
		value, ok := action.Params[key]
		if !ok {
			continue
		}
		text := strings.TrimSpace(fmt.Sprint(value))
		if text == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%s", key, truncate(text, paramBudget)))
	}
	if len(parts) == 0 {
		return action.Name
	}
	return fmt.Sprintf("%s (%s)", action.Name, strings.Join(parts, ", "))
}

// classifyResult picks the one-line label for a result by the first
// populated field in priority order: error, extracted content, memory,
// then the success flag.
func classifyResult(result ActionResult) string {
	switch {
	case result.Error != "":
		return "error: " + truncate(result.Error, fieldBudget)
	case result.ExtractedContent != "":
		return "extracted: " + truncate(result.ExtractedContent, fieldBudget)
	case result.LongTermMemory != "":
		return "memory: " + truncate(result.LongTermMemory, fieldBudget)
	case result.Success != nil:
		if *result.Success {
			return "success"
		}
		return "failed"
	default:
		return ""
	}
}

// truncate caps s at budget characters, appending a marker when it had
// to cut. The kept part is always a prefix of the source.
func truncate(s string, budget int) string {
	if len(s) <= budget {
		return s
	}
	return s[:budget] + ellipsis
}
