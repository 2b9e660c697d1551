package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonrepair"

	"github.com/odvcencio/pilot/pkg/browser"
	"github.com/odvcencio/pilot/pkg/llm"
	"github.com/odvcencio/pilot/pkg/observability"
)

// StepCallbacks are invoked around every step the driver runs.
type StepCallbacks struct {
	OnStepStart func(ctx context.Context, snap Snapshot)
	OnStepEnd   func(ctx context.Context, snap Snapshot)
}

// Driver runs the decision loop against a browser session. Snapshot
// must be safe to call concurrently with Run; published outputs and
// result sets are never mutated afterwards.
type Driver interface {
	Run(ctx context.Context, session browser.Session, callbacks StepCallbacks) (*History, error)
	Snapshot() Snapshot
}

// LLMDriver plans each step with a chat model and executes the actions
// it requests.
type LLMDriver struct {
	task     string
	client   llm.Client
	maxSteps int
	log      *observability.Logger

	mu      sync.Mutex
	step    int
	seq     uint64
	output  *ModelOutput
	results *ResultSet

	// pending holds the previous step's results until the next step
	// begins. Publishing them late keeps the final step's results out
	// of the stream: they surface through the completion event instead.
	pending []ActionResult

	history *History
}

var _ Driver = (*LLMDriver)(nil)

func NewLLMDriver(task string, client llm.Client, maxSteps int, log *observability.Logger) *LLMDriver {
	if maxSteps <= 0 {
		maxSteps = 25
	}
	return &LLMDriver{
		task:     task,
		client:   client,
		maxSteps: maxSteps,
		log:      log,
		history:  &History{},
	}
}

// Snapshot returns the current state for the extractor and hooks.
func (d *LLMDriver) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{
		Step:     d.step,
		MaxSteps: d.maxSteps,
		Output:   d.output,
		Results:  d.results,
	}
}

// nextSeq is only called with d.mu held.
func (d *LLMDriver) nextSeq() uint64 {
	d.seq++
	return d.seq
}

func (d *LLMDriver) beginStep() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.step++
	return d.step
}

func (d *LLMDriver) publishOutput(out *ModelOutput) {
	d.mu.Lock()
	out.Seq = d.nextSeq()
	d.output = out
	d.mu.Unlock()
}

func (d *LLMDriver) publishResults(items []ActionResult) {
	d.mu.Lock()
	d.results = &ResultSet{Seq: d.nextSeq(), Items: items}
	d.mu.Unlock()
}

// Run drives the loop until the model reports done, the step budget is
// spent, or the context is cancelled.
func (d *LLMDriver) Run(ctx context.Context, session browser.Session, callbacks StepCallbacks) (*History, error) {
	for {
		if err := ctx.Err(); err != nil {
			return d.history, err
		}
		step := d.beginStep()
		if d.pending != nil {
			d.publishResults(d.pending)
			d.pending = nil
		}
		if callbacks.OnStepStart != nil {
			callbacks.OnStepStart(ctx, d.Snapshot())
		}

		html, err := session.HTML(ctx)
		if err != nil {
			d.log.Warn("page html unavailable", "step", step, "error", err)
			html = ""
		}
		info, err := session.PageInfo(ctx)
		if err != nil {
			info = browser.PageInfo{}
		}

		prompt := buildStepPrompt(d.task, info, summarizePage(html), d.digest(), step, d.maxSteps)
		raw, err := d.client.Complete(ctx, llm.Request{
			System:    systemPrompt,
			Prompt:    prompt,
			MaxTokens: 2048,
		})
		if err != nil {
			return d.history, fmt.Errorf("model call failed at step %d: %w", step, err)
		}

		dec, err := parseDecision(raw)
		if err != nil {
			d.log.Warn("unparseable model response", "step", step, "error", err)
			failure := []ActionResult{{
				Success: boolPtr(false),
				Error:   "could not parse model response: " + err.Error(),
			}}
			d.pending = failure
			d.history.Steps = append(d.history.Steps, HistoryStep{Results: failure})
			if callbacks.OnStepEnd != nil {
				callbacks.OnStepEnd(ctx, d.Snapshot())
			}
			if step >= d.maxSteps {
				d.history.Messages = append(d.history.Messages, "Reached the step limit before the task finished.")
				return d.history, nil
			}
			continue
		}

		out := &ModelOutput{
			Thinking:   dec.Thinking,
			Evaluation: dec.Evaluation,
			Memory:     dec.Memory,
			NextGoal:   dec.NextGoal,
			Actions:    toActionCalls(dec.Actions),
		}
		d.publishOutput(out)

		results := make([]ActionResult, 0, len(out.Actions))
		done := false
		for _, action := range out.Actions {
			res := d.execute(ctx, session, action, html)
			results = append(results, res)
			if res.IsDone {
				done = true
				break
			}
			if res.Error != "" {
				// The page state is unknown after a failed action, so
				// the rest of the batch is abandoned for a fresh look.
				break
			}
		}
		d.pending = results
		d.history.Steps = append(d.history.Steps, HistoryStep{Output: out, Results: results})

		if callbacks.OnStepEnd != nil {
			callbacks.OnStepEnd(ctx, d.Snapshot())
		}

		if done {
			d.history.Messages = append(d.history.Messages, fmt.Sprintf("Agent reported done at step %d", step))
			return d.history, nil
		}
		if step >= d.maxSteps {
			d.history.Messages = append(d.history.Messages, "Reached the step limit before the task finished.")
			return d.history, nil
		}
	}
}

// digest summarizes recent steps for the next prompt.
func (d *LLMDriver) digest() string {
	steps := d.history.Steps
	if len(steps) == 0 {
		return ""
	}
	start := 0
	if len(steps) > 5 {
		start = len(steps) - 5
	}
	var b strings.Builder
	for i := start; i < len(steps); i++ {
		step := steps[i]
		line := fmt.Sprintf("step %d:", i+1)
		if step.Output != nil && step.Output.NextGoal != "" {
			line += " " + clip(step.Output.NextGoal, 120)
		}
		for _, res := range step.Results {
			if label := classifyResult(res); label != "" {
				line += " -> " + clip(label, 120)
				break
			}
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (d *LLMDriver) execute(ctx context.Context, session browser.Session, action ActionCall, html string) ActionResult {
	switch action.Name {
	case "done":
		success := boolParam(action.Params, "success", true)
		return ActionResult{
			IsDone:           true,
			Success:          &success,
			ExtractedContent: strParam(action.Params, "text"),
		}
	case "extract":
		query := strParam(action.Params, "query")
		text := clip(pageText(html), 2000)
		if text == "" {
			return ActionResult{Success: boolPtr(false), Error: "no page text to extract"}
		}
		return ActionResult{
			Success:          boolPtr(true),
			ExtractedContent: text,
			LongTermMemory:   fmt.Sprintf("extracted page text for %q", query),
		}
	default:
		browserAction, err := toBrowserAction(action)
		if err != nil {
			return ActionResult{Success: boolPtr(false), Error: err.Error()}
		}
		outcome, err := session.Act(ctx, browserAction)
		if err != nil {
			return ActionResult{Success: boolPtr(false), Error: err.Error()}
		}
		return ActionResult{Success: boolPtr(true), ExtractedContent: outcome}
	}
}

type decision struct {
	Thinking   string       `json:"thinking"`
	Evaluation string       `json:"evaluation_previous_goal"`
	Memory     string       `json:"memory"`
	NextGoal   string       `json:"next_goal"`
	Actions    []actionSpec `json:"actions"`
}

type actionSpec struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// parseDecision decodes the model reply, running it through JSON repair
// when the raw text does not parse as-is.
func parseDecision(raw string) (decision, error) {
	var dec decision
	text := stripFences(raw)
	if err := json.Unmarshal([]byte(text), &dec); err == nil {
		return dec, nil
	}
	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return dec, fmt.Errorf("repair model json: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &dec); err != nil {
		return dec, fmt.Errorf("decode model json: %w", err)
	}
	return dec, nil
}

func stripFences(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func toActionCalls(specs []actionSpec) []ActionCall {
	calls := make([]ActionCall, 0, len(specs))
	for _, spec := range specs {
		params := spec.Params
		if params == nil {
			params = map[string]any{}
		}
		calls = append(calls, ActionCall{Name: spec.Name, Params: params})
	}
	return calls
}

func toBrowserAction(action ActionCall) (browser.Action, error) {
	switch action.Name {
	case "navigate":
		url := strParam(action.Params, "url")
		if url == "" {
			return browser.Action{}, fmt.Errorf("navigate action missing url")
		}
		return browser.Action{Type: browser.ActionNavigate, URL: url}, nil
	case "click":
		index, ok := intParam(action.Params, "index")
		if !ok {
			return browser.Action{}, fmt.Errorf("click action missing index")
		}
		return browser.Action{Type: browser.ActionClick, Index: index}, nil
	case "type":
		index, ok := intParam(action.Params, "index")
		if !ok {
			return browser.Action{}, fmt.Errorf("type action missing index")
		}
		return browser.Action{Type: browser.ActionTypeText, Index: index, Text: strParam(action.Params, "text")}, nil
	case "scroll":
		delta, ok := intParam(action.Params, "delta")
		if !ok {
			delta = 600
		}
		return browser.Action{Type: browser.ActionScroll, DeltaY: delta}, nil
	case "key":
		key := strParam(action.Params, "key")
		if key == "" {
			return browser.Action{}, fmt.Errorf("key action missing key")
		}
		return browser.Action{Type: browser.ActionKey, Key: key}, nil
	default:
		return browser.Action{}, fmt.Errorf("unknown action %q", action.Name)
	}
}

func strParam(params map[string]any, key string) string {
	if v, ok := params[key]; ok {
		return strings.TrimSpace(fmt.Sprint(v))
	}
	return ""
}

func intParam(params map[string]any, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func boolParam(params map[string]any, key string, fallback bool) bool {
	v, ok := params[key]
	if !ok {
		return fallback
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolPtr(b bool) *bool { return &b }
