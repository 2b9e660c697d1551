package agent

import (
	"strings"
	"testing"
)

func TestExtractFinalResultDoneResultWins(t *testing.T) {
	yes := true
	h := &History{
		Steps: []HistoryStep{
			{Results: []ActionResult{{ExtractedContent: "intermediate page text"}}},
			{Results: []ActionResult{{IsDone: true, Success: &yes, ExtractedContent: "The answer is 42"}}},
		},
		Messages: []string{"Agent reported done at step 2"},
	}
	if got := extractFinalResult(h); got != "The answer is 42" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractFinalResultDoneMemoryFallback(t *testing.T) {
	h := &History{
		Steps: []HistoryStep{
			{Results: []ActionResult{{IsDone: true, LongTermMemory: "saved the confirmation number 8841"}}},
		},
	}
	if got := extractFinalResult(h); got != "saved the confirmation number 8841" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractFinalResultDoneActionText(t *testing.T) {
	h := &History{
		Steps: []HistoryStep{
			{Output: &ModelOutput{
				Actions: []ActionCall{{Name: "done", Params: map[string]any{"text": "Booked for Tuesday"}}},
			}},
		},
	}
	if got := extractFinalResult(h); got != "Booked for Tuesday" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractFinalResultLogMessage(t *testing.T) {
	h := &History{
		Messages: []string{
			"navigated to the search page",
			"Agent reported done at step 3",
		},
	}
	if got := extractFinalResult(h); got != "Agent reported done at step 3" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractFinalResultRenderedHistoryScan(t *testing.T) {
	// No done results, no done action, no qualifying messages: the
	// scan over the rendered text is all that is left.
	h := &History{
		Steps: []HistoryStep{
			{Output: &ModelOutput{Evaluation: "the form was marked done on the last page"}},
		},
	}
	got := extractFinalResult(h)
	if !strings.Contains(got, "marked done") {
		t.Fatalf("got %q, want the evaluation line window", got)
	}
	if len(got) > 300 {
		t.Fatalf("window length %d exceeds the cap", len(got))
	}
}

func TestExtractFinalResultFallback(t *testing.T) {
	if got := extractFinalResult(nil); got != fallbackResult {
		t.Fatalf("nil history: got %q", got)
	}
	if got := extractFinalResult(&History{}); got != fallbackResult {
		t.Fatalf("empty history: got %q", got)
	}
	h := &History{
		Steps:    []HistoryStep{{Output: &ModelOutput{NextGoal: "scroll further"}}},
		Messages: []string{"nothing conclusive happened"},
	}
	if got := extractFinalResult(h); got != fallbackResult {
		t.Fatalf("inconclusive history: got %q", got)
	}
}

func TestExtractFinalResultClipsLongMessages(t *testing.T) {
	long := "done: " + strings.Repeat("x", 2000)
	h := &History{Messages: []string{long}}
	got := extractFinalResult(h)
	if len(got) != 1000 {
		t.Fatalf("got length %d, want 1000", len(got))
	}
	if !strings.HasPrefix(long, got) {
		t.Fatal("clipped result should be a prefix of the message")
	}
}
