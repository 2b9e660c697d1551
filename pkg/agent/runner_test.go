package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/odvcencio/pilot/pkg/browser"
)

// fakeRuntime hands out a canned session and records the config it saw.
type fakeRuntime struct {
	mu      sync.Mutex
	session browser.Session
	err     error
	gotCfg  browser.SessionConfig
	calls   int
}

func (f *fakeRuntime) NewSession(_ context.Context, cfg browser.SessionConfig) (browser.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.gotCfg = cfg
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func (f *fakeRuntime) Close() error { return nil }

func (f *fakeRuntime) sessionConfig() browser.SessionConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gotCfg
}

// scriptedDriver runs an arbitrary script as the decision loop.
type scriptedDriver struct {
	mu     sync.Mutex
	snap   Snapshot
	panics bool
	calls  int

	script func(ctx context.Context, d *scriptedDriver, session browser.Session, cb StepCallbacks) (*History, error)
}

func (d *scriptedDriver) Run(ctx context.Context, session browser.Session, cb StepCallbacks) (*History, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return d.script(ctx, d, session, cb)
}

func (d *scriptedDriver) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.panics {
		panic("snapshot not ready")
	}
	return d.snap
}

func (d *scriptedDriver) set(snap Snapshot) {
	d.mu.Lock()
	d.snap = snap
	d.mu.Unlock()
}

func (d *scriptedDriver) setPanics(v bool) {
	d.mu.Lock()
	d.panics = v
	d.mu.Unlock()
}

func (d *scriptedDriver) runCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (f *fakeSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func collectEvents(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("event stream never closed")
		}
	}
}

func quickRunnerConfig(id, task string) RunnerConfig {
	return RunnerConfig{
		SessionID:    id,
		Task:         task,
		MaxSteps:     3,
		Timeout:      5 * time.Second,
		SettleDelay:  time.Millisecond,
		DrainPop:     10 * time.Millisecond,
		PollInterval: time.Minute,
	}
}

func TestRunnerHappyPathEventOrder(t *testing.T) {
	session := &fakeSession{
		screenshot: []byte("png"),
		info:       browser.PageInfo{URL: "https://example.test", Title: "Example"},
	}
	runtime := &fakeRuntime{session: session}

	out := &ModelOutput{
		Seq:      1,
		Thinking: "inspect the page",
		NextGoal: "report the capital",
		Actions:  []ActionCall{{Name: "done", Params: map[string]any{"text": "Paris"}}},
	}
	yes := true
	driver := &scriptedDriver{}
	driver.script = func(ctx context.Context, d *scriptedDriver, _ browser.Session, cb StepCallbacks) (*History, error) {
		d.set(Snapshot{Step: 1, MaxSteps: 3})
		cb.OnStepStart(ctx, d.Snapshot())
		d.set(Snapshot{Step: 1, MaxSteps: 3, Output: out})
		cb.OnStepEnd(ctx, d.Snapshot())
		return &History{
			Steps:    []HistoryStep{{Output: out, Results: []ActionResult{{IsDone: true, Success: &yes, ExtractedContent: "Paris"}}}},
			Messages: []string{"Agent reported done at step 1"},
		}, nil
	}

	videoDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(videoDir, "rec_1.mp4"), []byte("mp4"), 0o644); err != nil {
		t.Fatalf("plant video: %v", err)
	}

	cfg := quickRunnerConfig("sess-run", "find the capital of France")
	cfg.RecordVideo = true
	cfg.VideoDir = videoDir
	cfg.CaptureScreenshots = true
	cfg.ScreenshotsDir = t.TempDir()

	r, err := NewRunner(cfg, runtime, driver, testLogger())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	events := collectEvents(t, r.Run(context.Background()))

	want := []EventKind{
		KindStatus, KindStepStart,
		KindThinking, KindPlanning, KindAction,
		KindScreenshot, KindStepEnd,
		KindComplete,
	}
	got := kindsOf(events)
	if len(got) != len(want) {
		t.Fatalf("got kinds %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %s, want %s", i, got[i], want[i])
		}
	}

	terminal := events[len(events)-1]
	if terminal.Data["message"] != "Task completed" {
		t.Fatalf("terminal message = %v", terminal.Data["message"])
	}
	if terminal.Data["result"] != "Paris" {
		t.Fatalf("terminal result = %v", terminal.Data["result"])
	}
	if terminal.Data["video_filename"] != "rec_1.mp4" {
		t.Fatalf("video filename = %v", terminal.Data["video_filename"])
	}
	if terminal.Data["video_url"] != "/api/v1/videos/sess-run/rec_1.mp4" {
		t.Fatalf("video url = %v", terminal.Data["video_url"])
	}
	historyText, _ := terminal.Data["history"].(string)
	if !strings.Contains(historyText, "Final Result: Paris") {
		t.Fatalf("history text missing final result: %q", historyText)
	}

	if !session.isClosed() {
		t.Fatal("session should be closed before the terminal event")
	}
	for _, ev := range events[:len(events)-1] {
		if ev.IsTerminal() {
			t.Fatalf("extra terminal event %s before the end", ev.Kind)
		}
	}
}

func TestRunnerBrowserNotInstalled(t *testing.T) {
	runtime := &fakeRuntime{err: browser.ErrNotInstalled}
	driver := &scriptedDriver{script: func(context.Context, *scriptedDriver, browser.Session, StepCallbacks) (*History, error) {
		return &History{}, nil
	}}

	r, err := NewRunner(quickRunnerConfig("sess-ni", "any task"), runtime, driver, testLogger())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	events := collectEvents(t, r.Run(context.Background()))

	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %v", kindsOf(events))
	}
	ev := events[0]
	if ev.Kind != KindError {
		t.Fatalf("kind = %s, want error", ev.Kind)
	}
	if ev.Data["error_type"] != errorTypeNotInstalled {
		t.Fatalf("error_type = %v", ev.Data["error_type"])
	}
	if s, _ := ev.Data["suggestion"].(string); s == "" {
		t.Fatal("suggestion should not be empty")
	}
	if driver.runCalls() != 0 {
		t.Fatal("driver should never run without a browser")
	}
}

func TestRunnerTimeout(t *testing.T) {
	session := &fakeSession{}
	runtime := &fakeRuntime{session: session}
	driver := &scriptedDriver{script: func(ctx context.Context, _ *scriptedDriver, _ browser.Session, _ StepCallbacks) (*History, error) {
		<-ctx.Done()
		return &History{}, ctx.Err()
	}}

	cfg := quickRunnerConfig("sess-to", "slow task")
	cfg.Timeout = 50 * time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond

	r, err := NewRunner(cfg, runtime, driver, testLogger())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	events := collectEvents(t, r.Run(context.Background()))

	got := kindsOf(events)
	if len(got) != 2 || got[0] != KindStatus || got[1] != KindError {
		t.Fatalf("got kinds %v, want [status error]", got)
	}
	terminal := events[1]
	if terminal.Data["error_type"] != errorTypeTimeout {
		t.Fatalf("error_type = %v", terminal.Data["error_type"])
	}
	msg, _ := terminal.Data["message"].(string)
	if !strings.Contains(msg, "exceeded") {
		t.Fatalf("message = %q", msg)
	}
	if !session.isClosed() {
		t.Fatal("session should be closed after a timeout")
	}
}

func TestRunnerCancellation(t *testing.T) {
	session := &fakeSession{}
	runtime := &fakeRuntime{session: session}
	driver := &scriptedDriver{script: func(ctx context.Context, _ *scriptedDriver, _ browser.Session, _ StepCallbacks) (*History, error) {
		<-ctx.Done()
		return &History{}, ctx.Err()
	}}

	r, err := NewRunner(quickRunnerConfig("sess-cancel", "task"), runtime, driver, testLogger())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	events := collectEvents(t, r.Run(ctx))

	terminal := events[len(events)-1]
	if terminal.Kind != KindError {
		t.Fatalf("terminal kind = %s", terminal.Kind)
	}
	if terminal.Data["error_type"] != errorTypeCancelled {
		t.Fatalf("error_type = %v", terminal.Data["error_type"])
	}
}

func TestRunnerDemoModeNeedsVisibleWindow(t *testing.T) {
	session := &fakeSession{}
	runtime := &fakeRuntime{session: session}
	driver := &scriptedDriver{script: func(context.Context, *scriptedDriver, browser.Session, StepCallbacks) (*History, error) {
		return &History{}, nil
	}}

	cfg := quickRunnerConfig("sess-demo", "task")
	cfg.Headless = true
	cfg.DemoMode = true

	r, err := NewRunner(cfg, runtime, driver, testLogger())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	events := collectEvents(t, r.Run(context.Background()))

	gotCfg := runtime.sessionConfig()
	if gotCfg.DemoMode {
		t.Fatal("demo mode should be dropped for a headless run")
	}
	if !gotCfg.Headless {
		t.Fatal("headless flag should survive")
	}

	terminal := events[len(events)-1]
	if terminal.Kind != KindComplete {
		t.Fatalf("terminal kind = %s", terminal.Kind)
	}
	if terminal.Data["result"] != fallbackResult {
		t.Fatalf("empty history should fall back, got %v", terminal.Data["result"])
	}
}

func TestRunnerPollerStreamsDuringLongStep(t *testing.T) {
	session := &fakeSession{}
	runtime := &fakeRuntime{session: session}
	driver := &scriptedDriver{}
	driver.script = func(ctx context.Context, d *scriptedDriver, _ browser.Session, _ StepCallbacks) (*History, error) {
		d.set(Snapshot{
			Step:     1,
			MaxSteps: 3,
			Output:   &ModelOutput{Seq: 1, Thinking: "still working through the page"},
		})
		time.Sleep(150 * time.Millisecond)
		return &History{Messages: []string{"Agent reported done at step 1"}}, nil
	}

	cfg := quickRunnerConfig("sess-poll", "task")
	cfg.PollInterval = 20 * time.Millisecond

	r, err := NewRunner(cfg, runtime, driver, testLogger())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	events := collectEvents(t, r.Run(context.Background()))

	var sawThinking bool
	for _, ev := range events {
		if ev.Kind == KindThinking {
			sawThinking = true
		}
	}
	if !sawThinking {
		t.Fatalf("poller never surfaced the pending decision, kinds %v", kindsOf(events))
	}
	if events[len(events)-1].Kind != KindComplete {
		t.Fatalf("terminal kind = %s", events[len(events)-1].Kind)
	}
}

func TestRunnerPollerSurvivesSnapshotPanic(t *testing.T) {
	session := &fakeSession{}
	runtime := &fakeRuntime{session: session}
	driver := &scriptedDriver{}
	driver.setPanics(true)
	driver.script = func(ctx context.Context, d *scriptedDriver, _ browser.Session, _ StepCallbacks) (*History, error) {
		time.Sleep(100 * time.Millisecond)
		d.setPanics(false)
		return &History{Messages: []string{"Agent reported done at step 1"}}, nil
	}

	cfg := quickRunnerConfig("sess-panic", "task")
	cfg.PollInterval = 10 * time.Millisecond

	r, err := NewRunner(cfg, runtime, driver, testLogger())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	events := collectEvents(t, r.Run(context.Background()))

	if events[len(events)-1].Kind != KindComplete {
		t.Fatalf("terminal kind = %s, want complete", events[len(events)-1].Kind)
	}
}

func TestRunnerStaleVideoStillReported(t *testing.T) {
	session := &fakeSession{}
	runtime := &fakeRuntime{session: session}
	driver := &scriptedDriver{script: func(context.Context, *scriptedDriver, browser.Session, StepCallbacks) (*History, error) {
		return &History{}, nil
	}}

	videoDir := t.TempDir()
	stale := filepath.Join(videoDir, "rec_old.mp4")
	if err := os.WriteFile(stale, []byte("mp4"), 0o644); err != nil {
		t.Fatalf("plant video: %v", err)
	}
	old := time.Now().Add(-10 * time.Minute)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("age video: %v", err)
	}

	cfg := quickRunnerConfig("sess-stale", "task")
	cfg.RecordVideo = true
	cfg.VideoDir = videoDir

	r, err := NewRunner(cfg, runtime, driver, testLogger())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	events := collectEvents(t, r.Run(context.Background()))

	terminal := events[len(events)-1]
	if terminal.Data["video_filename"] != "rec_old.mp4" {
		t.Fatalf("stale video should still be reported, got %v", terminal.Data["video_filename"])
	}
}

func TestRunnerNoVideoOmitsField(t *testing.T) {
	session := &fakeSession{}
	runtime := &fakeRuntime{session: session}
	driver := &scriptedDriver{script: func(context.Context, *scriptedDriver, browser.Session, StepCallbacks) (*History, error) {
		return &History{}, nil
	}}

	cfg := quickRunnerConfig("sess-novid", "task")
	cfg.RecordVideo = true
	cfg.VideoDir = t.TempDir()

	r, err := NewRunner(cfg, runtime, driver, testLogger())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	events := collectEvents(t, r.Run(context.Background()))

	terminal := events[len(events)-1]
	if _, ok := terminal.Data["video_filename"]; ok {
		t.Fatal("video_filename should be absent when no file exists")
	}
	if _, ok := terminal.Data["video_url"]; ok {
		t.Fatal("video_url should be absent when no file exists")
	}
}

func TestNewRunnerValidation(t *testing.T) {
	session := &fakeSession{}
	runtime := &fakeRuntime{session: session}
	driver := &scriptedDriver{script: func(context.Context, *scriptedDriver, browser.Session, StepCallbacks) (*History, error) {
		return &History{}, nil
	}}
	log := testLogger()

	blankID := quickRunnerConfig(" ", "task")
	if _, err := NewRunner(blankID, runtime, driver, log); err == nil {
		t.Fatal("blank session id should be rejected")
	}
	blankTask := quickRunnerConfig("s", "  ")
	if _, err := NewRunner(blankTask, runtime, driver, log); err == nil {
		t.Fatal("blank task should be rejected")
	}
	if _, err := NewRunner(quickRunnerConfig("s", "t"), nil, driver, log); err == nil {
		t.Fatal("nil runtime should be rejected")
	}
	if _, err := NewRunner(quickRunnerConfig("s", "t"), runtime, nil, log); err == nil {
		t.Fatal("nil driver should be rejected")
	}
	if _, err := NewRunner(quickRunnerConfig("s", "t"), runtime, driver, nil); err == nil {
		t.Fatal("nil logger should be rejected")
	}

	r, err := NewRunner(quickRunnerConfig("s", "t"), runtime, driver, log)
	if err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if r.cfg.MaxSteps != 3 || r.cfg.VideoStaleness != 5*time.Minute {
		t.Fatalf("defaults not applied: %+v", r.cfg)
	}
}
