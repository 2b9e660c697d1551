package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/odvcencio/pilot/pkg/browser"
	"github.com/odvcencio/pilot/pkg/observability"
)

// RunnerConfig describes one session run.
type RunnerConfig struct {
	SessionID string
	Task      string
	Model     string

	MaxSteps     int
	Headless     bool
	DemoMode     bool
	WindowWidth  int
	WindowHeight int

	RecordVideo        bool
	VideoDir           string
	CaptureScreenshots bool
	ScreenshotsDir     string

	// Timeout is the global deadline for the whole run.
	Timeout time.Duration
	// SettleDelay is how long to wait after closing the browser so the
	// runtime can flush deferred artifacts.
	SettleDelay    time.Duration
	DrainPop       time.Duration
	PollInterval   time.Duration
	VideoStaleness time.Duration
}

func (c *RunnerConfig) applyDefaults() {
	if c.MaxSteps <= 0 {
		c.MaxSteps = 25
	}
	if c.WindowWidth <= 0 {
		c.WindowWidth = 1280
	}
	if c.WindowHeight <= 0 {
		c.WindowHeight = 1100
	}
	if c.Timeout <= 0 {
		c.Timeout = 600 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 3 * time.Second
	}
	if c.DrainPop <= 0 {
		c.DrainPop = 500 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 300 * time.Millisecond
	}
	if c.VideoStaleness <= 0 {
		c.VideoStaleness = 5 * time.Minute
	}
}

// Runner supervises one run from browser construction to the single
// terminal event. It owns the browser session for the run's duration
// and closes it exactly once.
type Runner struct {
	cfg     RunnerConfig
	runtime browser.Runtime
	driver  Driver
	queue   *EventQueue
	log     *observability.Logger
}

// NewRunner validates the pieces of a run and wires them together.
func NewRunner(cfg RunnerConfig, runtime browser.Runtime, driver Driver, log *observability.Logger) (*Runner, error) {
	if strings.TrimSpace(cfg.SessionID) == "" {
		return nil, errors.New("runner: session id is required")
	}
	if strings.TrimSpace(cfg.Task) == "" {
		return nil, errors.New("runner: task is required")
	}
	if runtime == nil {
		return nil, errors.New("runner: browser runtime is required")
	}
	if driver == nil {
		return nil, errors.New("runner: driver is required")
	}
	if log == nil {
		return nil, errors.New("runner: logger is required")
	}
	cfg.applyDefaults()
	return &Runner{
		cfg:     cfg,
		runtime: runtime,
		driver:  driver,
		queue:   NewEventQueue(),
		log:     log,
	}, nil
}

// Run executes the session and returns the event stream. The channel
// carries events in enqueue order, ends with exactly one complete or
// error event, and is closed afterwards. A runner is single use.
func (r *Runner) Run(ctx context.Context) <-chan Event {
	out := make(chan Event, 16)
	go r.run(ctx, out)
	return out
}

func (r *Runner) run(ctx context.Context, out chan<- Event) {
	defer close(out)

	id := r.cfg.SessionID
	log := r.log.WithSession(id)
	started := time.Now()

	observability.SessionsStarted.Inc()
	observability.ActiveSessions.Inc()
	defer observability.ActiveSessions.Dec()
	defer func() {
		observability.SessionDuration.Observe(time.Since(started).Seconds())
	}()

	log.SessionStarted(id, r.cfg.Task, r.cfg.Model)

	sessCfg := r.sessionConfig()
	if r.cfg.Headless && r.cfg.DemoMode {
		// The demo panel needs a visible browser window.
		sessCfg.DemoMode = false
		log.Warn("demo mode disabled, headless browser cannot show the demo panel")
	}

	session, err := r.runtime.NewSession(ctx, sessCfg)
	if err != nil {
		// The only early exit: nothing precedes or follows this event.
		r.emitError(out, log, err)
		return
	}

	r.queue.Push(newEvent(KindStatus, id, map[string]any{
		"message": "Task started",
		"task":    r.cfg.Task,
	}))

	extractor := NewExtractor(id, r.queue)
	hooks := newStepHooks(id, r.queue, extractor, session, log, r.cfg.CaptureScreenshots, r.cfg.ScreenshotsDir)

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	var (
		history   *History
		runErr    error
		agentDone = make(chan struct{})
	)
	go func() {
		defer close(agentDone)
		history, runErr = r.driver.Run(runCtx, session, StepCallbacks{
			OnStepStart: hooks.OnStepStart,
			OnStepEnd:   hooks.OnStepEnd,
		})
	}()

	pollerDone := r.startPoller(runCtx, extractor, agentDone, log)

	// Drain: forward events as they appear, stopping once the agent is
	// finished and the queue is empty.
drain:
	for {
		ev, ok := r.queue.Pop(r.cfg.DrainPop)
		if ok {
			out <- ev
			continue
		}
		select {
		case <-agentDone:
			if r.queue.Len() == 0 {
				break drain
			}
		default:
		}
	}

	cancel()
	<-pollerDone
	r.queue.Close()

	if err := session.Close(); err != nil {
		log.Warn("browser close failed", "error", err)
	}
	time.Sleep(r.cfg.SettleDelay)

	videoPath := r.findVideo(log)

	if runErr != nil {
		if errors.Is(runErr, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			runErr = fmt.Errorf("task exceeded the %s limit: %w", r.cfg.Timeout, context.DeadlineExceeded)
		}
		r.emitError(out, log, runErr)
		return
	}

	result := extractFinalResult(history)
	data := map[string]any{
		"message": "Task completed",
		"result":  result,
		"history": history.Render(),
	}
	if videoPath != "" {
		filename := filepath.Base(videoPath)
		data["video_filename"] = filename
		data["video_url"] = fmt.Sprintf("/api/v1/videos/%s/%s", id, filename)
	}
	out <- newEvent(KindComplete, id, data)

	log.SessionCompleted(id, r.driver.Snapshot().Step, time.Since(started).Seconds())
	observability.SessionsFinished.WithLabelValues("complete").Inc()
}

// startPoller watches the snapshot between hook firings so long steps
// still stream progress. It exits when the agent finishes and must be
// joined before browser teardown.
func (r *Runner) startPoller(ctx context.Context, extractor *Extractor, agentDone <-chan struct{}, log *observability.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-agentDone:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.pollOnce(extractor, log)
			}
		}
	}()
	return done
}

func (r *Runner) pollOnce(extractor *Extractor, log *observability.Logger) {
	defer func() {
		if p := recover(); p != nil {
			log.Debug("poller tick suppressed a panic", "panic", fmt.Sprint(p))
		}
	}()
	snap := r.driver.Snapshot()
	extractor.Extract(snap, snap.Step-1)
}

func (r *Runner) emitError(out chan<- Event, log *observability.Logger, err error) {
	errorType, suggestion := classifyError(err)
	out <- newEvent(KindError, r.cfg.SessionID, map[string]any{
		"message":    err.Error(),
		"error_type": errorType,
		"suggestion": suggestion,
	})
	log.SessionFailed(r.cfg.SessionID, errorType, err)
	observability.SessionsFinished.WithLabelValues("error").Inc()
}

func (r *Runner) sessionConfig() browser.SessionConfig {
	return browser.SessionConfig{
		SessionID: r.cfg.SessionID,
		Viewport: browser.Viewport{
			Width:  r.cfg.WindowWidth,
			Height: r.cfg.WindowHeight,
		},
		Headless:           r.cfg.Headless,
		DemoMode:           r.cfg.DemoMode,
		RecordVideo:        r.cfg.RecordVideo,
		VideoDir:           r.cfg.VideoDir,
		CaptureScreenshots: r.cfg.CaptureScreenshots,
		ScreenshotsDir:     r.cfg.ScreenshotsDir,
	}
}

// findVideo picks the session's video by recency because the runtime
// never reports the exact output filename.
func (r *Runner) findVideo(log *observability.Logger) string {
	if !r.cfg.RecordVideo || r.cfg.VideoDir == "" {
		return ""
	}
	entries, err := os.ReadDir(r.cfg.VideoDir)
	if err != nil {
		log.Debug("video directory scan failed", "dir", r.cfg.VideoDir, "error", err)
		return ""
	}
	var (
		newest    string
		newestMod time.Time
	)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".mp4") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(newestMod) {
			newest = filepath.Join(r.cfg.VideoDir, entry.Name())
			newestMod = info.ModTime()
		}
	}
	if newest == "" {
		log.Info("no video file found after run", "dir", r.cfg.VideoDir)
		return ""
	}
	age := time.Since(newestMod)
	if age > r.cfg.VideoStaleness {
		log.Warn("newest video predates this run, keeping it anyway",
			"path", newest, "age_secs", age.Seconds())
	} else {
		log.VideoLocated(r.cfg.SessionID, newest, age.Seconds())
	}
	return newest
}
