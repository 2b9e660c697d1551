package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/odvcencio/pilot/pkg/browser"
	"github.com/odvcencio/pilot/pkg/observability"
)

// StepHooks receives the driver's step boundaries and turns them into
// stream events plus per-step artifacts. Artifact failures are logged
// and skipped, never escalated.
type StepHooks struct {
	sessionID          string
	queue              *EventQueue
	extractor          *Extractor
	session            browser.Session
	log                *observability.Logger
	captureScreenshots bool
	screenshotsDir     string

	stepStarted time.Time
}

func newStepHooks(sessionID string, queue *EventQueue, extractor *Extractor, session browser.Session, log *observability.Logger, capture bool, dir string) *StepHooks {
	return &StepHooks{
		sessionID:          sessionID,
		queue:              queue,
		extractor:          extractor,
		session:            session,
		log:                log,
		captureScreenshots: capture,
		screenshotsDir:     dir,
	}
}

// OnStepStart announces the step the driver is about to run.
func (h *StepHooks) OnStepStart(ctx context.Context, snap Snapshot) {
	h.stepStarted = time.Now()
	h.queue.Push(newEvent(KindStepStart, h.sessionID, map[string]any{
		"step":      snap.Step,
		"max_steps": snap.MaxSteps,
	}))
}

// OnStepEnd reports everything the finished step produced. The step
// counter has already advanced for the next step, so the step that just
// ran is the counter minus one.
func (h *StepHooks) OnStepEnd(ctx context.Context, snap Snapshot) {
	step := snap.Step - 1

	h.extractor.Extract(snap, step)

	if h.captureScreenshots {
		h.captureScreenshot(ctx, step)
	}

	data := map[string]any{"step": step}
	if info, err := h.session.PageInfo(ctx); err == nil {
		if info.URL != "" {
			data["url"] = info.URL
		}
		if info.Title != "" {
			data["title"] = info.Title
		}
	} else {
		h.log.Debug("page info unavailable", "step", step, "error", err)
	}
	h.queue.Push(newEvent(KindStepEnd, h.sessionID, data))

	if !h.stepStarted.IsZero() {
		observability.StepDuration.Observe(time.Since(h.stepStarted).Seconds())
	}
}

func (h *StepHooks) captureScreenshot(ctx context.Context, step int) {
	img, err := h.session.Screenshot(ctx, true)
	if err != nil {
		observability.ScreenshotFailures.Inc()
		h.log.ScreenshotFailed(h.sessionID, step, err)
		return
	}
	if err := os.MkdirAll(h.screenshotsDir, 0o755); err != nil {
		observability.ScreenshotFailures.Inc()
		h.log.ScreenshotFailed(h.sessionID, step, err)
		return
	}
	filename := fmt.Sprintf("%s_step_%03d.png", h.sessionID, step)
	path := filepath.Join(h.screenshotsDir, filename)
	if err := os.WriteFile(path, img, 0o644); err != nil {
		observability.ScreenshotFailures.Inc()
		h.log.ScreenshotFailed(h.sessionID, step, err)
		return
	}
	h.queue.Push(newEvent(KindScreenshot, h.sessionID, map[string]any{
		"step":     step,
		"filename": filename,
		"url":      fmt.Sprintf("/api/v1/screenshots/%s/%s", h.sessionID, filename),
	}))
}
