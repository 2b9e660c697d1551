package cdp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/odvcencio/pilot/pkg/browser"
)

// Session drives one browser process through its devtools page target.
type Session struct {
	id  string
	cfg browser.SessionConfig

	mu     sync.Mutex
	closed bool

	client   *client
	cmd      *exec.Cmd
	dataDir  string
	waitDone chan struct{}
	rec      *recorder

	operationTimeout time.Duration
}

var _ browser.Session = (*Session)(nil)

func (s *Session) ID() string { return s.id }

func (s *Session) ensureOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return browser.ErrSessionClosed
	}
	return nil
}

func (s *Session) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.operationTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.operationTimeout)
}

func (s *Session) currentRecorder() *recorder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

func (s *Session) setRecorder(r *recorder) {
	s.mu.Lock()
	s.rec = r
	s.mu.Unlock()
}

// handleEvent runs on the client read loop, so any devtools call it
// needs must happen on another goroutine.
func (s *Session) handleEvent(method string, params json.RawMessage) {
	if method != "Page.screencastFrame" {
		return
	}
	var frame struct {
		Data      string `json:"data"`
		SessionID int    `json:"sessionId"`
	}
	if err := json.Unmarshal(params, &frame); err != nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = s.client.call(ctx, "Page.screencastFrameAck", map[string]any{"sessionId": frame.SessionID})
	}()
	if r := s.currentRecorder(); r != nil {
		r.writeFrame(frame.Data)
	}
}

// Navigate loads the url and waits for the document to become ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	ctx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	raw, err := s.client.call(ctx, "Page.navigate", map[string]any{"url": url})
	if err != nil {
		return err
	}
	var nav struct {
		ErrorText string `json:"errorText"`
	}
	if err := json.Unmarshal(raw, &nav); err == nil && nav.ErrorText != "" {
		return fmt.Errorf("navigate %s: %s", url, nav.ErrorText)
	}
	return s.waitReady(ctx)
}

func (s *Session) waitReady(ctx context.Context) error {
	for {
		state, err := s.evaluateString(ctx, "document.readyState")
		if err == nil && (state == "interactive" || state == "complete") {
			return nil
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("page never became ready: %w", err)
			}
			return fmt.Errorf("page never became ready, last state %q: %w", state, ctx.Err())
		case <-time.After(150 * time.Millisecond):
		}
	}
}

// PageInfo reports the current location and document title.
func (s *Session) PageInfo(ctx context.Context) (browser.PageInfo, error) {
	if err := s.ensureOpen(); err != nil {
		return browser.PageInfo{}, err
	}
	ctx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	payload, err := s.evaluateString(ctx, "JSON.stringify({url: String(location.href), title: String(document.title)})")
	if err != nil {
		return browser.PageInfo{}, err
	}
	var info browser.PageInfo
	if err := json.Unmarshal([]byte(payload), &info); err != nil {
		return browser.PageInfo{}, fmt.Errorf("decode page info: %w", err)
	}
	return info, nil
}

// HTML returns the serialized document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	if err := s.ensureOpen(); err != nil {
		return "", err
	}
	ctx, cancel := s.withOperationTimeout(ctx)
	defer cancel()
	return s.evaluateString(ctx, "document.documentElement ? document.documentElement.outerHTML : \"\"")
}

// Screenshot captures the page as PNG bytes.
func (s *Session) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	ctx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	params := map[string]any{"format": "png"}
	if fullPage {
		params["captureBeyondViewport"] = true
	}
	raw, err := s.client.call(ctx, "Page.captureScreenshot", params)
	if err != nil {
		return nil, err
	}
	var shot struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &shot); err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	img, err := base64.StdEncoding.DecodeString(shot.Data)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot payload: %w", err)
	}
	return img, nil
}

// Act performs one agent action and returns a short outcome description.
func (s *Session) Act(ctx context.Context, action browser.Action) (string, error) {
	if err := s.ensureOpen(); err != nil {
		return "", err
	}

	switch action.Type {
	case browser.ActionNavigate:
		if err := s.Navigate(ctx, action.URL); err != nil {
			return "", err
		}
		return "navigated to " + action.URL, nil
	case browser.ActionClick:
		ctx, cancel := s.withOperationTimeout(ctx)
		defer cancel()
		return s.evaluateString(ctx, clickScript(action.Index))
	case browser.ActionTypeText:
		ctx, cancel := s.withOperationTimeout(ctx)
		defer cancel()
		return s.evaluateString(ctx, typeScript(action.Index, action.Text))
	case browser.ActionScroll:
		ctx, cancel := s.withOperationTimeout(ctx)
		defer cancel()
		delta := action.DeltaY
		if delta == 0 {
			delta = 600
		}
		return s.evaluateString(ctx, scrollScript(delta))
	case browser.ActionKey:
		ctx, cancel := s.withOperationTimeout(ctx)
		defer cancel()
		if err := s.dispatchKey(ctx, action.Key); err != nil {
			return "", err
		}
		return "pressed " + action.Key, nil
	default:
		return "", fmt.Errorf("unsupported action type %q", action.Type)
	}
}

// Close shuts the browser down and removes the temporary profile.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	rec := s.rec
	s.rec = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if rec != nil {
		_, _ = s.client.call(ctx, "Page.stopScreencast", nil)
		rec.stop()
	}
	_, _ = s.client.call(ctx, "Browser.close", nil)
	s.client.close()

	select {
	case <-s.waitDone:
	case <-time.After(3 * time.Second):
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		select {
		case <-s.waitDone:
		case <-time.After(2 * time.Second):
		}
	}

	if s.dataDir != "" {
		_ = os.RemoveAll(s.dataDir)
	}
	return nil
}

func (s *Session) evaluate(ctx context.Context, expr string) (json.RawMessage, error) {
	raw, err := s.client.call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expr,
		"returnByValue": true,
		"awaitPromise":  true,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode evaluate result: %w", err)
	}
	if out.ExceptionDetails != nil {
		detail := out.ExceptionDetails.Text
		if out.ExceptionDetails.Exception != nil && out.ExceptionDetails.Exception.Description != "" {
			detail = out.ExceptionDetails.Exception.Description
		}
		return nil, fmt.Errorf("script failed: %s", detail)
	}
	return out.Result.Value, nil
}

func (s *Session) evaluateString(ctx context.Context, expr string) (string, error) {
	value, err := s.evaluate(ctx, expr)
	if err != nil {
		return "", err
	}
	var text string
	if err := json.Unmarshal(value, &text); err != nil {
		return strings.TrimSpace(string(value)), nil
	}
	return text, nil
}

type keySpec struct {
	code        string
	virtualCode int
	text        string
}

var keySpecs = map[string]keySpec{
	"Enter":     {code: "Enter", virtualCode: 13, text: "\r"},
	"Tab":       {code: "Tab", virtualCode: 9, text: "\t"},
	"Escape":    {code: "Escape", virtualCode: 27},
	"Backspace": {code: "Backspace", virtualCode: 8},
	"ArrowDown": {code: "ArrowDown", virtualCode: 40},
	"ArrowUp":   {code: "ArrowUp", virtualCode: 38},
	"PageDown":  {code: "PageDown", virtualCode: 34},
	"PageUp":    {code: "PageUp", virtualCode: 33},
}

func (s *Session) dispatchKey(ctx context.Context, key string) error {
	spec, ok := keySpecs[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	down := map[string]any{
		"type":                  "keyDown",
		"key":                   key,
		"code":                  spec.code,
		"windowsVirtualKeyCode": spec.virtualCode,
	}
	if spec.text != "" {
		down["text"] = spec.text
		down["unmodifiedText"] = spec.text
	}
	if _, err := s.client.call(ctx, "Input.dispatchKeyEvent", down); err != nil {
		return err
	}
	up := map[string]any{
		"type":                  "keyUp",
		"key":                   key,
		"code":                  spec.code,
		"windowsVirtualKeyCode": spec.virtualCode,
	}
	_, err := s.client.call(ctx, "Input.dispatchKeyEvent", up)
	return err
}
