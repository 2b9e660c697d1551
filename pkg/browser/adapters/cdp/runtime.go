package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/pilot/pkg/browser"
	"github.com/odvcencio/pilot/pkg/observability"
)

// binaryCandidates are probed on PATH when no explicit ExecPath is set.
var binaryCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
	"headless-shell",
}

// Runtime launches Chromium processes and drives them over the devtools
// protocol. It implements browser.Runtime.
type Runtime struct {
	cfg Config
}

// NewRuntime validates the config and returns a devtools-backed runtime.
func NewRuntime(cfg Config) (*Runtime, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cdp config: %w", err)
	}
	return &Runtime{cfg: cfg}, nil
}

// Close releases runtime-wide resources. Sessions own their processes,
// so there is nothing to tear down here.
func (r *Runtime) Close() error { return nil }

// NewSession starts a browser process, waits for its devtools endpoint,
// and returns a connected session.
func (r *Runtime) NewSession(ctx context.Context, cfg browser.SessionConfig) (browser.Session, error) {
	execPath, err := resolveExecPath(r.cfg.ExecPath)
	if err != nil {
		observability.BrowserLaunches.WithLabelValues("not_installed").Inc()
		return nil, err
	}

	port, err := freePort()
	if err != nil {
		observability.BrowserLaunches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("allocate debug port: %w", err)
	}

	dataDir, err := os.MkdirTemp("", "pilot-browser-*")
	if err != nil {
		observability.BrowserLaunches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	cmd := exec.Command(execPath, launchArgs(cfg, port, dataDir)...)
	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(dataDir)
		observability.BrowserLaunches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: start %s: %v", browser.ErrUnavailable, execPath, err)
	}

	waitDone := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(waitDone)
	}()

	fail := func(err error) (browser.Session, error) {
		_ = cmd.Process.Kill()
		select {
		case <-waitDone:
		case <-time.After(2 * time.Second):
		}
		_ = os.RemoveAll(dataDir)
		observability.BrowserLaunches.WithLabelValues("error").Inc()
		return nil, err
	}

	wsURL, err := waitForTarget(ctx, port, r.cfg.ConnectTimeout)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", browser.ErrUnavailable, err))
	}

	cl, err := dialClient(ctx, wsURL)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", browser.ErrUnavailable, err))
	}

	s := &Session{
		id:               cfg.SessionID,
		cfg:              cfg,
		client:           cl,
		cmd:              cmd,
		dataDir:          dataDir,
		waitDone:         waitDone,
		operationTimeout: r.cfg.OperationTimeout,
	}
	cl.setEventFunc(s.handleEvent)

	if _, err := cl.call(ctx, "Page.enable", nil); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: enable page domain: %v", browser.ErrUnavailable, err)
	}
	if _, err := cl.call(ctx, "Runtime.enable", nil); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: enable runtime domain: %v", browser.ErrUnavailable, err)
	}

	if cfg.RecordVideo && cfg.VideoDir != "" {
		// Recording is best effort. A missing encoder must not block
		// the session, the caller just ends up without a video file.
		_ = s.startRecorder(ctx, r.cfg)
	}

	if cfg.InitialURL != "" {
		if err := s.Navigate(ctx, cfg.InitialURL); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("open initial url: %w", err)
		}
	}

	observability.BrowserLaunches.WithLabelValues("ok").Inc()
	return s, nil
}

func resolveExecPath(override string) (string, error) {
	if override != "" {
		if _, err := exec.LookPath(override); err != nil {
			return "", fmt.Errorf("%w: %s: %v", browser.ErrNotInstalled, override, err)
		}
		return override, nil
	}
	for _, name := range binaryCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: tried %s", browser.ErrNotInstalled, strings.Join(binaryCandidates, ", "))
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port, nil
}

func launchArgs(cfg browser.SessionConfig, port int, dataDir string) []string {
	vp := cfg.Viewport
	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(port),
		"--user-data-dir=" + dataDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-background-networking",
		"--disable-sync",
		"--disable-infobars",
		"--disable-popup-blocking",
		fmt.Sprintf("--window-size=%d,%d", vp.Width, vp.Height),
	}
	if cfg.Headless {
		args = append(args, "--headless=new", "--disable-gpu")
	}
	if cfg.DemoMode && !cfg.Headless {
		args = append(args, "--auto-open-devtools-for-tabs")
	}
	if cfg.UserAgent != "" {
		args = append(args, "--user-agent="+cfg.UserAgent)
	}
	if cfg.Locale != "" {
		args = append(args, "--lang="+cfg.Locale)
	}
	return append(args, "about:blank")
}

type targetInfo struct {
	Type                 string `json:"type"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// waitForTarget polls the devtools HTTP endpoint until a page target
// shows up or the timeout expires.
func waitForTarget(ctx context.Context, port int, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	listURL := fmt.Sprintf("http://127.0.0.1:%d/json/list", port)
	httpClient := &http.Client{Timeout: 500 * time.Millisecond}

	var lastErr error
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		targets, err := fetchTargets(ctx, httpClient, listURL)
		if err != nil {
			lastErr = err
		} else {
			for _, t := range targets {
				if t.Type == "page" && t.WebSocketDebuggerURL != "" {
					return t.WebSocketDebuggerURL, nil
				}
			}
			lastErr = fmt.Errorf("no page target yet")
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return "", fmt.Errorf("devtools endpoint not ready after %s: %v", timeout, lastErr)
}

func fetchTargets(ctx context.Context, hc *http.Client, url string) ([]targetInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("devtools list returned %d", resp.StatusCode)
	}
	var targets []targetInfo
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, err
	}
	return targets, nil
}
