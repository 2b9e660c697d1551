package cdp

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/odvcencio/pilot/pkg/browser"
)

func TestNewRuntimeRejectsBadConfig(t *testing.T) {
	if _, err := NewRuntime(Config{ScreencastFPS: -1}); err == nil {
		t.Error("negative fps should fail validation")
	}
	rt, err := NewRuntime(Config{})
	if err != nil {
		t.Fatalf("empty config should pick up defaults: %v", err)
	}
	if rt.cfg.ConnectTimeout == 0 {
		t.Error("defaults not applied to runtime config")
	}
}

func TestLaunchArgs(t *testing.T) {
	base := browser.SessionConfig{
		Viewport: browser.Viewport{Width: 1280, Height: 1100},
	}

	hasArg := func(args []string, want string) bool {
		for _, a := range args {
			if a == want {
				return true
			}
		}
		return false
	}

	t.Run("headless", func(t *testing.T) {
		cfg := base
		cfg.Headless = true
		args := launchArgs(cfg, 9222, "/tmp/profile")

		if !hasArg(args, "--headless=new") {
			t.Error("headless launch should use the new headless mode")
		}
		if !hasArg(args, "--remote-debugging-port=9222") {
			t.Error("debug port flag missing")
		}
		if !hasArg(args, "--user-data-dir=/tmp/profile") {
			t.Error("profile dir flag missing")
		}
		if !hasArg(args, "--window-size=1280,1100") {
			t.Error("window size flag missing")
		}
		if args[len(args)-1] != "about:blank" {
			t.Errorf("last arg = %q, want about:blank", args[len(args)-1])
		}
	})

	t.Run("demo mode opens devtools only with a visible window", func(t *testing.T) {
		cfg := base
		cfg.DemoMode = true
		args := launchArgs(cfg, 9222, "/tmp/profile")
		if !hasArg(args, "--auto-open-devtools-for-tabs") {
			t.Error("visible demo session should open devtools")
		}

		cfg.Headless = true
		args = launchArgs(cfg, 9222, "/tmp/profile")
		if hasArg(args, "--auto-open-devtools-for-tabs") {
			t.Error("headless session must not request devtools ui")
		}
	})

	t.Run("optional identity flags", func(t *testing.T) {
		cfg := base
		cfg.UserAgent = "pilot-test"
		cfg.Locale = "de-DE"
		args := launchArgs(cfg, 9222, "/tmp/profile")
		if !hasArg(args, "--user-agent=pilot-test") {
			t.Error("user agent flag missing")
		}
		if !hasArg(args, "--lang=de-DE") {
			t.Error("locale flag missing")
		}
	})
}

func TestResolveExecPathMissingOverride(t *testing.T) {
	_, err := resolveExecPath(filepath.Join(t.TempDir(), "no-such-browser"))
	if !errors.Is(err, browser.ErrNotInstalled) {
		t.Errorf("missing override = %v, want ErrNotInstalled", err)
	}
}

func TestResolveExecPathExplicitBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("exec bits are not a thing on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-chrome")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	got, err := resolveExecPath(path)
	if err != nil {
		t.Fatalf("resolve explicit binary: %v", err)
	}
	if got != path {
		t.Errorf("resolved %q, want %q", got, path)
	}
}

func TestFreePort(t *testing.T) {
	port, err := freePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	if port <= 0 || port > 65535 {
		t.Errorf("port %d out of range", port)
	}
}

func TestKeySpecs(t *testing.T) {
	// Keys that produce characters must carry text for the key event.
	if spec := keySpecs["Enter"]; spec.text != "\r" || spec.virtualCode != 13 {
		t.Errorf("Enter spec = %+v", spec)
	}
	if spec := keySpecs["Tab"]; spec.text != "\t" {
		t.Errorf("Tab spec = %+v", spec)
	}
	if spec := keySpecs["Escape"]; spec.text != "" {
		t.Errorf("Escape should not carry text, got %q", spec.text)
	}
	for name, spec := range keySpecs {
		if spec.code == "" || spec.virtualCode == 0 {
			t.Errorf("key %q has an incomplete spec: %+v", name, spec)
		}
		if !strings.EqualFold(name, spec.code) {
			t.Errorf("key %q code %q should match its name", name, spec.code)
		}
	}
}
