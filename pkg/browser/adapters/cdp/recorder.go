package cdp

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// recorder pipes screencast frames into an ffmpeg process that encodes
// the session video. Everything here is best effort: a broken encoder
// only costs the artifact, never the session.
type recorder struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	waitDone chan struct{}

	mu      sync.Mutex
	stopped bool
}

func (s *Session) startRecorder(ctx context.Context, rcfg Config) error {
	ffmpegPath, err := exec.LookPath(rcfg.FFmpegPath)
	if err != nil {
		return fmt.Errorf("video encoder unavailable: %w", err)
	}
	if err := os.MkdirAll(s.cfg.VideoDir, 0o755); err != nil {
		return fmt.Errorf("create video dir: %w", err)
	}
	outPath := filepath.Join(s.cfg.VideoDir, fmt.Sprintf("rec_%d.mp4", time.Now().UnixMilli()))

	cmd := exec.Command(ffmpegPath,
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "image2pipe",
		"-framerate", strconv.Itoa(rcfg.ScreencastFPS),
		"-i", "-",
		// libx264 rejects odd frame dimensions.
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		outPath,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open encoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start encoder: %w", err)
	}

	rec := &recorder{cmd: cmd, stdin: stdin, waitDone: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(rec.waitDone)
	}()
	s.setRecorder(rec)

	_, err = s.client.call(ctx, "Page.startScreencast", map[string]any{
		"format":        "png",
		"everyNthFrame": 2,
	})
	if err != nil {
		s.setRecorder(nil)
		rec.stop()
		return fmt.Errorf("start screencast: %w", err)
	}
	return nil
}

func (r *recorder) writeFrame(b64 string) {
	frame, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if _, err := r.stdin.Write(frame); err != nil {
		r.stopped = true
	}
}

// stop closes the frame pipe and waits for the encoder to finish the
// file, killing it if it refuses to exit.
func (r *recorder) stop() {
	r.mu.Lock()
	already := r.stopped
	r.stopped = true
	r.mu.Unlock()

	if !already {
		_ = r.stdin.Close()
	}
	select {
	case <-r.waitDone:
		return
	case <-time.After(5 * time.Second):
	}
	if r.cmd.Process != nil {
		_ = r.cmd.Process.Kill()
	}
	select {
	case <-r.waitDone:
	case <-time.After(2 * time.Second):
	}
}
