package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/odvcencio/pilot/pkg/agent"
	"github.com/odvcencio/pilot/pkg/storage"
)

func dialStream(t *testing.T, srv *httptest.Server, path string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	return websocket.DefaultDialer.Dial(url, nil)
}

func TestStreamDeliversRunToCompletion(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	created := createTask(t, s.Router(), "stream this run")

	conn, _, err := dialStream(t, srv, created.WSURL)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"action": "start"}); err != nil {
		t.Fatalf("send start frame: %v", err)
	}

	var frames []eventFrame
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		var frame eventFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("stream ended abnormally after %d frames: %v", len(frames), err)
			}
			break
		}
		frames = append(frames, frame)
	}

	if len(frames) < 2 {
		t.Fatalf("got %d frames, want at least status and complete", len(frames))
	}
	if frames[0].Type != string(agent.KindStatus) {
		t.Errorf("first frame type = %q, want status", frames[0].Type)
	}
	last := frames[len(frames)-1]
	if last.Type != string(agent.KindComplete) {
		t.Fatalf("last frame type = %q, want complete", last.Type)
	}
	if got, _ := last.Data["result"].(string); got != "All done." {
		t.Errorf("completion result = %q, want the driver's done text", got)
	}

	for i, frame := range frames {
		if len(frame.ID) != 26 {
			t.Errorf("frame %d id = %q, want a ulid", i, frame.ID)
		}
		if frame.SessionID != created.SessionID {
			t.Errorf("frame %d session id = %q, want %q", i, frame.SessionID, created.SessionID)
		}
		if frame.Timestamp.IsZero() {
			t.Errorf("frame %d has no timestamp", i)
		}
	}

	// The close frame arrives after the registry and journal are settled.
	if s.registry.Len() != 0 {
		t.Errorf("registry still holds %d sessions after the run", s.registry.Len())
	}
	rec, err := s.store.GetSession(context.Background(), created.SessionID)
	if err != nil {
		t.Fatalf("journal lookup: %v", err)
	}
	if rec.Status != storage.StatusComplete {
		t.Errorf("journaled status = %q, want complete", rec.Status)
	}
	if rec.Result != "All done." {
		t.Errorf("journaled result = %q", rec.Result)
	}
	if rec.EndedAt == nil {
		t.Error("finished session should have ended_at")
	}
}

func TestStreamUnknownSession(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	conn, resp, err := dialStream(t, srv, "/ws/ghost")
	if err == nil {
		conn.Close()
		t.Fatal("dialing an unknown session should fail the handshake")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("handshake response = %+v, want 404", resp)
	}
}

func TestStreamRejectsWrongStartFrame(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	created := createTask(t, s.Router(), "never starts")

	conn, _, err := dialStream(t, srv, created.WSURL)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"action": "pause"}); err != nil {
		t.Fatalf("send frame: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("read after bad start = %v, want a policy violation close", err)
	}

	// The session survives for a client that connects properly later.
	sess, ok := s.registry.Get(created.SessionID)
	if !ok {
		t.Fatal("session should stay registered after a rejected handshake")
	}
	if sess.Started() {
		t.Error("rejected handshake must not consume the run")
	}
}

func TestStreamSecondClientCannotRestart(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	created := createTask(t, s.Router(), "single use run")

	// Consume the run directly, standing in for an earlier client.
	sess, ok := s.registry.Get(created.SessionID)
	if !ok {
		t.Fatal("session missing from registry")
	}
	events, err := sess.Start(context.Background())
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	conn, _, err := dialStream(t, srv, created.WSURL)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"action": "start"}); err != nil {
		t.Fatalf("send start frame: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("read on consumed run = %v, want a policy violation close", err)
	}

	for range events {
	}
}
