package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/pilot/pkg/agent"
	"github.com/odvcencio/pilot/pkg/observability"
	"github.com/odvcencio/pilot/pkg/storage"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	startFrameWait = 30 * time.Second
	journalWait    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Local dashboards connect from whatever origin they were served on.
	CheckOrigin: func(*http.Request) bool { return true },
}

// startFrame is the first message a client sends after connecting.
type startFrame struct {
	Action string `json:"action"`
}

// eventFrame is the wire shape of a streamed agent event.
type eventFrame struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// handleStream upgrades the connection, waits for the client's start frame,
// launches the run, and forwards every agent event until the terminal one.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, ok := s.registry.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "no pending session with that id")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "session_id", id, "error", err)
		return
	}
	defer conn.Close()

	observability.StreamClients.Inc()
	defer observability.StreamClients.Dec()

	conn.SetReadDeadline(time.Now().Add(startFrameWait))
	var start startFrame
	if err := conn.ReadJSON(&start); err != nil || start.Action != "start" {
		closeWith(conn, websocket.ClosePolicyViolation, "expected a start frame")
		return
	}

	// The request context dies with this handler, and the run must not:
	// cancellation flows through the session instead.
	events, err := sess.Start(context.Background())
	if err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, err.Error())
		return
	}

	journalCtx, cancelJournal := context.WithTimeout(context.Background(), journalWait)
	if err := s.store.MarkRunning(journalCtx, id); err != nil {
		s.log.Warn("journal update failed", "session_id", id, "error", err)
	}
	cancelJournal()

	var writeMu sync.Mutex

	// The reader's only jobs are pong bookkeeping and noticing the peer leave.
	readerGone := make(chan struct{})
	go func() {
		defer close(readerGone)
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		conn.SetReadDeadline(time.Now().Add(pongWait))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pings := time.NewTicker(pingPeriod)
	defer pings.Stop()

	var terminal *agent.Event
stream:
	for {
		select {
		case ev, open := <-events:
			if !open {
				break stream
			}
			if ev.IsTerminal() {
				evCopy := ev
				terminal = &evCopy
			}
			if err := writeFrame(conn, &writeMu, frameFrom(ev)); err != nil {
				observability.StreamMessagesDropped.Inc()
				s.log.Warn("stream write failed, cancelling run", "session_id", id, "error", err)
				sess.Cancel()
				break stream
			}
			observability.StreamMessagesSent.Inc()
		case <-readerGone:
			s.log.Info("stream client disconnected, cancelling run", "session_id", id)
			sess.Cancel()
			break stream
		case <-pings.C:
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				sess.Cancel()
				break stream
			}
		}
	}

	// The run closes the channel right after its terminal event, so this
	// finishes promptly even when the client is already gone.
	for ev := range events {
		if ev.IsTerminal() {
			evCopy := ev
			terminal = &evCopy
		}
	}

	s.registry.Remove(id)
	s.finishJournal(id, terminal)

	writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
	writeMu.Unlock()
}

// finishJournal records the run's outcome. A nil terminal event means the
// run ended without reporting, which is itself an error worth journaling.
func (s *Server) finishJournal(id string, terminal *agent.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), journalWait)
	defer cancel()

	status := storage.StatusError
	result := ""
	errorType := "error"
	video := ""
	if terminal != nil {
		switch terminal.Kind {
		case agent.KindComplete:
			status = storage.StatusComplete
			errorType = ""
			result, _ = terminal.Data["result"].(string)
			video, _ = terminal.Data["video_filename"].(string)
		case agent.KindError:
			result, _ = terminal.Data["message"].(string)
			if et, ok := terminal.Data["error_type"].(string); ok && et != "" {
				errorType = et
			}
		}
	}
	if err := s.store.FinishSession(ctx, id, status, result, errorType, video); err != nil {
		s.log.Warn("journal update failed", "session_id", id, "error", err)
	}
}

func frameFrom(ev agent.Event) eventFrame {
	return eventFrame{
		ID:        ulid.Make().String(),
		Type:      string(ev.Kind),
		SessionID: ev.SessionID,
		Timestamp: ev.Timestamp,
		Data:      ev.Data,
	}
}

func writeFrame(conn *websocket.Conn, mu *sync.Mutex, frame eventFrame) error {
	mu.Lock()
	defer mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(frame)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	conn.SetWriteDeadline(deadline)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
}
