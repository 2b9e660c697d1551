package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odvcencio/pilot/pkg/llm"
	"github.com/odvcencio/pilot/pkg/observability"
	"github.com/odvcencio/pilot/pkg/storage"
)

const (
	maxTaskLength  = 4000
	maxRequestBody = 1 << 20
)

type createTaskRequest struct {
	Task     string `json:"task"`
	Model    string `json:"model,omitempty"`
	MaxSteps int    `json:"max_steps,omitempty"`
}

type createTaskResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	WSURL     string `json:"ws_url"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	ctx, span := observability.StartSpan(r.Context(), "create_task")
	defer span.End()

	var req createTaskRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	task := strings.TrimSpace(req.Task)
	if task == "" {
		respondError(w, http.StatusBadRequest, "task must not be empty")
		return
	}
	if len(task) > maxTaskLength {
		respondError(w, http.StatusBadRequest, "task is too long")
		return
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = s.cfg.LLM.Model
	}
	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = s.cfg.Agent.MaxSteps
	}
	if maxSteps > 100 {
		maxSteps = 100
	}

	id := uuid.NewString()
	span.SetAttributes(
		observability.AttrSessionID.String(id),
		observability.AttrModel.String(model),
	)

	runner, err := s.newRunner(id, task, model, maxSteps)
	if err != nil {
		if errors.Is(err, llm.ErrNoCredentials) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("runner construction failed", "error", err)
		respondError(w, http.StatusInternalServerError, "could not prepare the task")
		return
	}

	if err := s.store.CreateSession(ctx, id, task, model); err != nil {
		s.log.Error("session journal write failed", "error", err)
		respondError(w, http.StatusInternalServerError, "could not persist the task")
		return
	}

	sess := newSession(id, task, model, runner)
	if err := s.registry.Insert(sess); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	s.log.Info("task created", "session_id", id, "model", model, "max_steps", maxSteps)
	respondStatusJSON(w, http.StatusCreated, createTaskResponse{
		SessionID: id,
		Status:    storage.StatusPending,
		WSURL:     "/ws/" + id,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := parsePositiveInt(v); err == nil {
			limit = parsed
		}
	}
	records, err := s.store.ListSessions(r.Context(), limit)
	if err != nil {
		s.log.Error("session list failed", "error", err)
		respondError(w, http.StatusInternalServerError, "could not list sessions")
		return
	}
	respondJSON(w, map[string]any{
		"sessions": records,
		"active":   s.registry.ActiveIDs(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	rec, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		s.log.Error("session lookup failed", "session_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "could not load session")
		return
	}
	_, live := s.registry.Get(id)
	respondJSON(w, map[string]any{
		"session": rec,
		"live":    live,
	})
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, ok := s.registry.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "no in-flight session with that id")
		return
	}

	if !sess.Started() {
		// Nothing is streaming this run, so finalize the journal here.
		s.registry.Remove(id)
		if err := s.store.FinishSession(r.Context(), id, storage.StatusError, "", "cancelled", ""); err != nil {
			s.log.Warn("journal update failed for cancelled session", "session_id", id, "error", err)
		}
		respondJSON(w, map[string]string{"session_id": id, "status": "cancelled"})
		return
	}

	sess.Cancel()
	s.log.Info("session cancel requested", "session_id", id)
	respondStatusJSON(w, http.StatusAccepted, map[string]string{"session_id": id, "status": "cancelling"})
}

func (s *Server) handleScreenshotFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	filename := chi.URLParam(r, "filename")
	if !safeFilename(filename) || !strings.HasPrefix(filename, id+"_") {
		respondError(w, http.StatusBadRequest, "invalid screenshot filename")
		return
	}
	s.serveArtifact(w, r, s.cfg.Browser.ScreenshotsDir, filename)
}

func (s *Server) handleVideoFile(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if !safeFilename(filename) || !strings.HasSuffix(strings.ToLower(filename), ".mp4") {
		respondError(w, http.StatusBadRequest, "invalid video filename")
		return
	}
	s.serveArtifact(w, r, s.cfg.Browser.VideoDir, filename)
}

func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, dir, filename string) {
	path := filepath.Join(dir, filename)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		respondError(w, http.StatusNotFound, "artifact not found")
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "journal database unavailable")
		return
	}
	respondJSON(w, map[string]any{
		"status":          "ok",
		"active_sessions": s.registry.Len(),
		"time":            time.Now().UTC().Format(time.RFC3339),
	})
}

// safeFilename rejects anything that could escape the artifact dir.
func safeFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return false
	}
	return name == filepath.Base(name)
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("value must be positive")
	}
	return n, nil
}

func respondJSON(w http.ResponseWriter, payload any) {
	respondStatusJSON(w, http.StatusOK, payload)
}

func respondStatusJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondStatusJSON(w, status, map[string]any{
		"error":  message,
		"status": status,
	})
}
