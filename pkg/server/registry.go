// Package server is the transport boundary: HTTP task creation, the
// per-session websocket stream, artifact serving, and the registry that
// correlates external requests with in-flight runs.
package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/odvcencio/pilot/pkg/agent"
)

var (
	// ErrSessionExists means the registry already holds this id.
	ErrSessionExists = errors.New("server: session already registered")
	// ErrAlreadyStarted means the session's single run was consumed.
	ErrAlreadyStarted = errors.New("server: session already started")
)

// Session is one registered task and its single run. Runs are not
// restartable: Start succeeds once.
type Session struct {
	ID        string
	Task      string
	Model     string
	CreatedAt time.Time

	runner *agent.Runner

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

func newSession(id, task, model string, runner *agent.Runner) *Session {
	return &Session{
		ID:        id,
		Task:      task,
		Model:     model,
		CreatedAt: time.Now().UTC(),
		runner:    runner,
	}
}

// Start launches the run and returns its event stream.
func (s *Session) Start(parent context.Context) (<-chan agent.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, ErrAlreadyStarted
	}
	s.started = true
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	return s.runner.Run(ctx), nil
}

// Cancel aborts an in-flight run. Safe to call at any point.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Started reports whether the single run has been consumed.
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Registry is the keyed store of in-flight sessions. Entries are
// inserted when a task is created and removed explicitly on the
// terminal event or on cancellation, never collected implicitly.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Insert(sess *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sess.ID]; ok {
		return ErrSessionExists
	}
	r.sessions[sess.ID] = sess
	return nil
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ActiveIDs lists registered session ids, for the sessions endpoint.
func (r *Registry) ActiveIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}
