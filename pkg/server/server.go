package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/odvcencio/pilot/pkg/agent"
	"github.com/odvcencio/pilot/pkg/browser"
	"github.com/odvcencio/pilot/pkg/config"
	"github.com/odvcencio/pilot/pkg/llm"
	"github.com/odvcencio/pilot/pkg/observability"
	"github.com/odvcencio/pilot/pkg/storage"
)

// Server wires the HTTP boundary to the session core.
type Server struct {
	cfg      *config.Config
	log      *observability.Logger
	store    *storage.Store
	registry *Registry
	runtime  browser.Runtime
	limiters *clientLimiters

	// newRunner builds the supervisor for one task. Tests swap it to
	// avoid real browsers and models.
	newRunner func(id, task, model string, maxSteps int) (*agent.Runner, error)

	httpServer *http.Server
}

// New builds the server around its collaborators.
func New(cfg *config.Config, log *observability.Logger, store *storage.Store, runtime browser.Runtime) *Server {
	s := &Server{
		cfg:      cfg,
		log:      log,
		store:    store,
		registry: NewRegistry(),
		runtime:  runtime,
		limiters: newClientLimiters(cfg.Server.RateLimit, cfg.Server.RateBurst),
	}
	s.newRunner = s.buildRunner
	return s
}

func (s *Server) buildRunner(id, task, model string, maxSteps int) (*agent.Runner, error) {
	client, err := llm.New(llm.Config{
		Model:        model,
		OpenAIKey:    s.cfg.LLM.OpenAIKey,
		AnthropicKey: s.cfg.LLM.AnthropicKey,
	})
	if err != nil {
		return nil, err
	}
	driver := agent.NewLLMDriver(task, client, maxSteps, s.log)
	return agent.NewRunner(agent.RunnerConfig{
		SessionID:          id,
		Task:               task,
		Model:              model,
		MaxSteps:           maxSteps,
		Headless:           s.cfg.Browser.Headless,
		DemoMode:           s.cfg.Browser.DemoMode,
		WindowWidth:        s.cfg.Browser.WindowWidth,
		WindowHeight:       s.cfg.Browser.WindowHeight,
		RecordVideo:        s.cfg.Browser.RecordVideo,
		VideoDir:           s.cfg.Browser.VideoDir,
		CaptureScreenshots: s.cfg.Browser.CaptureScreenshots,
		ScreenshotsDir:     s.cfg.Browser.ScreenshotsDir,
		Timeout:            s.cfg.Agent.TaskTimeout,
	}, s.runtime, driver, s.log)
}

// Router assembles the route table.
func (s *Server) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(s.corsMiddleware)
	router.Use(s.requestLogger)

	router.Get("/health", s.handleHealth)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	router.Get("/ws/{sessionID}", s.handleStream)

	router.Route("/api/v1", func(r chi.Router) {
		r.With(s.rateLimit).Post("/tasks", s.handleCreateTask)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{sessionID}", s.handleGetSession)
		r.Delete("/sessions/{sessionID}", s.handleCancelSession)
		r.Get("/screenshots/{sessionID}/{filename}", s.handleScreenshotFile)
		r.Get("/videos/{sessionID}/{filename}", s.handleVideoFile)
	})

	return router
}

// Start serves HTTP until the context is cancelled. The h2c wrapper
// keeps websocket upgrades working behind proxies that speak cleartext
// HTTP/2.
func (s *Server) Start(ctx context.Context) error {
	handler := h2c.NewHandler(s.Router(), &http2.Server{})

	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.log.Info("serving api", "addr", s.cfg.Addr())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return fmt.Errorf("api server: %w", err)
	}
}
