package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/pilot/pkg/browser/adapters/cdp"
	"github.com/odvcencio/pilot/pkg/config"
	"github.com/odvcencio/pilot/pkg/observability"
	"github.com/odvcencio/pilot/pkg/server"
	"github.com/odvcencio/pilot/pkg/storage"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "pilot: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("pilot", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file (optional)")
	showVersion := fs.Bool("version", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Println("pilot " + version)
		return nil
	}

	// A local .env file is a convenience, not a requirement.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := observability.NewLogger("pilot", observability.ParseLevel(cfg.Logging.Level))

	if cfg.Tracing.Enabled {
		tp, err := observability.NewTracerProvider("pilot")
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				log.Warn("tracer shutdown failed", "error", err)
			}
		}()
	}

	store, err := storage.New(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open session journal: %w", err)
	}
	defer store.Close()

	runtime, err := cdp.NewRuntime(cdp.Config{ExecPath: cfg.Browser.ExecPath})
	if err != nil {
		return fmt.Errorf("init browser runtime: %w", err)
	}
	defer runtime.Close()

	srv := server.New(cfg, log, store, runtime)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})

	log.Info("pilot started",
		"addr", cfg.Addr(),
		"model", cfg.LLM.Model,
		"headless", cfg.Browser.Headless,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("pilot stopped")
	return nil
}
