package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/richinsley/sketch2go/internal/config"
	"github.com/richinsley/sketch2go/internal/pipeline"
	"github.com/richinsley/sketch2go/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	p, err := newPipeline(cfg.Pipeline)
	if err != nil {
		log.Fatalf("failed to create pipeline: %v", err)
	}

	mgr := pipeline.NewManager(p, pipeline.Options{
		Steps:          cfg.Pipeline.Steps,
		GuidanceScale:  cfg.Pipeline.GuidanceScale,
		DefaultPrompt:  cfg.Pipeline.DefaultPrompt,
		NegativePrompt: cfg.Pipeline.NegativePrompt,
	})

	if cfg.Pipeline.Preload {
		go func() {
			if err := mgr.Load(ctx); err != nil {
				log.Printf("warning: preloading pipeline failed: %v", err)
				log.Println("the pipeline will be loaded on the first request")
			}
		}()
	} else {
		log.Printf("pipeline %s will be loaded on the first request", mgr.Name())
	}

	hub := server.NewHub()
	defer hub.Close()

	router := server.NewRouter(mgr, hub, cfg.Server)

	startServer(ctx, cfg.Server, router)
}

func newPipeline(cfg config.PipelineConfig) (pipeline.Pipeline, error) {
	switch cfg.Name {
	case "preview":
		return pipeline.NewPreview(cfg.StepDelay), nil
	default:
		return nil, fmt.Errorf("unknown pipeline %q", cfg.Name)
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("sketch2go server listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
