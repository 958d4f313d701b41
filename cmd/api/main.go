package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vrpdicho/internal/api"
	"vrpdicho/internal/buildinfo"
	"vrpdicho/internal/config"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to a yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srvDeps, err := api.NewServer(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           logMiddleware(srvDeps.Routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Start webhook worker
	worker := srvDeps.NewWebhookWorker()
	worker.Start()

	go func() {
		log.Printf("API %s listening on %s", buildinfo.String(), cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := srvDeps.Runner.Shutdown(shutdownCtx); err != nil {
		log.Printf("jobs shutdown: %v", err)
	}
	close(worker.Stop)
	if err := srvDeps.Close(); err != nil {
		log.Printf("close: %v", err)
	}
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		dur := time.Since(start)
		log.Printf("%s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, dur)
	})
}
