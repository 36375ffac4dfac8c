package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ataxco/contentforge/internal/app"
)

func envTrue(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, os.Getenv("CONTENTFORGE_CONFIG"))
	if err != nil {
		fmt.Printf("failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer a.Stop()

	runServer := envTrue("RUN_SERVER", true)
	runWorker := envTrue("RUN_WORKER", false)

	if err := a.Start(ctx, runWorker); err != nil {
		a.Log.Fatal("failed to start background components", "error", err)
	}

	if !runServer {
		a.Log.Info("worker-only process, no HTTP server")
		<-ctx.Done()
		return
	}

	port := envInt("PORT", 8080)
	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      a.Router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.Log.Info("http server listening", "port", port, "run_worker", runWorker)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		a.Log.Warn("server failed", "error", err)
	}
}
