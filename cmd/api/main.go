package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"strata/api/internal/app"
	"strata/api/internal/config"
	"strata/api/internal/export"
	"strata/api/internal/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	util.InitLogger(cfg.LogLevel)
	ctx := context.Background()

	backends, err := app.OpenBackends(ctx, cfg)
	if err != nil {
		slog.Error("backend setup failed", "err", err)
		os.Exit(1)
	}
	defer backends.Close()

	var publisher *export.Publisher
	if cfg.PublishRepo != "" {
		publisher = export.NewPublisher(cfg.PublishRepo, "", "")
	}
	service := app.New(app.Options{
		Repo:      backends.Repo,
		Locker:    backends.Locker,
		Blobs:     backends.Blobs,
		Search:    backends.Search,
		Publisher: publisher,
		DataDir:   cfg.DataDir,
	})
	go service.ReindexSearch(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, cfg.MaxUploadBytes)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("strata api listening", "addr", cfg.Addr, "store", cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
}
