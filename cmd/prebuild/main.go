// Command prebuild writes the static data bundle consumed by the map viewer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"strata/api/internal/app"
	"strata/api/internal/config"
	"strata/api/internal/export"
	"strata/api/internal/util"
)

func main() {
	if err := run(); err != nil {
		slog.Error("prebuild failed", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	util.InitLogger(cfg.LogLevel)

	outDir := flag.String("out", cfg.ExportDir, "directory the bundle is written to")
	publishDir := flag.String("publish", cfg.PublishRepo, "git repository to commit the bundle into (optional)")
	message := flag.String("message", "", "commit message for -publish")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	repo, closeRepo, err := app.OpenRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeRepo() }()

	service := app.New(app.Options{Repo: repo, DataDir: cfg.DataDir})
	bundle, err := service.Bundle(ctx)
	if err != nil {
		return fmt.Errorf("build bundle: %w", err)
	}
	if err := export.WriteBundle(*outDir, bundle); err != nil {
		return fmt.Errorf("write bundle: %w", err)
	}
	slog.Info("bundle written", "dir", *outDir, "files", bundle.Names())

	if *publishDir == "" {
		return nil
	}
	msg := *message
	if msg == "" {
		msg = "Update static export " + time.Now().UTC().Format(time.RFC3339)
	}
	commit, err := export.NewPublisher(*publishDir, "Strata Prebuild", "prebuild@strata.local").Publish(bundle, msg)
	if err != nil {
		if errors.Is(err, export.ErrNothingToPublish) {
			slog.Info("published bundle unchanged", "repo", *publishDir)
			return nil
		}
		return fmt.Errorf("publish bundle: %w", err)
	}
	slog.Info("bundle published", "repo", *publishDir, "commit", commit.Hash)
	return nil
}
