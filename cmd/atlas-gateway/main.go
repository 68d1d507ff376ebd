package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aidant64/atlas"
	"github.com/aidant64/atlas/service/gatekeeper"
)

// main loads the configuration, registers the welfare demo tools and runs the
// gateway until SIGINT or SIGTERM.
func main() {
	configURL := flag.String("config", "", "path or URL of the YAML configuration")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config := atlas.DefaultConfig()
	if *configURL != "" {
		loaded, err := atlas.LoadConfig(ctx, *configURL)
		if err != nil {
			logger.Error("failed to load config", "config", *configURL, "error", err)
			os.Exit(1)
		}
		config = loaded
	}
	if config.APIKey == "" {
		config.APIKey = os.Getenv("ATLAS_API_KEY")
	}
	if config.APIKey == "" {
		logger.Warn("ATLAS_API_KEY not set, protected endpoints will reject every request")
	}

	srv, err := atlas.New(config, atlas.WithTools(gatekeeper.WelfareTools()...), atlas.WithLogger(logger))
	if err != nil {
		logger.Error("failed to start gateway", "error", err)
		os.Exit(1)
	}
	logger.Info("starting ATLAS governance gateway", "addr", config.ListenAddr,
		"store", config.Store.Vendor, "bus", config.Bus.Vendor, "assessor", config.Assessor.Provider)
	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}
