package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"linkblocksbot/internal/bot"
	"linkblocksbot/internal/callback"
	"linkblocksbot/internal/config"
	"linkblocksbot/internal/linkblocks"
	"linkblocksbot/internal/logging"
	"linkblocksbot/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "linkblocksbot: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// --- Configuration Loading ---
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// --- Logger Setup ---
	log, logCloser, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	log.WithFields(logrus.Fields{
		"store_backend": cfg.StoreBackend,
		"callback_addr": cfg.CallbackAddr,
		"linkblocks":    cfg.LinkblocksURL,
	}).Info("Configuration loaded successfully")

	// Create context that listens for interrupt signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize Components ---
	repo, err := storage.Open(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("Failed to initialize credential store")
		return err
	}
	defer func() {
		log.Info("Closing credential store...")
		if err := repo.Close(); err != nil {
			log.WithError(err).Error("Error closing credential store")
		}
	}()

	client := linkblocks.NewClient(cfg.LinkblocksURL, cfg.LinkblocksTimeout, log)

	botHandler, err := bot.NewHandler(cfg, repo, client, log)
	if err != nil {
		log.WithError(err).Error("Failed to initialize Discord bot handler")
		return err
	}

	server := callback.New(cfg.CallbackAddr, repo, log)

	// --- Application Startup ---
	log.Info("Starting linkblocksbot...")
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return botHandler.Run(gctx)
	})
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	log.Info("linkblocksbot is running. Press Ctrl+C to exit.")
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("linkblocksbot stopped with error")
		return err
	}

	log.Info("linkblocksbot shut down gracefully.")
	return nil
}
