package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"salesflow/config"
	"salesflow/logger"
	"salesflow/models"
	"salesflow/pipeline"
	"salesflow/server"
	"salesflow/store"
	"salesflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Salesflow.Name,
		"version": cfg.Salesflow.Version,
	}).Info("starting salesflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Storage.S3.Enabled {
		logger.InitCloudWatch(cfg.Storage.S3.Region, cfg.Salesflow.Name)
	}

	orderStore, err := store.Open(cfg.Database, log)
	if err != nil {
		log.WithError(err).WithEnv("DATABASE_URL").Error("failed to connect to order store")
		os.Exit(1)
	}
	defer func() {
		if err := orderStore.Close(); err != nil {
			log.WithError(err).Warn("failed to close order store")
		}
	}()

	runner := pipeline.NewRunner(orderStore, cfg.Pipeline, log)

	var wg sync.WaitGroup

	var archiveWriter *writer.ArchiveWriter
	if cfg.Archive.Enabled {
		archiveCh := make(chan models.CleanBatch, cfg.Archive.BatchBuffer)
		runner.SetArchiveChannel(archiveCh)

		archiveWriter, err = writer.NewArchiveWriter(cfg, archiveCh)
		if err != nil {
			log.WithError(err).Error("failed to create archive writer")
			os.Exit(1)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := archiveWriter.Start(ctx); err != nil {
				log.WithError(err).Warn("archive writer failed to start")
			}
		}()
	} else {
		log.WithComponent("main").Info("archive disabled; skipping archive writer")
	}

	apiServer := server.NewServer(cfg.Server, cfg.Pipeline, orderStore, runner, log)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Run(ctx); err != nil {
			log.WithError(err).Error("admin API server failed")
			cancel()
		}
	}()

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown")
	cancel()

	if archiveWriter != nil {
		log.Info("stopping archive writer")
		archiveWriter.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("salesflow stopped")
}
