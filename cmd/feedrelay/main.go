package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"feedrelay/internal/config"
	"feedrelay/internal/database"
	"feedrelay/internal/deliver"
	"feedrelay/internal/fetch"
	"feedrelay/internal/logging"
	"feedrelay/internal/relay"
	"feedrelay/internal/telegram"
	"feedrelay/internal/topic"
)

var (
	// Version will be set during build
	Version = "dev"

	// Command line flags
	configPath = flag.String("config", "", "Path to YAML config file")
	dbPath     = flag.String("db", "", "Path to database file (default: data/feedrelay.db or FEEDRELAY_DB_PATH)")
	version    = flag.Bool("version", false, "Print version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("feedrelay version %s\n", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infof("starting feedrelay v%s", Version)
	logger.Infof("database: %s", cfg.DBPath)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		logger.Fatalf("failed to create database directory: %v", err)
	}

	db, err := database.NewDB(cfg.DBPath, database.DefaultConfig())
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	defer db.Close()

	client, err := telegram.NewClient(cfg.Telegram.Token, logger)
	if err != nil {
		logger.Fatalf("failed to initialize telegram client: %v", err)
	}

	engine := deliver.NewEngine(client, logger)
	router := topic.NewRouter(client, db, logger)
	service := relay.NewService(db, fetch.NewFetcher(logger), router, engine, logger)

	ctx := context.Background()
	if err := service.Start(ctx); err != nil {
		logger.Fatalf("failed to schedule feeds: %v", err)
	}

	// Block until shutdown is requested, then let in-flight deliveries drain.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	logger.Infof("received %s, shutting down", received)

	service.Stop()
	engine.Close()
	logger.Infof("shutdown complete")
}
