package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mailsift/mailsift/db"
	"github.com/mailsift/mailsift/helpers"
	"github.com/mailsift/mailsift/logger"
	"github.com/mailsift/mailsift/storage"
)

func handlePurgeCommand(ctx context.Context) {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	fingerprint := fs.String("fingerprint", "", "Fingerprint of the result to delete (required)")
	keepRaw := fs.Bool("keep-raw", false, "Keep the archived raw message in S3")
	fs.Usage = func() {
		fmt.Println("Usage: mailsift-admin purge --fingerprint <64-hex> [--config config.toml] [--keep-raw]")
		fmt.Println("Deletes a persisted result and, unless --keep-raw is given, its archived raw message.")
	}
	fs.Parse(os.Args[2:])

	if !helpers.IsValidContentHash(*fingerprint) {
		logger.Fatalf("Invalid fingerprint: must be 64 lowercase hex characters")
	}

	cfg := loadConfig(*configPath)
	if cfg.Database.Write == nil {
		logger.Fatalf("No write database configured")
	}

	database, err := db.NewDatabaseFromConfig(ctx, &cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	deleted, err := database.DeleteResult(ctx, *fingerprint)
	if err != nil {
		logger.Fatalf("Failed to delete result: %v", err)
	}
	if deleted {
		logger.Info("Result deleted", "fingerprint", *fingerprint)
	} else {
		logger.Info("No persisted result for fingerprint", "fingerprint", *fingerprint)
	}

	if *keepRaw || !cfg.S3.Enabled {
		return
	}

	s3storage, err := storage.New(cfg.S3.Endpoint, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.Bucket, !cfg.S3.DisableTLS, cfg.S3.Debug)
	if err != nil {
		logger.Fatalf("Failed to initialize S3 storage: %v", err)
	}
	if err := s3storage.Delete(ctx, storage.ObjectKey(*fingerprint)); err != nil {
		logger.Fatalf("Failed to delete archived raw message: %v", err)
	}
	logger.Info("Archived raw message deleted", "fingerprint", *fingerprint)
}
