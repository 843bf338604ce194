package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/emersion/go-mbox"

	"github.com/mailsift/mailsift/logger"
	"github.com/mailsift/mailsift/pipeline"
)

func handleImportCommand(ctx context.Context) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	mboxPath := fs.String("mbox", "", "Path to the mbox file to import (required)")
	rulesetPath := fs.String("rulesets", "", "Path to ruleset file or directory (overrides config)")
	rulesetVersion := fs.String("ruleset-version", "", "Ruleset version to apply (default: store default)")
	charset := fs.String("charset", "", "Charset hint for messages with unlabeled 8-bit bodies")
	dryRun := fs.Bool("dry-run", false, "Process messages without persisting or archiving")
	fs.Usage = func() {
		fmt.Println("Usage: mailsift-admin import --mbox archive.mbox [--config config.toml] [--rulesets path] [--ruleset-version v] [--dry-run]")
		fmt.Println("Runs every message of an mbox file through the sanitization pipeline.")
	}
	fs.Parse(os.Args[2:])

	if *mboxPath == "" {
		fs.Usage()
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	proc, cleanup, err := buildPipeline(ctx, cfg, *rulesetPath, !*dryRun)
	if err != nil {
		logger.Fatalf("Failed to build pipeline: %v", err)
	}
	defer cleanup()

	file, err := os.Open(*mboxPath)
	if err != nil {
		logger.Fatalf("Failed to open mbox file: %v", err)
	}
	defer file.Close()

	reader := mbox.NewReader(file)
	var processed, failed int
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			logger.Fatalf("Import interrupted: %v", err)
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			logger.Fatalf("Failed to read mbox message %d: %v", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			logger.Errorf("Failed to read message %d body: %v", idx, err)
			failed++
			continue
		}

		result, err := proc.Process(ctx, pipeline.RawMessage{Bytes: raw, Charset: *charset}, *rulesetVersion)
		if err != nil {
			logger.Error("Message failed", "index", idx, "error", err)
			failed++
			continue
		}

		logger.Info("Message processed", "index", idx, "fingerprint", result.Fingerprint)
		processed++
	}

	logger.Info("Import complete", "processed", processed, "failed", failed)
	if failed > 0 {
		os.Exit(1)
	}
}
