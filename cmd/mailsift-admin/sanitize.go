package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mailsift/mailsift/logger"
	"github.com/mailsift/mailsift/pipeline"
)

func handleSanitizeCommand(ctx context.Context) {
	fs := flag.NewFlagSet("sanitize", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	inputPath := fs.String("input", "-", "Message file to sanitize ('-' reads stdin)")
	rulesetPath := fs.String("rulesets", "", "Path to ruleset file or directory (overrides config)")
	rulesetVersion := fs.String("ruleset-version", "", "Ruleset version to apply (default: store default)")
	charset := fs.String("charset", "", "Charset hint for unlabeled 8-bit bodies")
	fs.Usage = func() {
		fmt.Println("Usage: mailsift-admin sanitize [--input message.eml] [--rulesets path] [--ruleset-version v]")
		fmt.Println("Sanitizes a single message and prints the result as JSON. Nothing is persisted.")
	}
	fs.Parse(os.Args[2:])

	var raw []byte
	var err error
	if *inputPath == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(*inputPath)
	}
	if err != nil {
		logger.Fatalf("Failed to read message: %v", err)
	}

	cfg := loadConfig(*configPath)
	proc, cleanup, err := buildPipeline(ctx, cfg, *rulesetPath, false)
	if err != nil {
		logger.Fatalf("Failed to build pipeline: %v", err)
	}
	defer cleanup()

	result, err := proc.Process(ctx, pipeline.RawMessage{Bytes: raw, Charset: *charset}, *rulesetVersion)
	if err != nil {
		logger.Fatalf("Sanitization failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		logger.Fatalf("Failed to encode result: %v", err)
	}
}
