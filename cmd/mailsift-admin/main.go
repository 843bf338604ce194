package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/mailsift/mailsift/config"
	"github.com/mailsift/mailsift/logger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalChan
		cancel()
	}()

	command := os.Args[1]

	switch command {
	case "migrate":
		handleMigrateCommand(ctx)
	case "import":
		handleImportCommand(ctx)
	case "sanitize":
		handleSanitizeCommand(ctx)
	case "purge":
		handlePurgeCommand(ctx)
	case "hash-api-key":
		handleHashAPIKeyCommand()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`Mailsift Admin Tool

Usage:
  mailsift-admin <command> [options]

Commands:
  migrate       Manage the database schema
  import        Run every message of an mbox file through the pipeline
  sanitize      Sanitize a single message from a file or stdin
  purge         Delete a persisted result (and its archived raw message)
  hash-api-key  Print the bcrypt hash of an API key for config files
  help          Show this help message

Examples:
  mailsift-admin migrate up
  mailsift-admin import --mbox archive.mbox --rulesets rules/
  mailsift-admin sanitize --rulesets rules/v1.toml < message.eml
  mailsift-admin purge --fingerprint <64-hex>
  mailsift-admin hash-api-key --key secret

Use 'mailsift-admin <command> --help' for more information about a command.
`)
}

// loadConfig reads the config file, tolerating a missing file so purely
// flag-driven invocations work.
func loadConfig(path string) config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Infof("WARNING: configuration file '%s' not found. Using defaults.", path)
			return config.NewDefaultConfig()
		}
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	return cfg
}
