package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/mailsift/mailsift/cache"
	"github.com/mailsift/mailsift/config"
	"github.com/mailsift/mailsift/db"
	"github.com/mailsift/mailsift/logger"
	"github.com/mailsift/mailsift/pipeline"
	"github.com/mailsift/mailsift/sanitize"
	"github.com/mailsift/mailsift/server/httpapi"
	"github.com/mailsift/mailsift/storage"
)

func main() {
	cfg := config.NewDefaultConfig()

	// Command-line flags override values from the config file.
	configPath := flag.String("config", "config.toml", "Path to TOML configuration file")
	fLogOutput := flag.String("logoutput", cfg.Logging.Output, "Log output: 'stderr', 'stdout', 'syslog' or file path (overrides config)")
	fLogLevel := flag.String("loglevel", cfg.Logging.Level, "Log level: 'debug', 'info', 'warn', 'error' (overrides config)")
	fAPIAddr := flag.String("apiaddr", cfg.HTTPAPI.Addr, "HTTP API listen address (overrides config)")
	fRulesetPath := flag.String("rulesets", cfg.Sanitizer.RulesetPath, "Path to ruleset file or directory (overrides config)")
	fCachePath := flag.String("cachedir", cfg.Cache.Path, "Directory for the on-disk result cache (overrides config)")
	flag.Parse()

	loaded, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Info("Configuration file not found, using defaults", "path", *configPath)
		} else {
			logger.Fatalf("Failed to load configuration: %v", err)
		}
	} else {
		cfg = loaded
	}

	// Apply flag overrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "logoutput":
			cfg.Logging.Output = *fLogOutput
		case "loglevel":
			cfg.Logging.Level = *fLogLevel
		case "apiaddr":
			cfg.HTTPAPI.Addr = *fAPIAddr
		case "rulesets":
			cfg.Sanitizer.RulesetPath = *fRulesetPath
		case "cachedir":
			cfg.Cache.Path = *fCachePath
		}
	})

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		logger.Fatalf("Failed to initialize logger: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	if cfg.Sanitizer.RulesetPath == "" {
		logger.Fatal("No ruleset path configured; set sanitizer.ruleset_path or pass -rulesets")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Info("Received shutdown signal", "signal", sig.String())
		cancel()
	}()

	rulesets, err := sanitize.LoadPath(cfg.Sanitizer.RulesetPath)
	if err != nil {
		logger.Fatalf("Failed to load rulesets: %v", err)
	}
	logger.Info("Rulesets loaded", "versions", rulesets.Versions(), "default", rulesets.DefaultVersion())

	// Database is optional: without it results live only in the cache
	var database *db.Database
	if cfg.Database.Write != nil {
		database, err = db.NewDatabaseFromConfig(ctx, &cfg.Database)
		if err != nil {
			logger.Fatalf("Failed to initialize database: %v", err)
		}
		defer database.Close()
	} else {
		logger.Warn("No database configured; results will not be persisted")
	}

	// Raw message archive is optional
	var archiver pipeline.Archiver
	if cfg.S3.Enabled {
		s3storage, err := storage.New(cfg.S3.Endpoint, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.Bucket, !cfg.S3.DisableTLS, cfg.S3.Debug)
		if err != nil {
			logger.Fatalf("Failed to initialize S3 storage: %v", err)
		}
		if cfg.S3.Encrypt {
			if err := s3storage.EnableEncryption(cfg.S3.EncryptionKey); err != nil {
				logger.Fatalf("Failed to enable S3 encryption: %v", err)
			}
		}
		archiver = s3storage
	}

	resultCache, cleanup, err := buildCache(&cfg.Cache)
	if err != nil {
		logger.Fatalf("Failed to initialize result cache: %v", err)
	}
	defer cleanup()

	cacheTTL, err := cfg.Cache.GetTTL()
	if err != nil {
		logger.Fatalf("Invalid cache TTL: %v", err)
	}
	maxAttach, err := cfg.Pipeline.GetMaxAttachmentText()
	if err != nil {
		logger.Fatalf("Invalid max_attachment_text: %v", err)
	}

	opts := pipeline.Options{
		Rulesets:  rulesets,
		Cache:     resultCache,
		Archiver:  archiver,
		CacheTTL:  cacheTTL,
		MaxDepth:  cfg.Pipeline.GetMaxPartDepth(),
		MaxAttach: maxAttach,
	}
	if database != nil {
		opts.Repo = database
	}
	proc, err := pipeline.New(opts)
	if err != nil {
		logger.Fatalf("Failed to build pipeline: %v", err)
	}

	if !cfg.HTTPAPI.Start {
		logger.Fatal("HTTP API is disabled; nothing to serve")
	}

	processTimeout, err := cfg.Pipeline.GetProcessTimeout()
	if err != nil {
		logger.Fatalf("Invalid process_timeout: %v", err)
	}

	errChan := make(chan error, 1)
	go httpapi.Start(ctx, proc, httpapi.ServerOptions{
		Addr:           cfg.HTTPAPI.Addr,
		APIKey:         cfg.HTTPAPI.APIKey,
		APIKeyHash:     cfg.HTTPAPI.APIKeyHash,
		AllowedHosts:   cfg.HTTPAPI.AllowedHosts,
		Rulesets:       rulesets,
		ProcessTimeout: processTimeout,
		TLS:            cfg.HTTPAPI.TLS,
		TLSCertFile:    cfg.HTTPAPI.TLSCertFile,
		TLSKeyFile:     cfg.HTTPAPI.TLSKeyFile,
	}, errChan)

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-errChan:
		logger.Fatalf("Server error: %v", err)
	}
}

// buildCache assembles the memory tier and, when a path is configured,
// the disk tier behind it.
func buildCache(cfg *config.CacheConfig) (pipeline.ResultCache, func(), error) {
	cleanupInterval, err := cfg.GetCleanupInterval()
	if err != nil {
		return nil, nil, err
	}
	mem := cache.NewMemory(cfg.MaxSize, cleanupInterval)

	if cfg.Path == "" {
		return mem, mem.Stop, nil
	}

	capacity, err := cfg.GetCapacity()
	if err != nil {
		mem.Stop()
		return nil, nil, err
	}
	purgeInterval, err := cfg.GetPurgeInterval()
	if err != nil {
		mem.Stop()
		return nil, nil, err
	}
	disk, err := cache.NewDisk(cfg.Path, capacity, purgeInterval)
	if err != nil {
		mem.Stop()
		return nil, nil, err
	}

	ttl, err := cfg.GetTTL()
	if err != nil {
		mem.Stop()
		disk.Close()
		return nil, nil, err
	}

	tiered := cache.NewTiered(ttl, mem, disk)
	cleanup := func() {
		mem.Stop()
		if err := disk.Close(); err != nil {
			logger.Warn("Failed to close disk cache", "error", err)
		}
	}
	return tiered, cleanup, nil
}
