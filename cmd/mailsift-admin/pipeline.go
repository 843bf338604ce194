package main

import (
	"context"
	"fmt"

	"github.com/mailsift/mailsift/config"
	"github.com/mailsift/mailsift/db"
	"github.com/mailsift/mailsift/logger"
	"github.com/mailsift/mailsift/pipeline"
	"github.com/mailsift/mailsift/sanitize"
	"github.com/mailsift/mailsift/storage"
)

// buildPipeline wires a pipeline from config the same way the server
// does, minus the result cache: admin commands are one-shot.
func buildPipeline(ctx context.Context, cfg config.Config, rulesetPath string, withDB bool) (*pipeline.Pipeline, func(), error) {
	if rulesetPath == "" {
		rulesetPath = cfg.Sanitizer.RulesetPath
	}
	if rulesetPath == "" {
		return nil, nil, fmt.Errorf("no ruleset path given; use --rulesets or set sanitizer.ruleset_path")
	}

	rulesets, err := sanitize.LoadPath(rulesetPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load rulesets: %w", err)
	}

	cleanup := func() {}
	opts := pipeline.Options{Rulesets: rulesets}

	if withDB && cfg.Database.Write != nil {
		database, err := db.NewDatabaseFromConfig(ctx, &cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		opts.Repo = database
		cleanup = database.Close
	}

	if withDB && cfg.S3.Enabled {
		s3storage, err := storage.New(cfg.S3.Endpoint, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.Bucket, !cfg.S3.DisableTLS, cfg.S3.Debug)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		if cfg.S3.Encrypt {
			if err := s3storage.EnableEncryption(cfg.S3.EncryptionKey); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("failed to enable S3 encryption: %w", err)
			}
		}
		opts.Archiver = s3storage
	}

	maxAttach, err := cfg.Pipeline.GetMaxAttachmentText()
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	opts.MaxDepth = cfg.Pipeline.GetMaxPartDepth()
	opts.MaxAttach = maxAttach

	proc, err := pipeline.New(opts)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	logger.Debug("Admin pipeline assembled",
		"rulesets", rulesets.Versions(),
		"persisting", opts.Repo != nil,
		"archiving", opts.Archiver != nil)
	return proc, cleanup, nil
}
