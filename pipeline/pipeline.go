// Package pipeline orchestrates message processing: fingerprint, cache
// gate, parse, extract, sanitize, persist.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mailsift/mailsift/consts"
	"github.com/mailsift/mailsift/extract"
	"github.com/mailsift/mailsift/logger"
	"github.com/mailsift/mailsift/parser"
	"github.com/mailsift/mailsift/pkg/metrics"
	"github.com/mailsift/mailsift/sanitize"
)

// RawMessage is an immutable raw email plus an optional caller-declared
// charset hint.
type RawMessage struct {
	Bytes   []byte
	Charset string
}

// Result is the canonical artifact produced for one (message, ruleset)
// pair. It is created at most once per fingerprint and shared by every
// caller that requested it.
type Result struct {
	Fingerprint    string                 `json:"fingerprint"`
	RulesetVersion string                 `json:"ruleset_version"`
	Text           sanitize.SanitizedText `json:"text"`
	ProcessedAt    time.Time              `json:"processed_at"`
}

// ResultCache is the cache boundary. The concrete backend is an external
// collaborator; implementations must be safe for concurrent use.
type ResultCache interface {
	Get(ctx context.Context, fingerprint string) (*Result, bool)
	Set(ctx context.Context, result *Result, ttl time.Duration) error
}

// ResultRepository is the persistence boundary.
type ResultRepository interface {
	UpsertResult(ctx context.Context, result *Result) error
}

// Archiver stores raw message bytes keyed by fingerprint. Archive
// failures are logged, never escalated.
type Archiver interface {
	Archive(ctx context.Context, fingerprint string, raw []byte) error
}

// Options configures a Pipeline.
type Options struct {
	Rulesets  *sanitize.Store
	Cache     ResultCache      // optional
	Repo      ResultRepository // optional
	Archiver  Archiver         // optional
	CacheTTL  time.Duration
	MaxDepth  int   // multipart nesting guard
	MaxAttach int64 // attachment text size cap
}

// Pipeline is stateless per invocation: every Process call owns its own
// intermediate values. The only shared mutable state is the cache and
// the in-flight computation table.
type Pipeline struct {
	parser   *parser.Parser
	extract  *extract.Extractor
	rulesets *sanitize.Store
	cache    ResultCache
	repo     ResultRepository
	archiver Archiver
	cacheTTL time.Duration

	group singleflight.Group
}

// New builds a Pipeline from options. Rulesets are required; cache,
// repository and archiver are optional collaborators.
func New(opts Options) (*Pipeline, error) {
	if opts.Rulesets == nil {
		return nil, fmt.Errorf("pipeline requires a ruleset store")
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Pipeline{
		parser:   parser.New(opts.MaxDepth),
		extract:  extract.New(opts.MaxAttach),
		rulesets: opts.Rulesets,
		cache:    opts.Cache,
		repo:     opts.Repo,
		archiver: opts.Archiver,
		cacheTTL: ttl,
	}, nil
}

// Process runs the full pipeline for one message under one ruleset
// version. Concurrent calls with the same fingerprint share a single
// computation; a caller whose context expires stops waiting, but the
// shared computation runs to completion for the remaining waiters and
// its result is still cached. Failed computations are never cached, so
// a retry recomputes instead of replaying a stale failure.
func (p *Pipeline) Process(ctx context.Context, msg RawMessage, rulesetVersion string) (*Result, error) {
	rs, ok := p.rulesets.Get(rulesetVersion)
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", consts.ErrUnknownRulesetVersion, rulesetVersion)
	}

	fp := Fingerprint(msg.Bytes, rs.Version)

	if p.cache != nil {
		if res, found := p.cache.Get(ctx, fp); found {
			metrics.CacheHitsTotal.WithLabelValues("pipeline").Inc()
			return res, nil
		}
		metrics.CacheMissesTotal.WithLabelValues("pipeline").Inc()
	}

	ch := p.group.DoChan(fp, func() (interface{}, error) {
		// Computation context is deliberately detached from the first
		// caller: other waiters may still need the result after that
		// caller gives up.
		return p.compute(context.WithoutCancel(ctx), msg, rs, fp)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			metrics.CoalescedRequestsTotal.Inc()
		}
		return r.Val.(*Result), nil
	}
}

// Lookup returns a previously computed result without triggering
// computation: cache first, then the repository.
func (p *Pipeline) Lookup(ctx context.Context, fingerprint string) (*Result, error) {
	if p.cache != nil {
		if res, found := p.cache.Get(ctx, fingerprint); found {
			return res, nil
		}
	}
	if getter, ok := p.repo.(interface {
		GetResult(ctx context.Context, fingerprint string) (*Result, error)
	}); ok && p.repo != nil {
		return getter.GetResult(ctx, fingerprint)
	}
	return nil, consts.ErrResultNotFound
}

// compute runs parse -> extract -> sanitize and persists the outcome.
func (p *Pipeline) compute(ctx context.Context, msg RawMessage, rs *sanitize.Ruleset, fp string) (*Result, error) {
	start := time.Now()

	pm, err := p.stageParse(msg)
	if err != nil {
		metrics.MessagesProcessedTotal.WithLabelValues(statusLabel(err)).Inc()
		return nil, err
	}

	et, err := p.stageExtract(pm)
	if err != nil {
		metrics.MessagesProcessedTotal.WithLabelValues(statusLabel(err)).Inc()
		return nil, err
	}

	st, err := p.stageSanitize(et, rs)
	if err != nil {
		// Not expected in normal operation: the sanitizer is a pure
		// transform over valid text
		metrics.MessagesProcessedTotal.WithLabelValues("computation_failed").Inc()
		return nil, fmt.Errorf("%w: sanitizer: %v", consts.ErrComputationFailed, err)
	}

	result := &Result{
		Fingerprint:    fp,
		RulesetVersion: rs.Version,
		Text:           *st,
		ProcessedAt:    time.Now().UTC(),
	}

	if p.repo != nil {
		if err := p.repo.UpsertResult(ctx, result); err != nil {
			metrics.MessagesProcessedTotal.WithLabelValues("persist_failed").Inc()
			return nil, fmt.Errorf("persisting result %s: %w", fp, err)
		}
	}

	if p.archiver != nil {
		if err := p.archiver.Archive(ctx, fp, msg.Bytes); err != nil {
			logger.Warn("Raw message archive failed", "fingerprint", fp, "error", err)
		}
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, result, p.cacheTTL); err != nil {
			logger.Warn("Result cache write failed", "fingerprint", fp, "error", err)
		}
	}

	metrics.MessagesProcessedTotal.WithLabelValues("ok").Inc()
	metrics.ProcessDuration.Observe(time.Since(start).Seconds())
	return result, nil
}

func (p *Pipeline) stageParse(msg RawMessage) (*parser.ParsedMessage, error) {
	start := time.Now()
	pm, err := p.parser.Parse(msg.Bytes, msg.Charset)
	metrics.StageDuration.WithLabelValues("parse").Observe(time.Since(start).Seconds())
	return pm, err
}

func (p *Pipeline) stageExtract(pm *parser.ParsedMessage) (*extract.ExtractedText, error) {
	start := time.Now()
	et, err := p.extract.Extract(pm)
	metrics.StageDuration.WithLabelValues("extract").Observe(time.Since(start).Seconds())
	if et != nil && len(et.Failures) > 0 {
		for id, reason := range et.Failures {
			logger.Debug("Attachment text extraction failed", "attachment", id, "reason", reason)
		}
		metrics.AttachmentFailuresTotal.Add(float64(len(et.Failures)))
	}
	return et, err
}

func (p *Pipeline) stageSanitize(et *extract.ExtractedText, rs *sanitize.Ruleset) (*sanitize.SanitizedText, error) {
	start := time.Now()
	st, err := sanitize.Sanitize(et, rs)
	metrics.StageDuration.WithLabelValues("sanitize").Observe(time.Since(start).Seconds())
	return st, err
}

// statusLabel maps pipeline errors onto metric status labels.
func statusLabel(err error) string {
	switch {
	case errors.Is(err, consts.ErrMalformedMessage):
		return "malformed"
	case errors.Is(err, consts.ErrUnsupportedEncoding):
		return "unsupported_encoding"
	case errors.Is(err, consts.ErrNoExtractableContent):
		return "no_content"
	default:
		return "error"
	}
}
