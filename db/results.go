package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mailsift/mailsift/consts"
	"github.com/mailsift/mailsift/pipeline"
	"github.com/mailsift/mailsift/pkg/metrics"
)

// UpsertResult implements pipeline.ResultRepository. The fingerprint is
// the primary key, so recomputation under a new ruleset store entry or a
// disaster-recovery replay overwrites in place.
func (db *Database) UpsertResult(ctx context.Context, result *pipeline.Result) error {
	attachments, err := json.Marshal(result.Text.Attachments)
	if err != nil {
		return fmt.Errorf("failed to serialize attachments for %s: %w", result.Fingerprint, err)
	}
	failures, err := json.Marshal(result.Text.Failures)
	if err != nil {
		return fmt.Errorf("failed to serialize failures for %s: %w", result.Fingerprint, err)
	}

	start := time.Now()
	_, err = db.WritePool.Exec(ctx, `
		INSERT INTO results (fingerprint, ruleset_version, subject, body, attachments, failures, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (fingerprint) DO UPDATE SET
			ruleset_version = EXCLUDED.ruleset_version,
			subject = EXCLUDED.subject,
			body = EXCLUDED.body,
			attachments = EXCLUDED.attachments,
			failures = EXCLUDED.failures,
			processed_at = EXCLUDED.processed_at`,
		result.Fingerprint,
		result.RulesetVersion,
		result.Text.Subject,
		result.Text.Body,
		attachments,
		failures,
		result.ProcessedAt,
	)
	metrics.DBQueryDuration.WithLabelValues("upsert_result").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DBQueriesTotal.WithLabelValues("upsert_result", "failure").Inc()
		return fmt.Errorf("failed to upsert result %s: %w", result.Fingerprint, err)
	}
	metrics.DBQueriesTotal.WithLabelValues("upsert_result", "success").Inc()
	return nil
}

// GetResult fetches a persisted result by fingerprint. Returns
// consts.ErrResultNotFound when no row exists.
func (db *Database) GetResult(ctx context.Context, fingerprint string) (*pipeline.Result, error) {
	var (
		result      pipeline.Result
		attachments []byte
		failures    []byte
	)

	start := time.Now()
	err := db.ReadPool.QueryRow(ctx, `
		SELECT fingerprint, ruleset_version, subject, body, attachments, failures, processed_at
		FROM results
		WHERE fingerprint = $1`,
		fingerprint,
	).Scan(
		&result.Fingerprint,
		&result.RulesetVersion,
		&result.Text.Subject,
		&result.Text.Body,
		&attachments,
		&failures,
		&result.ProcessedAt,
	)
	metrics.DBQueryDuration.WithLabelValues("get_result").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			metrics.DBQueriesTotal.WithLabelValues("get_result", "success").Inc()
			return nil, consts.ErrResultNotFound
		}
		metrics.DBQueriesTotal.WithLabelValues("get_result", "failure").Inc()
		return nil, fmt.Errorf("failed to fetch result %s: %w", fingerprint, err)
	}
	metrics.DBQueriesTotal.WithLabelValues("get_result", "success").Inc()

	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &result.Text.Attachments); err != nil {
			return nil, fmt.Errorf("corrupt attachments payload for %s: %w", fingerprint, err)
		}
	}
	if len(failures) > 0 {
		if err := json.Unmarshal(failures, &result.Text.Failures); err != nil {
			return nil, fmt.Errorf("corrupt failures payload for %s: %w", fingerprint, err)
		}
	}

	return &result, nil
}

// DeleteResult removes a persisted result. Used by the admin purge
// command; deleting a missing fingerprint is not an error.
func (db *Database) DeleteResult(ctx context.Context, fingerprint string) (bool, error) {
	start := time.Now()
	tag, err := db.WritePool.Exec(ctx, `DELETE FROM results WHERE fingerprint = $1`, fingerprint)
	metrics.DBQueryDuration.WithLabelValues("delete_result").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DBQueriesTotal.WithLabelValues("delete_result", "failure").Inc()
		return false, fmt.Errorf("failed to delete result %s: %w", fingerprint, err)
	}
	metrics.DBQueriesTotal.WithLabelValues("delete_result", "success").Inc()
	return tag.RowsAffected() > 0, nil
}

// CountResults returns the number of persisted results, optionally
// restricted to one ruleset version.
func (db *Database) CountResults(ctx context.Context, rulesetVersion string) (int64, error) {
	var count int64
	var err error
	start := time.Now()
	if rulesetVersion == "" {
		err = db.ReadPool.QueryRow(ctx, `SELECT COUNT(*) FROM results`).Scan(&count)
	} else {
		err = db.ReadPool.QueryRow(ctx,
			`SELECT COUNT(*) FROM results WHERE ruleset_version = $1`, rulesetVersion).Scan(&count)
	}
	metrics.DBQueryDuration.WithLabelValues("count_results").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DBQueriesTotal.WithLabelValues("count_results", "failure").Inc()
		return 0, fmt.Errorf("failed to count results: %w", err)
	}
	metrics.DBQueriesTotal.WithLabelValues("count_results", "success").Inc()
	return count, nil
}
