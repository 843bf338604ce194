package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mailsift/mailsift/logger"
	"github.com/mailsift/mailsift/pipeline"
	"github.com/mailsift/mailsift/pkg/metrics"
)

const indexDB = "results.db"

// DiskCache persists pipeline results in a local sqlite database so
// cached artifacts survive restarts. Capacity is enforced by a periodic
// purge that drops the oldest entries first.
type DiskCache struct {
	basePath      string
	capacity      int64
	purgeInterval time.Duration
	db            *sql.DB
	mu            sync.Mutex

	stopPurge    chan struct{}
	purgeStopped chan struct{}
}

// NewDisk opens (or creates) the disk cache under basePath.
func NewDisk(basePath string, capacity int64, purgeInterval time.Duration) (*DiskCache, error) {
	basePath = filepath.Clean(strings.TrimSpace(basePath))
	if basePath == "" || basePath == "." {
		return nil, fmt.Errorf("cache base path cannot be empty")
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache path %s: %w", basePath, err)
	}

	dbPath := filepath.Join(basePath, indexDB)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache DB: %w", err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		// WAL is an optimization; log and continue
		logger.Warn("DiskCache: failed to set PRAGMA journal_mode = WAL", "error", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS results (
		fingerprint TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		size INTEGER NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_results_created_at ON results(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache DB ping failed: %w", err)
	}

	c := &DiskCache{
		basePath:      basePath,
		capacity:      capacity,
		purgeInterval: purgeInterval,
		db:            db,
		stopPurge:     make(chan struct{}),
		purgeStopped:  make(chan struct{}),
	}
	go c.purgeLoop()

	logger.Info("DiskCache: initialized", "path", basePath, "capacity", capacity)
	return c, nil
}

// Get implements pipeline.ResultCache.
func (c *DiskCache) Get(ctx context.Context, fingerprint string) (*pipeline.Result, bool) {
	var payload []byte
	var expiresAt time.Time
	err := c.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM results WHERE fingerprint = ?`, fingerprint,
	).Scan(&payload, &expiresAt)
	if err != nil {
		metrics.CacheMissesTotal.WithLabelValues("disk").Inc()
		return nil, false
	}
	if time.Now().After(expiresAt) {
		metrics.CacheMissesTotal.WithLabelValues("disk").Inc()
		return nil, false
	}

	var result pipeline.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		logger.Warn("DiskCache: corrupt payload, dropping entry", "fingerprint", fingerprint, "error", err)
		_, _ = c.db.ExecContext(ctx, `DELETE FROM results WHERE fingerprint = ?`, fingerprint)
		metrics.CacheMissesTotal.WithLabelValues("disk").Inc()
		return nil, false
	}

	metrics.CacheHitsTotal.WithLabelValues("disk").Inc()
	return &result, true
}

// Set implements pipeline.ResultCache.
func (c *DiskCache) Set(ctx context.Context, result *pipeline.Result, ttl time.Duration) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to serialize result %s: %w", result.Fingerprint, err)
	}

	now := time.Now()
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO results (fingerprint, payload, size, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			payload = excluded.payload,
			size = excluded.size,
			expires_at = excluded.expires_at`,
		result.Fingerprint, payload, len(payload), now.Add(ttl), now,
	)
	if err != nil {
		return fmt.Errorf("failed to store result %s: %w", result.Fingerprint, err)
	}
	return nil
}

// Stats returns entry count and total payload size.
func (c *DiskCache) Stats() (count int64, totalSize int64, err error) {
	err = c.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM results`).Scan(&count, &totalSize)
	return
}

func (c *DiskCache) purgeLoop() {
	defer close(c.purgeStopped)
	interval := c.purgeInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopPurge:
			return
		case <-ticker.C:
			if err := c.purge(); err != nil {
				logger.Warn("DiskCache: purge failed", "error", err)
			}
		}
	}
}

// purge removes expired entries and, if the cache is over capacity,
// oldest entries until it fits.
func (c *DiskCache) purge() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.Exec(`DELETE FROM results WHERE expires_at < ?`, time.Now()); err != nil {
		return err
	}

	if c.capacity <= 0 {
		return nil
	}

	count, totalSize, err := c.Stats()
	if err != nil {
		return err
	}
	if totalSize <= c.capacity {
		return nil
	}

	// Delete oldest entries until under capacity
	rows, err := c.db.Query(`SELECT fingerprint, size FROM results ORDER BY created_at ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var victims []string
	excess := totalSize - c.capacity
	for rows.Next() && excess > 0 {
		var fp string
		var size int64
		if err := rows.Scan(&fp, &size); err != nil {
			return err
		}
		victims = append(victims, fp)
		excess -= size
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	for _, fp := range victims {
		if _, err := c.db.Exec(`DELETE FROM results WHERE fingerprint = ?`, fp); err != nil {
			return err
		}
	}

	logger.Info("DiskCache: purged entries over capacity", "purged", len(victims), "entries_before", count)
	return nil
}

// Close stops the purge loop and closes the database.
func (c *DiskCache) Close() error {
	close(c.stopPurge)
	<-c.purgeStopped
	if c.db != nil {
		logger.Info("DiskCache: closing cache database")
		return c.db.Close()
	}
	return nil
}
