package cache

import (
	"context"
	"time"

	"github.com/mailsift/mailsift/pipeline"
)

// Tiered chains caches: Get checks tiers in order and backfills earlier
// tiers on a hit; Set writes through to every tier.
type Tiered struct {
	tiers []pipeline.ResultCache
	ttl   time.Duration
}

// NewTiered builds a tiered cache. backfillTTL is used when promoting a
// hit from a later tier into earlier ones.
func NewTiered(backfillTTL time.Duration, tiers ...pipeline.ResultCache) *Tiered {
	return &Tiered{tiers: tiers, ttl: backfillTTL}
}

// Get implements pipeline.ResultCache.
func (t *Tiered) Get(ctx context.Context, fingerprint string) (*pipeline.Result, bool) {
	for i, tier := range t.tiers {
		if res, ok := tier.Get(ctx, fingerprint); ok {
			for j := 0; j < i; j++ {
				_ = t.tiers[j].Set(ctx, res, t.ttl)
			}
			return res, true
		}
	}
	return nil, false
}

// Set implements pipeline.ResultCache.
func (t *Tiered) Set(ctx context.Context, result *pipeline.Result, ttl time.Duration) error {
	var firstErr error
	for _, tier := range t.tiers {
		if err := tier.Set(ctx, result, ttl); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
