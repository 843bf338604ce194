package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsift/mailsift/consts"
	"github.com/mailsift/mailsift/sanitize"
)

const testRulesetTOML = `
version = "v1"

[[rule]]
name = "phone"
kind = "pattern"
pattern = '\d{3}-\d{3}-\d{4}'
action = "redact"
`

func testStore(t *testing.T) *sanitize.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "v1.toml")
	require.NoError(t, os.WriteFile(path, []byte(testRulesetTOML), 0644))
	store, err := sanitize.LoadPath(path)
	require.NoError(t, err)
	return store
}

func testMessage() RawMessage {
	return RawMessage{
		Bytes: []byte("From: alice@example.com\r\n" +
			"Subject: Meeting\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" +
			"Call me at 555-123-4567 tomorrow.\r\n"),
	}
}

// fakeCache is a minimal in-memory ResultCache for tests.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*Result
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*Result)}
}

func (c *fakeCache) Get(_ context.Context, fingerprint string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.entries[fingerprint]
	return res, ok
}

func (c *fakeCache) Set(_ context.Context, result *Result, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[result.Fingerprint] = result
	return nil
}

// gatedRepo counts upserts and optionally blocks them until the gate
// opens, so tests can hold a computation in flight.
type gatedRepo struct {
	gate    chan struct{}
	upserts atomic.Int64
	failN   atomic.Int64 // fail this many upserts before succeeding
}

func (r *gatedRepo) UpsertResult(ctx context.Context, result *Result) error {
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.upserts.Add(1)
	if r.failN.Load() > 0 {
		r.failN.Add(-1)
		return errors.New("transient database error")
	}
	return nil
}

func (r *gatedRepo) GetResult(_ context.Context, fingerprint string) (*Result, error) {
	return nil, consts.ErrResultNotFound
}

func TestFingerprintDeterministic(t *testing.T) {
	raw := []byte("same bytes")
	fp1 := Fingerprint(raw, "v1")
	fp2 := Fingerprint(raw, "v1")
	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, 64)

	// Different ruleset versions must never share a fingerprint
	assert.NotEqual(t, fp1, Fingerprint(raw, "v2"))
	// Different content must never share a fingerprint
	assert.NotEqual(t, fp1, Fingerprint([]byte("other bytes"), "v1"))
}

func TestFingerprintVersionBoundary(t *testing.T) {
	// The separator prevents (raw, version) pairs from colliding when
	// byte concatenations coincide
	assert.NotEqual(t, Fingerprint([]byte("ab"), "c"), Fingerprint([]byte("a"), "bc"))
}

func TestProcessEndToEnd(t *testing.T) {
	p, err := New(Options{Rulesets: testStore(t)})
	require.NoError(t, err)

	res, err := p.Process(context.Background(), testMessage(), "v1")
	require.NoError(t, err)

	assert.Equal(t, "v1", res.RulesetVersion)
	assert.Len(t, res.Fingerprint, 64)
	assert.Equal(t, "Meeting", res.Text.Subject)
	assert.Contains(t, res.Text.Body, "[REDACTED]")
	assert.NotContains(t, res.Text.Body, "555-123-4567")
	assert.False(t, res.ProcessedAt.IsZero())
}

func TestProcessDeterministic(t *testing.T) {
	p, err := New(Options{Rulesets: testStore(t)})
	require.NoError(t, err)

	res1, err := p.Process(context.Background(), testMessage(), "v1")
	require.NoError(t, err)
	res2, err := p.Process(context.Background(), testMessage(), "v1")
	require.NoError(t, err)

	assert.Equal(t, res1.Fingerprint, res2.Fingerprint)
	assert.Equal(t, res1.Text, res2.Text)
}

func TestProcessUnknownRulesetVersion(t *testing.T) {
	p, err := New(Options{Rulesets: testStore(t)})
	require.NoError(t, err)

	_, err = p.Process(context.Background(), testMessage(), "v99")
	assert.ErrorIs(t, err, consts.ErrUnknownRulesetVersion)
}

func TestProcessMalformedMessage(t *testing.T) {
	p, err := New(Options{Rulesets: testStore(t)})
	require.NoError(t, err)

	_, err = p.Process(context.Background(), RawMessage{Bytes: []byte{}}, "v1")
	assert.ErrorIs(t, err, consts.ErrMalformedMessage)
}

func TestProcessCacheHitSkipsComputation(t *testing.T) {
	cache := newFakeCache()
	repo := &gatedRepo{}
	p, err := New(Options{Rulesets: testStore(t), Cache: cache, Repo: repo})
	require.NoError(t, err)

	_, err = p.Process(context.Background(), testMessage(), "v1")
	require.NoError(t, err)
	require.Equal(t, int64(1), repo.upserts.Load())

	_, err = p.Process(context.Background(), testMessage(), "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), repo.upserts.Load(), "cache hit must not recompute")
}

func TestProcessCoalescesConcurrentRequests(t *testing.T) {
	cache := newFakeCache()
	repo := &gatedRepo{gate: make(chan struct{})}
	p, err := New(Options{Rulesets: testStore(t), Cache: cache, Repo: repo})
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*Result, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Process(context.Background(), testMessage(), "v1")
		}(i)
	}

	// Let every caller join the in-flight computation, then release it
	time.Sleep(200 * time.Millisecond)
	close(repo.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i], "caller %d", i)
		assert.Equal(t, results[0].Fingerprint, results[i].Fingerprint)
	}
	assert.Equal(t, int64(1), repo.upserts.Load(), "concurrent identical requests must share one computation")
}

func TestProcessTimeoutAbandonsWaitNotComputation(t *testing.T) {
	cache := newFakeCache()
	repo := &gatedRepo{gate: make(chan struct{})}
	p, err := New(Options{Rulesets: testStore(t), Cache: cache, Repo: repo})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = p.Process(ctx, testMessage(), "v1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The abandoned computation keeps running and still caches its result
	close(repo.gate)
	fp := Fingerprint(testMessage().Bytes, "v1")
	require.Eventually(t, func() bool {
		_, ok := cache.Get(context.Background(), fp)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	res, err := p.Process(context.Background(), testMessage(), "v1")
	require.NoError(t, err)
	assert.Equal(t, fp, res.Fingerprint)
	assert.Equal(t, int64(1), repo.upserts.Load())
}

func TestProcessFailureNotCached(t *testing.T) {
	cache := newFakeCache()
	repo := &gatedRepo{}
	repo.failN.Store(1)
	p, err := New(Options{Rulesets: testStore(t), Cache: cache, Repo: repo})
	require.NoError(t, err)

	_, err = p.Process(context.Background(), testMessage(), "v1")
	require.Error(t, err)
	assert.Empty(t, cache.entries)

	// A retry recomputes instead of replaying the failure
	res, err := p.Process(context.Background(), testMessage(), "v1")
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Equal(t, int64(2), repo.upserts.Load())
}

func TestProcessDifferentVersionsIndependent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "v1.toml"), []byte(testRulesetTOML), 0644))
	v2 := strings.Replace(testRulesetTOML, `version = "v1"`, `version = "v2"`, 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "v2.toml"), []byte(v2), 0644))

	store, err := sanitize.LoadPath(dir)
	require.NoError(t, err)
	p, err := New(Options{Rulesets: store})
	require.NoError(t, err)

	res1, err := p.Process(context.Background(), testMessage(), "v1")
	require.NoError(t, err)
	res2, err := p.Process(context.Background(), testMessage(), "v2")
	require.NoError(t, err)

	assert.NotEqual(t, res1.Fingerprint, res2.Fingerprint)
	assert.Equal(t, "v1", res1.RulesetVersion)
	assert.Equal(t, "v2", res2.RulesetVersion)
}

func TestProcessDefaultRulesetVersion(t *testing.T) {
	p, err := New(Options{Rulesets: testStore(t)})
	require.NoError(t, err)

	// Empty version selects the store default
	res, err := p.Process(context.Background(), testMessage(), "")
	require.NoError(t, err)
	assert.Equal(t, "v1", res.RulesetVersion)
}

func TestLookup(t *testing.T) {
	cache := newFakeCache()
	p, err := New(Options{Rulesets: testStore(t), Cache: cache, Repo: &gatedRepo{}})
	require.NoError(t, err)

	fp := Fingerprint(testMessage().Bytes, "v1")
	_, err = p.Lookup(context.Background(), fp)
	assert.ErrorIs(t, err, consts.ErrResultNotFound)

	res, err := p.Process(context.Background(), testMessage(), "v1")
	require.NoError(t, err)

	got, err := p.Lookup(context.Background(), res.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, res.Fingerprint, got.Fingerprint)
}

func TestNewRequiresRulesets(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{consts.ErrMalformedMessage, "malformed"},
		{consts.ErrUnsupportedEncoding, "unsupported_encoding"},
		{consts.ErrNoExtractableContent, "no_content"},
		{fmt.Errorf("wrapped: %w", consts.ErrMalformedMessage), "malformed"},
		{errors.New("anything else"), "error"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, statusLabel(tc.err))
	}
}
