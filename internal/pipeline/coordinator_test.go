package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quillhq/pagemd/internal/cache"
	"github.com/quillhq/pagemd/internal/quota"
	"github.com/quillhq/pagemd/internal/social"
)

type fakeSessions struct {
	mu        sync.Mutex
	ensureErr error
	ensures   int
	touches   int
}

func (f *fakeSessions) Ensure(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensures++
	return f.ensureErr
}

func (f *fakeSessions) Touch() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches++
}

func (f *fakeSessions) NewTab() (context.Context, context.CancelFunc, error) {
	ctx, cancel := context.WithCancel(context.Background())
	return ctx, cancel, nil
}

type fakeExtractor struct {
	mu    sync.Mutex
	md    string
	err   error
	calls []string
}

func (f *fakeExtractor) Extract(_ context.Context, url string, _ bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	return f.md, f.err
}

type fakePosts struct {
	post  *social.Post
	err   error
	calls int
}

func (f *fakePosts) FetchPost(context.Context, string) (*social.Post, error) {
	f.calls++
	return f.post, f.err
}

type fakeCleaner struct {
	out   string
	err   error
	calls int
}

func (f *fakeCleaner) Clean(context.Context, string) (string, error) {
	f.calls++
	return f.out, f.err
}

type fakeQuota struct {
	mu         sync.Mutex
	deny       bool
	checks     int
	precharged int
}

func (f *fakeQuota) Check(string) quota.Decision {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	if f.deny {
		return quota.Decision{Allowed: false, Limit: 60, Remaining: 0, RetryAfter: 30 * time.Second}
	}
	return quota.Decision{Allowed: true, Limit: 60, Remaining: 59}
}

func (f *fakeQuota) Precharge(_ string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.precharged += n
}

type fixture struct {
	sessions  *fakeSessions
	extractor *fakeExtractor
	posts     *fakePosts
	cleaner   *fakeCleaner
	quota     *fakeQuota
	store     *cache.MemoryStore
	coord     *Coordinator
}

func newFixture() *fixture {
	f := &fixture{
		sessions:  &fakeSessions{},
		extractor: &fakeExtractor{md: "# Extracted\n\nbody"},
		posts:     &fakePosts{},
		cleaner:   &fakeCleaner{out: "cleaned markdown"},
		quota:     &fakeQuota{},
		store:     cache.NewMemoryStore(),
	}
	f.coord = New(f.sessions, f.extractor, f.posts, f.cleaner, f.store, f.quota,
		Config{CacheTTL: time.Hour, MaxSubpages: 10, LLMChargeChecks: 60}, zap.NewNop())
	return f
}

func textRequest(url string) Request {
	return Request{URL: url, Shape: ShapeText, ClientIP: "10.0.0.1"}
}

func TestProcessRejectsMalformedURL(t *testing.T) {
	f := newFixture()
	for _, bad := range []string{"example.com", "ftp://example.com", "http://exa mple.com", ""} {
		_, err := f.coord.Process(context.Background(), textRequest(bad))
		assert.ErrorIs(t, err, ErrInvalidURL, "url %q", bad)
	}
	assert.Zero(t, f.sessions.ensures, "validation happens before session work")
}

func TestProcessRejectsCrawlWithTextShape(t *testing.T) {
	f := newFixture()
	req := textRequest("https://example.com")
	req.Crawl = true
	_, err := f.coord.Process(context.Background(), req)
	assert.ErrorIs(t, err, ErrCrawlNeedsJSON)
}

func TestProcessSessionLaunchFailure(t *testing.T) {
	f := newFixture()
	f.sessions.ensureErr = errors.New("no chrome")

	_, err := f.coord.Process(context.Background(), textRequest("https://example.com"))
	assert.ErrorIs(t, err, ErrSessionUnavailable)
	assert.Empty(t, f.extractor.calls, "no extraction after launch failure")
}

func TestProcessSinglePage(t *testing.T) {
	f := newFixture()

	resp, err := f.coord.Process(context.Background(), textRequest("https://example.com"))
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "https://example.com", resp.Results[0].URL)
	assert.Equal(t, "# Extracted\n\nbody", resp.Results[0].Markdown)
	assert.False(t, resp.RateLimited)
	assert.Equal(t, 1, f.sessions.touches, "idle counter reset once per batch")

	// Identical request hits the cache; the extractor runs only once.
	resp, err = f.coord.Process(context.Background(), textRequest("https://example.com"))
	require.NoError(t, err)
	assert.Equal(t, "# Extracted\n\nbody", resp.Results[0].Markdown)
	assert.Len(t, f.extractor.calls, 1)
}

func TestProcessCacheKeyRespectsFlags(t *testing.T) {
	f := newFixture()

	_, err := f.coord.Process(context.Background(), textRequest("https://example.com"))
	require.NoError(t, err)

	detailed := textRequest("https://example.com")
	detailed.Detailed = true
	_, err = f.coord.Process(context.Background(), detailed)
	require.NoError(t, err)

	assert.Len(t, f.extractor.calls, 2, "flag variants are cached separately")
}

func TestProcessRateLimited(t *testing.T) {
	f := newFixture()
	f.quota.deny = true

	resp, err := f.coord.Process(context.Background(), textRequest("https://example.com"))
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.RateLimited)
	assert.True(t, resp.Results[0].RateLimited)
	assert.Contains(t, resp.Results[0].Markdown, "Rate limit exceeded. Limit: 60")
	assert.Contains(t, resp.Results[0].Markdown, "Resets in 30 seconds")
	assert.Empty(t, f.extractor.calls, "denied URLs do no work")
}

func TestProcessExtractionFailure(t *testing.T) {
	f := newFixture()
	f.extractor.err = errors.New("render blew up")

	_, err := f.coord.Process(context.Background(), textRequest("https://example.com"))
	var extractErr *ExtractionError
	require.ErrorAs(t, err, &extractErr)
	assert.Equal(t, "https://example.com", extractErr.URL)
}

func TestProcessSocialPost(t *testing.T) {
	f := newFixture()
	f.posts.post = &social.Post{AuthorName: "Jane", Text: "hi", CreatedAt: "now"}

	resp, err := f.coord.Process(context.Background(),
		textRequest("https://x.com/someuser/status/12345"))
	require.NoError(t, err)
	assert.Contains(t, resp.Results[0].Markdown, "Tweet from @Jane")
	assert.Empty(t, f.extractor.calls, "social posts bypass the browser")

	// Cached under the bare post id, not the flag-derived key.
	cached, hit, err := f.store.Get(context.Background(), "12345")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Contains(t, cached, "Tweet from @Jane")

	// Second request is served from cache.
	_, err = f.coord.Process(context.Background(),
		textRequest("https://x.com/someuser/status/12345"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.posts.calls)
}

func TestProcessSocialPostNotFound(t *testing.T) {
	f := newFixture()
	f.posts.err = social.ErrPostNotFound

	resp, err := f.coord.Process(context.Background(),
		textRequest("https://x.com/someuser/status/999"))
	require.NoError(t, err, "an empty post degrades locally")
	assert.Equal(t, "Tweet not found", resp.Results[0].Markdown)
}

func TestProcessSocialFetchFailure(t *testing.T) {
	f := newFixture()
	f.posts.err = errors.New("syndication down")

	_, err := f.coord.Process(context.Background(),
		textRequest("https://x.com/someuser/status/999"))
	var socialErr *SocialFetchError
	require.ErrorAs(t, err, &socialErr)
	assert.Equal(t, "999", socialErr.PostID)
}

func TestProcessLLMFilter(t *testing.T) {
	f := newFixture()
	req := textRequest("https://example.com")
	req.LLMFilter = true

	resp, err := f.coord.Process(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "cleaned markdown", resp.Results[0].Markdown)
	assert.Equal(t, 1, f.cleaner.calls)
	assert.Equal(t, 60, f.quota.precharged, "cleanup is billed as a quota burst")

	// The cleaned output is what lands in the cache; a hit skips the model.
	resp, err = f.coord.Process(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "cleaned markdown", resp.Results[0].Markdown)
	assert.Equal(t, 1, f.cleaner.calls, "cache hits skip inference")
	assert.Equal(t, 60, f.quota.precharged, "cache hits are not billed the burst")
}

func TestProcessLLMFilterWithoutCleaner(t *testing.T) {
	f := newFixture()
	f.coord.cleaner = nil
	req := textRequest("https://example.com")
	req.LLMFilter = true

	resp, err := f.coord.Process(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "# Extracted\n\nbody", resp.Results[0].Markdown)
}

func TestProcessCrawlFanOut(t *testing.T) {
	f := newFixture()
	urls := []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	}
	f.coord.discover = func(context.Context, string) ([]string, error) {
		return urls, nil
	}

	req := Request{URL: "https://example.com", Crawl: true, Shape: ShapeJSON, ClientIP: "10.0.0.1"}
	resp, err := f.coord.Process(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	for i, u := range urls {
		assert.Equal(t, u, resp.Results[i].URL, "results are positionally aligned")
	}
}

func TestProcessCrawlPartialRateLimit(t *testing.T) {
	f := newFixture()
	f.coord.discover = func(context.Context, string) ([]string, error) {
		return []string{"https://example.com/a", "https://example.com/b"}, nil
	}
	// Deny everything; both results carry the message, batch still completes.
	f.quota.deny = true

	req := Request{URL: "https://example.com", Crawl: true, Shape: ShapeJSON, ClientIP: "10.0.0.1"}
	resp, err := f.coord.Process(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.True(t, resp.RateLimited)
}

func TestSelectSubpages(t *testing.T) {
	base := "https://example.com"
	var hrefs []string
	for i := 0; i < 15; i++ {
		hrefs = append(hrefs, fmt.Sprintf("%s/page/%d", base, i))
	}
	// Duplicates and off-origin links are discarded.
	hrefs = append(hrefs, base+"/page/0", "https://other.com/page")

	links := selectSubpages(hrefs, base, 10)
	require.Len(t, links, 10)
	for i, link := range links {
		assert.Equal(t, fmt.Sprintf("%s/page/%d", base, i), link, "anchor order preserved")
	}
}

func TestProcessCrawlWithoutMatchingAnchors(t *testing.T) {
	f := newFixture()
	f.coord.discover = func(ctx context.Context, baseURL string) ([]string, error) {
		return selectSubpages([]string{"https://elsewhere.com/x"}, baseURL, 10), nil
	}

	req := Request{URL: "https://example.com", Crawl: true, Shape: ShapeJSON, ClientIP: "10.0.0.1"}
	resp, err := f.coord.Process(context.Background(), req)
	require.NoError(t, err)
	assert.NotNil(t, resp.Results, "an anchor-free crawl must serialize as [], not null")
	assert.Empty(t, resp.Results)
}

func TestSelectSubpagesNeverNil(t *testing.T) {
	links := selectSubpages([]string{"https://other.com/page"}, "https://example.com", 10)
	assert.NotNil(t, links)
	assert.Empty(t, links)
}

func TestSelectSubpagesDedupes(t *testing.T) {
	base := "https://example.com"
	links := selectSubpages([]string{
		base + "/a", base + "/a", base + "/b",
	}, base, 10)
	assert.Equal(t, []string{base + "/a", base + "/b"}, links)
}
