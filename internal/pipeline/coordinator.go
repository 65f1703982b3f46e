// Package pipeline coordinates per-URL processing: quota, cache, extraction,
// optional generative cleanup, and bounded subpage crawls against the shared
// browser session.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quillhq/pagemd/internal/cache"
	"github.com/quillhq/pagemd/internal/quota"
	"github.com/quillhq/pagemd/internal/social"
	"github.com/quillhq/pagemd/internal/telemetry"
)

var urlPattern = regexp.MustCompile(`^(http|https)://[^ "]+$`)

// Shape selects the response representation.
type Shape string

// Response shapes. Text is only valid for single-page requests.
const (
	ShapeText Shape = "text"
	ShapeJSON Shape = "json"
)

// Request is one inbound conversion request, immutable once constructed.
type Request struct {
	URL       string
	Detailed  bool
	Crawl     bool
	LLMFilter bool
	Shape     Shape
	ClientIP  string
}

// Result is the outcome for one URL. Exactly one Result is emitted per
// requested URL, positionally aligned with the request list.
type Result struct {
	URL         string `json:"url"`
	Markdown    string `json:"md"`
	RateLimited bool   `json:"-"`
}

// Response aggregates the batch.
type Response struct {
	Results     []Result
	RateLimited bool
}

// Sessions is the browser session lifecycle consumed by the coordinator.
type Sessions interface {
	Ensure(ctx context.Context) error
	Touch()
	NewTab() (context.Context, context.CancelFunc, error)
}

// Extractor converts a rendered page into markdown.
type Extractor interface {
	Extract(ctx context.Context, url string, detailed bool) (string, error)
}

// PostFetcher retrieves social posts via syndication.
type PostFetcher interface {
	FetchPost(ctx context.Context, postID string) (*social.Post, error)
}

// Cleaner rewrites markdown through a generative model.
type Cleaner interface {
	Clean(ctx context.Context, markdown string) (string, error)
}

// Quota admits or denies work per client identity.
type Quota interface {
	Check(identity string) quota.Decision
	Precharge(identity string, n int)
}

// Config tunes the coordinator.
type Config struct {
	CacheTTL        time.Duration
	MaxSubpages     int
	LLMChargeChecks int
	NavTimeout      time.Duration
}

// Coordinator is the top-level entry point for the conversion core.
type Coordinator struct {
	sessions  Sessions
	extractor Extractor
	posts     PostFetcher
	cleaner   Cleaner
	store     cache.Store
	quota     Quota
	cfg       Config
	logger    *zap.Logger

	// discover is swapped out in tests.
	discover func(ctx context.Context, baseURL string) ([]string, error)
}

// New constructs a Coordinator. cleaner may be nil when inference is disabled.
func New(
	sessions Sessions,
	extractor Extractor,
	posts PostFetcher,
	cleaner Cleaner,
	store cache.Store,
	q Quota,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.MaxSubpages <= 0 {
		cfg.MaxSubpages = 10
	}
	if cfg.LLMChargeChecks <= 0 {
		cfg.LLMChargeChecks = 60
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	c := &Coordinator{
		sessions:  sessions,
		extractor: extractor,
		posts:     posts,
		cleaner:   cleaner,
		store:     store,
		quota:     q,
		cfg:       cfg,
		logger:    logger,
	}
	c.discover = c.discoverSubpages
	return c
}

// Process validates the request, ensures a live session, and runs the per-URL
// pipeline over the single URL or the discovered subpage set.
func (c *Coordinator) Process(ctx context.Context, req Request) (Response, error) {
	if !urlPattern.MatchString(req.URL) {
		return Response{}, ErrInvalidURL
	}
	if req.Crawl && req.Shape != ShapeJSON {
		return Response{}, ErrCrawlNeedsJSON
	}

	if err := c.sessions.Ensure(ctx); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	// Reset the idle counter once per batch; long fetches do not refresh it.
	c.sessions.Touch()

	urls := []string{req.URL}
	if req.Crawl {
		discovered, err := c.discover(ctx, req.URL)
		if err != nil {
			return Response{}, fmt.Errorf("discover subpages: %w", err)
		}
		urls = discovered
	}

	results, err := c.fanOut(ctx, req, urls)
	if err != nil {
		return Response{}, err
	}

	resp := Response{Results: results}
	for _, r := range results {
		if r.RateLimited {
			resp.RateLimited = true
			break
		}
	}
	return resp, nil
}

// fanOut processes every URL concurrently, preserving positional order.
func (c *Coordinator) fanOut(ctx context.Context, req Request, urls []string) ([]Result, error) {
	results := make([]Result, len(urls))
	errs := make([]error, len(urls))

	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(idx int, pageURL string) {
			defer wg.Done()
			results[idx], errs[idx] = c.processURL(ctx, req, pageURL)
		}(i, u)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (c *Coordinator) processURL(ctx context.Context, req Request, pageURL string) (Result, error) {
	decision := c.quota.Check(req.ClientIP)
	if !decision.Allowed {
		telemetry.ObserveRateLimitDenial()
		telemetry.ObservePageRendered("rate_limited")
		return Result{
			URL: pageURL,
			Markdown: fmt.Sprintf(
				"Rate limit exceeded. Limit: %d requests per minute. Remaining: %d. Resets in %d seconds.",
				decision.Limit, decision.Remaining, int(decision.RetryAfter.Seconds()),
			),
			RateLimited: true,
		}, nil
	}

	if social.IsSocialURL(pageURL) {
		return c.processSocial(ctx, pageURL)
	}

	key := cache.Key(pageURL, req.Detailed, req.LLMFilter)
	if cached, hit, err := c.store.Get(ctx, key); err != nil {
		c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	} else if hit {
		telemetry.ObserveCacheLookup(true)
		telemetry.ObservePageRendered("cache_hit")
		return Result{URL: pageURL, Markdown: cached}, nil
	} else {
		telemetry.ObserveCacheLookup(false)
	}

	markdown, err := c.extractor.Extract(ctx, pageURL, req.Detailed)
	if err != nil {
		telemetry.ObservePageRendered("error")
		return Result{}, &ExtractionError{URL: pageURL, Err: err}
	}

	if req.LLMFilter && c.cleaner != nil {
		// Explicit throttle: bill a burst of checks against the same client
		// before the model call, outcomes ignored.
		c.quota.Precharge(req.ClientIP, c.cfg.LLMChargeChecks)
		cleaned, err := c.cleaner.Clean(ctx, markdown)
		if err != nil {
			telemetry.ObservePageRendered("error")
			return Result{}, fmt.Errorf("llm cleanup for %s: %w", pageURL, err)
		}
		markdown = cleaned
	}

	if err := c.store.Put(ctx, key, markdown, c.cfg.CacheTTL); err != nil {
		return Result{}, fmt.Errorf("cache put for %s: %w", pageURL, err)
	}
	telemetry.ObservePageRendered("ok")
	return Result{URL: pageURL, Markdown: markdown}, nil
}

// processSocial serves social posts from syndication data under a narrower,
// flag-independent cache key with no expiration.
func (c *Coordinator) processSocial(ctx context.Context, pageURL string) (Result, error) {
	postID := social.PostID(pageURL)
	if postID == "" {
		return Result{URL: pageURL, Markdown: "Invalid tweet URL"}, nil
	}

	if cached, hit, err := c.store.Get(ctx, postID); err != nil {
		c.logger.Warn("cache get failed", zap.String("key", postID), zap.Error(err))
	} else if hit {
		telemetry.ObserveCacheLookup(true)
		telemetry.ObservePageRendered("cache_hit")
		return Result{URL: pageURL, Markdown: cached}, nil
	} else {
		telemetry.ObserveCacheLookup(false)
	}

	c.logger.Info("processing social post", zap.String("post_id", postID))
	post, err := c.posts.FetchPost(ctx, postID)
	if errors.Is(err, social.ErrPostNotFound) {
		telemetry.ObservePageRendered("not_found")
		return Result{URL: pageURL, Markdown: "Tweet not found"}, nil
	}
	if err != nil {
		telemetry.ObservePageRendered("error")
		return Result{}, &SocialFetchError{PostID: postID, Err: err}
	}

	markdown := post.Markdown()
	if err := c.store.Put(ctx, postID, markdown, 0); err != nil {
		return Result{}, fmt.Errorf("cache put for post %s: %w", postID, err)
	}
	telemetry.ObservePageRendered("ok")
	return Result{URL: pageURL, Markdown: markdown}, nil
}
