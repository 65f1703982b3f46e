// Package social fetches short-form social posts via the syndication endpoint
// instead of rendering the full page.
package social

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrPostNotFound indicates the syndication response carried no post body.
// It degrades to a per-URL "not found" result rather than failing the request.
var ErrPostNotFound = errors.New("post not found")

// Known social-media URL prefixes served by the syndication fast path.
var socialPrefixes = []string{"https://x.com", "https://twitter.com"}

// The syndication endpoint rejects requests without these feature flags.
const syndicationFeatures = "tfw_timeline_list:;tfw_follower_count_sunset:true;" +
	"tfw_tweet_edit_backend:on;tfw_refsrc_session:on;tfw_fosnr_soft_interventions_enabled:on;" +
	"tfw_show_birdwatch_pivots_enabled:on;tfw_show_business_verified_badge:on;" +
	"tfw_duplicate_scribes_to_settings:on;tfw_use_profile_image_shape_enabled:on;" +
	"tfw_show_blue_verified_badge:on;tfw_legacy_timeline_sunset:true;" +
	"tfw_show_gov_verified_badge:on;tfw_show_business_affiliate_badge:on;tfw_tweet_edit_frontend:on"

const syndicationToken = "4c2mmul6mnh"

// IsSocialURL reports whether rawURL should take the syndication fast path.
func IsSocialURL(rawURL string) bool {
	for _, prefix := range socialPrefixes {
		if strings.HasPrefix(rawURL, prefix) {
			return true
		}
	}
	return false
}

// PostID extracts the post identifier (last path segment) from a post URL.
func PostID(rawURL string) string {
	trimmed := strings.TrimRight(rawURL, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return ""
	}
	return trimmed[idx+1:]
}

// Post is a normalized social post parsed from the syndication response.
type Post struct {
	AuthorName   string
	AuthorHandle string
	Text         string
	Photos       []string
	CreatedAt    string
	Likes        int
	Reposts      int
}

// Markdown renders the canonical summary for a post. Posts have a single
// rendering regardless of request flags.
func (p Post) Markdown() string {
	author := p.AuthorName
	if author == "" {
		author = p.AuthorHandle
	}
	if author == "" {
		author = "Unknown"
	}
	images := "none"
	if len(p.Photos) > 0 {
		images = strings.Join(p.Photos, ", ")
	}
	return fmt.Sprintf("Tweet from @%s\n\n%s\nImages: %s\nTime: %s, Likes: %d, Retweets: %d",
		author, p.Text, images, p.CreatedAt, p.Likes, p.Reposts)
}

type syndicationPost struct {
	Text string `json:"text"`
	User struct {
		Name       string `json:"name"`
		ScreenName string `json:"screen_name"`
	} `json:"user"`
	Photos []struct {
		URL string `json:"url"`
	} `json:"photos"`
	CreatedAt         string `json:"created_at"`
	FavoriteCount     int    `json:"favorite_count"`
	ConversationCount int    `json:"conversation_count"`
}

// Config controls the syndication fetcher.
type Config struct {
	BaseURL   string
	Retries   int
	RetryWait time.Duration
	Timeout   time.Duration
}

// Fetcher retrieves posts from the syndication endpoint with a browser-like
// request signature so the upstream does not block it.
type Fetcher struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewFetcher constructs a Fetcher.
func NewFetcher(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Fetcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// FetchPost retrieves and normalizes one post. Transport and decode failures
// are retried with a fixed wait; exhaustion returns a terminal error. A
// response without a text body returns ErrPostNotFound.
func (f *Fetcher) FetchPost(ctx context.Context, postID string) (*Post, error) {
	var lastErr error
	for attempt := 1; attempt <= f.cfg.Retries; attempt++ {
		post, err := f.fetchOnce(ctx, postID)
		if err == nil || errors.Is(err, ErrPostNotFound) {
			return post, err
		}
		lastErr = err
		f.logger.Warn("post fetch failed",
			zap.String("post_id", postID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < f.cfg.Retries {
			select {
			case <-time.After(f.cfg.RetryWait):
			case <-ctx.Done():
				return nil, fmt.Errorf("post retry wait: %w", ctx.Err())
			}
		}
	}
	return nil, fmt.Errorf("fetch post %s after %d attempts: %w", postID, f.cfg.Retries, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, postID string) (*Post, error) {
	endpoint, err := f.buildURL(postID)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build syndication request: %w", err)
	}
	setNavigationalHeaders(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("syndication request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	f.logger.Debug("syndication response", zap.String("post_id", postID), zap.Int("status", resp.StatusCode))

	var raw syndicationPost
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode syndication response: %w", err)
	}
	if raw.Text == "" {
		return nil, ErrPostNotFound
	}

	post := &Post{
		AuthorName:   raw.User.Name,
		AuthorHandle: raw.User.ScreenName,
		Text:         raw.Text,
		CreatedAt:    raw.CreatedAt,
		Likes:        raw.FavoriteCount,
		Reposts:      raw.ConversationCount,
	}
	for _, photo := range raw.Photos {
		post.Photos = append(post.Photos, photo.URL)
	}
	return post, nil
}

func (f *Fetcher) buildURL(postID string) (string, error) {
	u, err := url.Parse(f.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse syndication base url: %w", err)
	}
	q := u.Query()
	q.Set("id", postID)
	q.Set("lang", "en")
	q.Set("features", syndicationFeatures)
	q.Set("token", syndicationToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func setNavigationalHeaders(req *http.Request) {
	req.Header.Set("User-Agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/58.0.3029.110 Safari/537.3")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Cache-Control", "max-age=0")
	req.Header.Set("TE", "Trailers")
}
