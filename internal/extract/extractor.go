// Package extract converts rendered pages into markdown.
package extract

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// TabOpener provides isolated page execution contexts scoped to the shared
// browser session. Implemented by browser.Manager.
type TabOpener interface {
	NewTab() (context.Context, context.CancelFunc, error)
}

// Config controls extraction behavior.
type Config struct {
	NavTimeout time.Duration
	Retries    int
	RetryWait  time.Duration
	UserAgent  string
}

// Extractor renders a URL in a fresh tab and runs an extraction strategy over
// the resulting DOM. Each attempt owns its tab and releases it on every exit
// path; the whole navigate-and-extract unit is retried on failure.
type Extractor struct {
	tabs     TabOpener
	article  Strategy
	fullPage Strategy
	cfg      Config
	logger   *zap.Logger

	// render is swapped out in tests.
	render func(ctx context.Context, url string) (string, error)
}

// New constructs an Extractor with the default strategies.
func New(tabs TabOpener, cfg Config, logger *zap.Logger) *Extractor {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = time.Second
	}
	e := &Extractor{
		tabs:     tabs,
		article:  ArticleStrategy{},
		fullPage: FullPageStrategy{},
		cfg:      cfg,
		logger:   logger,
	}
	e.render = e.renderHTML
	return e
}

// Extract produces markdown for url. When detailed is true the full stripped
// body is converted; otherwise only the extracted article content.
func (e *Extractor) Extract(ctx context.Context, url string, detailed bool) (string, error) {
	strategy := e.article
	if detailed {
		strategy = e.fullPage
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.Retries; attempt++ {
		markdown, err := e.attempt(ctx, url, strategy)
		if err == nil {
			return markdown, nil
		}
		lastErr = err
		e.logger.Warn("extraction attempt failed",
			zap.String("url", url),
			zap.String("strategy", strategy.Name()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < e.cfg.Retries {
			select {
			case <-time.After(e.cfg.RetryWait):
			case <-ctx.Done():
				return "", fmt.Errorf("extract retry wait: %w", ctx.Err())
			}
		}
	}
	return "", fmt.Errorf("extract %s after %d attempts: %w", url, e.cfg.Retries, lastErr)
}

func (e *Extractor) attempt(ctx context.Context, url string, strategy Strategy) (string, error) {
	html, err := e.render(ctx, url)
	if err != nil {
		return "", err
	}
	markdown, err := strategy.Extract(url, html)
	if err != nil {
		return "", err
	}
	return markdown, nil
}

func (e *Extractor) renderHTML(ctx context.Context, url string) (string, error) {
	tabCtx, closeTab, err := e.tabs.NewTab()
	if err != nil {
		return "", fmt.Errorf("open tab: %w", err)
	}
	defer closeTab()

	navCtx, cancel := context.WithTimeout(tabCtx, e.cfg.NavTimeout)
	defer cancel()

	stop := forwardCancel(ctx, cancel)
	defer stop()

	status := watchDocumentStatus(tabCtx)

	var html string
	tasks := chromedp.Tasks{network.Enable()}
	if e.cfg.UserAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(e.cfg.UserAgent))
	}
	tasks = append(tasks,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(navCtx, tasks); err != nil {
		return "", fmt.Errorf("render %s: %w", url, err)
	}
	if code := status(); code >= 400 {
		return "", fmt.Errorf("render %s: document status %d", url, code)
	}
	return html, nil
}

// watchDocumentStatus records the HTTP status of the first document response
// in the tab. The listener fires on the tab's event goroutine.
func watchDocumentStatus(tabCtx context.Context) func() int {
	var once sync.Once
	var status int64
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		once.Do(func() { atomic.StoreInt64(&status, resp.Response.Status) })
	})
	return func() int { return int(atomic.LoadInt64(&status)) }
}

// forwardCancel propagates cancellation of the request context into the tab
// task without tying the tab's lifetime to the request directly.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
