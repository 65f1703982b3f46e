package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// discoverSubpages opens a tab at baseURL, reads every anchor href in the
// rendered DOM, and returns the bounded same-origin subset in page order.
func (c *Coordinator) discoverSubpages(ctx context.Context, baseURL string) ([]string, error) {
	tabCtx, closeTab, err := c.sessions.NewTab()
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	defer closeTab()

	navCtx, cancel := context.WithTimeout(tabCtx, c.cfg.NavTimeout)
	defer cancel()

	var hrefs []string
	tasks := chromedp.Tasks{
		chromedp.Navigate(baseURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(`Array.from(document.querySelectorAll('a')).map(a => a.href)`, &hrefs),
	}
	if err := chromedp.Run(navCtx, tasks); err != nil {
		return nil, fmt.Errorf("read anchors from %s: %w", baseURL, err)
	}

	links := selectSubpages(hrefs, baseURL, c.cfg.MaxSubpages)
	c.logger.Debug("subpages discovered",
		zap.String("base_url", baseURL),
		zap.Int("anchors", len(hrefs)),
		zap.Int("selected", len(links)),
	)
	return links, nil
}

// selectSubpages keeps hrefs prefixed by baseURL, deduplicates preserving DOM
// order, and truncates to the first max unique matches. The result is never
// nil so an anchor-free page serializes as an empty JSON array.
func selectSubpages(hrefs []string, baseURL string, max int) []string {
	seen := make(map[string]struct{}, len(hrefs))
	links := make([]string, 0, max)
	for _, href := range hrefs {
		if !strings.HasPrefix(href, baseURL) {
			continue
		}
		if _, dup := seen[href]; dup {
			continue
		}
		seen[href] = struct{}{}
		links = append(links, href)
		if len(links) == max {
			break
		}
	}
	return links
}
