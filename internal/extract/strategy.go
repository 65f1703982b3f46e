package extract

import (
	"fmt"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// Strategy turns a rendered page's HTML into markdown. The article and
// full-page behaviors are swappable implementations behind this interface.
type Strategy interface {
	Name() string
	Extract(pageURL, html string) (string, error)
}

// ArticleStrategy isolates the main readable content and converts only the
// article body, discarding navigation, ads, and boilerplate.
type ArticleStrategy struct{}

// Name identifies the strategy in logs.
func (ArticleStrategy) Name() string { return "article" }

// Extract runs readability over the document and converts the result.
func (ArticleStrategy) Extract(pageURL, html string) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		return "", fmt.Errorf("readability parse: %w", err)
	}
	markdown, err := htmltomarkdown.ConvertString(article.Content)
	if err != nil {
		return "", fmt.Errorf("convert article: %w", err)
	}
	return strings.TrimSpace(markdown), nil
}

// FullPageStrategy strips script, style, iframe, and noscript elements and
// converts the entire remaining body.
type FullPageStrategy struct{}

// Name identifies the strategy in logs.
func (FullPageStrategy) Name() string { return "full-page" }

// Extract strips non-content elements and converts the whole body.
func (FullPageStrategy) Extract(_, html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse document: %w", err)
	}
	doc.Find("script, style, iframe, noscript").Remove()
	body, err := doc.Find("body").Html()
	if err != nil {
		return "", fmt.Errorf("serialize body: %w", err)
	}
	markdown, err := htmltomarkdown.ConvertString(body)
	if err != nil {
		return "", fmt.Errorf("convert body: %w", err)
	}
	return strings.TrimSpace(markdown), nil
}
