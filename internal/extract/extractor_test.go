package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nopTabs struct{}

func (nopTabs) NewTab() (context.Context, context.CancelFunc, error) {
	ctx, cancel := context.WithCancel(context.Background())
	return ctx, cancel, nil
}

func newTestExtractor(render func(ctx context.Context, url string) (string, error)) *Extractor {
	e := New(nopTabs{}, Config{Retries: 3, RetryWait: time.Millisecond}, zap.NewNop())
	e.render = render
	return e
}

func TestExtractRetriesWholeUnit(t *testing.T) {
	attempts := 0
	e := newTestExtractor(func(context.Context, string) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("navigation timeout")
		}
		return "<html><body><p>Recovered content in paragraph form.</p></body></html>", nil
	})

	md, err := e.Extract(context.Background(), "https://example.com", true)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, md, "Recovered content")
}

func TestExtractExhaustsRetries(t *testing.T) {
	attempts := 0
	e := newTestExtractor(func(context.Context, string) (string, error) {
		attempts++
		return "", errors.New("net::ERR_CONNECTION_REFUSED")
	})

	_, err := e.Extract(context.Background(), "https://example.com", false)
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestExtractSelectsStrategyByFlag(t *testing.T) {
	html := `<html><body>
<nav>Top Navigation</nav>
<article>
<h1>Title</h1>
<p>The first long paragraph of the article body holds the substance of the
piece and keeps going for a while so extraction has something to score.</p>
<p>A second paragraph continues the argument with more detail and enough
length that the readability pass keeps it in the isolated article content.</p>
</article>
</body></html>`
	e := newTestExtractor(func(context.Context, string) (string, error) {
		return html, nil
	})

	detailed, err := e.Extract(context.Background(), "https://example.com/post", true)
	require.NoError(t, err)
	assert.Contains(t, detailed, "Top Navigation")

	article, err := e.Extract(context.Background(), "https://example.com/post", false)
	require.NoError(t, err)
	assert.Contains(t, article, "first long paragraph")
	assert.NotContains(t, article, "Top Navigation")
}
