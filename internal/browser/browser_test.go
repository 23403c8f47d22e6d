package browser

import (
	"context"
	"testing"
	"time"

	"github.com/maltedev/review-scraper/internal/scrapeerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.True(t, opts.Headless, "Expected headless to be true by default")
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, 1920, opts.ViewportWidth)
	assert.Equal(t, 1080, opts.ViewportHeight)
	assert.Equal(t, "en-US", opts.Locale)
	assert.NotEmpty(t, opts.UserAgents)
}

func TestUserAgentRotation(t *testing.T) {
	b := New(&Options{UserAgents: []string{"ua-1", "ua-2"}}, nil)

	assert.Equal(t, "ua-1", b.nextUserAgent())
	assert.Equal(t, "ua-2", b.nextUserAgent())
	assert.Equal(t, "ua-1", b.nextUserAgent())

	empty := New(&Options{}, nil)
	assert.Equal(t, "", empty.nextUserAgent())
}

func TestHeadersIncludeAcceptLanguage(t *testing.T) {
	b := New(&Options{
		AcceptLanguage: "de-DE,de;q=0.9",
		ExtraHeaders:   map[string]string{"DNT": "1"},
	}, nil)

	headers := b.headers()
	assert.Equal(t, "de-DE,de;q=0.9", headers["Accept-Language"])
	assert.Equal(t, "1", headers["DNT"])
	assert.NotContains(t, b.opts.ExtraHeaders, "Accept-Language", "options must not be mutated")
}

func TestVisitWithoutSession(t *testing.T) {
	b := New(nil, nil)

	_, err := b.Visit(context.Background(), "https://www.amazon.com/product-reviews/B001")
	require.Error(t, err)
	assert.Equal(t, scrapeerr.KindUnknown, scrapeerr.KindOf(err))
}

func TestTeardownWithoutSession(t *testing.T) {
	b := New(nil, nil)
	assert.NoError(t, b.Teardown(context.Background()))
	assert.NoError(t, b.Close())
}
