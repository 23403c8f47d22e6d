package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFetchOptionsDefaults(t *testing.T) {
	opts := FetchOptions{ASIN: "B08N5WRWNW", Country: "DE"}.WithDefaults()

	assert.Equal(t, "de", opts.Country)
	assert.Equal(t, DefaultLanguage, opts.Language)
	assert.Equal(t, DefaultSortBy, opts.SortBy)
	assert.Equal(t, DefaultReviewsCount, opts.ReviewsCount)
}

func TestCacheKey(t *testing.T) {
	explicit := FetchOptions{ASIN: "T1", Country: "us", Language: "en", SortBy: "most_helpful", ReviewsCount: 2}
	implicit := FetchOptions{ASIN: "T1"}

	assert.Equal(t, "T1-us-en-most_helpful-2", explicit.CacheKey())
	assert.Equal(t, explicit.CacheKey(), implicit.CacheKey())

	other := FetchOptions{ASIN: "T1", ReviewsCount: 5}
	assert.NotEqual(t, implicit.CacheKey(), other.CacheKey())
}

func TestFetchOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    FetchOptions
		wantErr bool
	}{
		{"minimal", FetchOptions{ASIN: "T1"}, false},
		{"full", FetchOptions{ASIN: "B08N5WRWNW", Country: "de", Language: "de", SortBy: "most_recent", ReviewsCount: 50}, false},
		{"missing asin", FetchOptions{}, true},
		{"asin with symbols", FetchOptions{ASIN: "B0-8N"}, true},
		{"bad country", FetchOptions{ASIN: "T1", Country: "usa"}, true},
		{"top critical", FetchOptions{ASIN: "T1", SortBy: SortTopCritical}, false},
		{"top positive", FetchOptions{ASIN: "T1", SortBy: SortTopPositive}, false},
		{"bad sort", FetchOptions{ASIN: "T1", SortBy: "cheapest"}, true},
		{"negative count", FetchOptions{ASIN: "T1", ReviewsCount: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProductURL(t *testing.T) {
	assert.Equal(t, "https://www.amazon.com/product-reviews/T1", FetchOptions{ASIN: "T1"}.ProductURL())
	assert.Equal(t, "https://www.amazon.de/product-reviews/T1?sortBy=recent",
		FetchOptions{ASIN: "T1", Country: "de", SortBy: "most_recent"}.ProductURL())
	assert.Equal(t, "https://www.amazon.co.uk/product-reviews/T1", FetchOptions{ASIN: "T1", Country: "uk"}.ProductURL())
	assert.Equal(t, "https://www.amazon.com/product-reviews/T1?filterByStar=critical",
		FetchOptions{ASIN: "T1", SortBy: SortTopCritical}.ProductURL())
	assert.Equal(t, "https://www.amazon.com/product-reviews/T1?filterByStar=positive",
		FetchOptions{ASIN: "T1", SortBy: SortTopPositive}.ProductURL())
}
