package scraper

import (
	"context"

	"github.com/maltedev/review-scraper/internal/jobclient"
	"github.com/maltedev/review-scraper/internal/models"
)

// APIFetcher fetches through the asynchronous scraping service.
type APIFetcher struct {
	client *jobclient.Client
}

func NewAPIFetcher(client *jobclient.Client) *APIFetcher {
	return &APIFetcher{client: client}
}

func (f *APIFetcher) Name() string {
	return jobclient.SourceAPI
}

func (f *APIFetcher) Initialize(ctx context.Context) error {
	return f.client.Initialize(ctx)
}

func (f *APIFetcher) Teardown(ctx context.Context) error {
	return f.client.Teardown(ctx)
}

func (f *APIFetcher) Fetch(ctx context.Context, opts models.FetchOptions) (*models.ReviewScrapeResult, error) {
	return f.client.FetchResult(ctx, opts)
}

func (f *APIFetcher) Lookup(ctx context.Context, opts models.FetchOptions) (*models.ReviewScrapeResult, bool) {
	return f.client.Lookup(ctx, opts)
}

func (f *APIFetcher) ClearCache(ctx context.Context, key string) error {
	return f.client.ClearCache(ctx, key)
}
