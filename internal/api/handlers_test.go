package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/maltedev/review-scraper/internal/models"
	"github.com/maltedev/review-scraper/internal/scraper"
	"github.com/maltedev/review-scraper/internal/scrapeerr"
	"github.com/maltedev/review-scraper/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockReviewService struct {
	mock.Mock
}

func (m *MockReviewService) FetchResult(ctx context.Context, targetID string, opts models.FetchOptions) (*models.ReviewScrapeResult, error) {
	args := m.Called(ctx, targetID, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ReviewScrapeResult), args.Error(1)
}

func (m *MockReviewService) ClearCache(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockReviewService) SessionStats() session.Stats {
	return m.Called().Get(0).(session.Stats)
}

type MockOutboxCounter struct {
	mock.Mock
}

func (m *MockOutboxCounter) CountByStatus(ctx context.Context, statuses ...string) (int64, error) {
	args := m.Called(ctx, statuses)
	return args.Get(0).(int64), args.Error(1)
}

func newTestServer(t *testing.T, svc *MockReviewService, outbox OutboxCounter) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewRouter(NewHandlers(svc, outbox, nil), nil))
	t.Cleanup(srv.Close)
	return srv
}

func postReviews(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/v1/reviews", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestGetReviews(t *testing.T) {
	svc := new(MockReviewService)
	srv := newTestServer(t, svc, nil)

	product := models.NewProduct("B08N5WRWNW")
	product.Title = "Trail Runner"
	result := &models.ReviewScrapeResult{
		Product: product,
		Reviews: []models.Review{{ID: "R1", Rating: 5}},
	}

	svc.On("FetchResult", mock.Anything, "B08N5WRWNW", mock.MatchedBy(func(opts models.FetchOptions) bool {
		return opts.Country == "de" && opts.ReviewsCount == 5 && opts.SortBy == "most_recent"
	})).Return(result, nil)

	resp := postReviews(t, srv, `{"asin":"B08N5WRWNW","country":"de","reviews_count":5,"sort_by":"most_recent"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got models.ReviewScrapeResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "Trail Runner", got.Product.Title)
	require.Len(t, got.Reviews, 1)
	svc.AssertExpectations(t)
}

func TestGetReviewsPrefersURL(t *testing.T) {
	svc := new(MockReviewService)
	srv := newTestServer(t, svc, nil)

	url := "https://www.amazon.com/dp/B08N5WRWNW"
	svc.On("FetchResult", mock.Anything, url, mock.Anything).Return(&models.ReviewScrapeResult{}, nil)

	resp := postReviews(t, srv, fmt.Sprintf(`{"asin":"OTHER","url":%q}`, url))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	svc.AssertExpectations(t)
}

func TestGetReviewsBadRequests(t *testing.T) {
	svc := new(MockReviewService)
	srv := newTestServer(t, svc, nil)

	for _, body := range []string{`{not json`, `{}`} {
		resp := postReviews(t, srv, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
	svc.AssertNotCalled(t, "FetchResult", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetReviewsErrorMapping(t *testing.T) {
	invalid := scrapeerr.Wrap(scrapeerr.KindUnknown, "invalid request",
		fmt.Errorf("%w: bad sort", scraper.ErrInvalidRequest))

	tests := []struct {
		name      string
		err       error
		status    int
		kind      string
		retryable bool
	}{
		{"blocked", scrapeerr.New(scrapeerr.KindBlocked, "captcha"), http.StatusForbidden, "BLOCKED", false},
		{"not found", scrapeerr.New(scrapeerr.KindNotFound, "gone"), http.StatusNotFound, "NOT_FOUND", false},
		{"parsing", scrapeerr.New(scrapeerr.KindParsing, "no title"), http.StatusUnprocessableEntity, "PARSING", false},
		{"timeout", scrapeerr.New(scrapeerr.KindTimeout, "slow"), http.StatusGatewayTimeout, "TIMEOUT", true},
		{"network", scrapeerr.New(scrapeerr.KindNetwork, "reset"), http.StatusBadGateway, "NETWORK", true},
		{"unknown", scrapeerr.New(scrapeerr.KindUnknown, "job failed"), http.StatusBadGateway, "UNKNOWN", false},
		{"invalid", invalid, http.StatusBadRequest, "UNKNOWN", false},
		{"unclassified", errors.New("boom"), http.StatusBadGateway, "NETWORK", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockReviewService)
			srv := newTestServer(t, svc, nil)
			svc.On("FetchResult", mock.Anything, "T1", mock.Anything).Return(nil, tt.err)

			resp := postReviews(t, srv, `{"asin":"T1"}`)
			assert.Equal(t, tt.status, resp.StatusCode)

			var body ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.kind, body.Kind)
			assert.Equal(t, tt.retryable, body.Retryable)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestClearCache(t *testing.T) {
	svc := new(MockReviewService)
	srv := newTestServer(t, svc, nil)

	svc.On("ClearCache", mock.Anything, "T1-us-en-most_helpful-2").Return(nil).Once()
	svc.On("ClearCache", mock.Anything, "").Return(nil).Once()

	for _, path := range []string{"/api/v1/cache?key=T1-us-en-most_helpful-2", "/api/v1/cache"} {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+path, nil)
		require.NoError(t, err)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	}

	svc.AssertExpectations(t)
}

func TestClearCacheFailure(t *testing.T) {
	svc := new(MockReviewService)
	srv := newTestServer(t, svc, nil)
	svc.On("ClearCache", mock.Anything, "").Return(errors.New("redis down"))

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/cache", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	healthy := session.Stats{Healthy: true, Requests: 3}

	t.Run("without database", func(t *testing.T) {
		svc := new(MockReviewService)
		svc.On("SessionStats").Return(healthy)
		srv := newTestServer(t, svc, nil)

		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "ok", body["status"])
		assert.NotContains(t, body, "outbox")
	})

	t.Run("dead letters fail the check", func(t *testing.T) {
		svc := new(MockReviewService)
		svc.On("SessionStats").Return(healthy)
		outbox := new(MockOutboxCounter)
		outbox.On("CountByStatus", mock.Anything, []string{"pending", "failed"}).Return(int64(2), nil)
		outbox.On("CountByStatus", mock.Anything, []string{"dead_letter"}).Return(int64(500), nil)
		srv := newTestServer(t, svc, outbox)

		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("unhealthy session degrades", func(t *testing.T) {
		svc := new(MockReviewService)
		svc.On("SessionStats").Return(session.Stats{})
		srv := newTestServer(t, svc, nil)

		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "degraded", body["status"])
	})
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, new(MockReviewService), nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
