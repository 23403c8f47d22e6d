package jobclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/maltedev/review-scraper/internal/models"
	"github.com/maltedev/review-scraper/internal/scrapeerr"
)

const maxResponseBytes = 32 << 20

type triggerRequest struct {
	Target target `json:"target"`
}

type target struct {
	URL          string `json:"url"`
	ASIN         string `json:"asin"`
	Country      string `json:"country"`
	Language     string `json:"language"`
	ReviewsCount int    `json:"reviews_count"`
	SortBy       string `json:"sort_by"`
}

// wireSortBy maps a sort option to the job service's vocabulary, which
// spells most_recent as "recent".
func wireSortBy(sortBy string) string {
	if sortBy == models.SortMostRecent {
		return "recent"
	}
	return sortBy
}

type triggerResponse struct {
	JobID      string `json:"job_id"`
	SnapshotID string `json:"snapshot_id"`
}

func (r triggerResponse) id() string {
	if r.JobID != "" {
		return r.JobID
	}
	return r.SnapshotID
}

type statusResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type resultPayload struct {
	ASIN         string          `json:"asin"`
	URL          string          `json:"url"`
	Product      productPayload  `json:"product"`
	Reviews      []reviewPayload `json:"reviews"`
	TotalReviews int             `json:"total_reviews"`
}

type productPayload struct {
	Title  string         `json:"title"`
	Price  *pricePayload  `json:"price"`
	Rating *ratingPayload `json:"rating"`
}

type pricePayload struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
	Original float64 `json:"original"`
}

type ratingPayload struct {
	Average      float64        `json:"average"`
	Count        int            `json:"count"`
	Distribution map[string]int `json:"distribution"`
}

type reviewPayload struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	Text             string  `json:"text"`
	Rating           float64 `json:"rating"`
	Date             string  `json:"date"`
	VerifiedPurchase bool    `json:"verified_purchase"`
	HelpfulVotes     int     `json:"helpful_votes"`
	TotalVotes       int     `json:"total_votes"`
	Author           struct {
		Name string `json:"name"`
		ID   string `json:"id"`
	} `json:"author"`
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

// call performs one HTTP exchange against the job service. Transport
// failures and non-2xx responses come back classified; out, when non-nil,
// receives the decoded JSON body.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return scrapeerr.Wrap(scrapeerr.KindUnknown, "failed to encode request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return scrapeerr.Wrap(scrapeerr.KindUnknown, "failed to build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return c.classifier.Classify(fmt.Errorf("%s %s: %w", method, path, err), scrapeerr.Context{URL: endpoint})
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.classifier.Classify(fmt.Errorf("failed to read %s response: %w", path, err), scrapeerr.Context{URL: endpoint})
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.classifier.Classify(
			fmt.Errorf("%s %s: %s", method, path, resp.Status),
			scrapeerr.Context{StatusCode: resp.StatusCode, Body: string(data), URL: endpoint},
		)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &scrapeerr.Error{
			Kind:       scrapeerr.KindParsing,
			Message:    fmt.Sprintf("failed to decode %s response", path),
			StatusCode: resp.StatusCode,
			Cause:      err,
		}
	}
	return nil
}
