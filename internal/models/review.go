package models

import (
	"time"
)

type Review struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Text      string   `json:"text"`
	Rating    float64  `json:"rating"`
	Date      string   `json:"date"`
	Verified  bool     `json:"verified"`
	Helpful   Helpful  `json:"helpful"`
	Author    Author   `json:"author"`
	Images    []string `json:"images"`
	Platform  string   `json:"platform"`
	ProductID string   `json:"product_id"`
}

type Helpful struct {
	Votes int `json:"votes"`
	Total int `json:"total"`
}

type Author struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

type ScrapeMetadata struct {
	ScrapedAt      time.Time         `json:"scraped_at"`
	TotalReviews   int               `json:"total_reviews"`
	ScrapedReviews int               `json:"scraped_reviews"`
	Duration       time.Duration     `json:"duration"`
	Source         string            `json:"source"`
	AdditionalInfo map[string]string `json:"additional_info,omitempty"`
}

// ReviewScrapeResult is what every fetch path returns and what the cache
// stores.
type ReviewScrapeResult struct {
	Product  *Product       `json:"product"`
	Reviews  []Review       `json:"reviews"`
	Metadata ScrapeMetadata `json:"metadata"`
}
