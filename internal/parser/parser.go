package parser

import (
	"github.com/maltedev/review-scraper/internal/models"
)

type Parser interface {
	Parse(html string, asin string) (*models.ReviewScrapeResult, error)
}
