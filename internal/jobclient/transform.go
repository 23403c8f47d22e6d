package jobclient

import (
	"fmt"
	"strconv"
	"time"

	"github.com/maltedev/review-scraper/internal/models"
)

func transform(p *resultPayload, opts models.FetchOptions, jobID string) *models.ReviewScrapeResult {
	asin := p.ASIN
	if asin == "" {
		asin = opts.ASIN
	}

	product := models.NewProduct(asin)
	product.Title = p.Product.Title
	product.URL = p.URL
	if product.URL == "" {
		product.URL = opts.ProductURL()
	}

	if p.Product.Price != nil {
		product.Price = &models.Price{
			Current:    p.Product.Price.Value,
			Currency:   p.Product.Price.Currency,
			Original:   p.Product.Price.Original,
			Discounted: p.Product.Price.Original > p.Product.Price.Value,
		}
	}

	if p.Product.Rating != nil {
		product.Rating = &models.Rating{
			Average:      p.Product.Rating.Average,
			Total:        p.Product.Rating.Count,
			Distribution: distribution(p.Product.Rating.Distribution),
		}
	}

	reviews := make([]models.Review, 0, len(p.Reviews))
	for i, r := range p.Reviews {
		if opts.ReviewsCount > 0 && len(reviews) >= opts.ReviewsCount {
			break
		}

		id := r.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", asin, i)
		}

		images := make([]string, 0, len(r.Images))
		for _, img := range r.Images {
			if img.URL != "" {
				images = append(images, img.URL)
			}
		}

		reviews = append(reviews, models.Review{
			ID:        id,
			Title:     r.Title,
			Text:      r.Text,
			Rating:    r.Rating,
			Date:      r.Date,
			Verified:  r.VerifiedPurchase,
			Helpful:   models.Helpful{Votes: r.HelpfulVotes, Total: r.TotalVotes},
			Author:    models.Author{Name: r.Author.Name, ID: r.Author.ID},
			Images:    images,
			Platform:  models.PlatformAmazon,
			ProductID: asin,
		})
	}

	total := p.TotalReviews
	if total == 0 && product.Rating != nil {
		total = product.Rating.Total
	}

	return &models.ReviewScrapeResult{
		Product: product,
		Reviews: reviews,
		Metadata: models.ScrapeMetadata{
			ScrapedAt:      time.Now(),
			TotalReviews:   total,
			ScrapedReviews: len(reviews),
			Source:         SourceAPI,
			AdditionalInfo: map[string]string{
				"job_id":   jobID,
				"country":  opts.Country,
				"language": opts.Language,
				"sort_by":  opts.SortBy,
			},
		},
	}
}

func distribution(in map[string]int) map[int]int {
	if len(in) == 0 {
		return nil
	}

	out := make(map[int]int, len(in))
	for k, v := range in {
		stars, err := strconv.Atoi(k)
		if err != nil || stars < 1 || stars > 5 {
			continue
		}
		out[stars] = v
	}
	return out
}
