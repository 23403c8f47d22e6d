package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/review-scraper/internal/models"
)

// ResultRepository persists scrape results: one review_product row per
// product and one review row per review.
type ResultRepository struct {
	db *DB
}

func NewResultRepository(db *DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// SaveWithTx upserts the product and its reviews inside tx.
func (r *ResultRepository) SaveWithTx(ctx context.Context, tx pgx.Tx, result *models.ReviewScrapeResult) error {
	product := result.Product
	scrapedAt := result.Metadata.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now()
	}

	row, err := newProductRow(*product)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO review_product (
			asin, title, url, platform,
			price_current, price_currency,
			rating_average, rating_total, rating_distribution,
			source, scraped_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (asin) DO UPDATE SET
			title = EXCLUDED.title,
			url = EXCLUDED.url,
			price_current = EXCLUDED.price_current,
			price_currency = EXCLUDED.price_currency,
			rating_average = EXCLUDED.rating_average,
			rating_total = EXCLUDED.rating_total,
			rating_distribution = EXCLUDED.rating_distribution,
			source = EXCLUDED.source,
			scraped_at = EXCLUDED.scraped_at,
			updated_at = now()`

	_, err = tx.Exec(ctx, query,
		product.ASIN, product.Title, product.URL, product.Platform,
		row.priceCurrent, row.priceCurrency,
		row.ratingAverage, row.ratingTotal, row.distribution,
		result.Metadata.Source, scrapedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert product %s: %w", product.ASIN, err)
	}

	if len(result.Reviews) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, review := range result.Reviews {
		images, err := json.Marshal(review.Images)
		if err != nil {
			return fmt.Errorf("failed to marshal images for review %s: %w", review.ID, err)
		}

		batch.Queue(`
			INSERT INTO review (
				id, asin, title, body, rating, review_date,
				verified, helpful_votes, author_name, images, scraped_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				title = EXCLUDED.title,
				body = EXCLUDED.body,
				rating = EXCLUDED.rating,
				helpful_votes = EXCLUDED.helpful_votes,
				scraped_at = EXCLUDED.scraped_at`,
			review.ID, product.ASIN, review.Title, review.Text, review.Rating, review.Date,
			review.Verified, review.Helpful.Votes, review.Author.Name, images, scrapedAt,
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert reviews for %s: %w", product.ASIN, err)
	}

	return nil
}

// CountReviews returns how many reviews are stored for asin.
func (r *ResultRepository) CountReviews(ctx context.Context, asin string) (int, error) {
	var count int
	err := r.db.pool.QueryRow(ctx, "SELECT COUNT(*) FROM review WHERE asin = $1", asin).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count reviews: %w", err)
	}
	return count, nil
}

type productRow struct {
	priceCurrent  *float64
	priceCurrency *string
	ratingAverage *float64
	ratingTotal   *int
	distribution  []byte
}

// newProductRow flattens the optional price and rating into nullable
// columns.
func newProductRow(p models.Product) (productRow, error) {
	var row productRow

	if p.Price != nil {
		row.priceCurrent = &p.Price.Current
		row.priceCurrency = &p.Price.Currency
	}

	if p.Rating != nil {
		row.ratingAverage = &p.Rating.Average
		row.ratingTotal = &p.Rating.Total
		if len(p.Rating.Distribution) > 0 {
			dist, err := json.Marshal(p.Rating.Distribution)
			if err != nil {
				return row, fmt.Errorf("failed to marshal rating distribution: %w", err)
			}
			row.distribution = dist
		}
	}

	return row, nil
}
