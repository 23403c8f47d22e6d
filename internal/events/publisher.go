package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/review-scraper/internal/database"
	"github.com/maltedev/review-scraper/internal/models"
)

type EventType string

const (
	// EventTypeReviewsScraped is published after a successful fetch is stored
	EventTypeReviewsScraped EventType = "REVIEWS_SCRAPED"

	aggregateType = database.AggregateReviewProduct
)

// ReviewsScrapedPayload summarizes a stored result for stream consumers.
type ReviewsScrapedPayload struct {
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type"`
	Timestamp     time.Time      `json:"timestamp"`
	ASIN          string         `json:"asin"`
	Title         string         `json:"title"`
	URL           string         `json:"url,omitempty"`
	Price         *models.Price  `json:"price,omitempty"`
	Rating        *models.Rating `json:"rating,omitempty"`
	ReviewCount   int            `json:"review_count"`
	ReviewIDs     []string       `json:"review_ids"`
	Source        string         `json:"source"`
	ScrapeSeconds float64        `json:"scrape_seconds"`
}

func NewReviewsScrapedPayload(result *models.ReviewScrapeResult) *ReviewsScrapedPayload {
	ids := make([]string, 0, len(result.Reviews))
	for _, r := range result.Reviews {
		ids = append(ids, r.ID)
	}

	return &ReviewsScrapedPayload{
		EventID:       uuid.New().String(),
		EventType:     string(EventTypeReviewsScraped),
		Timestamp:     time.Now(),
		ASIN:          result.Product.ASIN,
		Title:         result.Product.Title,
		URL:           result.Product.URL,
		Price:         result.Product.Price,
		Rating:        result.Product.Rating,
		ReviewCount:   len(result.Reviews),
		ReviewIDs:     ids,
		Source:        result.Metadata.Source,
		ScrapeSeconds: result.Metadata.Duration.Seconds(),
	}
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

type ResultWriter interface {
	SaveWithTx(ctx context.Context, tx pgx.Tx, result *models.ReviewScrapeResult) error
}

type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher stores results and their REVIEWS_SCRAPED event in one
// transaction, leaving delivery to the outbox relay.
type Publisher struct {
	db      TxRunner
	results ResultWriter
	outbox  OutboxWriter
	stream  string
	logger  *slog.Logger
}

func NewPublisher(db *database.DB, stream string, logger *slog.Logger) *Publisher {
	return newPublisher(db, database.NewResultRepository(db), database.NewOutboxRepository(db), stream, logger)
}

func newPublisher(db TxRunner, results ResultWriter, outbox OutboxWriter, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = database.DefaultTargetStream
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{
		db:      db,
		results: results,
		outbox:  outbox,
		stream:  stream,
		logger:  logger.With("component", "event_publisher"),
	}
}

func (p *Publisher) PublishReviewsScraped(ctx context.Context, result *models.ReviewScrapeResult) error {
	payload := NewReviewsScrapedPayload(result)

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	event := &database.OutboxEvent{
		AggregateType: aggregateType,
		AggregateID:   payload.ASIN,
		EventType:     payload.EventType,
		Payload:       data,
		TargetStream:  p.stream,
	}

	err = p.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := p.results.SaveWithTx(ctx, tx, result); err != nil {
			return fmt.Errorf("failed to save result: %w", err)
		}
		if err := p.outbox.InsertWithTx(ctx, tx, event); err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("event published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"asin", payload.ASIN,
		"reviews", payload.ReviewCount,
		"outbox_id", event.ID,
	)

	return nil
}
