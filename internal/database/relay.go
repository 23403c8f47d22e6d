package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/review-scraper/internal/metrics"
	"github.com/redis/go-redis/v9"
)

const relaySource = "review-scraper"

// StreamClient is the subset of the Redis client the relay publishes with.
type StreamClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// OutboxRepo is the outbox access the relay needs.
type OutboxRepo interface {
	GetPending(ctx context.Context, aggregateType string, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, ids ...uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
	CountByStatus(ctx context.Context, statuses ...string) (int64, error)
}

// Relay moves outbox events to Redis streams.
type Relay struct {
	redis         StreamClient
	outbox        OutboxRepo
	logger        *slog.Logger
	aggregateType string
	interval      time.Duration
	batchSize     int
	maxLen        int64
}

type RelayConfig struct {
	// AggregateType limits the relay to one kind of event; defaults to
	// review products.
	AggregateType string
	PollInterval  time.Duration
	BatchSize     int
	// MaxStreamLen approximately caps each stream; 0 leaves it unbounded.
	MaxStreamLen int64
}

func NewRelay(outbox OutboxRepo, client StreamClient, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval == 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.AggregateType == "" {
		config.AggregateType = AggregateReviewProduct
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		redis:         client,
		outbox:        outbox,
		logger:        logger.With("component", "relay"),
		aggregateType: config.AggregateType,
		interval:      config.PollInterval,
		batchSize:     config.BatchSize,
		maxLen:        config.MaxStreamLen,
	}
}

// Start relays batches every poll interval until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay",
		"aggregate_type", r.aggregateType,
		"interval", r.interval,
		"batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	if err := r.processEvents(ctx); err != nil {
		r.logger.Error("failed to process events on startup", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.processEvents(ctx); err != nil {
				r.logger.Error("failed to process events", "error", err)
			}
			r.reportBacklog(ctx)
		}
	}
}

// processEvents publishes one batch of due events. Publish failures are
// scheduled for retry per event; the published ones are marked processed
// together.
func (r *Relay) processEvents(ctx context.Context) error {
	events, err := r.outbox.GetPending(ctx, r.aggregateType, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending events: %w", err)
	}

	if len(events) == 0 {
		return nil
	}

	r.logger.Debug("processing events", "count", len(events))

	relayed := make([]uuid.UUID, 0, len(events))
	for _, event := range events {
		if err := r.publishToRedis(ctx, event); err != nil {
			r.logger.Error("failed to relay event",
				"event_id", event.ID,
				"asin", event.AggregateID,
				"error", err)
			if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
				r.logger.Error("failed to mark event as failed",
					"event_id", event.ID,
					"error", markErr)
			}
			continue
		}

		relayed = append(relayed, event.ID)
		r.logger.Info("event relayed",
			"event_id", event.ID,
			"event_type", event.EventType,
			"asin", event.AggregateID,
			"target_stream", event.TargetStream)
	}

	if len(relayed) == 0 {
		return nil
	}
	if err := r.outbox.MarkProcessed(ctx, relayed...); err != nil {
		return fmt.Errorf("failed to mark relayed events: %w", err)
	}
	return nil
}

func (r *Relay) publishToRedis(ctx context.Context, event *OutboxEvent) error {
	var payload map[string]any
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	streamData := map[string]any{
		"id":             event.ID.String(),
		"type":           event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"timestamp":      event.CreatedAt.Format(time.RFC3339),
		"payload":        payload,
		"metadata": map[string]any{
			"source":        relaySource,
			"outbox_id":     event.ID.String(),
			"retry_count":   event.RetryCount,
			"target_stream": event.TargetStream,
		},
	}

	dataJSON, err := json.Marshal(streamData)
	if err != nil {
		return fmt.Errorf("failed to marshal stream data: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: event.TargetStream,
		Values: map[string]any{
			"data":           string(dataJSON),
			"type":           event.EventType,
			"timestamp":      strconv.FormatInt(event.CreatedAt.UnixNano(), 10),
			"original_id":    event.ID.String(),
			"aggregate_id":   event.AggregateID,
			"aggregate_type": event.AggregateType,
			"event_type":     event.EventType,
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}

	if _, err := r.redis.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}

	return nil
}

func (r *Relay) reportBacklog(ctx context.Context) {
	pending, err := r.outbox.CountByStatus(ctx, OutboxStatusPending, OutboxStatusFailed)
	if err != nil {
		r.logger.Warn("failed to count pending events", "error", err)
		return
	}
	dead, err := r.outbox.CountByStatus(ctx, OutboxStatusDeadLetter)
	if err != nil {
		r.logger.Warn("failed to count dead-lettered events", "error", err)
		return
	}

	metrics.OutboxBacklog.WithLabelValues("pending").Set(float64(pending))
	metrics.OutboxBacklog.WithLabelValues(OutboxStatusDeadLetter).Set(float64(dead))
}
