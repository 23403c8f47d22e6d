package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	// OutboxStatusPending indicates the event is waiting to be relayed
	OutboxStatusPending = "pending"
	// OutboxStatusProcessed indicates the event reached its stream
	OutboxStatusProcessed = "processed"
	// OutboxStatusFailed indicates the last relay attempt failed (will be retried)
	OutboxStatusFailed = "failed"
	// OutboxStatusDeadLetter indicates the event failed too many times
	OutboxStatusDeadLetter = "dead_letter"

	// MaxRetryCount is the number of failures before an event is dead-lettered
	MaxRetryCount = 5

	DefaultTargetStream = "stream:review_results"

	// AggregateReviewProduct is the aggregate type of review scrape events.
	AggregateReviewProduct = "review_product"
)

// OutboxEvent is a row of the transactional outbox.
type OutboxEvent struct {
	ID            uuid.UUID       `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	TargetStream  string          `db:"target_stream"`
	Status        string          `db:"status"`
	RetryCount    int             `db:"retry_count"`
	ErrorMessage  *string         `db:"error_message"`
	CreatedAt     time.Time       `db:"created_at"`
	ProcessedAt   *time.Time      `db:"processed_at"`
	NextRetryAt   *time.Time      `db:"next_retry_at"`
}

func (e *OutboxEvent) validate() error {
	switch {
	case e.AggregateType == "":
		return errors.New("aggregate type is required")
	case e.AggregateID == "":
		return errors.New("aggregate id is required")
	case e.EventType == "":
		return errors.New("event type is required")
	case len(e.Payload) == 0:
		return errors.New("payload is required")
	}
	return nil
}

type OutboxRepository struct {
	db *DB
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

const insertOutboxEvent = `
	INSERT INTO outbox_event (
		id, aggregate_type, aggregate_id, event_type, payload,
		target_stream, status, retry_count, created_at, next_retry_at
	) VALUES (
		@id, @aggregate_type, @aggregate_id, @event_type, @payload,
		@target_stream, @status, @retry_count, @created_at, @next_retry_at
	)`

// prepare fills the defaults a new review event is stored with.
func (e *OutboxEvent) prepare(now time.Time) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = OutboxStatusPending
	}
	if e.TargetStream == "" {
		e.TargetStream = DefaultTargetStream
	}
	e.CreatedAt = now
	if e.NextRetryAt == nil {
		e.NextRetryAt = &now
	}
}

// InsertWithTx stores event in the caller's transaction, so a scrape
// result and its REVIEWS_SCRAPED event commit or roll back together.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if err := event.validate(); err != nil {
		return fmt.Errorf("invalid outbox event: %w", err)
	}
	event.prepare(time.Now())

	_, err := tx.Exec(ctx, insertOutboxEvent, pgx.NamedArgs{
		"id":             event.ID,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"event_type":     event.EventType,
		"payload":        event.Payload,
		"target_stream":  event.TargetStream,
		"status":         event.Status,
		"retry_count":    event.RetryCount,
		"created_at":     event.CreatedAt,
		"next_retry_at":  event.NextRetryAt,
	})
	if err != nil {
		return fmt.Errorf("failed to insert %s event for %s: %w", event.EventType, event.AggregateID, err)
	}
	return nil
}

const selectDueEvents = `
	SELECT id, aggregate_type, aggregate_id, event_type, payload,
		target_stream, status, retry_count, error_message,
		created_at, processed_at, next_retry_at
	FROM outbox_event
	WHERE status IN (@pending, @failed)
		AND next_retry_at <= now()
		AND (@aggregate_type::text = '' OR aggregate_type = @aggregate_type)
	ORDER BY created_at, id
	LIMIT @limit`

// GetPending returns up to limit events of aggregateType that are due for
// relaying, oldest first. An empty aggregateType matches every event.
func (r *OutboxRepository) GetPending(ctx context.Context, aggregateType string, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.pool.Query(ctx, selectDueEvents, pgx.NamedArgs{
		"pending":        OutboxStatusPending,
		"failed":         OutboxStatusFailed,
		"aggregate_type": aggregateType,
		"limit":          limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query due %s events: %w", aggregateType, err)
	}

	events, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[OutboxEvent])
	if err != nil {
		return nil, fmt.Errorf("failed to read due %s events: %w", aggregateType, err)
	}
	return events, nil
}

// MarkProcessed records that the given events reached their stream.
func (r *OutboxRepository) MarkProcessed(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	tag, err := r.db.pool.Exec(ctx, `
		UPDATE outbox_event
		SET status = @processed, processed_at = now(), error_message = NULL
		WHERE id = ANY(@ids)`,
		pgx.NamedArgs{"processed": OutboxStatusProcessed, "ids": ids})
	if err != nil {
		return fmt.Errorf("failed to mark %d events processed: %w", len(ids), err)
	}

	if missing := len(ids) - int(tag.RowsAffected()); missing > 0 {
		return fmt.Errorf("%d of %d relayed events not found in outbox", missing, len(ids))
	}
	return nil
}

// MarkFailed records a relay failure and schedules the next attempt, or
// dead-letters the event once MaxRetryCount is reached.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, processErr error) error {
	var retryCount int
	err := r.db.pool.QueryRow(ctx,
		"SELECT retry_count FROM outbox_event WHERE id = $1", id).Scan(&retryCount)
	if err != nil {
		return fmt.Errorf("failed to get retry count: %w", err)
	}

	retryCount++
	status, nextRetryAt := nextAttempt(retryCount, time.Now())

	query := `
		UPDATE outbox_event
		SET status = $1, retry_count = $2, error_message = $3, next_retry_at = $4
		WHERE id = $5`

	_, err = r.db.pool.Exec(ctx, query, status, retryCount, processErr.Error(), nextRetryAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}

	return nil
}

// CountByStatus counts events in any of the given states.
func (r *OutboxRepository) CountByStatus(ctx context.Context, statuses ...string) (int64, error) {
	var count int64
	err := r.db.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM outbox_event WHERE status = ANY($1)", statuses).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count outbox events: %w", err)
	}
	return count, nil
}

func nextAttempt(retryCount int, now time.Time) (string, time.Time) {
	status := OutboxStatusFailed
	if retryCount >= MaxRetryCount {
		status = OutboxStatusDeadLetter
	}
	return status, now.Add(retryBackoff(retryCount))
}

// retryBackoff doubles from 2s and caps at five minutes.
func retryBackoff(retryCount int) time.Duration {
	if retryCount > 8 {
		return 5 * time.Minute
	}
	backoff := time.Duration(1<<retryCount) * time.Second
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute
	}
	return backoff
}
