package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"thirdcoast.systems/reelwatch/internal/pipeline"
)

// RunLedger writes one pipeline_runs row per run.
type RunLedger struct {
	pool  *pgxpool.Pool
	newID func() uuid.UUID
}

func NewRunLedger(dbc *DatabaseConnection) *RunLedger {
	return &RunLedger{pool: dbc.Pool, newID: uuid.New}
}

// Start inserts a running row and returns its id.
func (l *RunLedger) Start(ctx context.Context, shortcode string) (string, error) {
	id := l.newID()
	_, err := l.pool.Exec(ctx, `
		INSERT INTO pipeline_runs (id, shortcode, status, triggered_at)
		VALUES ($1, $2, 'running', now())
	`, pgtype.UUID{Bytes: id, Valid: true}, shortcode)
	if err != nil {
		return "", fmt.Errorf("insert pipeline run: %w", err)
	}
	return id.String(), nil
}

// Complete records the terminal status of a run. Fields that do not apply to
// the status stay NULL.
func (l *RunLedger) Complete(ctx context.Context, runID string, c pipeline.RunCompletion) error {
	id, err := uuid.Parse(runID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", runID, err)
	}

	_, err = l.pool.Exec(ctx, `
		UPDATE pipeline_runs SET
			status = $2,
			completed_at = $3,
			duration_ms = $4,
			original_shortcode = $5,
			similarity = $6,
			sentiment_label = $7,
			sentiment_explanation = $8,
			danger_score = $9,
			crimes_count = $10,
			recommended_action = $11,
			assessment = $12,
			error_reason = $13
		WHERE id = $1
	`,
		pgtype.UUID{Bytes: id, Valid: true},
		string(c.Status),
		c.CompletedAt,
		c.Duration.Milliseconds(),
		c.OriginalShortcode,
		c.Similarity,
		c.SentimentLabel,
		c.SentimentExplanation,
		c.DangerScore,
		c.CrimesCount,
		c.RecommendedAction,
		c.Assessment,
		c.ErrorReason,
	)
	if err != nil {
		return fmt.Errorf("update pipeline run %s: %w", runID, err)
	}
	return nil
}

// FailureLog stores runs that exhausted their retries.
type FailureLog struct {
	pool *pgxpool.Pool
}

func NewFailureLog(dbc *DatabaseConnection) *FailureLog {
	return &FailureLog{pool: dbc.Pool}
}

// FailedRequestRow is an unresolved failure awaiting reprocessing.
type FailedRequestRow struct {
	ID                int64
	Shortcode         string
	Step              string
	LastError         string
	Attempts          int
	ReprocessAttempts int
	FailedAt          time.Time
}

// FailuresChannel is notified with the shortcode whenever a failure is recorded.
const FailuresChannel = "failed_requests"

// Record opens a failure for the shortcode, or refreshes the one already open
// so reprocessing keeps counting against the same row.
func (f *FailureLog) Record(ctx context.Context, req pipeline.FailedRequest) error {
	_, err := f.pool.Exec(ctx, `
		WITH rec AS (
			INSERT INTO failed_requests (shortcode, failed_at, last_error, step_failed, attempts)
			VALUES ($1, now(), $2, $3, $4)
			ON CONFLICT (shortcode) WHERE resolved_at IS NULL DO UPDATE SET
				failed_at = EXCLUDED.failed_at,
				last_error = EXCLUDED.last_error,
				step_failed = EXCLUDED.step_failed,
				attempts = EXCLUDED.attempts
			RETURNING shortcode
		)
		SELECT pg_notify('`+FailuresChannel+`', shortcode) FROM rec
	`, req.Shortcode, req.Error, req.Step, req.Attempts)
	if err != nil {
		return fmt.Errorf("record failed request: %w", err)
	}
	return nil
}

// Listen subscribes conn to FailuresChannel.
func Listen(ctx context.Context, conn *pgx.Conn) error {
	_, err := conn.Exec(ctx, "LISTEN "+FailuresChannel)
	return err
}

// ListUnresolved returns the oldest unresolved failures that have been
// reprocessed fewer than maxReprocess times. A failure becomes eligible again
// backoff times its reprocess count after it last failed.
func (f *FailureLog) ListUnresolved(ctx context.Context, maxReprocess, limit int, backoff time.Duration) ([]FailedRequestRow, error) {
	rows, err := f.pool.Query(ctx, `
		SELECT id, shortcode, step_failed, last_error, attempts, reprocess_attempts, failed_at
		FROM failed_requests
		WHERE resolved_at IS NULL
			AND reprocess_attempts < $1
			AND failed_at <= now() - make_interval(secs => reprocess_attempts * $3::float8)
		ORDER BY failed_at
		LIMIT $2
	`, maxReprocess, limit, backoff.Seconds())
	if err != nil {
		return nil, fmt.Errorf("list failed requests: %w", err)
	}
	defer rows.Close()

	var out []FailedRequestRow
	for rows.Next() {
		var r FailedRequestRow
		if err := rows.Scan(&r.ID, &r.Shortcode, &r.Step, &r.LastError, &r.Attempts, &r.ReprocessAttempts, &r.FailedAt); err != nil {
			return nil, fmt.Errorf("scan failed request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkAttempted counts one reprocessing attempt that did not resolve the failure.
func (f *FailureLog) MarkAttempted(ctx context.Context, id int64) error {
	_, err := f.pool.Exec(ctx, `
		UPDATE failed_requests SET reprocess_attempts = reprocess_attempts + 1
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("update failed request %d: %w", id, err)
	}
	return nil
}

// MarkResolved closes the failure with the outcome that resolved it.
func (f *FailureLog) MarkResolved(ctx context.Context, id int64, resolution string) error {
	_, err := f.pool.Exec(ctx, `
		UPDATE failed_requests SET
			reprocess_attempts = reprocess_attempts + 1,
			resolved_at = now(),
			resolution = $2
		WHERE id = $1
	`, id, resolution)
	if err != nil {
		return fmt.Errorf("resolve failed request %d: %w", id, err)
	}
	return nil
}
