package main

import (
	"context"
	"log/slog"
	"time"

	"thirdcoast.systems/reelwatch/internal/db"
	"thirdcoast.systems/reelwatch/internal/pipeline"
)

type failureStore interface {
	ListUnresolved(ctx context.Context, maxReprocess, limit int, backoff time.Duration) ([]db.FailedRequestRow, error)
	MarkAttempted(ctx context.Context, id int64) error
	MarkResolved(ctx context.Context, id int64, resolution string) error
}

type runner interface {
	Process(ctx context.Context, identifier string, opts pipeline.Options) (*pipeline.Result, error)
}

type reprocessor struct {
	failures    failureStore
	proc        runner
	maxAttempts int
	batchSize   int
	backoff     time.Duration
	logger      *slog.Logger
}

// drain reprocesses one batch of eligible failures and returns how many it tried.
func (r *reprocessor) drain(ctx context.Context) (int, error) {
	rows, err := r.failures.ListUnresolved(ctx, r.maxAttempts, r.batchSize, r.backoff)
	if err != nil {
		return 0, err
	}

	tried := 0
	for _, row := range rows {
		if ctx.Err() != nil {
			return tried, ctx.Err()
		}
		r.retry(ctx, row)
		tried++
	}
	return tried, nil
}

func (r *reprocessor) retry(ctx context.Context, row db.FailedRequestRow) {
	logger := r.logger.With("failed_request_id", row.ID, "shortcode", row.Shortcode)
	logger.Info("reprocessing failed request",
		"step", row.Step,
		"reprocess_attempts", row.ReprocessAttempts,
		"failed_at", row.FailedAt,
	)

	res, err := r.proc.Process(ctx, row.Shortcode, pipeline.Options{})
	if ctx.Err() != nil {
		// Interrupted runs do not count against the request.
		return
	}

	if err != nil || res == nil || res.Status == pipeline.StatusError {
		reason := "no result"
		switch {
		case err != nil:
			reason = err.Error()
		case res != nil:
			reason = res.Reason
		}
		logger.Warn("reprocess did not resolve failed request", "reason", reason)
		if err := r.failures.MarkAttempted(ctx, row.ID); err != nil {
			logger.Error("failed to count reprocess attempt", "error", err)
		}
		return
	}

	if err := r.failures.MarkResolved(ctx, row.ID, string(res.Status)); err != nil {
		logger.Error("failed to resolve failed request", "error", err)
		return
	}
	logger.Info("failed request resolved", "status", res.Status)
}

// loop drains once per tick or wake-up until ctx is done.
func (r *reprocessor) loop(ctx context.Context, interval time.Duration, wake <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := r.drain(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return
		case err != nil && db.IsMissingSchemaErr(err):
			r.logger.Error("failed_requests table is missing; run pg-migrator", "error", err)
		case err != nil:
			r.logger.Error("failed to list failed requests", "error", err)
		case n > 0:
			r.logger.Info("reprocess pass finished", "tried", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}
	}
}
