// Package dispatch runs webhook-triggered pipeline runs in the background,
// one at a time per shortcode.
package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"thirdcoast.systems/reelwatch/internal/pipeline"
	"thirdcoast.systems/reelwatch/internal/shortcode"
)

// Runner is satisfied by *pipeline.Processor.
type Runner interface {
	Process(ctx context.Context, identifier string, opts pipeline.Options) (*pipeline.Result, error)
}

// Dispatcher starts background runs that outlive the request which queued
// them but not the server.
type Dispatcher struct {
	runner Runner
	ctx    context.Context
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// New returns a Dispatcher whose runs are cancelled with ctx.
func New(ctx context.Context, runner Runner, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		runner:   runner,
		ctx:      ctx,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Submit queues a run for every identifier that is not already running and
// returns how many were queued.
func (d *Dispatcher) Submit(identifiers []string, opts pipeline.Options) int {
	queued := 0
	for _, id := range identifiers {
		key := shortcode.Extract(id)
		if key == "" {
			continue
		}

		d.mu.Lock()
		if _, busy := d.inflight[key]; busy {
			d.mu.Unlock()
			d.logger.Info("run already in flight, skipping", "shortcode", key)
			continue
		}
		d.inflight[key] = struct{}{}
		d.wg.Add(1)
		d.mu.Unlock()

		queued++
		go d.run(key, opts)
	}
	return queued
}

func (d *Dispatcher) run(key string, opts pipeline.Options) {
	defer func() {
		if v := recover(); v != nil {
			d.logger.Error("background run panicked", "shortcode", key, "panic", v)
		}
		d.mu.Lock()
		delete(d.inflight, key)
		d.mu.Unlock()
		d.wg.Done()
	}()

	res, err := d.runner.Process(d.ctx, key, opts)
	if err != nil {
		d.logger.Error("background run failed", "shortcode", key, "error", err)
		return
	}
	d.logger.Info("background run finished",
		"shortcode", res.Shortcode,
		"status", res.Status,
		"run_id", res.RunID,
		"reason", res.Reason,
		"duration", res.Duration,
	)
}

// InFlight reports how many runs are executing.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// Wait blocks until every queued run has returned or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
