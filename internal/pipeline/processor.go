// Package pipeline drives one reel through scrape, download, fingerprint,
// dedup, upload, persistence, the comment sentiment gate and content analysis.
// Each step is retried in place on transient failures; outputs of finished
// steps are kept on the run so a retry never repeats a side effect.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"thirdcoast.systems/reelwatch/internal/fingerprint"
	"thirdcoast.systems/reelwatch/internal/shortcode"
)

// Defaults for Config.
const (
	DefaultMaxAttempts  = 3
	DefaultBackoffBase  = time.Second
	DefaultCleanupTries = 5
	DefaultCleanupWait  = 300 * time.Millisecond
)

// ErrEmptyIdentifier is returned by Process before any step runs.
var ErrEmptyIdentifier = errors.New("pipeline: empty identifier")

// Deps are the collaborators a Processor composes.
type Deps struct {
	Scraper       Scraper
	Downloader    Downloader
	Audio         AudioExtractor
	Uploader      Uploader
	Store         ReelStore
	Fingerprinter Fingerprinter
	Matcher       Matcher
	Sentiment     SentimentClassifier
	Analyzer      ContentAnalyzer
	Ledger        RunLedger
	Failures      FailureLog
}

func (d Deps) validate() error {
	var missing []string
	check := func(name string, ok bool) {
		if !ok {
			missing = append(missing, name)
		}
	}
	check("Scraper", d.Scraper != nil)
	check("Downloader", d.Downloader != nil)
	check("Audio", d.Audio != nil)
	check("Uploader", d.Uploader != nil)
	check("Store", d.Store != nil)
	check("Fingerprinter", d.Fingerprinter != nil)
	check("Matcher", d.Matcher != nil)
	check("Sentiment", d.Sentiment != nil)
	check("Analyzer", d.Analyzer != nil)
	check("Ledger", d.Ledger != nil)
	check("Failures", d.Failures != nil)
	if len(missing) > 0 {
		return fmt.Errorf("pipeline: missing collaborators: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Config tunes retry and cleanup behaviour.
type Config struct {
	// MaxAttempts is the number of transient failures, summed over all steps,
	// after which a run is abandoned.
	MaxAttempts int
	// BackoffBase is multiplied by 2^attempts between retries.
	BackoffBase time.Duration
	// BatchConcurrency caps concurrent runs in ProcessBatch; 0 means unbounded.
	BatchConcurrency int
	CleanupTries     int
	CleanupWait      time.Duration
	Logger           *slog.Logger
}

// Processor runs reels through the pipeline. It is safe for concurrent use;
// every run keeps its own state.
type Processor struct {
	deps  Deps
	cfg   Config
	steps map[step]stepFunc

	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
	remove func(path string) error
}

// NewProcessor validates the wiring and returns a Processor.
func NewProcessor(deps Deps, cfg Config) (*Processor, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.MaxAttempts < 0 {
		return nil, fmt.Errorf("pipeline: max attempts must be positive, got %d", cfg.MaxAttempts)
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.CleanupTries <= 0 {
		cfg.CleanupTries = DefaultCleanupTries
	}
	if cfg.CleanupWait <= 0 {
		cfg.CleanupWait = DefaultCleanupWait
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := &Processor{
		deps:   deps,
		cfg:    cfg,
		sleep:  sleepCtx,
		now:    time.Now,
		remove: os.Remove,
	}
	p.steps = p.stepTable()
	return p, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// run is the state of one call to Process.
type run struct {
	shortcode string
	opts      Options
	step      step
	attempts  int
	runID     string
	started   time.Time
	logger    *slog.Logger
	result    *Result

	reel           *Reel
	comments       []Comment
	videoPath      string
	audioPath      string
	audioExtracted bool
	fingerprints   []fingerprint.Fingerprint
	fingerprinted  bool
	match          *fingerprint.Candidate

	mentionCounted        bool
	videoStoragePath      string
	audioStoragePath      *string
	reelID                *int64
	commentsPersisted     bool
	commentsSaved         int
	fingerprintsPersisted bool
}

// Process ingests one reel. identifier may be a shortcode or a permalink.
// Expected outcomes, failures included, are reported through the Result;
// the error is only set for misuse.
func (p *Processor) Process(ctx context.Context, identifier string, opts Options) (*Result, error) {
	sc := shortcode.Extract(identifier)
	if sc == "" {
		return nil, ErrEmptyIdentifier
	}

	r := &run{
		shortcode: sc,
		opts:      opts,
		started:   p.now(),
		logger:    p.cfg.Logger.With("shortcode", sc),
	}

	runID, err := p.deps.Ledger.Start(ctx, sc)
	if err != nil {
		r.logger.Warn("failed to record pipeline run start", "error", err)
	}
	r.runID = runID
	if runID != "" {
		r.logger = r.logger.With("run_id", runID)
	}
	r.logger.Info("processing reel", "force", opts.Force, "skip_sentiment", opts.SkipSentimentGate)

	defer p.finish(ctx, r)

	p.execute(ctx, r)
	return r.result, nil
}

func (p *Processor) execute(ctx context.Context, r *run) {
	done, err := p.preflight(ctx, r)
	if err != nil {
		p.fail(r, err)
		return
	}
	if done {
		return
	}

	for r.step = stepScrape; r.step < stepDone; {
		if err := ctx.Err(); err != nil {
			p.fail(r, err)
			return
		}

		label := r.step.String()
		r.logger.Debug("step started", "step", label)

		done, err := p.steps[r.step](ctx, r)
		if err == nil {
			if done {
				return
			}
			r.step++
			continue
		}

		if ctx.Err() != nil || !IsRetryable(err) {
			p.fail(r, err)
			return
		}

		r.attempts++
		if r.attempts >= p.cfg.MaxAttempts {
			r.logger.Error("step failed, giving up", "step", label, "attempts", r.attempts, "error", err)
			p.recordFailure(ctx, r, label, err)
			r.result = &Result{
				Status: StatusError,
				Reason: fmt.Sprintf("failed after %d attempts at %s: %v", r.attempts, label, err),
			}
			return
		}

		wait := p.cfg.BackoffBase * time.Duration(1<<r.attempts)
		r.logger.Warn("step failed, retrying",
			"step", label,
			"attempt", r.attempts,
			"max_attempts", p.cfg.MaxAttempts,
			"wait", wait,
			"error", err,
		)
		if err := p.sleep(ctx, wait); err != nil {
			p.fail(r, err)
			return
		}
	}
}

func (p *Processor) fail(r *run, err error) {
	r.logger.Error("pipeline run failed", "step", r.step.String(), "error", err)
	r.result = &Result{Status: StatusError, Reason: err.Error()}
}

func (p *Processor) recordFailure(ctx context.Context, r *run, label string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err := p.deps.Failures.Record(ctx, FailedRequest{
		Shortcode: r.shortcode,
		Error:     cause.Error(),
		Step:      label,
		Attempts:  r.attempts,
	})
	if err != nil {
		r.logger.Warn("failed to record failed request", "error", err)
	}
}

// finish completes the run ledger entry and removes local media. It runs for
// every outcome and never changes the result.
func (p *Processor) finish(ctx context.Context, r *run) {
	if r.result == nil {
		r.result = &Result{Status: StatusError, Reason: "pipeline did not complete"}
	}
	r.result.Shortcode = r.shortcode
	r.result.RunID = r.runID
	r.result.Duration = p.now().Sub(r.started)

	cleanupCtx := context.WithoutCancel(ctx)

	if r.runID != "" {
		ledgerCtx, cancel := context.WithTimeout(cleanupCtx, 10*time.Second)
		if err := p.deps.Ledger.Complete(ledgerCtx, r.runID, completionFor(r.result, p.now())); err != nil {
			r.logger.Warn("failed to complete pipeline run", "error", err)
		}
		cancel()
	}

	for _, path := range []string{r.videoPath, r.audioPath} {
		p.removeLocal(cleanupCtx, r.logger, path)
	}

	r.logger.Info("pipeline run finished", "status", r.result.Status, "duration", r.result.Duration)
}

func completionFor(res *Result, now time.Time) RunCompletion {
	c := RunCompletion{
		Status:      res.Status,
		CompletedAt: now.UTC(),
		Duration:    res.Duration,
	}
	switch res.Status {
	case StatusRepost:
		c.OriginalShortcode = &res.Original
		c.Similarity = &res.Similarity
	case StatusFiltered:
		c.SentimentLabel = &res.SentimentLabel
		c.SentimentExplanation = &res.SentimentExplanation
	case StatusSuccess:
		c.DangerScore = &res.DangerScore
		c.CrimesCount = &res.CrimesCount
		c.RecommendedAction = &res.RecommendedAction
		c.Assessment = &res.Assessment
	case StatusError:
		c.ErrorReason = &res.Reason
	}
	return c
}

// removeLocal deletes a downloaded file, retrying briefly while another
// process still holds it. A file that will not go away is only logged.
func (p *Processor) removeLocal(ctx context.Context, logger *slog.Logger, path string) {
	if path == "" {
		return
	}

	backoff := retry.WithMaxRetries(uint64(p.cfg.CleanupTries-1), retry.NewConstant(p.cfg.CleanupWait))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := p.remove(path)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		logger.Warn("could not remove local file", "path", path, "error", err)
		return
	}
	logger.Debug("removed local file", "path", path)
}

// ProcessBatch runs every identifier concurrently. A failing run never
// cancels the others; results come back in input order.
func (p *Processor) ProcessBatch(ctx context.Context, identifiers []string, opts Options) []BatchResult {
	results := make([]BatchResult, len(identifiers))

	var grp errgroup.Group
	if p.cfg.BatchConcurrency > 0 {
		grp.SetLimit(p.cfg.BatchConcurrency)
	}
	for i, id := range identifiers {
		results[i].Identifier = id
		grp.Go(func() error {
			defer func() {
				if v := recover(); v != nil {
					results[i].Err = fmt.Errorf("pipeline: run for %q panicked: %v", id, v)
				}
			}()
			res, err := p.Process(ctx, id, opts)
			results[i].Result = res
			results[i].Err = err
			return nil
		})
	}
	_ = grp.Wait()
	return results
}
