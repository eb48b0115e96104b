package pipeline

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"thirdcoast.systems/reelwatch/internal/comments"
	"thirdcoast.systems/reelwatch/internal/fingerprint"
)

var errTransient = &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}

type persistCommentsCall struct {
	grouping string
	source   string
	count    int
}

type persistReelCall struct {
	reel  Reel
	video string
	audio *string
}

// world is an in-memory stand-in for every collaborator. Errors queued with
// inject are returned by successive calls of the named operation.
type world struct {
	mu    sync.Mutex
	calls map[string]int
	errs  map[string][]error

	scrape     *ScrapeResult
	hasAudio   bool
	fps        []fingerprint.Fingerprint
	candidates []fingerprint.Candidate
	sentiment  Sentiment
	analysis   ContentAnalysis

	reels         map[string]*ReelRecord
	mentions      map[string]int
	commentCalls  []persistCommentsCall
	reelCalls     []persistReelCall
	uploadedKeys  []string
	analyzedAudio *string
	classified    string
	// commentsLost makes ListComments return nothing, as if the stored rows
	// were removed between persist and the sentiment gate.
	commentsLost bool

	started     []string
	completions []RunCompletion
	failures    []FailedRequest
	sleeps      []time.Duration
}

func newWorld(sc string) *world {
	posted := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	return &world{
		calls: map[string]int{},
		errs:  map[string][]error{},
		scrape: &ScrapeResult{
			Reel: Reel{
				Shortcode:     sc,
				OwnerUsername: "witness",
				VideoURL:      "https://cdn.example.com/" + sc + ".mp4",
				PostedAt:      &posted,
			},
			Comments: []Comment{
				{ID: "c1", Text: "this happened on my street", OwnerUsername: "neighbour", Replies: []Comment{
					{ID: "c2", Text: "same here", OwnerUsername: "other"},
				}},
			},
		},
		hasAudio: true,
		fps: []fingerprint.Fingerprint{
			{TimestampSeconds: 0, Hash: 1},
			{TimestampSeconds: 2, Hash: 2},
			{TimestampSeconds: 4, Hash: 3},
		},
		sentiment: Sentiment{Label: LabelCrimeReport, Explanation: "credible report"},
		analysis: ContentAnalysis{
			DangerScore:       7,
			Crimes:            []string{"assault"},
			AudioSentiment:    "Negative",
			RecommendedAction: "review",
			Assessment:        "Two people fight on a residential street.",
		},
		reels:    map[string]*ReelRecord{},
		mentions: map[string]int{},
	}
}

func (w *world) inject(name string, errs ...error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errs[name] = append(w.errs[name], errs...)
}

func (w *world) next(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls[name]++
	q := w.errs[name]
	if len(q) == 0 {
		return nil
	}
	w.errs[name] = q[1:]
	return q[0]
}

func (w *world) count(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[name]
}

func (w *world) Scrape(_ context.Context, _ string) (*ScrapeResult, error) {
	if err := w.next("Scrape"); err != nil {
		return nil, err
	}
	if w.scrape == nil {
		return nil, ErrNoResult
	}
	res := *w.scrape
	return &res, nil
}

func (w *world) Download(_ context.Context, _, sc string) (string, error) {
	if err := w.next("Download"); err != nil {
		return "", err
	}
	return "/tmp/dl/" + sc + ".mp4", nil
}

func (w *world) ExtractAudio(_ context.Context, _, sc string) (string, error) {
	if err := w.next("ExtractAudio"); err != nil {
		return "", err
	}
	if !w.hasAudio {
		return "", nil
	}
	return "/tmp/dl/" + sc + ".mp3", nil
}

func (w *world) Upload(_ context.Context, _, key string) (string, error) {
	if err := w.next("Upload:" + key); err != nil {
		return "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.uploadedKeys = append(w.uploadedKeys, key)
	return "reels/" + key, nil
}

func (w *world) ReelExists(_ context.Context, sc string) (*ReelRecord, error) {
	if err := w.next("ReelExists"); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reels[sc], nil
}

func (w *world) IncrementMentionCount(_ context.Context, sc string) error {
	if err := w.next("IncrementMentionCount"); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mentions[sc]++
	return nil
}

func (w *world) PersistReel(_ context.Context, reel Reel, video string, audio *string) (int64, error) {
	if err := w.next("PersistReel"); err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reelCalls = append(w.reelCalls, persistReelCall{reel: reel, video: video, audio: audio})
	w.reels[reel.Shortcode] = &ReelRecord{ID: 42, Shortcode: reel.Shortcode}
	return 42, nil
}

func (w *world) PersistComments(_ context.Context, cs []Comment, grouping, source string) (int, error) {
	if err := w.next("PersistComments"); err != nil {
		return 0, err
	}
	n := 0
	for _, c := range cs {
		n += 1 + len(c.Replies)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.commentCalls = append(w.commentCalls, persistCommentsCall{grouping: grouping, source: source, count: n})
	return n, nil
}

func (w *world) ListComments(_ context.Context, _ string) ([]comments.Row, error) {
	if err := w.next("ListComments"); err != nil {
		return nil, err
	}
	if w.commentsLost {
		return nil, nil
	}
	var rows []comments.Row
	for _, c := range w.scrape.Comments {
		rows = append(rows, comments.Row{ID: c.ID, Text: c.Text, OwnerUsername: c.OwnerUsername})
		for _, r := range c.Replies {
			parent := c.ID
			rows = append(rows, comments.Row{ID: r.ID, ParentID: &parent, Text: r.Text, OwnerUsername: r.OwnerUsername})
		}
	}
	return rows, nil
}

func (w *world) PersistFingerprints(_ context.Context, _ string, fps []fingerprint.Fingerprint) (int, error) {
	if err := w.next("PersistFingerprints"); err != nil {
		return 0, err
	}
	return len(fps), nil
}

func (w *world) Generate(_ context.Context, _ string) ([]fingerprint.Fingerprint, error) {
	if err := w.next("Generate"); err != nil {
		return nil, err
	}
	return w.fps, nil
}

func (w *world) Match(_ context.Context, _ []fingerprint.Fingerprint) ([]fingerprint.Candidate, error) {
	if err := w.next("Match"); err != nil {
		return nil, err
	}
	return w.candidates, nil
}

func (w *world) ClassifySentiment(_ context.Context, text string) (*Sentiment, error) {
	if err := w.next("ClassifySentiment"); err != nil {
		return nil, err
	}
	w.classified = text
	s := w.sentiment
	return &s, nil
}

func (w *world) AnalyzeContent(_ context.Context, _ string, audio *string) (*ContentAnalysis, error) {
	if err := w.next("AnalyzeContent"); err != nil {
		return nil, err
	}
	w.analyzedAudio = audio
	a := w.analysis
	return &a, nil
}

func (w *world) Start(_ context.Context, sc string) (string, error) {
	if err := w.next("LedgerStart"); err != nil {
		return "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started = append(w.started, sc)
	return "run-" + sc, nil
}

func (w *world) Complete(_ context.Context, _ string, c RunCompletion) error {
	if err := w.next("LedgerComplete"); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.completions = append(w.completions, c)
	return nil
}

func (w *world) Record(_ context.Context, f FailedRequest) error {
	if err := w.next("FailureRecord"); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures = append(w.failures, f)
	return nil
}

func (w *world) deps() Deps {
	return Deps{
		Scraper:       w,
		Downloader:    w,
		Audio:         w,
		Uploader:      w,
		Store:         w,
		Fingerprinter: w,
		Matcher:       w,
		Sentiment:     w,
		Analyzer:      w,
		Ledger:        w,
		Failures:      w,
	}
}

func newTestProcessor(t *testing.T, w *world) *Processor {
	t.Helper()
	p, err := NewProcessor(w.deps(), Config{
		Logger:      slog.New(slog.DiscardHandler),
		CleanupWait: time.Millisecond,
	})
	require.NoError(t, err)

	p.sleep = func(_ context.Context, d time.Duration) error {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.sleeps = append(w.sleeps, d)
		return nil
	}
	p.remove = func(path string) error {
		return w.next("Remove:" + path)
	}
	return p
}
