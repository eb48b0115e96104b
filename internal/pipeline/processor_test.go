package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thirdcoast.systems/reelwatch/internal/fingerprint"
)

const sc = "DRLS0KOAdv2"

func TestProcess_Success(t *testing.T) {
	w := newWorld(sc)
	p := newTestProcessor(t, w)

	res, err := p.Process(context.Background(), "https://www.instagram.com/reel/"+sc+"/?igsh=abc", Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, sc, res.Shortcode)
	assert.Equal(t, "run-"+sc, res.RunID)
	require.NotNil(t, res.ReelID)
	assert.Equal(t, int64(42), *res.ReelID)
	assert.Equal(t, 7, res.DangerScore)
	assert.Equal(t, 1, res.CrimesCount)
	assert.Equal(t, "Negative", res.AudioSentiment)
	assert.Equal(t, "review", res.RecommendedAction)
	assert.Equal(t, "Two people fight on a residential street.", res.Assessment)

	for _, op := range []string{"Scrape", "Download", "ExtractAudio", "Generate", "Match", "PersistReel",
		"PersistComments", "PersistFingerprints", "ClassifySentiment", "AnalyzeContent"} {
		assert.Equal(t, 1, w.count(op), op)
	}
	assert.ElementsMatch(t, []string{"videos/" + sc + ".mp4", "audio/" + sc + ".mp3"}, w.uploadedKeys)

	require.Len(t, w.reelCalls, 1)
	assert.Equal(t, "reels/videos/"+sc+".mp4", w.reelCalls[0].video)
	require.NotNil(t, w.reelCalls[0].audio)
	assert.Equal(t, "reels/audio/"+sc+".mp3", *w.reelCalls[0].audio)

	require.Equal(t, []persistCommentsCall{{grouping: sc, source: sc, count: 2}}, w.commentCalls)
	assert.Contains(t, w.classified, "• this happened on my street")
	assert.Contains(t, w.classified, "  └─ same here")
	assert.Empty(t, w.mentions)
	assert.Empty(t, w.failures)

	require.Len(t, w.completions, 1)
	c := w.completions[0]
	assert.Equal(t, StatusSuccess, c.Status)
	require.NotNil(t, c.DangerScore)
	assert.Equal(t, 7, *c.DangerScore)
	require.NotNil(t, c.RecommendedAction)
	assert.Equal(t, "review", *c.RecommendedAction)
	require.NotNil(t, c.Assessment)
	assert.Equal(t, "Two people fight on a residential street.", *c.Assessment)
	assert.Nil(t, c.ErrorReason)

	assert.Equal(t, 1, w.count("Remove:/tmp/dl/"+sc+".mp4"))
	assert.Equal(t, 1, w.count("Remove:/tmp/dl/"+sc+".mp3"))
}

func TestProcess_AlreadyProcessed(t *testing.T) {
	w := newWorld(sc)
	w.reels[sc] = &ReelRecord{ID: 7, Shortcode: sc}
	p := newTestProcessor(t, w)

	res, err := p.Process(context.Background(), sc, Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusAlreadyProcessed, res.Status)
	require.NotNil(t, res.ReelID)
	assert.Equal(t, int64(7), *res.ReelID)
	assert.Equal(t, 1, w.mentions[sc])
	assert.Zero(t, w.count("Scrape"))
	require.Len(t, w.completions, 1)
	assert.Equal(t, StatusAlreadyProcessed, w.completions[0].Status)
	assert.Empty(t, w.failures)
}

func TestProcess_PreflightErrorIsNotRetried(t *testing.T) {
	w := newWorld(sc)
	w.inject("ReelExists", errTransient)
	p := newTestProcessor(t, w)

	res, err := p.Process(context.Background(), sc, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, 1, w.count("ReelExists"))
	assert.Zero(t, w.count("Scrape"))
	assert.Empty(t, w.sleeps)
	assert.Empty(t, w.failures)
}

func TestProcess_ForceReprocessesWithoutCounting(t *testing.T) {
	w := newWorld(sc)
	w.reels[sc] = &ReelRecord{ID: 42, Shortcode: sc}
	w.candidates = []fingerprint.Candidate{{Shortcode: "ORIG", MatchingFrames: 3, Similarity: 0.98}}
	p := newTestProcessor(t, w)

	res, err := p.Process(context.Background(), sc, Options{Force: true})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Zero(t, w.count("ReelExists"))
	assert.Equal(t, 1, w.count("Generate"))
	assert.Zero(t, w.count("Match"))
	assert.Equal(t, 1, w.count("PersistReel"))
	assert.Empty(t, w.mentions)
}

func TestProcess_ResumesFailedStepWithoutRepeatingEarlierWork(t *testing.T) {
	w := newWorld(sc)
	w.inject("Upload:audio/"+sc+".mp3", errTransient)
	w.inject("PersistFingerprints", syscall.ECONNRESET)
	p := newTestProcessor(t, w)

	res, err := p.Process(context.Background(), sc, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)

	assert.Equal(t, 1, w.count("Scrape"))
	assert.Equal(t, 1, w.count("Download"))
	assert.Equal(t, 1, w.count("ExtractAudio"))
	assert.Equal(t, 1, w.count("Generate"))
	assert.Equal(t, 1, w.count("Match"))
	assert.Equal(t, 1, w.count("Upload:videos/"+sc+".mp4"))
	assert.Equal(t, 2, w.count("Upload:audio/"+sc+".mp3"))
	assert.Equal(t, 1, w.count("PersistReel"))
	assert.Equal(t, 1, w.count("PersistComments"))
	assert.Equal(t, 2, w.count("PersistFingerprints"))

	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, w.sleeps)
	assert.Empty(t, w.failures)
}

func TestProcess_RetryCeilingIsSharedAcrossSteps(t *testing.T) {
	w := newWorld(sc)
	w.inject("Scrape", errTransient)
	w.inject("Download", errTransient)
	w.inject("Upload:videos/"+sc+".mp4", fmt.Errorf("put object: %w", syscall.ECONNRESET))
	p := newTestProcessor(t, w)

	res, err := p.Process(context.Background(), sc, Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Reason, "failed after 3 attempts at step_5_upload")
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, w.sleeps)

	require.Len(t, w.failures, 1)
	f := w.failures[0]
	assert.Equal(t, sc, f.Shortcode)
	assert.Equal(t, "step_5_upload", f.Step)
	assert.Equal(t, 3, f.Attempts)
	assert.Contains(t, f.Error, "connection reset")

	assert.Zero(t, w.count("PersistReel"))
	require.Len(t, w.completions, 1)
	require.NotNil(t, w.completions[0].ErrorReason)
	assert.Equal(t, res.Reason, *w.completions[0].ErrorReason)
}

func TestProcess_RetryCeilingOnOneStep(t *testing.T) {
	w := newWorld(sc)
	w.inject("Download", errTransient, errTransient, errTransient, errTransient)
	p := newTestProcessor(t, w)

	res, err := p.Process(context.Background(), sc, Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, 3, w.count("Download"))
	require.Len(t, w.failures, 1)
	assert.Equal(t, "step_2_download", w.failures[0].Step)
	assert.Equal(t, 3, w.failures[0].Attempts)
}

func TestProcess_FailureLogErrorDoesNotMaskOutcome(t *testing.T) {
	w := newWorld(sc)
	w.inject("Download", errTransient, errTransient, errTransient)
	w.inject("FailureRecord", errors.New("relation failed_requests does not exist"))
	p := newTestProcessor(t, w)

	res, err := p.Process(context.Background(), sc, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Reason, "failed after 3 attempts at step_2_download")
	assert.Equal(t, 1, w.count("FailureRecord"))
}

func TestProcess_FatalErrorStopsImmediately(t *testing.T) {
	w := newWorld(sc)
	w.inject("AnalyzeContent", errors.New("invalid model response"))
	p := newTestProcessor(t, w)

	res, err := p.Process(context.Background(), sc, Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Reason, "invalid model response")
	assert.Equal(t, 1, w.count("AnalyzeContent"))
	assert.Empty(t, w.sleeps)
	assert.Empty(t, w.failures)
	assert.Equal(t, 1, w.count("Remove:/tmp/dl/"+sc+".mp4"))
}

func TestProcess_UpstreamStatusErrorIsNotRetried(t *testing.T) {
	w := newWorld(sc)
	w.inject("Scrape", statusErr(503), statusErr(503), statusErr(503))
	p := newTestProcessor(t, w)

	res, err := p.Process(context.Background(), sc, Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Reason, "unexpected status 503")
	assert.Equal(t, 1, w.count("Scrape"))
	assert.Empty(t, w.sleeps)
	assert.Empty(t, w.failures)
}

func TestProcess_Repost(t *testing.T) {
	w := newWorld(sc)
	w.candidates = []fingerprint.Candidate{
		{Shortcode: "ORIG", MatchingFrames: 5, TotalFramesChecked: 5, Similarity: 0.97},
		{Shortcode: "OTHER", MatchingFrames: 3, TotalFramesChecked: 5, Similarity: 0.93},
	}
	p := newTestProcessor(t, w)

	res, err := p.Process(context.Background(), sc, Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusRepost, res.Status)
	assert.Equal(t, "ORIG", res.Original)
	assert.Equal(t, 0.97, res.Similarity)
	assert.Equal(t, 2, res.CommentsSaved)

	assert.Equal(t, map[string]int{"ORIG": 1}, w.mentions)
	assert.Equal(t, []persistCommentsCall{{grouping: "ORIG", source: sc, count: 2}}, w.commentCalls)
	assert.Empty(t, w.uploadedKeys)
	assert.Zero(t, w.count("PersistReel"))
	assert.Zero(t, w.count("PersistFingerprints"))
	assert.Zero(t, w.count("AnalyzeContent"))
	assert.Empty(t, w.failures)

	require.Len(t, w.completions, 1)
	c := w.completions[0]
	require.NotNil(t, c.OriginalShortcode)
	assert.Equal(t, "ORIG", *c.OriginalShortcode)
	require.NotNil(t, c.Similarity)
	assert.Equal(t, 0.97, *c.Similarity)
}

func TestProcess_RepostRetryCountsMentionOnce(t *testing.T) {
	w := newWorld(sc)
	w.candidates = []fingerprint.Candidate{{Shortcode: "ORIG", MatchingFrames: 4, Similarity: 0.95}}
	w.inject("PersistComments", errTransient)
	p := newTestProcessor(t, w)

	res, err := p.Process(context.Background(), sc, Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusRepost, res.Status)
	assert.Equal(t, 1, w.mentions["ORIG"])
	assert.Equal(t, 1, w.count("Match"))
	assert.Equal(t, 2, w.count("PersistComments"))
}

func TestProcess_SelfMatchIsAlreadyProcessed(t *testing.T) {
	w := newWorld(sc)
	w.candidates = []fingerprint.Candidate{{Shortcode: sc, MatchingFrames: 3, Similarity: 1}}
	p := newTestProcessor(t, w)

	// An earlier run stored fingerprints but never got to write the reel row.
	res, err := p.Process(context.Background(), sc, Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusAlreadyProcessed, res.Status)
	assert.Empty(t, res.Original)
	assert.Nil(t, res.ReelID)
	assert.Equal(t, map[string]int{sc: 1}, w.mentions)
	assert.Empty(t, w.commentCalls)
	assert.Empty(t, w.uploadedKeys)
	assert.Equal(t, 2, w.count("ReelExists"))
}

func TestProcess_SelfMatchReportsExistingReel(t *testing.T) {
	w := newWorld("ALIAS")
	w.scrape.Reel.Shortcode = sc
	w.reels[sc] = &ReelRecord{ID: 9, Shortcode: sc}
	w.candidates = []fingerprint.Candidate{{Shortcode: sc, MatchingFrames: 3, Similarity: 1}}
	p := newTestProcessor(t, w)

	res, err := p.Process(context.Background(), "ALIAS", Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusAlreadyProcessed, res.Status)
	assert.Equal(t, sc, res.Shortcode)
	require.NotNil(t, res.ReelID)
	assert.Equal(t, int64(9), *res.ReelID)
	assert.Equal(t, map[string]int{sc: 1}, w.mentions)
}

func TestProcess_SentimentGateFilters(t *testing.T) {
	w := newWorld(sc)
	w.sentiment = Sentiment{Label: LabelSpamSarcasm, Explanation: "jokes and emojis"}
	p := newTestProcessor(t, w)

	res, err := p.Process(context.Background(), sc, Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusFiltered, res.Status)
	assert.Equal(t, LabelSpamSarcasm, res.SentimentLabel)
	assert.Equal(t, "jokes and emojis", res.SentimentExplanation)
	require.NotNil(t, res.ReelID)
	assert.Zero(t, w.count("AnalyzeContent"))
	assert.Empty(t, w.failures)

	require.Len(t, w.completions, 1)
	require.NotNil(t, w.completions[0].SentimentLabel)
	assert.Equal(t, LabelSpamSarcasm, *w.completions[0].SentimentLabel)
}

func TestProcess_SentimentGateBypass(t *testing.T) {
	tests := []struct {
		name  string
		opts  Options
		setup func(w *world)
	}{
		{name: "skip flag", opts: Options{SkipSentimentGate: true}},
		{name: "no comments", setup: func(w *world) { w.scrape.Comments = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorld(sc)
			w.sentiment = Sentiment{Label: LabelSpamSarcasm}
			if tt.setup != nil {
				tt.setup(w)
			}
			p := newTestProcessor(t, w)

			res, err := p.Process(context.Background(), sc, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, StatusSuccess, res.Status)
			assert.Zero(t, w.count("ClassifySentiment"))
			assert.Zero(t, w.count("ListComments"))
			assert.Equal(t, 1, w.count("AnalyzeContent"))
		})
	}
}

func TestProcess_SentimentGateSkipsEmptyStoredThreads(t *testing.T) {
	w := newWorld(sc)
	w.sentiment = Sentiment{Label: LabelSpamSarcasm}
	w.commentsLost = true
	p := newTestProcessor(t, w)

	res, err := p.Process(context.Background(), sc, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 1, w.count("ListComments"))
	assert.Zero(t, w.count("ClassifySentiment"))
	assert.Empty(t, w.classified)
	assert.Equal(t, 1, w.count("AnalyzeContent"))
}

func TestProcess_NoAudioTrack(t *testing.T) {
	w := newWorld(sc)
	w.hasAudio = false
	p := newTestProcessor(t, w)

	res, err := p.Process(context.Background(), sc, Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, []string{"videos/" + sc + ".mp4"}, w.uploadedKeys)
	require.Len(t, w.reelCalls, 1)
	assert.Nil(t, w.reelCalls[0].audio)
	assert.Nil(t, w.analyzedAudio)
	assert.Zero(t, w.count("Remove:"))
}

func TestProcess_NoScrapeResult(t *testing.T) {
	w := newWorld(sc)
	w.scrape = nil
	p := newTestProcessor(t, w)

	res, err := p.Process(context.Background(), sc, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, ErrNoResult.Error(), res.Reason)
	assert.Zero(t, w.count("Download"))
	assert.Empty(t, w.failures)
}

func TestProcess_MissingVideoURLIsFatal(t *testing.T) {
	w := newWorld(sc)
	w.scrape.Reel.VideoURL = ""
	p := newTestProcessor(t, w)

	res, err := p.Process(context.Background(), sc, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Reason, "no video URL")
	assert.Zero(t, w.count("Download"))
	assert.Empty(t, w.sleeps)
}

func TestProcess_CanonicalShortcodeFromScraper(t *testing.T) {
	w := newWorld("alias")
	w.scrape.Reel.Shortcode = sc
	p := newTestProcessor(t, w)

	res, err := p.Process(context.Background(), "https://instagram.com/p/alias/", Options{})
	require.NoError(t, err)

	assert.Equal(t, sc, res.Shortcode)
	assert.Equal(t, []string{"alias"}, w.started)
	assert.ElementsMatch(t, []string{"videos/" + sc + ".mp4", "audio/" + sc + ".mp3"}, w.uploadedKeys)
	require.Len(t, w.reelCalls, 1)
	assert.Equal(t, sc, w.reelCalls[0].reel.Shortcode)
}

func TestProcess_LedgerFailuresAreSwallowed(t *testing.T) {
	t.Run("start", func(t *testing.T) {
		w := newWorld(sc)
		w.inject("LedgerStart", errors.New("db down"))
		p := newTestProcessor(t, w)

		res, err := p.Process(context.Background(), sc, Options{})
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, res.Status)
		assert.Empty(t, res.RunID)
		assert.Zero(t, w.count("LedgerComplete"))
	})

	t.Run("complete", func(t *testing.T) {
		w := newWorld(sc)
		w.inject("LedgerComplete", errors.New("db down"))
		p := newTestProcessor(t, w)

		res, err := p.Process(context.Background(), sc, Options{})
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, res.Status)
		assert.Equal(t, 1, w.count("LedgerComplete"))
	})
}

func TestProcess_CleanupRetriesLockedFiles(t *testing.T) {
	w := newWorld(sc)
	video := "Remove:/tmp/dl/" + sc + ".mp4"
	audio := "Remove:/tmp/dl/" + sc + ".mp3"
	w.inject(video, syscall.EBUSY, syscall.EBUSY)
	w.inject(audio, syscall.EBUSY, syscall.EBUSY, syscall.EBUSY, syscall.EBUSY, syscall.EBUSY, syscall.EBUSY)
	p := newTestProcessor(t, w)

	res, err := p.Process(context.Background(), sc, Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 3, w.count(video))
	assert.Equal(t, DefaultCleanupTries, w.count(audio))
}

func TestProcess_CleanupIgnoresMissingFile(t *testing.T) {
	w := newWorld(sc)
	video := "Remove:/tmp/dl/" + sc + ".mp4"
	w.inject(video, fs.ErrNotExist)
	p := newTestProcessor(t, w)

	_, err := p.Process(context.Background(), sc, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, w.count(video))
}

func TestProcess_Cancelled(t *testing.T) {
	w := newWorld(sc)
	p := newTestProcessor(t, w)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := p.Process(ctx, sc, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Reason, context.Canceled.Error())
	assert.Zero(t, w.count("Scrape"))
	assert.Len(t, w.completions, 1)
}

func TestProcess_EmptyIdentifier(t *testing.T) {
	w := newWorld(sc)
	p := newTestProcessor(t, w)

	_, err := p.Process(context.Background(), "   ", Options{})
	require.ErrorIs(t, err, ErrEmptyIdentifier)
	assert.Zero(t, w.count("LedgerStart"))
}

func TestNewProcessor_Validates(t *testing.T) {
	_, err := NewProcessor(Deps{}, Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Scraper")

	w := newWorld(sc)
	_, err = NewProcessor(w.deps(), Config{MaxAttempts: -1})
	require.Error(t, err)

	p, err := NewProcessor(w.deps(), Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxAttempts, p.cfg.MaxAttempts)
}

func TestProcessBatch(t *testing.T) {
	w := newWorld(sc)
	w.reels["SEEN"] = &ReelRecord{ID: 3, Shortcode: "SEEN"}
	p := newTestProcessor(t, w)

	results := p.ProcessBatch(context.Background(), []string{sc, "SEEN", " "}, Options{})
	require.Len(t, results, 3)

	assert.Equal(t, sc, results[0].Identifier)
	require.NoError(t, results[0].Err)
	assert.Equal(t, StatusSuccess, results[0].Result.Status)

	require.NoError(t, results[1].Err)
	assert.Equal(t, StatusAlreadyProcessed, results[1].Result.Status)

	assert.ErrorIs(t, results[2].Err, ErrEmptyIdentifier)
	assert.Nil(t, results[2].Result)
}

func TestProcessBatch_PanicIsIsolated(t *testing.T) {
	w := newWorld(sc)
	p := newTestProcessor(t, w)
	p.deps.Scraper = panicScraper{}

	results := p.ProcessBatch(context.Background(), []string{"A", "B"}, Options{})
	for _, r := range results {
		require.Error(t, r.Err)
		assert.Contains(t, r.Err.Error(), "panicked")
	}
	assert.Len(t, w.completions, 2)
}

type panicScraper struct{}

func (panicScraper) Scrape(context.Context, string) (*ScrapeResult, error) {
	panic("scraper exploded")
}
