package pipeline

import (
	"context"

	"thirdcoast.systems/reelwatch/internal/comments"
	"thirdcoast.systems/reelwatch/internal/fingerprint"
)

// Scraper resolves a shortcode into reel metadata and comments.
// It returns ErrNoResult when the source has nothing for the shortcode.
type Scraper interface {
	Scrape(ctx context.Context, shortcode string) (*ScrapeResult, error)
}

// Downloader fetches the source video to a local file private to the run.
type Downloader interface {
	Download(ctx context.Context, url, shortcode string) (string, error)
}

// AudioExtractor pulls the audio track out of a local video.
// An empty path with a nil error means the video has no audio.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, videoPath, shortcode string) (string, error)
}

// Uploader stores a local file under a logical key. Uploading the same key
// twice overwrites.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
}

// ReelStore persists reels and their comments.
type ReelStore interface {
	ReelExists(ctx context.Context, shortcode string) (*ReelRecord, error)
	IncrementMentionCount(ctx context.Context, shortcode string) error
	PersistReel(ctx context.Context, reel Reel, videoPath string, audioPath *string) (int64, error)
	// PersistComments stores comments under groupingShortcode, recording
	// sourceShortcode as the reel they were scraped from.
	PersistComments(ctx context.Context, cs []Comment, groupingShortcode, sourceShortcode string) (int, error)
	ListComments(ctx context.Context, shortcode string) ([]comments.Row, error)
	PersistFingerprints(ctx context.Context, shortcode string, fps []fingerprint.Fingerprint) (int, error)
}

// Fingerprinter samples and hashes a local video.
type Fingerprinter interface {
	Generate(ctx context.Context, videoPath string) ([]fingerprint.Fingerprint, error)
}

// Matcher finds stored videos that share frames with the query fingerprints.
type Matcher interface {
	Match(ctx context.Context, fps []fingerprint.Fingerprint) ([]fingerprint.Candidate, error)
}

// SentimentClassifier labels a formatted comment corpus.
type SentimentClassifier interface {
	ClassifySentiment(ctx context.Context, text string) (*Sentiment, error)
}

// ContentAnalyzer judges a reel's video and, when present, its audio.
type ContentAnalyzer interface {
	AnalyzeContent(ctx context.Context, videoPath string, audioPath *string) (*ContentAnalysis, error)
}

// RunLedger records the lifecycle of every run.
type RunLedger interface {
	Start(ctx context.Context, shortcode string) (string, error)
	Complete(ctx context.Context, runID string, c RunCompletion) error
}

// FailureLog keeps runs that ran out of retries for later reprocessing.
type FailureLog interface {
	Record(ctx context.Context, f FailedRequest) error
}
