package pipeline

import (
	"errors"
	"time"
)

// Status is the terminal outcome of one run.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusAlreadyProcessed Status = "already_processed"
	StatusRepost           Status = "repost"
	StatusFiltered         Status = "filtered"
	StatusError            Status = "error"
)

// ErrNoResult is returned by a Scraper when the source has nothing for a shortcode.
var ErrNoResult = errors.New("scraper returned no results")

// Reel is the scraped metadata of one reel.
type Reel struct {
	Shortcode       string     `json:"shortcode"`
	InstagramID     string     `json:"instagram_id,omitempty"`
	OwnerID         string     `json:"owner_id,omitempty"`
	OwnerUsername   string     `json:"owner_username,omitempty"`
	Caption         string     `json:"caption,omitempty"`
	PostedAt        *time.Time `json:"posted_at,omitempty"`
	VideoURL        string     `json:"video_url,omitempty"`
	ViewCount       int64      `json:"view_count"`
	PlayCount       int64      `json:"play_count"`
	LikeCount       int64      `json:"like_count"`
	CommentCount    int64      `json:"comment_count"`
	DurationSeconds float64    `json:"duration_seconds"`
}

// Comment is a scraped comment. Replies are nested one level.
type Comment struct {
	ID            string     `json:"id"`
	Text          string     `json:"text"`
	OwnerUsername string     `json:"owner_username,omitempty"`
	LikeCount     int64      `json:"like_count"`
	PostedAt      *time.Time `json:"posted_at,omitempty"`
	Replies       []Comment  `json:"replies,omitempty"`
}

// ScrapeResult is everything the scrape step yields.
type ScrapeResult struct {
	Reel     Reel
	Comments []Comment
}

// ReelRecord is a persisted reel.
type ReelRecord struct {
	ID           int64
	Shortcode    string
	MentionCount int64
}

// Sentiment labels returned by a SentimentClassifier.
const (
	LabelCrimeReport = "CRIME_REPORT"
	LabelSpamSarcasm = "SPAM_SARCASM"
	LabelAmbiguous   = "AMBIGUOUS"
)

// Sentiment is the classification of a reel's comment corpus.
type Sentiment struct {
	Label       string `json:"label"`
	Explanation string `json:"explanation"`
}

// ContentAnalysis is the combined video and audio judgement of a reel.
type ContentAnalysis struct {
	DangerScore       int      `json:"danger_score"`
	Crimes            []string `json:"crimes"`
	AudioSentiment    string   `json:"audio_sentiment"`
	RecommendedAction string   `json:"recommended_action"`
	// Assessment is a short prose summary of what the reel shows.
	Assessment        string   `json:"assessment"`
}

// Options tune a single run.
type Options struct {
	// Force reprocesses content that is already stored and skips the duplicate gate.
	// Mention counters are left alone.
	Force bool `json:"force"`
	// SkipSentimentGate goes straight from persistence to content analysis.
	SkipSentimentGate bool `json:"skip_sentiment"`
}

// Result is the outcome of one run. Only the fields relevant to Status are set.
type Result struct {
	Status    Status `json:"status"`
	Shortcode string `json:"shortcode"`
	RunID     string `json:"run_id,omitempty"`
	ReelID    *int64 `json:"reel_id,omitempty"`

	Original      string  `json:"original,omitempty"`
	Similarity    float64 `json:"similarity,omitempty"`
	CommentsSaved int     `json:"comments_saved,omitempty"`

	SentimentLabel       string `json:"sentiment_label,omitempty"`
	SentimentExplanation string `json:"sentiment_explanation,omitempty"`

	DangerScore       int    `json:"danger_score,omitempty"`
	CrimesCount       int    `json:"crimes,omitempty"`
	AudioSentiment    string `json:"sentiment,omitempty"`
	RecommendedAction string `json:"recommended_action,omitempty"`
	Assessment        string `json:"assessment,omitempty"`

	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunCompletion is the terminal write to the run ledger.
type RunCompletion struct {
	Status      Status
	CompletedAt time.Time
	Duration    time.Duration

	OriginalShortcode    *string
	Similarity           *float64
	SentimentLabel       *string
	SentimentExplanation *string
	DangerScore          *int
	CrimesCount          *int
	RecommendedAction    *string
	Assessment           *string
	ErrorReason          *string
}

// FailedRequest is a run abandoned after exhausting its retry budget.
type FailedRequest struct {
	Shortcode string
	Error     string
	Step      string
	Attempts  int
}

// BatchResult pairs an identifier from a batch with its outcome.
type BatchResult struct {
	Identifier string
	Result     *Result
	Err        error
}
