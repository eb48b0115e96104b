package analysis

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"thirdcoast.systems/reelwatch/internal/pipeline"
	"thirdcoast.systems/reelwatch/pkg/ffmpeg"
)

// Audio sentiments used when no model judgement is available.
const (
	AudioUnavailable = "Unknown"
	AudioFailed      = "Error"

	noAudioTranscript = "[Audio file not available]"
)

// Recommended actions, from most to least urgent.
const (
	ActionEscalate = "escalate"
	ActionReview   = "review"
	ActionMonitor  = "monitor"
	ActionNone     = "none"
)

// RecommendedAction maps a 0..10 danger score to an operator action.
func RecommendedAction(dangerScore int) string {
	switch {
	case dangerScore >= 8:
		return ActionEscalate
	case dangerScore >= 5:
		return ActionReview
	case dangerScore >= 1:
		return ActionMonitor
	default:
		return ActionNone
	}
}

type Models struct {
	Chat       string
	Vision     string
	Transcribe string
}

// ContentAnalyzer judges a reel from sampled keyframes and its audio track.
type ContentAnalyzer struct {
	client   *Client
	models   Models
	lang     language.Tag
	logger   *slog.Logger
	interval time.Duration
	frames   int

	extractFrames func(ctx context.Context, input, outputDir string, opts *ffmpeg.FrameExtractOptions) ([]string, error)
}

func NewContentAnalyzer(client *Client, models Models, lang language.Tag, logger *slog.Logger) *ContentAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContentAnalyzer{
		client:        client,
		models:        models,
		lang:          lang,
		logger:        logger,
		interval:      2 * time.Second,
		frames:        8,
		extractFrames: ffmpeg.ExtractFrames,
	}
}

type possibleCrime struct {
	Content      string `json:"content"`
	Timestamp    string `json:"timestamp"`
	RuleViolated string `json:"rule_violated"`
	Severity     string `json:"severity"`
}

type videoReport struct {
	Description    string          `json:"description"`
	PossibleCrimes []possibleCrime `json:"possible_crimes"`
	DangerScore    float64         `json:"danger_score"`
}

type audioEvent struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Intensity string `json:"intensity"`
}

type audioReport struct {
	Transcript  string       `json:"-"`
	AudioEvents []audioEvent `json:"audio_events"`
	Sentiment   string       `json:"sentiment"`
}

// AnalyzeContent runs the video and audio analyses concurrently. A video
// failure fails the analysis; an audio failure only marks the audio sentiment.
func (a *ContentAnalyzer) AnalyzeContent(ctx context.Context, videoPath string, audioPath *string) (*pipeline.ContentAnalysis, error) {
	var (
		video *videoReport
		audio *audioReport
		g     errgroup.Group
	)

	g.Go(func() error {
		var err error
		video, err = a.analyzeVideo(ctx, videoPath)
		return err
	})
	g.Go(func() error {
		audio = a.analyzeAudio(ctx, audioPath)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("video analysis: %w", err)
	}

	score := clampScore(video.DangerScore)
	crimes := make([]string, 0, len(video.PossibleCrimes))
	for _, c := range video.PossibleCrimes {
		if s := describeCrime(c); s != "" {
			crimes = append(crimes, s)
		}
	}

	assessment := a.assess(ctx, video, audio, score, len(crimes))

	a.logger.Info("content analysed",
		"video", videoPath,
		"danger_score", score,
		"crimes", len(crimes),
		"audio_events", len(audio.AudioEvents),
		"audio_sentiment", audio.Sentiment,
	)
	return &pipeline.ContentAnalysis{
		DangerScore:       score,
		Crimes:            crimes,
		AudioSentiment:    audio.Sentiment,
		RecommendedAction: RecommendedAction(score),
		Assessment:        assessment,
	}, nil
}

// assess asks the chat model for a short combined summary of both reports.
// Any failure falls back to a templated summary so the analysis still lands.
func (a *ContentAnalyzer) assess(ctx context.Context, video *videoReport, audio *audioReport, score, crimes int) string {
	text, err := a.client.chat(ctx, chatRequest{
		Model: a.models.Chat,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a crime analysis expert. Provide clear, concise assessments."},
			{Role: "user", Content: assessmentPrompt(video, audio, score, crimes)},
		},
		Temperature: 0.3,
		MaxTokens:   200,
	})
	if err != nil {
		a.logger.Warn("assessment failed, using summary", "error", err)
		return fallbackAssessment(video, audio, score)
	}
	if text == "" {
		return fallbackAssessment(video, audio, score)
	}
	return text
}

func fallbackAssessment(video *videoReport, audio *audioReport, score int) string {
	return fmt.Sprintf("Video shows %s. Danger level: %d/10. Audio sentiment: %s.",
		truncateRunes(strings.TrimSpace(video.Description), 100), score, audio.Sentiment)
}

func assessmentPrompt(video *videoReport, audio *audioReport, score, crimes int) string {
	return fmt.Sprintf(`Based on the following video and audio analysis, provide an overall assessment of the situation:

VIDEO ANALYSIS:
- Description: %s
- Danger Score: %d/10
- Detected Crimes: %d

AUDIO ANALYSIS:
- Transcript: %s
- Sentiment: %s
- Audio Events: %d

Provide a 2-3 sentence assessment that summarizes:
1. What is happening
2. The level of danger/concern
3. Key evidence from both video and audio`,
		video.Description, score, crimes,
		truncateRunes(audio.Transcript, 500), audio.Sentiment, len(audio.AudioEvents))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func (a *ContentAnalyzer) analyzeVideo(ctx context.Context, videoPath string) (*videoReport, error) {
	dir, err := os.MkdirTemp("", "reelwatch-frames-*")
	if err != nil {
		return nil, fmt.Errorf("create frame dir: %w", err)
	}
	defer os.RemoveAll(dir)

	paths, err := a.extractFrames(ctx, videoPath, dir, &ffmpeg.FrameExtractOptions{
		Interval:  a.interval,
		MaxFrames: a.frames,
	})
	if err != nil {
		return nil, fmt.Errorf("extract keyframes: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no keyframes extracted from %s", videoPath)
	}

	parts := []contentPart{{Type: "text", Text: a.videoPrompt(len(paths))}}
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read keyframe: %w", err)
		}
		parts = append(parts, contentPart{
			Type: "image_url",
			ImageURL: &imageURL{
				URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(b),
				Detail: "low",
			},
		})
	}

	var report videoReport
	err = a.client.chatJSON(ctx, chatRequest{
		Model: a.models.Vision,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a video forensics analyst. Always respond with valid JSON only."},
			{Role: "user", Content: parts},
		},
		Temperature: 0.2,
	}, &report)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (a *ContentAnalyzer) analyzeAudio(ctx context.Context, audioPath *string) *audioReport {
	if audioPath == nil || *audioPath == "" {
		return &audioReport{Transcript: noAudioTranscript, Sentiment: AudioUnavailable}
	}

	report, err := a.transcribeAndClassify(ctx, *audioPath)
	if err != nil {
		a.logger.Warn("audio analysis failed", "audio", *audioPath, "error", err)
		return &audioReport{Sentiment: AudioFailed}
	}
	return report
}

func (a *ContentAnalyzer) transcribeAndClassify(ctx context.Context, audioPath string) (*audioReport, error) {
	base, _ := a.lang.Base()
	tr, err := a.client.transcribe(ctx, a.models.Transcribe, audioPath, base.String())
	if err != nil {
		return nil, err
	}
	transcript := formatTranscript(tr)

	var report audioReport
	err = a.client.chatJSON(ctx, chatRequest{
		Model: a.models.Chat,
		Messages: []chatMessage{
			{Role: "system", Content: "You are an expert audio forensic analyst. Analyze audio transcripts to detect events, sentiment, and important details. Always respond with valid JSON only."},
			{Role: "user", Content: audioPrompt(transcript)},
		},
		Temperature: 0.3,
	}, &report)
	if err != nil {
		return nil, err
	}
	report.Transcript = transcript
	if strings.TrimSpace(report.Sentiment) == "" {
		report.Sentiment = "Neutral"
	}
	return &report, nil
}

// formatTranscript renders segments as "[MM:SS - MM:SS] text" lines, falling
// back to the plain text when the server returns no segments.
func formatTranscript(tr *transcription) string {
	if len(tr.Segments) == 0 {
		return strings.TrimSpace(tr.Text)
	}
	lines := make([]string, 0, len(tr.Segments))
	for _, s := range tr.Segments {
		lines = append(lines, fmt.Sprintf("[%s - %s] %s", mmss(s.Start), mmss(s.End), strings.TrimSpace(s.Text)))
	}
	return strings.Join(lines, "\n")
}

func mmss(seconds float64) string {
	s := int(seconds)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}

func (a *ContentAnalyzer) videoPrompt(frames int) string {
	langName := display.English.Tags().Name(a.lang)
	return fmt.Sprintf(`These are %d keyframes sampled every %s from a short social media video, in order.
Spoken and written language in the video is most likely %s; transcribe any visible text as-is.

Respond ONLY with valid JSON in this exact format:
{
  "description": "detailed description of what happens in the video",
  "possible_crimes": [
    {"content": "description of crime", "timestamp": "MM:SS", "rule_violated": "crime type", "severity": "minor/moderate/severe/critical"}
  ],
  "danger_score": 0-10
}

Danger score: 0=safe, 1-3=minor concern, 4-6=moderate danger, 7-8=serious danger, 9-10=critical emergency.
Crimes: assault, theft, vandalism, traffic_violation, public_disturbance, weapon_display, etc.
Only include findings with reasonable confidence.`, frames, a.interval, langName)
}

func audioPrompt(transcript string) string {
	return fmt.Sprintf(`Analyze this audio transcript and provide a structured analysis in JSON format.

Transcript:
%s

Provide analysis in this EXACT JSON format:
{
  "audio_events": [
    {"event": "event_type", "timestamp": "MM:SS", "intensity": "low/medium/high"}
  ],
  "sentiment": "overall sentiment description"
}

Audio events to detect: glass_shattering, aggressive_shouting, screaming, crying, gunshot,
car_crash, alarm, door_breaking, running_footsteps, physical_altercation, or any other significant event.
Sentiment categories: Distress/Aggression, Panic/Fear, Anger, Calm, Neutral, Confusion.
Only include events that are clearly audible.`, transcript)
}

func describeCrime(c possibleCrime) string {
	kind := strings.TrimSpace(c.RuleViolated)
	content := strings.TrimSpace(c.Content)
	switch {
	case kind != "" && content != "":
		return kind + ": " + content
	case kind != "":
		return kind
	default:
		return content
	}
}

func clampScore(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	s := int(math.Round(v))
	return max(0, min(10, s))
}
