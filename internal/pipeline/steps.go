package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"thirdcoast.systems/reelwatch/internal/comments"
	"thirdcoast.systems/reelwatch/internal/fingerprint"
)

type step int

const (
	stepPreflight step = iota
	stepScrape
	stepDownload
	stepExtractAudio
	stepFingerprint
	stepUpload
	stepPersistReel
	stepPersistFingerprints
	stepSentiment
	stepAnalysis
	stepDone
)

var stepLabels = [...]string{
	stepPreflight:           "step_0_preflight",
	stepScrape:              "step_1_scrape",
	stepDownload:            "step_2_download",
	stepExtractAudio:        "step_3_audio",
	stepFingerprint:         "step_4_fingerprint",
	stepUpload:              "step_5_upload",
	stepPersistReel:         "step_6_save_reel",
	stepPersistFingerprints: "step_7_save_fingerprints",
	stepSentiment:           "step_8_sentiment",
	stepAnalysis:            "step_9_ai_analysis",
}

func (s step) String() string {
	if s >= 0 && int(s) < len(stepLabels) {
		return stepLabels[s]
	}
	return fmt.Sprintf("step_%d", int(s))
}

// Storage keys for uploaded media.
func videoKey(shortcode string) string { return "videos/" + shortcode + ".mp4" }
func audioKey(shortcode string) string { return "audio/" + shortcode + ".mp3" }

// stepFunc runs one step against the run state. It returns true when the
// run reached a terminal outcome and no further steps should run.
type stepFunc func(ctx context.Context, r *run) (bool, error)

func (p *Processor) stepTable() map[step]stepFunc {
	return map[step]stepFunc{
		stepScrape:              p.scrape,
		stepDownload:            p.download,
		stepExtractAudio:        p.extractAudio,
		stepFingerprint:         p.fingerprint,
		stepUpload:              p.upload,
		stepPersistReel:         p.persistReel,
		stepPersistFingerprints: p.persistFingerprints,
		stepSentiment:           p.sentimentGate,
		stepAnalysis:            p.analyze,
	}
}

// preflight returns true when the shortcode is already stored.
func (p *Processor) preflight(ctx context.Context, r *run) (bool, error) {
	if r.opts.Force {
		r.logger.Info("existence check skipped", "reason", "force")
		return false, nil
	}

	existing, err := p.deps.Store.ReelExists(ctx, r.shortcode)
	if err != nil {
		return false, fmt.Errorf("check existing reel: %w", err)
	}
	if existing == nil {
		return false, nil
	}

	if err := p.deps.Store.IncrementMentionCount(ctx, r.shortcode); err != nil {
		return false, fmt.Errorf("increment mention count: %w", err)
	}
	r.logger.Info("reel already processed, mention counted", "reel_id", existing.ID)
	r.result = &Result{Status: StatusAlreadyProcessed, ReelID: &existing.ID}
	return true, nil
}

func (p *Processor) scrape(ctx context.Context, r *run) (bool, error) {
	res, err := p.deps.Scraper.Scrape(ctx, r.shortcode)
	if errors.Is(err, ErrNoResult) || (err == nil && res == nil) {
		r.result = &Result{Status: StatusError, Reason: ErrNoResult.Error()}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("scrape %s: %w", r.shortcode, err)
	}

	if canonical := res.Reel.Shortcode; canonical != "" && canonical != r.shortcode {
		r.logger.Info("shortcode resolved", "input", r.shortcode, "canonical", canonical)
		r.shortcode = canonical
		r.logger = r.logger.With("shortcode", canonical)
	}
	res.Reel.Shortcode = r.shortcode

	r.reel = &res.Reel
	r.comments = res.Comments
	r.logger.Info("reel scraped", "owner", res.Reel.OwnerUsername, "comments", len(res.Comments))
	return false, nil
}

func (p *Processor) download(ctx context.Context, r *run) (bool, error) {
	if r.videoPath != "" {
		return false, nil
	}
	if r.reel.VideoURL == "" {
		return false, errors.New("no video URL in scraped reel")
	}

	path, err := p.deps.Downloader.Download(ctx, r.reel.VideoURL, r.shortcode)
	if err != nil {
		return false, fmt.Errorf("download video: %w", err)
	}
	r.videoPath = path
	r.logger.Info("video downloaded", "path", path)
	return false, nil
}

func (p *Processor) extractAudio(ctx context.Context, r *run) (bool, error) {
	if r.audioExtracted {
		return false, nil
	}

	path, err := p.deps.Audio.ExtractAudio(ctx, r.videoPath, r.shortcode)
	if err != nil {
		return false, fmt.Errorf("extract audio: %w", err)
	}
	r.audioPath = path
	r.audioExtracted = true
	if path == "" {
		r.logger.Info("no audio track, audio analysis will be skipped")
	} else {
		r.logger.Info("audio extracted", "path", path)
	}
	return false, nil
}

func (p *Processor) fingerprint(ctx context.Context, r *run) (bool, error) {
	if !r.fingerprinted {
		fps, err := p.deps.Fingerprinter.Generate(ctx, r.videoPath)
		if err != nil {
			return false, fmt.Errorf("fingerprint video: %w", err)
		}
		r.fingerprints = fps
		r.fingerprinted = true
		r.logger.Info("video fingerprinted", "frames", len(fps))
	}

	if r.opts.Force {
		r.logger.Info("duplicate check skipped", "reason", "force")
		return false, nil
	}

	if r.match == nil {
		candidates, err := p.deps.Matcher.Match(ctx, r.fingerprints)
		if err != nil {
			return false, fmt.Errorf("duplicate check: %w", err)
		}
		if !fingerprint.IsDuplicate(candidates) {
			r.logger.Info("video is unique")
			return false, nil
		}
		r.match = &candidates[0]
	}

	if r.match.Shortcode == r.shortcode {
		return true, p.selfMatch(ctx, r)
	}
	return true, p.repost(ctx, r)
}

// selfMatch handles a video whose only match is its own earlier fingerprints.
func (p *Processor) selfMatch(ctx context.Context, r *run) error {
	if !r.mentionCounted {
		if err := p.deps.Store.IncrementMentionCount(ctx, r.shortcode); err != nil {
			return fmt.Errorf("increment mention count: %w", err)
		}
		r.mentionCounted = true
	}

	existing, err := p.deps.Store.ReelExists(ctx, r.shortcode)
	if err != nil {
		return fmt.Errorf("look up existing reel: %w", err)
	}
	r.logger.Info("own fingerprints found, reel was processed before")

	r.result = &Result{Status: StatusAlreadyProcessed}
	if existing != nil {
		r.result.ReelID = &existing.ID
	}
	return nil
}

// repost credits the original reel and files this submission's comments under it.
func (p *Processor) repost(ctx context.Context, r *run) error {
	original := r.match.Shortcode
	r.logger.Info("repost detected", "original", original, "similarity", r.match.Similarity, "matching_frames", r.match.MatchingFrames)

	if !r.mentionCounted {
		if err := p.deps.Store.IncrementMentionCount(ctx, original); err != nil {
			return fmt.Errorf("increment mention count of %s: %w", original, err)
		}
		r.mentionCounted = true
	}

	if !r.commentsPersisted && len(r.comments) > 0 {
		saved, err := p.deps.Store.PersistComments(ctx, r.comments, original, r.shortcode)
		if err != nil {
			return fmt.Errorf("save comments under %s: %w", original, err)
		}
		r.commentsSaved = saved
		r.commentsPersisted = true
		r.logger.Info("comments attributed to original", "original", original, "saved", saved)
	}

	r.result = &Result{
		Status:        StatusRepost,
		Original:      original,
		Similarity:    r.match.Similarity,
		CommentsSaved: r.commentsSaved,
	}
	return nil
}

func (p *Processor) upload(ctx context.Context, r *run) (bool, error) {
	needVideo := r.videoStoragePath == ""
	needAudio := r.audioPath != "" && r.audioStoragePath == nil
	if !needVideo && !needAudio {
		return false, nil
	}

	var videoPath, audioPath string
	grp, gctx := errgroup.WithContext(ctx)
	if needVideo {
		grp.Go(func() error {
			path, err := p.deps.Uploader.Upload(gctx, r.videoPath, videoKey(r.shortcode))
			if err != nil {
				return fmt.Errorf("upload video: %w", err)
			}
			videoPath = path
			return nil
		})
	}
	if needAudio {
		grp.Go(func() error {
			path, err := p.deps.Uploader.Upload(gctx, r.audioPath, audioKey(r.shortcode))
			if err != nil {
				return fmt.Errorf("upload audio: %w", err)
			}
			audioPath = path
			return nil
		})
	}
	err := grp.Wait()

	// Keep whichever half finished so a retry only repeats the other.
	if videoPath != "" {
		r.videoStoragePath = videoPath
	}
	if audioPath != "" {
		r.audioStoragePath = &audioPath
	}
	if err != nil {
		return false, err
	}

	r.logger.Info("media uploaded", "video", r.videoStoragePath, "audio", r.audioPath != "")
	return false, nil
}

func (p *Processor) persistReel(ctx context.Context, r *run) (bool, error) {
	if r.reelID == nil {
		id, err := p.deps.Store.PersistReel(ctx, *r.reel, r.videoStoragePath, r.audioStoragePath)
		if err != nil {
			return false, fmt.Errorf("save reel: %w", err)
		}
		r.reelID = &id
		r.logger.Info("reel saved", "reel_id", id)
	}

	if !r.commentsPersisted && len(r.comments) > 0 {
		saved, err := p.deps.Store.PersistComments(ctx, r.comments, r.shortcode, r.shortcode)
		if err != nil {
			return false, fmt.Errorf("save comments: %w", err)
		}
		r.commentsSaved = saved
		r.commentsPersisted = true
		r.logger.Info("comments saved", "saved", saved)
	}
	return false, nil
}

func (p *Processor) persistFingerprints(ctx context.Context, r *run) (bool, error) {
	if r.fingerprintsPersisted {
		return false, nil
	}
	saved, err := p.deps.Store.PersistFingerprints(ctx, r.shortcode, r.fingerprints)
	if err != nil {
		return false, fmt.Errorf("save fingerprints: %w", err)
	}
	r.fingerprintsPersisted = true
	r.logger.Info("fingerprints saved", "saved", saved)
	return false, nil
}

func (p *Processor) sentimentGate(ctx context.Context, r *run) (bool, error) {
	switch {
	case r.opts.SkipSentimentGate:
		r.logger.Info("sentiment gate skipped", "reason", "skip_sentiment")
		return false, nil
	case len(r.comments) == 0:
		r.logger.Info("sentiment gate skipped", "reason", "no comments")
		return false, nil
	}

	rows, err := p.deps.Store.ListComments(ctx, r.shortcode)
	if err != nil {
		return false, fmt.Errorf("load comments: %w", err)
	}
	tree := comments.BuildTree(rows)
	n := comments.Count(tree)
	if n == 0 {
		r.logger.Info("sentiment gate skipped", "reason", "no stored comments")
		return false, nil
	}
	r.logger.Info("classifying comments", "comments", n, "threads", len(tree))
	text := comments.FormatForLLM(tree, comments.DefaultMaxDepth)

	sentiment, err := p.deps.Sentiment.ClassifySentiment(ctx, text)
	if err != nil {
		return false, fmt.Errorf("classify comments: %w", err)
	}
	r.logger.Info("comments classified", "label", sentiment.Label, "explanation", sentiment.Explanation)

	if sentiment.Label != LabelSpamSarcasm {
		return false, nil
	}
	r.result = &Result{
		Status:               StatusFiltered,
		ReelID:               r.reelID,
		SentimentLabel:       sentiment.Label,
		SentimentExplanation: sentiment.Explanation,
	}
	return true, nil
}

func (p *Processor) analyze(ctx context.Context, r *run) (bool, error) {
	var audio *string
	if r.audioPath != "" {
		audio = &r.audioPath
	}

	analysis, err := p.deps.Analyzer.AnalyzeContent(ctx, r.videoPath, audio)
	if err != nil {
		return false, fmt.Errorf("analyze content: %w", err)
	}
	r.logger.Info("content analyzed",
		"danger_score", analysis.DangerScore,
		"crimes", len(analysis.Crimes),
		"audio_sentiment", analysis.AudioSentiment,
		"action", analysis.RecommendedAction,
	)

	r.result = &Result{
		Status:            StatusSuccess,
		ReelID:            r.reelID,
		DangerScore:       analysis.DangerScore,
		CrimesCount:       len(analysis.Crimes),
		AudioSentiment:    analysis.AudioSentiment,
		RecommendedAction: analysis.RecommendedAction,
		Assessment:        analysis.Assessment,
	}
	return true, nil
}
