package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/text/language"

	"thirdcoast.systems/reelwatch/internal/analysis"
	"thirdcoast.systems/reelwatch/internal/config"
	"thirdcoast.systems/reelwatch/internal/db"
	"thirdcoast.systems/reelwatch/internal/fingerprint"
	"thirdcoast.systems/reelwatch/internal/media"
	"thirdcoast.systems/reelwatch/internal/pipeline"
	"thirdcoast.systems/reelwatch/internal/scrape"
	"thirdcoast.systems/reelwatch/internal/storage"
	"thirdcoast.systems/reelwatch/pkg/ytdlp"
)

// NewUploader returns the object store selected by STORAGE_BACKEND.
func NewUploader(conf config.Config, logger *slog.Logger) (pipeline.Uploader, error) {
	switch conf.Storage.Backend {
	case "supabase":
		return storage.NewSupabase(conf.Storage.URL, conf.Storage.ServiceKey, conf.Storage.Bucket, logger), nil
	case "filesystem":
		return storage.NewFilesystem(conf.Storage.Root, logger), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", conf.Storage.Backend)
	}
}

// NewYTDLP returns a yt-dlp client, loading the optional cookies file.
func NewYTDLP(conf config.Config) (*ytdlp.Client, error) {
	client := ytdlp.New()
	if p := strings.TrimSpace(conf.YTDLPPath); p != "" {
		client.Path = p
	}
	if p := strings.TrimSpace(conf.YTDLPCookiesPath); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read yt-dlp cookies: %w", err)
		}
		client.Cookies = string(b)
	}
	return client, nil
}

// LogToolVersions reports the external binaries the pipeline shells out to.
// A missing binary is logged, not fatal; runs that need it fail and are retried.
func LogToolVersions(ctx context.Context, conf config.Config, logger *slog.Logger) {
	client, err := NewYTDLP(conf)
	if err != nil {
		logger.Warn("yt-dlp client not configured", "error", err)
	} else if v, err := client.Version(ctx); err != nil {
		logger.Warn("yt-dlp not available", "path", client.PathOrDefault(), "error", err)
	} else {
		logger.Info("yt-dlp available", "path", client.PathOrDefault(), "version", v)
	}

	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if path, err := exec.LookPath(bin); err != nil {
			logger.Warn("binary not found on PATH", "binary", bin)
		} else {
			logger.Info("binary available", "binary", bin, "path", path)
		}
	}
}

// NewProcessor wires every pipeline collaborator from configuration.
func NewProcessor(conf config.Config, dbc *db.DatabaseConnection, logger *slog.Logger) (*pipeline.Processor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	uploader, err := NewUploader(conf, logger.With("component", "storage"))
	if err != nil {
		return nil, err
	}
	ytdl, err := NewYTDLP(conf)
	if err != nil {
		return nil, err
	}
	ytdl.Logger = logger.With("component", "ytdlp")
	lang, err := language.Parse(conf.Analysis.Language)
	if err != nil {
		return nil, fmt.Errorf("analysis language: %w", err)
	}

	reels := db.NewReelStore(dbc)

	generator := fingerprint.NewGenerator(conf.Pipeline.FingerprintInterval)
	generator.Logger = logger.With("component", "fingerprint")

	matcher := fingerprint.NewMatcher(reels)
	matcher.MaxDistance = conf.Pipeline.DedupMaxDistance
	matcher.MinMatchingFrames = conf.Pipeline.DedupMinFrames
	matcher.QueryLimit = conf.Pipeline.DedupQueryLimit
	matcher.Logger = logger.With("component", "dedup")

	llm := analysis.NewClient(conf.Analysis.BaseURL, conf.Analysis.APIKey, logger.With("component", "llm"))

	return pipeline.NewProcessor(pipeline.Deps{
		Scraper: scrape.NewClient(scrape.Options{
			BaseURL:      conf.Apify.BaseURL,
			Token:        conf.Apify.APIToken,
			PollInterval: conf.Apify.PollInterval,
			RunTimeout:   conf.Apify.RunTimeout,
			Logger:       logger.With("component", "apify"),
		}),
		Downloader:    media.NewDownloader(conf.DownloadDir, ytdl, logger.With("component", "download")),
		Audio:         media.NewAudioExtractor(logger.With("component", "audio")),
		Uploader:      uploader,
		Store:         reels,
		Fingerprinter: generator,
		Matcher:       matcher,
		Sentiment:     analysis.NewSentimentClassifier(llm, conf.Analysis.Model),
		Analyzer: analysis.NewContentAnalyzer(llm, analysis.Models{
			Chat:       conf.Analysis.Model,
			Vision:     conf.Analysis.VisionModel,
			Transcribe: conf.Analysis.TranscribeModel,
		}, lang, logger.With("component", "analysis")),
		Ledger:   db.NewRunLedger(dbc),
		Failures: db.NewFailureLog(dbc),
	}, pipeline.Config{
		MaxAttempts: conf.Pipeline.MaxAttempts,
		BackoffBase: conf.Pipeline.BackoffBase,
		Logger:      logger,
	})
}
