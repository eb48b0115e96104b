// Package media fetches reel videos to local working files and pulls their
// audio track.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"thirdcoast.systems/reelwatch/pkg/ffmpeg"
)

// FileDownloader is satisfied by *ytdlp.Client.
type FileDownloader interface {
	DownloadFile(ctx context.Context, url string, outputPath string, extraArgs ...string) (string, error)
}

// Downloader saves videos under Dir with a per-run unique name so concurrent
// runs for the same shortcode never share a file.
type Downloader struct {
	Dir    string
	Client FileDownloader
	Logger *slog.Logger

	newID func() string
}

func NewDownloader(dir string, client FileDownloader, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{Dir: dir, Client: client, Logger: logger, newID: uuid.NewString}
}

// Download fetches url into Dir/{shortcode}-{uuid}.mp4 and returns the path.
func (d *Downloader) Download(ctx context.Context, url, shortcode string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", fmt.Errorf("video url is required")
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	out := filepath.Join(d.Dir, fmt.Sprintf("%s-%s.mp4", safeName(shortcode), d.newID()))
	path, err := d.Client.DownloadFile(ctx, url, out)
	if err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("download %s: %w", shortcode, err)
	}

	if info, err := os.Stat(path); err == nil {
		d.Logger.Info("video downloaded", "shortcode", shortcode, "path", path, "bytes", info.Size())
	}
	return path, nil
}

// AudioExtractor writes the audio track of a video next to it as MP3.
type AudioExtractor struct {
	Logger *slog.Logger

	probe   func(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
	extract func(ctx context.Context, input, output string) ffmpeg.RunResult
}

func NewAudioExtractor(logger *slog.Logger) *AudioExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &AudioExtractor{Logger: logger, probe: ffmpeg.Probe, extract: ffmpeg.ExtractAudio}
}

// ExtractAudio returns the path of the extracted MP3, or "" when the video has
// no audio stream.
func (a *AudioExtractor) ExtractAudio(ctx context.Context, videoPath, shortcode string) (string, error) {
	info, err := a.probe(ctx, videoPath)
	if err != nil {
		return "", fmt.Errorf("probe %s: %w", shortcode, err)
	}
	if info.AudioStreams == 0 {
		a.Logger.Info("video has no audio track", "shortcode", shortcode)
		return "", nil
	}

	out := strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + ".mp3"
	if res := a.extract(ctx, videoPath, out); res.Err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("extract audio of %s: %w", shortcode, res.Err)
	}
	return out, nil
}

// safeName keeps a shortcode usable as a file name.
func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
