package ytdlp

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// DownloadFile fetches a single progressive media file from url into outputPath.
// Reels are short single-file posts, so playlists, subtitles and sidecar files are
// disabled and the result is always remuxed to mp4.
func (c *Client) DownloadFile(ctx context.Context, url string, outputPath string, extraArgs ...string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", fmt.Errorf("ytdlp: url is required")
	}
	if strings.TrimSpace(outputPath) == "" {
		return "", fmt.Errorf("ytdlp: outputPath is required")
	}

	args := []string{
		"-o", outputPath,
		"--no-playlist",
		"--no-part",
		"--no-mtime",
		"--force-overwrites",
		"--remux-video", "mp4",
		"--no-colors",
		"--format", "best[ext=mp4]/bestvideo*+bestaudio/best",
	}
	args = append(args, extraArgs...)
	args = append(args, url)

	stdout, stderr, err := c.exec(ctx, args...)
	if err != nil {
		return "", wrapExecError(c.PathOrDefault(), args, stdout, stderr, err)
	}

	if _, err := os.Stat(outputPath); err != nil {
		return "", fmt.Errorf("ytdlp: expected output %s: %w", outputPath, err)
	}
	return outputPath, nil
}
