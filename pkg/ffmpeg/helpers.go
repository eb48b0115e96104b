package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"sort"
	"time"
)

// ExtractAudio writes the first audio stream of input to output as MP3.
func ExtractAudio(ctx context.Context, input, output string) RunResult {
	return RunCapture(ctx, input, output,
		NoVideo,
		AudioCodec("libmp3lame"),
		AudioQuality(2),
	)
}

// FrameStreamOptions configures raw frame streaming.
type FrameStreamOptions struct {
	Every  int    // Keep one decoded frame out of every N (default: 1)
	Width  int    // Output width in pixels (default: 32)
	Height int    // Output height in pixels (default: 32)
	PixFmt string // Raw pixel format (default: gray, one byte per pixel)
}

// FrameReader reads fixed-size raw frames from an ffmpeg stdout pipe.
type FrameReader struct {
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	stderr    bytes.Buffer
	args      []string
	frameSize int
	closed    bool
}

// StreamFrames starts ffmpeg decoding input and emitting every opts.Every-th frame,
// scaled to opts.Width x opts.Height, as raw pixels on stdout.
func StreamFrames(ctx context.Context, input string, opts *FrameStreamOptions) (*FrameReader, error) {
	if opts == nil {
		opts = &FrameStreamOptions{}
	}
	if opts.Every <= 0 {
		opts.Every = 1
	}
	if opts.Width <= 0 {
		opts.Width = 32
	}
	if opts.Height <= 0 {
		opts.Height = 32
	}
	if opts.PixFmt == "" {
		opts.PixFmt = "gray"
	}

	bytesPerPixel := 1
	if opts.PixFmt != "gray" {
		return nil, fmt.Errorf("ffmpeg: unsupported raw pixel format %q", opts.PixFmt)
	}

	args := NewCommand(input, "pipe:1",
		LogLevel("error"),
		SelectEvery(opts.Every),
		ScaleArea(opts.Width, opts.Height),
		PixelFormatFilter(opts.PixFmt),
		VariableFrameRate,
		NoAudio,
		RawVideo(opts.PixFmt),
	).Build()

	cmd := exec.CommandContext(ctx, Binary, args...)
	r := &FrameReader{
		cmd:       cmd,
		args:      args,
		frameSize: opts.Width * opts.Height * bytesPerPixel,
	}
	cmd.Stderr = &r.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: failed to create stdout pipe: %w", err)
	}
	r.stdout = stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: failed to start: %w", err)
	}
	return r, nil
}

// FrameSize is the number of bytes in one frame.
func (r *FrameReader) FrameSize() int {
	return r.frameSize
}

// Next reads the next frame into a new buffer. It returns io.EOF once the
// stream is exhausted; a trailing partial frame is reported as io.ErrUnexpectedEOF.
func (r *FrameReader) Next() ([]byte, error) {
	buf := make([]byte, r.frameSize)
	if _, err := io.ReadFull(r.stdout, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close stops ffmpeg if it is still running and reaps the process. An exit
// caused by closing the pipe early is not reported as an error.
func (r *FrameReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	// Drain anything left so ffmpeg can exit on its own.
	_, _ = io.Copy(io.Discard, r.stdout)
	err := r.cmd.Wait()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && r.stderr.Len() == 0 {
		return nil
	}
	return &Error{Args: r.args, Stderr: r.stderr.String(), Err: err}
}

// FrameExtractOptions configures still frame extraction.
type FrameExtractOptions struct {
	Interval  time.Duration // Time between frames (default: 2s)
	MaxFrames int           // Upper bound on frames written (default: 8)
	MaxWidth  int           // Maximum width (default: 512)
	Quality   int           // JPEG quality 1-31, lower is better (default: 4)
}

// ExtractFrames writes JPEG stills sampled every opts.Interval into outputDir and
// returns their paths in presentation order.
func ExtractFrames(ctx context.Context, input, outputDir string, opts *FrameExtractOptions) ([]string, error) {
	if opts == nil {
		opts = &FrameExtractOptions{}
	}
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.MaxFrames <= 0 {
		opts.MaxFrames = 8
	}
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = 512
	}
	if opts.Quality <= 0 {
		opts.Quality = 4
	}

	pattern := filepath.Join(outputDir, "frame_%03d.jpg")
	res := RunCapture(ctx, input, pattern,
		FPS(1/opts.Interval.Seconds()),
		ScaleWidth(opts.MaxWidth),
		Frames(opts.MaxFrames),
		Quality(opts.Quality),
		NoAudio,
	)
	if res.Err != nil {
		return nil, res.Err
	}

	paths, err := filepath.Glob(filepath.Join(outputDir, "frame_*.jpg"))
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: list extracted frames: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}
