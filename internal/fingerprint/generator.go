package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"thirdcoast.systems/reelwatch/pkg/ffmpeg"
)

// DefaultInterval is the spacing between sampled frames.
const DefaultInterval = 2 * time.Second

// Fingerprint is the hash of one sampled frame.
type Fingerprint struct {
	TimestampSeconds float64 `json:"timestamp_seconds"`
	Hash             Hash    `json:"hash"`
}

// VideoInfo is what the generator needs to know about a video before sampling.
type VideoInfo struct {
	FPS        float64
	FrameCount int64
}

// FrameStream yields SampleSize x SampleSize grayscale frames in presentation order.
type FrameStream interface {
	Next() ([]byte, error)
	Close() error
}

// Generator samples a video at a fixed cadence and hashes each sample.
type Generator struct {
	Interval time.Duration
	Workers  int
	Logger   *slog.Logger

	probe  func(ctx context.Context, path string) (VideoInfo, error)
	stream func(ctx context.Context, path string, every int) (FrameStream, error)
}

// NewGenerator returns a Generator backed by ffprobe/ffmpeg.
func NewGenerator(interval time.Duration) *Generator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Generator{
		Interval: interval,
		Workers:  runtime.NumCPU(),
		probe:    probeVideo,
		stream:   streamGrayFrames,
	}
}

func probeVideo(ctx context.Context, path string) (VideoInfo, error) {
	res, err := ffmpeg.Probe(ctx, path)
	if err != nil {
		return VideoInfo{}, err
	}
	if res.VideoStreams == 0 {
		return VideoInfo{}, errors.New("no video stream")
	}
	return VideoInfo{FPS: res.FPS, FrameCount: res.FrameCount}, nil
}

func streamGrayFrames(ctx context.Context, path string, every int) (FrameStream, error) {
	return ffmpeg.StreamFrames(ctx, path, &ffmpeg.FrameStreamOptions{
		Every:  every,
		Width:  SampleSize,
		Height: SampleSize,
	})
}

// FrameStep is the number of source frames between samples.
func FrameStep(fps float64, interval time.Duration) int {
	step := int(math.Round(fps * interval.Seconds()))
	if step < 1 {
		return 1
	}
	return step
}

// Generate returns the fingerprints of videoPath ordered by timestamp. A video
// that cannot be opened is an error; a frame that cannot be read ends the
// sequence early.
func (g *Generator) Generate(ctx context.Context, videoPath string) ([]Fingerprint, error) {
	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}

	info, err := g.probe(ctx, videoPath)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: could not open video %s: %w", videoPath, err)
	}
	if info.FPS <= 0 {
		return nil, fmt.Errorf("fingerprint: could not open video %s: unknown frame rate", videoPath)
	}

	step := FrameStep(info.FPS, g.Interval)
	logger.Info("sampling video",
		"path", videoPath,
		"fps", info.FPS,
		"frames", info.FrameCount,
		"duration_s", float64(info.FrameCount)/info.FPS,
		"frame_step", step,
	)

	stream, err := g.stream(ctx, videoPath, step)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: could not open video %s: %w", videoPath, err)
	}

	var frames [][]byte
	for i := 0; ; i++ {
		if info.FrameCount > 0 && int64(i)*int64(step) >= info.FrameCount {
			break
		}
		if ctx.Err() != nil {
			break
		}
		frame, err := stream.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("frame read failed, truncating fingerprint", "path", videoPath, "sample", i, "error", err)
			}
			break
		}
		frames = append(frames, frame)
	}
	closeErr := stream.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if closeErr != nil {
		if len(frames) == 0 {
			return nil, fmt.Errorf("fingerprint: could not decode video %s: %w", videoPath, closeErr)
		}
		logger.Warn("frame decoder exited with error", "path", videoPath, "samples", len(frames), "error", closeErr)
	}

	hashes, err := g.hashAll(ctx, frames)
	if err != nil {
		return nil, err
	}

	fps := make([]Fingerprint, len(hashes))
	for i, h := range hashes {
		fps[i] = Fingerprint{
			TimestampSeconds: roundTo(float64(i*step)/info.FPS, 2),
			Hash:             h,
		}
	}
	return fps, nil
}

// hashAll hashes frames on a bounded worker pool; output order matches input order.
func (g *Generator) hashAll(ctx context.Context, frames [][]byte) ([]Hash, error) {
	workers := g.Workers
	if workers < 1 {
		workers = 1
	}

	hashes := make([]Hash, len(frames))
	grp, _ := errgroup.WithContext(ctx)
	grp.SetLimit(workers)
	for i, frame := range frames {
		grp.Go(func() error {
			h, err := PHash(frame)
			if err != nil {
				return fmt.Errorf("fingerprint: sample %d: %w", i, err)
			}
			hashes[i] = h
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return hashes, nil
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
