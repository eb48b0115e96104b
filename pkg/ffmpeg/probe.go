package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
)

// ProbeResult is the subset of ffprobe output the pipeline decides on.
type ProbeResult struct {
	Width      int
	Height     int
	FPS        float64
	FrameCount int64   // nb_frames of the first video stream, or estimated from duration
	Duration   float64 // seconds

	VideoStreams int
	AudioStreams int
}

// ProbeBinary is the ffprobe executable used by Probe.
var ProbeBinary = "ffprobe"

// probeEntries limits ffprobe to the fields parseProbeOutput reads.
const probeEntries = "format=duration:stream=codec_type,width,height,r_frame_rate,nb_frames"

// Probe runs ffprobe on path.
func Probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, ProbeBinary,
		"-hide_banner",
		"-v", "error",
		"-print_format", "json",
		"-show_entries", probeEntries,
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w: %s", path, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return parseProbeOutput(stdout.Bytes())
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		NbFrames   string `json:"nb_frames"`
	} `json:"streams"`
}

func parseProbeOutput(raw []byte) (*ProbeResult, error) {
	var out probeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("ffprobe: parse output: %w", err)
	}

	res := &ProbeResult{}
	res.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)

	for _, s := range out.Streams {
		switch s.CodecType {
		case "audio":
			res.AudioStreams++
		case "video":
			res.VideoStreams++
			if res.VideoStreams > 1 {
				continue
			}
			res.Width, res.Height = s.Width, s.Height
			res.FPS = parseFrameRate(s.RFrameRate)
			res.FrameCount, _ = strconv.ParseInt(s.NbFrames, 10, 64)
		}
	}

	if res.FrameCount == 0 && res.FPS > 0 && res.Duration > 0 {
		res.FrameCount = int64(math.Round(res.FPS * res.Duration))
	}
	return res, nil
}

// parseFrameRate parses ffprobe rationals such as "30/1" or "30000/1001".
func parseFrameRate(rate string) float64 {
	var num, den int
	if _, err := fmt.Sscanf(rate, "%d/%d", &num, &den); err != nil || den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
