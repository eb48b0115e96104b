package ffmpeg

import (
	"fmt"
)

// ScaleFilter represents a scale filter.
type ScaleFilter struct {
	Width  int // Use -1 or -2 for auto-calculate maintaining aspect ratio
	Height int
	Flags  string // Scaler algorithm (area, bicubic, ...); empty uses ffmpeg's default
}

// String returns the ffmpeg filter string.
func (s ScaleFilter) String() string {
	if s.Flags != "" {
		return fmt.Sprintf("scale=%d:%d:flags=%s", s.Width, s.Height, s.Flags)
	}
	return fmt.Sprintf("scale=%d:%d", s.Width, s.Height)
}

// Scale adds a scale filter.
func Scale(width, height int) Option {
	return Filter(ScaleFilter{Width: width, Height: height}.String())
}

// ScaleArea scales to an exact size with area averaging, which suits downsampling
// frames for perceptual hashing.
func ScaleArea(width, height int) Option {
	return Filter(ScaleFilter{Width: width, Height: height, Flags: "area"}.String())
}

// ScaleWidth scales to a specific width, auto-calculating height with even dimensions.
func ScaleWidth(width int) Option {
	return Scale(width, -2)
}

// FPS adds an fps filter to change frame rate.
func FPS(rate float64) Option {
	return Filter(fmt.Sprintf("fps=%g", rate))
}

// SelectEvery keeps every n-th decoded frame, starting with frame 0.
func SelectEvery(n int) Option {
	if n < 1 {
		n = 1
	}
	return Filter(fmt.Sprintf(`select=not(mod(n\,%d))`, n))
}

// PixelFormatFilter converts frames to the given pixel format inside the filter graph.
func PixelFormatFilter(pixFmt string) Option {
	return Filter("format=" + pixFmt)
}
