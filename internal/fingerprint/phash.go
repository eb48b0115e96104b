// Package fingerprint computes perceptual frame hashes for videos and matches
// them against previously ingested content.
package fingerprint

import (
	"fmt"
	"math"
	"math/bits"
	"sort"
	"strconv"
)

const (
	// HashBits is the width of a frame hash.
	HashBits = 64

	// SampleSize is the edge length of the grayscale image a frame is reduced to before hashing.
	SampleSize = 32

	lowFreqSize = 8
)

// Hash is a 64-bit perceptual hash. The most significant bit is the DC term.
type Hash uint64

// String renders the hash as a zero padded binary digit string, the form stored in BIT(64) columns.
func (h Hash) String() string {
	return fmt.Sprintf("%064b", uint64(h))
}

// ParseHash parses a binary digit string produced by Hash.String.
func ParseHash(s string) (Hash, error) {
	if len(s) != HashBits {
		return 0, fmt.Errorf("fingerprint: hash must be %d bits, got %d", HashBits, len(s))
	}
	v, err := strconv.ParseUint(s, 2, 64)
	if err != nil {
		return 0, fmt.Errorf("fingerprint: parse hash: %w", err)
	}
	return Hash(v), nil
}

// Distance is the Hamming distance between two hashes.
func Distance(a, b Hash) int {
	return bits.OnesCount64(uint64(a ^ b))
}

// dctCos[k][n] = cos(pi*k*(2n+1) / 2N) for the DCT-II over SampleSize points.
var dctCos = func() [SampleSize][SampleSize]float64 {
	var t [SampleSize][SampleSize]float64
	for k := 0; k < SampleSize; k++ {
		for n := 0; n < SampleSize; n++ {
			t[k][n] = math.Cos(math.Pi * float64(k) * float64(2*n+1) / float64(2*SampleSize))
		}
	}
	return t
}()

// PHash computes the DCT perceptual hash of a SampleSize x SampleSize 8-bit
// grayscale image given row-major. Only the 8x8 lowest frequencies are kept,
// and each bit records whether its coefficient is above the median of the block.
func PHash(pixels []byte) (Hash, error) {
	if len(pixels) != SampleSize*SampleSize {
		return 0, fmt.Errorf("fingerprint: expected %d pixels, got %d", SampleSize*SampleSize, len(pixels))
	}

	// Horizontal pass, low frequencies only.
	var rows [SampleSize][lowFreqSize]float64
	for y := 0; y < SampleSize; y++ {
		line := pixels[y*SampleSize : (y+1)*SampleSize]
		for v := 0; v < lowFreqSize; v++ {
			var sum float64
			for x, p := range line {
				sum += float64(p) * dctCos[v][x]
			}
			rows[y][v] = 2 * sum
		}
	}

	// Vertical pass.
	coeffs := make([]float64, 0, lowFreqSize*lowFreqSize)
	for u := 0; u < lowFreqSize; u++ {
		for v := 0; v < lowFreqSize; v++ {
			var sum float64
			for y := 0; y < SampleSize; y++ {
				sum += rows[y][v] * dctCos[u][y]
			}
			coeffs = append(coeffs, 2*sum)
		}
	}

	median := medianOf(coeffs)

	var h uint64
	for _, c := range coeffs {
		h <<= 1
		if c > median {
			h |= 1
		}
	}
	return Hash(h), nil
}

func medianOf(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// MarshalText encodes the hash as its binary digit string.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText decodes a binary digit string.
func (h *Hash) UnmarshalText(b []byte) error {
	v, err := ParseHash(string(b))
	if err != nil {
		return err
	}
	*h = v
	return nil
}
