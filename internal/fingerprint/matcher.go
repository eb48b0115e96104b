package fingerprint

import (
	"context"
	"log/slog"
	"sort"
)

// Defaults for duplicate detection.
const (
	DefaultMaxDistance       = 5
	DefaultMinMatchingFrames = 3
	DefaultQueryLimit        = 100
)

// Neighbor is one stored frame hash close to a query hash.
type Neighbor struct {
	Shortcode string
	Distance  int
}

// Index answers nearest-neighbor queries over persisted frame hashes.
type Index interface {
	NearestNeighbors(ctx context.Context, hash Hash, maxDistance, limit int) ([]Neighbor, error)
}

// Candidate aggregates the matches of one stored video against a query video.
type Candidate struct {
	Shortcode          string  `json:"shortcode"`
	MatchingFrames     int     `json:"matching_frames"`
	TotalFramesChecked int     `json:"total_frames_checked"`
	BestDistance       int     `json:"best_hamming_distance"`
	AvgDistance        float64 `json:"avg_hamming_distance"`
	Similarity         float64 `json:"similarity"`
}

// Matcher finds previously ingested videos whose frames are near the query frames.
// It only reads the index.
type Matcher struct {
	Index             Index
	MaxDistance       int
	MinMatchingFrames int
	QueryLimit        int
	Logger            *slog.Logger
}

// NewMatcher returns a Matcher with the default thresholds.
func NewMatcher(index Index) *Matcher {
	return &Matcher{
		Index:             index,
		MaxDistance:       DefaultMaxDistance,
		MinMatchingFrames: DefaultMinMatchingFrames,
		QueryLimit:        DefaultQueryLimit,
	}
}

// Match queries the index for every fingerprint and returns the qualifying
// candidates, most matching frames first. A failed query is logged and skipped.
func (m *Matcher) Match(ctx context.Context, fingerprints []Fingerprint) ([]Candidate, error) {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}

	type agg struct {
		distances []int
	}
	byShortcode := map[string]*agg{}
	var order []string

	for _, fp := range fingerprints {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		neighbors, err := m.Index.NearestNeighbors(ctx, fp.Hash, m.MaxDistance, m.QueryLimit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("similarity query failed", "timestamp_s", fp.TimestampSeconds, "error", err)
			continue
		}

		for _, n := range neighbors {
			a, ok := byShortcode[n.Shortcode]
			if !ok {
				a = &agg{}
				byShortcode[n.Shortcode] = a
				order = append(order, n.Shortcode)
			}
			a.distances = append(a.distances, n.Distance)
		}
	}

	var out []Candidate
	for _, sc := range order {
		a := byShortcode[sc]
		if len(a.distances) < m.MinMatchingFrames {
			continue
		}

		best, sum := a.distances[0], 0
		for _, d := range a.distances {
			sum += d
			if d < best {
				best = d
			}
		}
		avg := float64(sum) / float64(len(a.distances))

		out = append(out, Candidate{
			Shortcode:          sc,
			MatchingFrames:     len(a.distances),
			TotalFramesChecked: len(fingerprints),
			BestDistance:       best,
			AvgDistance:        roundTo(avg, 2),
			Similarity:         roundTo(1-avg/HashBits, 3),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].MatchingFrames > out[j].MatchingFrames
	})
	return out, nil
}

// IsDuplicate reports whether any candidate qualified.
func IsDuplicate(candidates []Candidate) bool {
	return len(candidates) > 0
}
