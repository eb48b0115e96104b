package fingerprint

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storedFrame struct {
	shortcode string
	hash      Hash
}

// memoryIndex is a brute-force Hamming scan over stored frames.
type memoryIndex struct {
	frames []storedFrame
	failOn map[Hash]bool
	calls  int
}

func (m *memoryIndex) NearestNeighbors(_ context.Context, hash Hash, maxDistance, limit int) ([]Neighbor, error) {
	m.calls++
	if m.failOn[hash] {
		return nil, errors.New("connection reset")
	}
	var out []Neighbor
	for _, f := range m.frames {
		if d := Distance(f.hash, hash); d <= maxDistance {
			out = append(out, Neighbor{Shortcode: f.shortcode, Distance: d})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryIndex) add(shortcode string, fps []Fingerprint) {
	for _, fp := range fps {
		m.frames = append(m.frames, storedFrame{shortcode: shortcode, hash: fp.Hash})
	}
}

func videoFingerprints(t *testing.T, seeds []int64, noiseSeed int64) []Fingerprint {
	t.Helper()
	out := make([]Fingerprint, len(seeds))
	for i, seed := range seeds {
		frame := toBytes(syntheticFrame(seed), 0)
		if noiseSeed != 0 {
			frame = noisy(frame, noiseSeed+seed)
		}
		out[i] = Fingerprint{TimestampSeconds: float64(i * 2), Hash: mustHash(t, frame)}
	}
	return out
}

func TestMatch_FindsReencodedCopy(t *testing.T) {
	idx := &memoryIndex{}
	idx.add("ORIG", videoFingerprints(t, []int64{1, 2, 3, 4, 5}, 0))
	idx.add("OTHER", videoFingerprints(t, []int64{501, 502, 503, 504, 505}, 0))

	m := NewMatcher(idx)
	cands, err := m.Match(context.Background(), videoFingerprints(t, []int64{1, 2, 3, 4, 5}, 900))
	require.NoError(t, err)
	require.True(t, IsDuplicate(cands))
	require.Len(t, cands, 1)

	c := cands[0]
	assert.Equal(t, "ORIG", c.Shortcode)
	assert.Equal(t, 5, c.MatchingFrames)
	assert.Equal(t, 5, c.TotalFramesChecked)
	assert.LessOrEqual(t, c.BestDistance, DefaultMaxDistance)
	assert.Greater(t, c.Similarity, 0.9)
}

func TestMatch_UnrelatedVideo(t *testing.T) {
	idx := &memoryIndex{}
	idx.add("ORIG", videoFingerprints(t, []int64{1, 2, 3, 4, 5}, 0))

	cands, err := NewMatcher(idx).Match(context.Background(), videoFingerprints(t, []int64{2001, 2002, 2003}, 0))
	require.NoError(t, err)
	assert.False(t, IsDuplicate(cands))
}

func TestMatch_RequiresMinimumMatchingFrames(t *testing.T) {
	idx := &memoryIndex{}
	idx.add("SHORT", videoFingerprints(t, []int64{1, 2}, 0))

	cands, err := NewMatcher(idx).Match(context.Background(), videoFingerprints(t, []int64{1, 2, 3, 4}, 0))
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestMatch_AggregatesAndOrders(t *testing.T) {
	h := func(v uint64) Hash { return Hash(v) }
	idx := &memoryIndex{frames: []storedFrame{
		{"A", h(0b0000)}, {"A", h(0b0001)}, {"A", h(0b0011)},
		{"B", h(0b0000)}, {"B", h(0b0001)}, {"B", h(0b0011)}, {"B", h(0b0111)},
	}}
	query := []Fingerprint{
		{TimestampSeconds: 0, Hash: h(0)},
		{TimestampSeconds: 2, Hash: h(0b1_0000_0000)},
	}

	m := NewMatcher(idx)
	m.MaxDistance = 3
	cands, err := m.Match(context.Background(), query)
	require.NoError(t, err)
	require.Len(t, cands, 2)

	assert.Equal(t, "B", cands[0].Shortcode)
	assert.Equal(t, 7, cands[0].MatchingFrames)
	assert.Equal(t, 0, cands[0].BestDistance)
	assert.Equal(t, 2, cands[0].TotalFramesChecked)

	assert.Equal(t, "A", cands[1].Shortcode)
	assert.Equal(t, 6, cands[1].MatchingFrames)

	// A: distances {0,1,2} then {1,2,3}.
	assert.Equal(t, 1.5, cands[1].AvgDistance)
	assert.Equal(t, 0.977, cands[1].Similarity)
}

func TestMatch_SkipsFailedQueries(t *testing.T) {
	fps := videoFingerprints(t, []int64{1, 2, 3, 4, 5}, 0)
	idx := &memoryIndex{failOn: map[Hash]bool{fps[0].Hash: true}}
	idx.add("ORIG", fps)

	cands, err := NewMatcher(idx).Match(context.Background(), fps)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, 4, cands[0].MatchingFrames)
	assert.Equal(t, 5, idx.calls)
}

func TestMatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMatcher(&memoryIndex{}).Match(ctx, videoFingerprints(t, []int64{1}, 0))
	require.ErrorIs(t, err, context.Canceled)
}
