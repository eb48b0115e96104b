package comments

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

func TestBuildTree(t *testing.T) {
	rows := []Row{
		{ID: "r1", Text: "first"},
		{ID: "c1", ParentID: ptr("r1"), Text: "reply one"},
		{ID: "r2", Text: "second"},
		{ID: "c2", ParentID: ptr("r1"), Text: "reply two"},
		{ID: "orphan", ParentID: ptr("gone"), Text: "lost"},
		{ID: "r3", ParentID: ptr(""), Text: "third"},
	}

	roots := BuildTree(rows)
	require.Len(t, roots, 3)
	assert.Equal(t, "r1", roots[0].ID)
	assert.Equal(t, "r2", roots[1].ID)
	assert.Equal(t, "r3", roots[2].ID)

	require.Len(t, roots[0].Replies, 2)
	assert.Equal(t, "c1", roots[0].Replies[0].ID)
	assert.Equal(t, "c2", roots[0].Replies[1].ID)
	assert.Equal(t, 5, Count(roots))
}

func TestBuildTree_ReplyListedBeforeParent(t *testing.T) {
	roots := BuildTree([]Row{
		{ID: "c1", ParentID: ptr("r1"), Text: "early reply"},
		{ID: "r1", Text: "root"},
	})
	require.Len(t, roots, 1)
	require.Len(t, roots[0].Replies, 1)
	assert.Equal(t, "c1", roots[0].Replies[0].ID)
}

func TestFormatForLLM_Empty(t *testing.T) {
	assert.Equal(t, NoComments, FormatForLLM(nil, DefaultMaxDepth))
}

func TestFormatForLLM(t *testing.T) {
	posted := time.Date(2025, 3, 4, 18, 7, 59, 0, time.UTC)
	rows := []Row{
		{ID: "r1", Text: "  someone got robbed here  ", OwnerUsername: "alice", LikeCount: 12, PostedAt: &posted},
		{ID: "c1", ParentID: ptr("r1"), Text: "", OwnerUsername: "bob"},
		{ID: "r2", Text: "lol", LikeCount: 0},
	}

	got := FormatForLLM(BuildTree(rows), DefaultMaxDepth)
	want := strings.Join([]string{
		"• someone got robbed here",
		"  [@alice, 12 likes, 2025-03-04 18:07]",
		"  └─ [empty comment]",
		"    [@bob, 0 likes, unknown]",
		"",
		"• lol",
		"  [@unknown, 0 likes, unknown]",
	}, "\n")
	assert.Equal(t, want, got)
}

func TestFormatForLLM_DepthLimit(t *testing.T) {
	rows := []Row{
		{ID: "a", Text: "a"},
		{ID: "b", ParentID: ptr("a"), Text: "b"},
		{ID: "c", ParentID: ptr("b"), Text: "c"},
		{ID: "d", ParentID: ptr("c"), Text: "d"},
	}
	tree := BuildTree(rows)

	full := FormatForLLM(tree, 3)
	assert.Contains(t, full, "      └─ d")

	limited := FormatForLLM(tree, DefaultMaxDepth)
	assert.Contains(t, limited, "    └─ c")
	assert.NotContains(t, limited, "└─ d")

	rootsOnly := FormatForLLM(tree, 0)
	assert.NotContains(t, rootsOnly, "└─")
}

func TestFormatForLLM_NormalizesText(t *testing.T) {
	// "e" followed by a combining acute accent composes to "é".
	got := FormatForLLM(BuildTree([]Row{{ID: "1", Text: "cafe\u0301"}}), DefaultMaxDepth)
	assert.True(t, strings.HasPrefix(got, "• caf\u00e9\n"))
}
