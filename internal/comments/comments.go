// Package comments turns stored reel comments into the threaded text block
// handed to the sentiment classifier.
package comments

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// DefaultMaxDepth is the deepest reply level rendered by FormatForLLM.
const DefaultMaxDepth = 2

// NoComments is rendered for an empty tree.
const NoComments = "[No comments available]"

// Row is one stored comment. Replies point at their parent through ParentID.
type Row struct {
	ID            string
	ParentID      *string
	Text          string
	OwnerUsername string
	LikeCount     int64
	PostedAt      *time.Time
}

// Node is a comment with its replies attached.
type Node struct {
	Row
	Replies []*Node
}

// BuildTree links a flat comment list into threads. Root order follows the
// input; replies whose parent is not in the list are dropped.
func BuildTree(rows []Row) []*Node {
	nodes := make(map[string]*Node, len(rows))
	for _, r := range rows {
		nodes[r.ID] = &Node{Row: r}
	}

	var roots []*Node
	for _, r := range rows {
		n := nodes[r.ID]
		if r.ParentID == nil || *r.ParentID == "" {
			roots = append(roots, n)
			continue
		}
		if parent, ok := nodes[*r.ParentID]; ok && parent != n {
			parent.Replies = append(parent.Replies, n)
		}
	}
	return roots
}

// Count returns the number of nodes in the tree, replies included.
func Count(roots []*Node) int {
	total := 0
	stack := append([]*Node(nil), roots...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		total++
		stack = append(stack, n.Replies...)
	}
	return total
}

// FormatForLLM renders threads as bullet text with one metadata line per
// comment. Replies deeper than maxDepth are omitted.
func FormatForLLM(roots []*Node, maxDepth int) string {
	if len(roots) == 0 {
		return NoComments
	}
	if maxDepth < 0 {
		maxDepth = DefaultMaxDepth
	}

	blocks := make([]string, 0, len(roots))
	for _, root := range roots {
		var b strings.Builder
		writeThread(&b, root, maxDepth)
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

type frame struct {
	node  *Node
	depth int
}

func writeThread(b *strings.Builder, root *Node, maxDepth int) {
	stack := []frame{{node: root}}
	first := true
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !first {
			b.WriteByte('\n')
		}
		first = false
		writeComment(b, f.node, f.depth)

		if f.depth >= maxDepth {
			continue
		}
		// Push in reverse so replies come out in stored order.
		for i := len(f.node.Replies) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: f.node.Replies[i], depth: f.depth + 1})
		}
	}
}

func writeComment(b *strings.Builder, n *Node, depth int) {
	indent := strings.Repeat("  ", depth)
	marker := "•"
	if depth > 0 {
		marker = "└─"
	}

	text := strings.TrimSpace(norm.NFC.String(n.Text))
	if text == "" {
		text = "[empty comment]"
	}

	user := n.OwnerUsername
	if user == "" {
		user = "unknown"
	}
	when := "unknown"
	if n.PostedAt != nil && !n.PostedAt.IsZero() {
		when = n.PostedAt.UTC().Format("2006-01-02 15:04")
	}

	fmt.Fprintf(b, "%s%s %s\n", indent, marker, text)
	fmt.Fprintf(b, "%s  [@%s, %d likes, %s]", indent, user, n.LikeCount, when)
}
