package common

import "thirdcoast.systems/reelwatch/internal/shortcode"

// MaxBatch bounds the identifiers accepted in one request.
const MaxBatch = 50

// NormalizeIdentifiers trims identifiers, expands comma separated entries
// and drops blanks and repeats of the same shortcode, keeping first-seen order.
func NormalizeIdentifiers(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	var out []string
	for _, r := range raw {
		for _, id := range shortcode.SplitList(r) {
			key := shortcode.Extract(id)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
