package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"

	"thirdcoast.systems/reelwatch/internal/pipeline"
)

// printSummary writes one row per identifier followed by a totals line.
func printSummary(w io.Writer, results []pipeline.BatchResult, elapsed time.Duration) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IDENTIFIER\tSTATUS\tDETAIL\tTOOK")

	counts := map[pipeline.Status]int{}
	for _, br := range results {
		if br.Err != nil {
			counts[pipeline.StatusError]++
			fmt.Fprintf(tw, "%s\t%s\t%s\t-\n", br.Identifier, pipeline.StatusError, br.Err)
			continue
		}
		res := br.Result
		counts[res.Status]++
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", br.Identifier, res.Status, detail(res), res.Duration.Round(10*time.Millisecond))
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\n%s in %s: %d new, %d repost, %d already processed, %d filtered, %d failed\n",
		english.Plural(len(results), "reel", ""),
		elapsed.Round(10*time.Millisecond),
		counts[pipeline.StatusSuccess],
		counts[pipeline.StatusRepost],
		counts[pipeline.StatusAlreadyProcessed],
		counts[pipeline.StatusFiltered],
		counts[pipeline.StatusError],
	)
}

func detail(res *pipeline.Result) string {
	switch res.Status {
	case pipeline.StatusSuccess:
		return fmt.Sprintf("%s comments, danger %d/10, %s, action %s",
			humanize.Comma(int64(res.CommentsSaved)), res.DangerScore,
			english.Plural(res.CrimesCount, "crime", ""), res.RecommendedAction)
	case pipeline.StatusRepost:
		return fmt.Sprintf("of %s (%s%% similar)", res.Original, humanize.FtoaWithDigits(res.Similarity*100, 1))
	case pipeline.StatusAlreadyProcessed:
		if res.ReelID != nil {
			return "reel #" + humanize.Comma(*res.ReelID)
		}
		return ""
	case pipeline.StatusFiltered:
		return res.SentimentLabel + ": " + res.SentimentExplanation
	default:
		return res.Reason
	}
}
