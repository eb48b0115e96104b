package main

import (
	"errors"
	"io"
	"strings"

	"github.com/spf13/pflag"

	"thirdcoast.systems/reelwatch/internal/pipeline"
	"thirdcoast.systems/reelwatch/internal/shortcode"
)

var errQuit = errors.New("quit")

type request struct {
	identifiers []string
	opts        pipeline.Options
}

func newFlagSet(name string, opts *pipeline.Options) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.BoolVar(&opts.Force, "force", false, "reprocess content that is already stored")
	fs.BoolVar(&opts.SkipSentimentGate, "skip-sentiment", false, "skip the comment sentiment gate")
	return fs
}

// parseArgs reads flags and comma or space separated identifiers.
func parseArgs(name string, args []string, errOut io.Writer) (request, error) {
	var req request
	fs := newFlagSet(name, &req.opts)
	fs.SetOutput(errOut)
	if err := fs.Parse(args); err != nil {
		return request{}, err
	}
	req.identifiers = dedupe(shortcode.SplitList(strings.Join(fs.Args(), ",")))
	return req, nil
}

// parseLine handles one prompt line. It returns errQuit for the exit words.
func parseLine(line string, errOut io.Writer) (request, error) {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "quit", "exit", "q":
		return request{}, errQuit
	}
	return parseArgs("prompt", strings.Fields(line), errOut)
}

// dedupe keeps the first identifier for each shortcode, case-sensitively.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		key := shortcode.Extract(id)
		if key == "" {
			key = id
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, id)
	}
	return out
}
