package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"thirdcoast.systems/reelwatch/internal/application"
	"thirdcoast.systems/reelwatch/internal/config"
	"thirdcoast.systems/reelwatch/internal/db"
	"thirdcoast.systems/reelwatch/internal/pipeline"
)

type batchRunner interface {
	ProcessBatch(ctx context.Context, identifiers []string, opts pipeline.Options) []pipeline.BatchResult
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req, err := parseArgs("ingest", os.Args[1:], os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		os.Exit(2)
	}

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	pool, err := application.OpenDBPoolWithRetry(ctx, *conf)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	dbc, err := db.NewDatabaseConnection(ctx, pool)
	if err != nil {
		slog.Error("failed to create database connection", "error", err)
		os.Exit(1)
	}
	defer dbc.Close()

	application.LogToolVersions(ctx, *conf, slog.Default())

	proc, err := application.NewProcessor(*conf, dbc, slog.Default())
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	if len(req.identifiers) > 0 {
		runBatch(ctx, proc, req, os.Stdout)
		return
	}

	if err := prompt(ctx, proc, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("prompt failed", "error", err)
		os.Exit(1)
	}
}

func runBatch(ctx context.Context, proc batchRunner, req request, out io.Writer) {
	start := time.Now()
	results := proc.ProcessBatch(ctx, req.identifiers, req.opts)
	printSummary(out, results, time.Since(start))
}

// prompt reads one batch per line until EOF, an exit word, or ctx is done.
func prompt(ctx context.Context, proc batchRunner, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "Enter shortcodes or permalinks separated by commas. Flags: --force --skip-sentiment. Type quit to exit.")

	scanner := bufio.NewScanner(in)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		req, err := parseLine(scanner.Text(), out)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			continue
		}
		if len(req.identifiers) == 0 {
			continue
		}
		runBatch(ctx, proc, req, out)
	}
}
