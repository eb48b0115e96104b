package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"thirdcoast.systems/reelwatch/internal/pipeline"
	"thirdcoast.systems/reelwatch/internal/shortcode"
)

const (
	defaultBaseURL = "https://api.apify.com"
	actorID        = "apify~instagram-scraper"
	maxErrorBody   = 16 * 1024
)

// StatusError is a non-2xx response from the Apify API.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("apify: %s: unexpected status %d: %s", e.Op, e.Code, e.Body)
}

func (e *StatusError) StatusCode() int { return e.Code }

type Options struct {
	BaseURL      string
	Token        string
	PollInterval time.Duration
	RunTimeout   time.Duration
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Client runs the Instagram scraper actor on Apify and maps its output.
type Client struct {
	baseURL      string
	token        string
	pollInterval time.Duration
	runTimeout   time.Duration
	http         *http.Client
	logger       *slog.Logger
	captions     *bluemonday.Policy
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 120 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Client{
		baseURL:      baseURL,
		token:        opts.Token,
		pollInterval: opts.PollInterval,
		runTimeout:   opts.RunTimeout,
		http:         opts.HTTPClient,
		logger:       opts.Logger,
		captions:     bluemonday.StrictPolicy(),
	}
}

type actorRun struct {
	Data struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

// Scrape fetches the reel behind a shortcode or permalink together with its
// comments. It returns pipeline.ErrNoResult when the actor finds nothing.
func (c *Client) Scrape(ctx context.Context, identifier string) (*pipeline.ScrapeResult, error) {
	sc := shortcode.Extract(identifier)
	if sc == "" {
		return nil, fmt.Errorf("shortcode is required")
	}
	target := sc
	if !strings.HasPrefix(target, "http") {
		target = shortcode.PermalinkURL(sc)
	}

	runID, err := c.startRun(ctx, target)
	if err != nil {
		return nil, err
	}
	c.logger.Info("apify run started", "run_id", runID, "url", target)

	status, err := c.waitForRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if status != "SUCCEEDED" {
		return nil, fmt.Errorf("apify run %s ended with status %s", runID, status)
	}

	var items []rawReel
	if err := c.getJSON(ctx, "fetch results", "/v2/actor-runs/"+url.PathEscape(runID)+"/dataset/items", &items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, pipeline.ErrNoResult
	}

	res := c.mapReel(items[0])
	if res.Reel.Shortcode == "" && target != sc {
		res.Reel.Shortcode = sc
	}
	c.logger.Info("apify scrape done",
		"shortcode", res.Reel.Shortcode,
		"owner", res.Reel.OwnerUsername,
		"comments", len(res.Comments),
		"has_video_url", res.Reel.VideoURL != "",
	)
	return res, nil
}

func (c *Client) startRun(ctx context.Context, target string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"directUrls":      []string{target},
		"resultsType":     "posts",
		"resultsLimit":    1,
		"includeComments": true,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/v2/acts/"+actorID+"/runs"), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var run actorRun
	if err := c.do(req, "start run", &run); err != nil {
		return "", err
	}
	if run.Data.ID == "" {
		return "", fmt.Errorf("apify: start run: response has no run id")
	}
	return run.Data.ID, nil
}

// waitForRun polls the run until it reaches a terminal status or the run
// timeout elapses.
func (c *Client) waitForRun(ctx context.Context, runID string) (string, error) {
	deadline := time.Now().Add(c.runTimeout)
	for {
		var run actorRun
		if err := c.getJSON(ctx, "poll run", "/v2/actor-runs/"+url.PathEscape(runID), &run); err != nil {
			return "", err
		}
		switch run.Data.Status {
		case "SUCCEEDED", "FAILED", "ABORTED", "TIMED-OUT":
			return run.Data.Status, nil
		}
		c.logger.Debug("apify run pending", "run_id", runID, "status", run.Data.Status)

		if time.Now().Add(c.pollInterval).After(deadline) {
			return "", fmt.Errorf("apify run %s did not finish within %s: %w", runID, c.runTimeout, context.DeadlineExceeded)
		}
		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) endpoint(path string) string {
	u := c.baseURL + path
	if c.token != "" {
		u += "?token=" + url.QueryEscape(c.token)
	}
	return u
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return err
	}
	return c.do(req, op, out)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("apify: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("apify: %s: decode response: %w", op, err)
	}
	return nil
}

// cleanCaption strips markup from a caption and restores the entities the
// sanitiser escaped.
func (c *Client) cleanCaption(s string) string {
	return strings.TrimSpace(html.UnescapeString(c.captions.Sanitize(s)))
}
