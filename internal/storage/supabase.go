package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const maxErrorBody = 16 * 1024

// StatusError is a non-2xx response from the storage API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("storage: unexpected status %d: %s", e.Code, e.Body)
}

func (e *StatusError) StatusCode() int { return e.Code }

// Supabase uploads into a Supabase Storage bucket.
type Supabase struct {
	baseURL    string
	serviceKey string
	bucket     string
	http       *http.Client
	logger     *slog.Logger
}

func NewSupabase(baseURL, serviceKey, bucket string, logger *slog.Logger) *Supabase {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supabase{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		serviceKey: serviceKey,
		bucket:     bucket,
		http:       &http.Client{Timeout: 5 * time.Minute},
		logger:     logger,
	}
}

// Upload streams localPath to {bucket}/{key}, overwriting any existing object,
// and returns the bucket-qualified path.
func (s *Supabase) Upload(ctx context.Context, localPath, key string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("storage: open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("storage: stat %s: %w", localPath, err)
	}

	endpoint := s.baseURL + "/storage/v1/object/" + url.PathEscape(s.bucket) + "/" + escapeKey(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, f)
	if err != nil {
		return "", err
	}
	req.ContentLength = info.Size()
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Content-Type", contentTypeFor(key))
	req.Header.Set("x-upsert", "true")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage: upload %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	s.logger.Info("uploaded object", "bucket", s.bucket, "key", key, "bytes", info.Size())
	return s.bucket + "/" + key, nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
