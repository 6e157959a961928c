// Package surveyapi downloads response exports from the survey platform.
package surveyapi

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Client retrieves the study's response export.
type Client interface {
	// Export streams the response export as CSV.
	Export(ctx context.Context) (io.ReadCloser, error)

	// ExportToFile downloads the export to path, returning bytes written.
	// The file is written atomically so a failed download never clobbers
	// an existing local cache.
	ExportToFile(ctx context.Context, path string) (int64, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithMaxRetries sets the attempt budget for transient failures.
func WithMaxRetries(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

type httpClient struct {
	exportURL  string
	token      string
	maxRetries int
	http       *http.Client
}

// NewClient creates an export client. An empty token sends no
// Authorization header.
func NewClient(exportURL, token string, opts ...Option) Client {
	c := &httpClient{
		exportURL:  exportURL,
		token:      token,
		maxRetries: 3,
		http:       &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Export fetches the CSV export, retrying transient failures with
// exponential backoff. Credential rejections are not retried.
func (c *httpClient) Export(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.exportURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "surveyapi: create request")
	}
	req.Header.Set("Accept", "text/csv")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	var lastErr error
	for attempt := range c.maxRetries {
		resp, err := c.http.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			zap.L().Warn("surveyapi: request failed, retrying",
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			c.backoff(ctx, attempt)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return resp.Body, nil

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			_ = resp.Body.Close()
			return nil, eris.Errorf("surveyapi: credential rejected (status %d)", resp.StatusCode)

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			_ = resp.Body.Close()
			lastErr = eris.Errorf("surveyapi: status %d", resp.StatusCode)
			zap.L().Warn("surveyapi: transient status, retrying",
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1))
			c.backoff(ctx, attempt)
			continue

		default:
			_ = resp.Body.Close()
			return nil, eris.Errorf("surveyapi: unexpected status %d", resp.StatusCode)
		}
	}

	return nil, eris.Wrap(lastErr, "surveyapi: all retries exhausted")
}

// ExportToFile downloads the export into path via a temp file and rename.
func (c *httpClient) ExportToFile(ctx context.Context, path string) (int64, error) {
	body, err := c.Export(ctx)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	file, err := os.Create(tmp)
	if err != nil {
		return 0, eris.Wrapf(err, "surveyapi: create %s", tmp)
	}

	n, err := io.Copy(file, body)
	if err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return n, eris.Wrap(err, "surveyapi: write export")
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return n, eris.Wrap(err, "surveyapi: close export file")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return n, eris.Wrapf(err, "surveyapi: rename into %s", path)
	}

	zap.L().Debug("surveyapi: export downloaded",
		zap.String("path", path),
		zap.Int64("bytes", n))
	return n, nil
}

func (c *httpClient) backoff(ctx context.Context, attempt int) {
	base := time.Second
	maxBackoff := 30 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	d += time.Duration(rand.Int64N(int64(d) / 2))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
