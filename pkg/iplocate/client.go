// Package iplocate resolves network addresses to geographic regions using an
// ip-api style batch endpoint.
package iplocate

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "http://ip-api.com/batch"

	// responseFields selects the response attributes the pipeline consumes.
	responseFields = "status,message,query,country,regionName,city,lat,lon"

	// batchLimit is the provider's maximum addresses per batch request.
	batchLimit = 100
)

// Client resolves network addresses to regions.
type Client interface {
	// Locate resolves a single address.
	Locate(ctx context.Context, ip string) (*Result, error)

	// BatchLocate resolves multiple addresses, preserving input order.
	// Entries the provider could not decode are omitted.
	BatchLocate(ctx context.Context, ips []string) ([]Result, error)

	// Validate performs a minimal lookup to confirm the endpoint accepts
	// the configured credentials.
	Validate(ctx context.Context) error
}

// Result holds the lookup output for one address.
type Result struct {
	Query   string  `json:"query"`
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Country string  `json:"country"`
	Region  string  `json:"regionName"`
	City    string  `json:"city"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Ok reports whether the provider resolved the address.
func (r Result) Ok() bool {
	return r.Status == "success"
}

// Option configures the locator.
type Option func(*locator)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(l *locator) {
		l.httpClient = hc
	}
}

// WithBaseURL overrides the batch endpoint URL.
func WithBaseURL(u string) Option {
	return func(l *locator) {
		if u != "" {
			l.baseURL = u
		}
	}
}

// WithRateLimit sets the requests-per-minute rate limit.
func WithRateLimit(perMin int) Option {
	return func(l *locator) {
		if perMin > 0 {
			l.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), 1)
		}
	}
}

// WithBatchSize sets the addresses per batch request, capped at the
// provider's limit.
func WithBatchSize(n int) Option {
	return func(l *locator) {
		if n > 0 && n <= batchLimit {
			l.batchSize = n
		}
	}
}

type locator struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	apiKey     string
	batchSize  int
}

// NewClient creates a locator Client. An empty key uses the provider's
// unauthenticated tier.
func NewClient(apiKey string, opts ...Option) Client {
	l := &locator{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/45), 1), // provider default: 45 req/min
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		batchSize:  batchLimit,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Locate resolves a single address.
func (l *locator) Locate(ctx context.Context, ip string) (*Result, error) {
	results, err := l.BatchLocate(ctx, []string{ip})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &Result{Query: ip, Status: "fail", Message: "no result"}, nil
	}
	return &results[0], nil
}

// BatchLocate resolves addresses in chunks of the configured batch size.
func (l *locator) BatchLocate(ctx context.Context, ips []string) ([]Result, error) {
	if len(ips) == 0 {
		return nil, nil
	}

	results := make([]Result, 0, len(ips))
	for start := 0; start < len(ips); start += l.batchSize {
		end := start + l.batchSize
		if end > len(ips) {
			end = len(ips)
		}
		chunk, err := l.batch(ctx, ips[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, chunk...)
	}
	return results, nil
}

// Validate issues a single lookup against a stable public address and maps
// credential rejections to an error.
func (l *locator) Validate(ctx context.Context) error {
	results, err := l.batch(ctx, []string{"9.9.9.9"})
	if err != nil {
		return eris.Wrap(err, "iplocate: validate")
	}
	for _, r := range results {
		if r.Status == "fail" && r.Message != "" {
			return eris.Errorf("iplocate: endpoint rejected probe: %s", r.Message)
		}
	}
	return nil
}

func (l *locator) batch(ctx context.Context, ips []string) ([]Result, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "iplocate: rate limit")
	}

	body, err := json.Marshal(ips)
	if err != nil {
		return nil, eris.Wrap(err, "iplocate: encode batch")
	}

	reqURL, err := l.requestURL()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "iplocate: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "iplocate: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, eris.Errorf("iplocate: credential rejected (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("iplocate: endpoint returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "iplocate: read body")
	}

	var results []Result
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, eris.Wrap(err, "iplocate: parse response")
	}

	zap.L().Debug("iplocate: batch resolved",
		zap.Int("requested", len(ips)),
		zap.Int("returned", len(results)))
	return results, nil
}

// requestURL builds the batch endpoint URL with the fields selector and,
// when configured, the API key.
func (l *locator) requestURL() (string, error) {
	u, err := url.Parse(l.baseURL)
	if err != nil {
		return "", eris.Wrapf(err, "iplocate: parse base url %s", l.baseURL)
	}
	q := u.Query()
	q.Set("fields", responseFields)
	if l.apiKey != "" {
		q.Set("key", l.apiKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
