// Package analytics retrieves per-participant web analytics event counts
// from a GA4-style reporting endpoint.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/tamarack-research/surveyqc/internal/resilience"
)

const defaultBaseURL = "https://analyticsdata.googleapis.com/v1beta"

// ticketDimension is the custom event parameter carrying the participant's
// tracking code.
const ticketDimension = "customEvent:ticket"

// Client runs analytics reports for individual tracking codes.
type Client interface {
	// EventCounts reports event counts and total engagement duration for
	// one tracking code over the configured date range.
	EventCounts(ctx context.Context, ticket string) (*Report, error)

	// Validate runs a minimal report to confirm the endpoint accepts the
	// configured credentials.
	Validate(ctx context.Context) error
}

// Report holds per-event-name counts plus summed engagement duration.
type Report struct {
	Ticket         string
	Events         map[string]int
	EngagementSecs float64
}

// Count returns the count for a named event, zero when absent.
func (r *Report) Count(event string) int {
	return r.Events[event]
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithDateRange bounds reports to [start, end], formatted YYYY-MM-DD.
func WithDateRange(start, end string) Option {
	return func(c *httpClient) {
		if start != "" {
			c.startDate = start
		}
		if end != "" {
			c.endDate = end
		}
	}
}

// WithRateLimit overrides the default request rate (10 req/s).
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

type httpClient struct {
	propertyID string
	token      string
	baseURL    string
	startDate  string
	endDate    string
	limiter    *rate.Limiter
	http       *http.Client
}

// NewClient creates an analytics reporting client for one property.
func NewClient(propertyID, token string, opts ...Option) Client {
	c := &httpClient{
		propertyID: propertyID,
		token:      token,
		baseURL:    defaultBaseURL,
		startDate:  "2020-01-01",
		endDate:    "today",
		limiter:    rate.NewLimiter(10, 1),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type runReportRequest struct {
	DateRanges      []dateRange       `json:"dateRanges"`
	Dimensions      []dimension       `json:"dimensions"`
	Metrics         []metric          `json:"metrics"`
	DimensionFilter *filterExpression `json:"dimensionFilter,omitempty"`
	Limit           string            `json:"limit,omitempty"`
}

type dateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type dimension struct {
	Name string `json:"name"`
}

type metric struct {
	Name string `json:"name"`
}

type filterExpression struct {
	Filter *dimensionFilter `json:"filter,omitempty"`
}

type dimensionFilter struct {
	FieldName    string        `json:"fieldName"`
	StringFilter *stringFilter `json:"stringFilter,omitempty"`
}

type stringFilter struct {
	Value string `json:"value"`
}

type runReportResponse struct {
	Rows []struct {
		DimensionValues []struct {
			Value string `json:"value"`
		} `json:"dimensionValues"`
		MetricValues []struct {
			Value string `json:"value"`
		} `json:"metricValues"`
	} `json:"rows"`
	RowCount int `json:"rowCount"`
}

// EventCounts reports per-event-name counts for one tracking code.
func (c *httpClient) EventCounts(ctx context.Context, ticket string) (*Report, error) {
	resp, err := c.runReport(ctx, runReportRequest{
		DateRanges: []dateRange{{StartDate: c.startDate, EndDate: c.endDate}},
		Dimensions: []dimension{{Name: "eventName"}},
		Metrics:    []metric{{Name: "eventCount"}, {Name: "userEngagementDuration"}},
		DimensionFilter: &filterExpression{
			Filter: &dimensionFilter{
				FieldName:    ticketDimension,
				StringFilter: &stringFilter{Value: ticket},
			},
		},
	})
	if err != nil {
		return nil, err
	}

	report := &Report{Ticket: ticket, Events: make(map[string]int, len(resp.Rows))}
	for _, row := range resp.Rows {
		if len(row.DimensionValues) == 0 || len(row.MetricValues) == 0 {
			continue
		}
		name := row.DimensionValues[0].Value
		count, convErr := strconv.Atoi(row.MetricValues[0].Value)
		if convErr != nil {
			continue
		}
		report.Events[name] = count

		if len(row.MetricValues) > 1 {
			if secs, convErr := strconv.ParseFloat(row.MetricValues[1].Value, 64); convErr == nil {
				report.EngagementSecs += secs
			}
		}
	}
	return report, nil
}

// Validate issues a one-row report with no filter.
func (c *httpClient) Validate(ctx context.Context) error {
	_, err := c.runReport(ctx, runReportRequest{
		DateRanges: []dateRange{{StartDate: c.startDate, EndDate: c.endDate}},
		Dimensions: []dimension{{Name: "eventName"}},
		Metrics:    []metric{{Name: "eventCount"}},
		Limit:      "1",
	})
	if err != nil {
		return eris.Wrap(err, "analytics: validate")
	}
	return nil
}

func (c *httpClient) runReport(ctx context.Context, reqBody runReportRequest) (*runReportResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "analytics: rate limit wait")
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, eris.Wrap(err, "analytics: marshal request")
	}

	url := c.baseURL + "/properties/" + c.propertyID + ":runReport"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "analytics: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "analytics: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "analytics: read response")
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, eris.Errorf("analytics: credential rejected (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		statusErr := eris.Errorf("analytics: unexpected status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	var result runReportResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "analytics: unmarshal response")
	}
	return &result, nil
}
