// Package sheets publishes tabular data to a Google Sheets style
// spreadsheet document.
package sheets

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
)

const defaultBaseURL = "https://sheets.googleapis.com/v4"

// Client replaces the contents of one sheet within a spreadsheet document.
type Client interface {
	// Publish clears the named sheet and writes values starting at A1.
	Publish(ctx context.Context, sheetName string, values [][]string) error
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

type httpClient struct {
	spreadsheetID string
	token         string
	baseURL       string
	http          *http.Client
}

// NewClient creates a publishing client for one spreadsheet document.
func NewClient(spreadsheetID, token string, opts ...Option) Client {
	c := &httpClient{
		spreadsheetID: spreadsheetID,
		token:         token,
		baseURL:       defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type valueRange struct {
	Range          string     `json:"range"`
	MajorDimension string     `json:"majorDimension"`
	Values         [][]string `json:"values"`
}

// Publish clears the sheet, then writes the full table in one update.
func (c *httpClient) Publish(ctx context.Context, sheetName string, values [][]string) error {
	rangeRef := sheetName + "!A1"

	if err := c.clear(ctx, sheetName); err != nil {
		return err
	}

	body, err := json.Marshal(valueRange{
		Range:          rangeRef,
		MajorDimension: "ROWS",
		Values:         values,
	})
	if err != nil {
		return eris.Wrap(err, "sheets: marshal values")
	}

	updateURL := c.valuesURL(rangeRef) + "?valueInputOption=RAW"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, updateURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "sheets: create update request")
	}
	c.setHeaders(req)

	if err := c.do(req, "update"); err != nil {
		return err
	}

	zap.L().Info("sheets: published",
		zap.String("spreadsheet_id", c.spreadsheetID),
		zap.String("sheet", sheetName),
		zap.Int("rows", len(values)))
	return nil
}

// clear empties the target sheet so stale rows from longer prior tables
// cannot survive the update.
func (c *httpClient) clear(ctx context.Context, sheetName string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.valuesURL(sheetName)+":clear", bytes.NewReader([]byte("{}")))
	if err != nil {
		return eris.Wrap(err, "sheets: create clear request")
	}
	c.setHeaders(req)
	return c.do(req, "clear")
}

func (c *httpClient) valuesURL(rangeRef string) string {
	return c.baseURL + "/spreadsheets/" + c.spreadsheetID + "/values/" + url.PathEscape(rangeRef)
}

func (c *httpClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
}

func (c *httpClient) do(req *http.Request, action string) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "sheets: %s request", action)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrapf(err, "sheets: read %s response", action)
	}

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("sheets: %s returned status %d: %s", action, resp.StatusCode, string(respBody))
	}
	return nil
}
