// Package ingest parses survey response exports into records.
package ingest

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tamarack-research/surveyqc/internal/fetcher"
	"github.com/tamarack-research/surveyqc/internal/model"
)

// Named export columns. Every other header column is treated as a survey
// item response.
const (
	colResponseID  = "response_id"
	colTicket      = "ticket"
	colStartedAt   = "started_at"
	colFinishedAt  = "finished_at"
	colScreenedOut = "screened_out_at"
	colConsent     = "consent"
	colWithdrawn   = "withdrawn"
	colScrAge      = "scr_age"
	colAge         = "age"
	colGender      = "gender"
	colProvince    = "province"
)

// requiredColumns must all be present in the export header.
var requiredColumns = []string{
	colResponseID, colTicket, colStartedAt, colFinishedAt, colScreenedOut,
	colConsent, colWithdrawn, colScrAge, colAge, colGender, colProvince,
}

// timeLayouts are the accepted timestamp formats, tried in order.
var timeLayouts = []string{"2006-01-02 15:04:05", time.RFC3339}

// Result holds one parsed export batch. Rows retains the raw cells in input
// order for the raw snapshot.
type Result struct {
	Header  []string
	Rows    [][]string
	Records []*model.Record
}

// ItemColumns returns the instrument item columns, every header column that
// is not a named column, in header order.
func (r *Result) ItemColumns() []string {
	named := make(map[string]bool, len(requiredColumns))
	for _, name := range requiredColumns {
		named[name] = true
	}
	var items []string
	for _, name := range r.Header {
		if col := strings.TrimSpace(name); !named[col] {
			items = append(items, col)
		}
	}
	return items
}

// ParseFile parses a local export file.
func ParseFile(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	res, err := Parse(ctx, f)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: parse %s", path)
	}
	return res, nil
}

// Parse reads a CSV export and builds one record per row. The header must
// carry every named column; response identifiers must be unique. Rows
// without an identifier are skipped with a warning.
func Parse(ctx context.Context, r io.Reader) (*Result, error) {
	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{
		HasHeader:  true,
		HeaderCh:   headerCh,
		LazyQuotes: true,
		TrimSpace:  true,
	})

	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "ingest: read export")
	}

	var header []string
	select {
	case header = <-headerCh:
	default:
		return nil, eris.New("ingest: export is empty")
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}

	var missing []string
	for _, name := range requiredColumns {
		if _, ok := idx[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("ingest: required columns missing from header: %s",
			strings.Join(missing, ", "))
	}

	named := make(map[string]bool, len(requiredColumns))
	for _, name := range requiredColumns {
		named[name] = true
	}

	res := &Result{Header: header, Rows: rows}
	seen := make(map[string]bool, len(rows))

	for n, row := range rows {
		id := cellAt(row, idx[colResponseID])
		if id == "" {
			zap.L().Warn("ingest: skipping row without response id", zap.Int("row", n+2))
			continue
		}
		if seen[id] {
			return nil, eris.Errorf("ingest: duplicate response id %q", id)
		}
		seen[id] = true

		rec := &model.Record{
			ResponseID:    id,
			Ticket:        strPtr(cellAt(row, idx[colTicket])),
			StartedAt:     parseTime(cellAt(row, idx[colStartedAt])),
			FinishedAt:    parseTime(cellAt(row, idx[colFinishedAt])),
			ScreenedOutAt: parseTime(cellAt(row, idx[colScreenedOut])),
			Consent:       parseInt(cellAt(row, idx[colConsent])),
			Withdrawn:     parseInt(cellAt(row, idx[colWithdrawn])),
			ScrAge:        parseInt(cellAt(row, idx[colScrAge])),
			Age:           parseInt(cellAt(row, idx[colAge])),
			Gender:        parseInt(cellAt(row, idx[colGender])),
			Province:      parseInt(cellAt(row, idx[colProvince])),
			Items:         make(map[string]*int),
		}

		for _, name := range header {
			col := strings.TrimSpace(name)
			if named[col] {
				continue
			}
			rec.Items[col] = parseInt(cellAt(row, idx[col]))
		}

		res.Records = append(res.Records, rec)
	}

	zap.L().Info("ingest: export parsed",
		zap.Int("rows", len(rows)),
		zap.Int("records", len(res.Records)))
	return res, nil
}

// cellAt returns the trimmed cell, tolerating short rows.
func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// strPtr returns nil for empty strings: an empty ticket means missing.
func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// parseInt returns nil for empty or malformed numerics, never a sentinel.
func parseInt(s string) *int {
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

// parseTime tries each accepted layout, returning nil when none match.
func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
