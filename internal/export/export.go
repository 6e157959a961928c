// Package export writes the run's snapshot directory: the raw input as
// ingested, the full processed table including excluded rows, and the
// filtered final table.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tamarack-research/surveyqc/internal/ingest"
	"github.com/tamarack-research/surveyqc/internal/instrument"
	"github.com/tamarack-research/surveyqc/internal/model"
)

const (
	rawFile       = "raw.csv"
	processedFile = "processed.csv"
	finalFile     = "final.csv"

	timestampLayout = "2006-01-02 15:04:05"
)

// WriteSnapshot creates <outDir>/<stamp>_<run>/ and writes the three CSVs
// into it. Returns the created directory.
func WriteSnapshot(outDir, runID string, at time.Time, res *ingest.Result, reg *instrument.Registry) (string, error) {
	dir := filepath.Join(outDir, fmt.Sprintf("%s_%s", at.Format("20060102_150405"), shortID(runID)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "export: creating snapshot directory %s", dir)
	}

	if err := writeCSV(filepath.Join(dir, rawFile), res.Header, res.Rows); err != nil {
		return "", err
	}

	header, rows := processedTable(res, reg)
	if err := writeCSV(filepath.Join(dir, processedFile), header, rows); err != nil {
		return "", err
	}

	var final [][]string
	for i, r := range res.Records {
		if !r.Excluded {
			final = append(final, rows[i])
		}
	}
	if err := writeCSV(filepath.Join(dir, finalFile), header, final); err != nil {
		return "", err
	}

	zap.L().Info("snapshot written",
		zap.String("dir", dir),
		zap.Int("records", len(res.Records)),
		zap.Int("final", len(final)))
	return dir, nil
}

// processedTable renders every record into the full output layout: named
// columns, province label, item responses, enrichment, flags, scores, and
// the exclusion decision columns.
func processedTable(res *ingest.Result, reg *instrument.Registry) ([]string, [][]string) {
	items := res.ItemColumns()

	header := []string{
		"response_id", "ticket", "started_at", "finished_at", "screened_out_at",
		"consent", "withdrawn", "scr_age", "age", "gender", "province", "province_label",
	}
	header = append(header, items...)
	header = append(header,
		"ip", "region",
		"engagement_first_visit", "engagement_page_view", "engagement_screen_view",
		"engagement_session_start", "engagement_user_engagement", "engagement_secs",
		"flag_speeder", "flag_trust_check", "flag_media_check",
		"flag_province_mismatch", "flag_age_mismatch",
	)
	for _, name := range reg.Names() {
		header = append(header, "longstring_"+name)
	}
	header = append(header, "longstring_total", "flag_longstring", "flag_manual")
	for _, score := range reg.AllScores() {
		header = append(header, score.Name)
	}
	header = append(header, "excluded", "quota_excluded", "reason")

	rows := make([][]string, 0, len(res.Records))
	for _, r := range res.Records {
		rows = append(rows, renderRecord(r, items, reg))
	}
	return header, rows
}

func renderRecord(r *model.Record, items []string, reg *instrument.Registry) []string {
	row := []string{
		r.ResponseID,
		strOrEmpty(r.Ticket),
		timeOrEmpty(r.StartedAt),
		timeOrEmpty(r.FinishedAt),
		timeOrEmpty(r.ScreenedOutAt),
		intOrEmpty(r.Consent),
		intOrEmpty(r.Withdrawn),
		intOrEmpty(r.ScrAge),
		intOrEmpty(r.Age),
		intOrEmpty(r.Gender),
		intOrEmpty(r.Province),
		provinceLabel(r.Province),
	}
	for _, col := range items {
		row = append(row, intOrEmpty(r.Item(col)))
	}

	row = append(row, strOrEmpty(r.IP), strOrEmpty(r.Region))
	if eng := r.Engagement; eng != nil {
		row = append(row,
			strconv.Itoa(eng.FirstVisit),
			strconv.Itoa(eng.PageView),
			strconv.Itoa(eng.ScreenView),
			strconv.Itoa(eng.SessionStart),
			strconv.Itoa(eng.UserEngagement),
			strconv.FormatFloat(eng.EngagementSecs, 'f', -1, 64),
		)
	} else {
		row = append(row, "", "", "", "", "", "")
	}

	row = append(row,
		strconv.Itoa(r.Flags.Speeder),
		strconv.Itoa(r.Flags.TrustCheck),
		strconv.Itoa(r.Flags.MediaCheck),
		strconv.Itoa(r.Flags.ProvinceMismatch),
		strconv.Itoa(r.Flags.AgeMismatch),
	)
	for _, name := range reg.Names() {
		row = append(row, strconv.Itoa(r.Flags.LongString[name]))
	}
	row = append(row,
		strconv.Itoa(r.Flags.LongStringTotal),
		strconv.Itoa(r.Flags.LongStringFlag),
		strconv.Itoa(r.Flags.Manual),
	)
	for _, score := range reg.AllScores() {
		row = append(row, intOrEmpty(r.Scores[score.Name]))
	}
	row = append(row, boolCell(r.Excluded), boolCell(r.QuotaExcluded), string(r.Reason))
	return row
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: creating %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return eris.Wrapf(err, "export: writing header of %s", path)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return eris.Wrapf(err, "export: writing row of %s", path)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrapf(err, "export: flushing %s", path)
	}
	return f.Close()
}

func shortID(runID string) string {
	if len(runID) > 8 {
		return runID[:8]
	}
	return runID
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intOrEmpty(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func timeOrEmpty(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(timestampLayout)
}

func provinceLabel(code *int) string {
	if code == nil {
		return ""
	}
	return model.ProvinceName(*code)
}

func boolCell(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
