package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamarack-research/surveyqc/internal/ingest"
	"github.com/tamarack-research/surveyqc/internal/instrument"
	"github.com/tamarack-research/surveyqc/internal/model"
)

func intPtr(v int) *int              { return &v }
func strPtr(s string) *string        { return &s }
func timePtr(t time.Time) *time.Time { return &t }

var testHeader = []string{
	"response_id", "ticket", "started_at", "finished_at", "screened_out_at",
	"consent", "withdrawn", "scr_age", "age", "gender", "province",
	"grid_1", "grid_2", "grid_3",
}

func testRegistry(t *testing.T) *instrument.Registry {
	t.Helper()
	specs := []instrument.Spec{{
		Name:        "grid",
		ItemPattern: "grid_%d",
		ItemCount:   3,
		Subscales:   []instrument.Subscale{{Name: "total", Items: []int{1, 2, 3}}},
	}}
	reg, err := instrument.Resolve(specs, testHeader)
	require.NoError(t, err)
	return reg
}

func testResult() *ingest.Result {
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(20 * time.Minute)
	score1 := 6

	kept := &model.Record{
		ResponseID: "R_1",
		Ticket:     strPtr("TK-1"),
		StartedAt:  timePtr(started),
		FinishedAt: timePtr(finished),
		Consent:    intPtr(1),
		Withdrawn:  intPtr(0),
		ScrAge:     intPtr(34),
		Age:        intPtr(34),
		Gender:     intPtr(1),
		Province:   intPtr(7),
		Items: map[string]*int{
			"grid_1": intPtr(1), "grid_2": intPtr(2), "grid_3": intPtr(3),
		},
		IP:     strPtr("203.0.113.7"),
		Region: strPtr("Ontario"),
		Engagement: &model.Engagement{
			Ticket: "TK-1", FirstVisit: 2, PageView: 14, ScreenView: 3,
			SessionStart: 2, UserEngagement: 9, EngagementSecs: 363.5,
		},
		Flags:  model.FlagSet{LongString: map[string]int{"grid": 0}},
		Scores: map[string]*int{"grid_total": &score1},
		Reason: model.ReasonNotExcluded,
	}

	dropped := &model.Record{
		ResponseID: "R_2",
		Items:      map[string]*int{"grid_1": intPtr(2)},
		Flags: model.FlagSet{
			Speeder: 1, LongString: map[string]int{"grid": 1},
			LongStringTotal: 1,
		},
		Scores:        map[string]*int{"grid_total": nil},
		Excluded:      true,
		QuotaExcluded: true,
		Reason:        model.ReasonQualityChecks,
	}

	return &ingest.Result{
		Header: testHeader,
		Rows: [][]string{
			{"R_1", "TK-1", "2024-03-01 10:00:00", "2024-03-01 10:20:00", "", "1", "0", "34", "34", "1", "7", "1", "2", "3"},
			{"R_2", "", "", "", "", "", "", "", "", "", "", "2", "", ""},
		},
		Records: []*model.Record{kept, dropped},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteSnapshot(t *testing.T) {
	t.Parallel()

	outDir := t.TempDir()
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	dir, err := WriteSnapshot(outDir, "a1b2c3d4-e5f6-7890-abcd-ef0123456789", at, testResult(), testRegistry(t))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "20240301_100000_a1b2c3d4"), dir)

	raw := readCSV(t, filepath.Join(dir, "raw.csv"))
	require.Len(t, raw, 3)
	assert.Equal(t, testHeader, raw[0])
	assert.Equal(t, "R_2", raw[2][0], "raw keeps the input rows untouched")

	processed := readCSV(t, filepath.Join(dir, "processed.csv"))
	require.Len(t, processed, 3, "processed keeps excluded rows")

	head := processed[0]
	col := func(name string) int {
		for i, h := range head {
			if h == name {
				return i
			}
		}
		t.Fatalf("column %q not in processed header", name)
		return -1
	}

	r1 := processed[1]
	assert.Equal(t, "R_1", r1[col("response_id")])
	assert.Equal(t, "2024-03-01 10:00:00", r1[col("started_at")])
	assert.Equal(t, "Ontario", r1[col("province_label")])
	assert.Equal(t, "2", r1[col("grid_2")])
	assert.Equal(t, "203.0.113.7", r1[col("ip")])
	assert.Equal(t, "Ontario", r1[col("region")])
	assert.Equal(t, "14", r1[col("engagement_page_view")])
	assert.Equal(t, "363.5", r1[col("engagement_secs")])
	assert.Equal(t, "0", r1[col("flag_speeder")])
	assert.Equal(t, "0", r1[col("longstring_grid")])
	assert.Equal(t, "6", r1[col("grid_total")])
	assert.Equal(t, "0", r1[col("excluded")])
	assert.Equal(t, "not excluded", r1[col("reason")])

	r2 := processed[2]
	assert.Equal(t, "R_2", r2[col("response_id")])
	assert.Equal(t, "", r2[col("started_at")], "missing values render empty")
	assert.Equal(t, "", r2[col("province_label")])
	assert.Equal(t, "", r2[col("engagement_page_view")])
	assert.Equal(t, "1", r2[col("flag_speeder")])
	assert.Equal(t, "1", r2[col("longstring_grid")])
	assert.Equal(t, "", r2[col("grid_total")], "missing score renders empty")
	assert.Equal(t, "1", r2[col("excluded")])
	assert.Equal(t, "failed quality checks", r2[col("reason")])

	final := readCSV(t, filepath.Join(dir, "final.csv"))
	require.Len(t, final, 2, "final drops excluded rows")
	assert.Equal(t, head, final[0], "final shares the processed layout")
	assert.Equal(t, "R_1", final[1][col("response_id")])
}

func TestWriteSnapshotShortRunID(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	dir, err := WriteSnapshot(t.TempDir(), "run7", at, testResult(), testRegistry(t))
	require.NoError(t, err)
	assert.Equal(t, "20240301_100000_run7", filepath.Base(dir))
}
