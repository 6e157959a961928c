package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamarack-research/surveyqc/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// --- Runs ---

func TestSQLite_CreateRun_And_GetRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "survey_export.csv")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.Equal(t, "survey_export.csv", run.Source)

	fetched, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, fetched.ID)
	assert.Equal(t, "survey_export.csv", fetched.Source)
	assert.Nil(t, fetched.Result)
}

func TestSQLite_GetRun_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetRun(ctx, "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_UpdateRunStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "survey_export.csv")
	require.NoError(t, err)

	err = st.UpdateRunStatus(ctx, run.ID, model.RunStatusEnriching)
	require.NoError(t, err)

	fetched, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusEnriching, fetched.Status)
}

func TestSQLite_UpdateRunStatus_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	err := st.UpdateRunStatus(ctx, "nonexistent", model.RunStatusComplete)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestSQLite_UpdateRunResult(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "survey_export.csv")
	require.NoError(t, err)

	result := &model.RunResult{
		TotalRecords: 120,
		Excluded:     14,
		QuotaClean:   98,
		FlagCounts:   map[string]int{"speeder": 3, "longstring": 2},
		SnapshotDir:  "out/20240301_100000_abcd1234",
		Published:    true,
	}
	err = st.UpdateRunResult(ctx, run.ID, result)
	require.NoError(t, err)

	fetched, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, fetched.Status)
	require.NotNil(t, fetched.Result)
	assert.Equal(t, 120, fetched.Result.TotalRecords)
	assert.Equal(t, 3, fetched.Result.FlagCounts["speeder"])
	assert.True(t, fetched.Result.Published)
}

func TestSQLite_UpdateRunResult_ErrorMarksFailed(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "survey_export.csv")
	require.NoError(t, err)

	result := &model.RunResult{
		TotalRecords: 120,
		Error:        "workbook: open decisions.xlsx: no such file",
	}
	err = st.UpdateRunResult(ctx, run.ID, result)
	require.NoError(t, err)

	fetched, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, fetched.Status)
	require.NotNil(t, fetched.Result)
	assert.Contains(t, fetched.Result.Error, "decisions.xlsx")
}

func TestSQLite_ListRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first, err := st.CreateRun(ctx, "a.csv")
	require.NoError(t, err)
	// Space creations so created_at ordering is unambiguous.
	time.Sleep(5 * time.Millisecond)
	second, err := st.CreateRun(ctx, "b.csv")
	require.NoError(t, err)

	runs, err := st.ListRuns(ctx, RunFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, first.ID, runs[1].ID)
}

func TestSQLite_ListRuns_FilterByStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "a.csv")
	require.NoError(t, err)

	err = st.UpdateRunStatus(ctx, run.ID, model.RunStatusComplete)
	require.NoError(t, err)

	// Create another run that stays queued.
	_, err = st.CreateRun(ctx, "b.csv")
	require.NoError(t, err)

	runs, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusComplete, Limit: 10})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestSQLite_ListRuns_LimitAndOffset(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, source := range []string{"a.csv", "b.csv", "c.csv"} {
		_, err := st.CreateRun(ctx, source)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	runs, err := st.ListRuns(ctx, RunFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = st.ListRuns(ctx, RunFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "a.csv", runs[0].Source)
}

// --- Phases ---

func TestSQLite_CreatePhase_And_CompletePhase(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "survey_export.csv")
	require.NoError(t, err)

	phase, err := st.CreatePhase(ctx, run.ID, "ingest")
	require.NoError(t, err)
	assert.NotEmpty(t, phase.ID)
	assert.Equal(t, "ingest", phase.Name)
	assert.Equal(t, model.PhaseStatusRunning, phase.Status)

	err = st.CompletePhase(ctx, phase.ID, &model.PhaseResult{
		Name:     "ingest",
		Status:   model.PhaseStatusComplete,
		Duration: 240,
		Metadata: map[string]any{
			"records": 120,
		},
	})
	require.NoError(t, err)
}

func TestSQLite_CompletePhase_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	err := st.CompletePhase(ctx, "nonexistent", &model.PhaseResult{
		Name:   "ingest",
		Status: model.PhaseStatusFailed,
		Error:  "source unreadable",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "phase not found")
}
