package enrich

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamarack-research/surveyqc/internal/model"
)

func TestLoadCacheMissingFile(t *testing.T) {
	t.Parallel()

	cache, err := LoadCache(filepath.Join(t.TempDir(), "absent.csv"))
	require.NoError(t, err)
	assert.Empty(t, cache)
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "engagement.csv")
	fetched := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cache := Cache{
		"TK-2": {Ticket: "TK-2", FirstVisit: 1, PageView: 5, EngagementSecs: 42.5, FetchedAt: fetched},
		"TK-1": {
			Ticket: "TK-1", FirstVisit: 2, PageView: 14, ScreenView: 3,
			SessionStart: 2, UserEngagement: 9, EngagementSecs: 363.5, FetchedAt: fetched,
		},
	}

	require.NoError(t, SaveCache(path, cache))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file cleaned up")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ticket,"), "header row first")
	assert.True(t, strings.HasPrefix(lines[1], "TK-1,"), "rows sorted by ticket")
	assert.True(t, strings.HasPrefix(lines[2], "TK-2,"))

	reloaded, err := LoadCache(path)
	require.NoError(t, err)
	assert.Equal(t, cache, reloaded)
}

func TestLoadCacheSkipsMalformedRows(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "engagement.csv")
	content := strings.Join([]string{
		"ticket,first_visit,page_view,screen_view,session_start,user_engagement,engagement_secs,fetched_at",
		"TK-1,2,14,3,2,9,363.5,2024-03-01T10:00:00Z",
		"TK-BAD,not-a-number,14,3,2,9,363.5,2024-03-01T10:00:00Z",
		",2,14,3,2,9,363.5,2024-03-01T10:00:00Z",
		"TK-SHORT,2",
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cache, err := LoadCache(path)
	require.NoError(t, err)

	require.Len(t, cache, 1)
	assert.Equal(t, model.Engagement{
		Ticket: "TK-1", FirstVisit: 2, PageView: 14, ScreenView: 3,
		SessionStart: 2, UserEngagement: 9, EngagementSecs: 363.5,
		FetchedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}, cache["TK-1"])
}

func TestSaveCacheEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "engagement.csv")
	require.NoError(t, SaveCache(path, Cache{}))

	reloaded, err := LoadCache(path)
	require.NoError(t, err)
	assert.Empty(t, reloaded)
}
