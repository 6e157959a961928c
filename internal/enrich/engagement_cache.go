package enrich

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tamarack-research/surveyqc/internal/model"
)

// Cache holds previously fetched engagement counters keyed by ticket. It is
// loaded from CSV at the start of a run, grown by the fetch stage, and
// written back in full at the end.
type Cache map[string]model.Engagement

var cacheHeader = []string{
	"ticket", "first_visit", "page_view", "screen_view",
	"session_start", "user_engagement", "engagement_secs", "fetched_at",
}

// LoadCache reads the engagement cache CSV. A missing file is an empty
// cache, not an error; malformed rows are skipped with a warning.
func LoadCache(path string) (Cache, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			zap.L().Debug("no engagement cache yet", zap.String("path", path))
			return Cache{}, nil
		}
		return nil, eris.Wrapf(err, "enrich: opening engagement cache %s", path)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	cache := Cache{}
	line := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "enrich: reading engagement cache %s", path)
		}
		line++
		if line == 1 && len(row) > 0 && row[0] == "ticket" {
			continue
		}
		eng, ok := parseCacheRow(row)
		if !ok {
			zap.L().Warn("skipping malformed engagement cache row",
				zap.String("path", path), zap.Int("line", line))
			continue
		}
		cache[eng.Ticket] = eng
	}
	zap.L().Debug("engagement cache loaded", zap.Int("tickets", len(cache)))
	return cache, nil
}

// SaveCache writes the cache back to CSV, sorted by ticket. The write is
// atomic so a failure keeps the previous cache intact.
func SaveCache(path string, cache Cache) error {
	tickets := make([]string, 0, len(cache))
	for t := range cache {
		tickets = append(tickets, t)
	}
	sort.Strings(tickets)

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return eris.Wrapf(err, "enrich: creating engagement cache %s", tmp)
	}

	w := csv.NewWriter(f)
	if err := w.Write(cacheHeader); err != nil {
		f.Close()
		os.Remove(tmp)
		return eris.Wrap(err, "enrich: writing engagement cache header")
	}
	for _, t := range tickets {
		eng := cache[t]
		row := []string{
			eng.Ticket,
			strconv.Itoa(eng.FirstVisit),
			strconv.Itoa(eng.PageView),
			strconv.Itoa(eng.ScreenView),
			strconv.Itoa(eng.SessionStart),
			strconv.Itoa(eng.UserEngagement),
			strconv.FormatFloat(eng.EngagementSecs, 'f', -1, 64),
			eng.FetchedAt.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			f.Close()
			os.Remove(tmp)
			return eris.Wrapf(err, "enrich: writing engagement cache row for %s", t)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmp)
		return eris.Wrap(err, "enrich: flushing engagement cache")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return eris.Wrapf(err, "enrich: closing engagement cache %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return eris.Wrapf(err, "enrich: replacing engagement cache %s", path)
	}
	zap.L().Info("engagement cache saved", zap.String("path", path), zap.Int("tickets", len(cache)))
	return nil
}

func parseCacheRow(row []string) (model.Engagement, bool) {
	if len(row) < len(cacheHeader) || row[0] == "" {
		return model.Engagement{}, false
	}
	counts := make([]int, 5)
	for i := range counts {
		n, err := strconv.Atoi(row[i+1])
		if err != nil {
			return model.Engagement{}, false
		}
		counts[i] = n
	}
	secs, err := strconv.ParseFloat(row[6], 64)
	if err != nil {
		return model.Engagement{}, false
	}
	fetchedAt, err := time.Parse(time.RFC3339, row[7])
	if err != nil {
		return model.Engagement{}, false
	}
	return model.Engagement{
		Ticket:         row[0],
		FirstVisit:     counts[0],
		PageView:       counts[1],
		ScreenView:     counts[2],
		SessionStart:   counts[3],
		UserEngagement: counts[4],
		EngagementSecs: secs,
		FetchedAt:      fetchedAt,
	}, true
}
