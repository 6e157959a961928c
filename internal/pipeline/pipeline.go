// Package pipeline orchestrates one batch pass: ingest, enrich, flag, score,
// tabulate, write outputs, publish, and record the run.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tamarack-research/surveyqc/internal/boundary"
	"github.com/tamarack-research/surveyqc/internal/config"
	"github.com/tamarack-research/surveyqc/internal/enrich"
	"github.com/tamarack-research/surveyqc/internal/export"
	"github.com/tamarack-research/surveyqc/internal/fetcher"
	"github.com/tamarack-research/surveyqc/internal/ingest"
	"github.com/tamarack-research/surveyqc/internal/instrument"
	"github.com/tamarack-research/surveyqc/internal/model"
	"github.com/tamarack-research/surveyqc/internal/qc"
	"github.com/tamarack-research/surveyqc/internal/quota"
	"github.com/tamarack-research/surveyqc/internal/report"
	"github.com/tamarack-research/surveyqc/internal/scoring"
	"github.com/tamarack-research/surveyqc/internal/store"
	"github.com/tamarack-research/surveyqc/internal/workbook"
	"github.com/tamarack-research/surveyqc/pkg/analytics"
	"github.com/tamarack-research/surveyqc/pkg/iplocate"
	"github.com/tamarack-research/surveyqc/pkg/notion"
	"github.com/tamarack-research/surveyqc/pkg/sheets"
	"github.com/tamarack-research/surveyqc/pkg/surveyapi"
)

// Pipeline orchestrates the batch pass. Client fields are nil when the
// corresponding integration is unconfigured; each is skipped silently.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	survey    surveyapi.Client
	locator   iplocate.Client
	analytics analytics.Client
	sheets    sheets.Client
	notion    notion.Client
}

// Options carries per-invocation switches.
type Options struct {
	// NoPublish suppresses the spreadsheet publish even when configured.
	NoPublish bool
}

// New creates a Pipeline. st may be nil when the run history is unavailable;
// the batch still runs, history writes are skipped.
func New(
	cfg *config.Config,
	st store.Store,
	survey surveyapi.Client,
	locator iplocate.Client,
	analyticsClient analytics.Client,
	sheetsClient sheets.Client,
	notionClient notion.Client,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		survey:    survey,
		locator:   locator,
		analytics: analyticsClient,
		sheets:    sheetsClient,
		notion:    notionClient,
	}
}

// Run executes the full batch pass and returns the assembled report data.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*report.Data, error) {
	source := p.sourceLabel()
	log := zap.L().With(zap.String("source", source))
	log.Info("pipeline: starting batch pass")

	runID := uuid.New().String()
	if p.store != nil {
		run, err := p.store.CreateRun(ctx, source)
		if err != nil {
			log.Warn("pipeline: failed to create run record", zap.Error(err))
		} else {
			runID = run.ID
		}
	}
	log = log.With(zap.String("run_id", runID))

	var phases []model.PhaseResult

	setStatus := func(status model.RunStatus) {
		if p.store == nil {
			return
		}
		if err := p.store.UpdateRunStatus(ctx, runID, status); err != nil {
			log.Warn("pipeline: failed to update status", zap.Error(err))
		}
	}

	// Phase tracking helper with mutex for the concurrent enrichment phases.
	var phasesMu sync.Mutex
	trackPhase := func(name string, fn func() (*model.PhaseResult, error)) *model.PhaseResult {
		var phase *model.RunPhase
		if p.store != nil {
			var phaseErr error
			phase, phaseErr = p.store.CreatePhase(ctx, runID, name)
			if phaseErr != nil {
				log.Warn("pipeline: failed to create phase", zap.String("phase", name), zap.Error(phaseErr))
			}
		}

		start := time.Now()
		phaseResult, fnErr := fn()
		duration := time.Since(start).Milliseconds()

		if phaseResult == nil {
			phaseResult = &model.PhaseResult{}
		}
		phaseResult.Name = name
		phaseResult.Duration = duration

		if fnErr != nil {
			phaseResult.Status = model.PhaseStatusFailed
			phaseResult.Error = fnErr.Error()
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
		} else if phaseResult.Status == "" {
			phaseResult.Status = model.PhaseStatusComplete
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
			)
		}

		if phase != nil {
			_ = p.store.CompletePhase(ctx, phase.ID, phaseResult)
		}
		phasesMu.Lock()
		phases = append(phases, *phaseResult)
		phasesMu.Unlock()
		return phaseResult
	}

	// fail records the terminal result for a fatal error and returns it.
	fail := func(err error) (*report.Data, error) {
		setStatus(model.RunStatusFailed)
		if p.store != nil {
			result := &model.RunResult{Phases: phases, Error: err.Error()}
			if saveErr := p.store.UpdateRunResult(ctx, runID, result); saveErr != nil {
				log.Warn("pipeline: failed to save run result", zap.Error(saveErr))
			}
		}
		return nil, err
	}

	// ===== Ingest =====
	setStatus(model.RunStatusIngesting)

	var res *ingest.Result
	var reg *instrument.Registry
	pr := trackPhase("ingest", func() (*model.PhaseResult, error) {
		parsed, reg2, err := p.ingest(ctx)
		if err != nil {
			return nil, err
		}
		res = parsed
		reg = reg2
		return &model.PhaseResult{
			Metadata: map[string]any{
				"records":     len(parsed.Records),
				"item_cols":   len(parsed.ItemColumns()),
				"instruments": len(reg.Names()),
			},
		}, nil
	})
	if pr.Status == model.PhaseStatusFailed {
		return fail(eris.New(pr.Error))
	}
	records := res.Records

	// ===== Workbook =====
	var wb *workbook.Workbook
	pr = trackPhase("workbook", func() (*model.PhaseResult, error) {
		loaded, err := workbook.Load(p.cfg.Study.Workbook)
		if err != nil {
			return nil, err
		}
		wb = loaded
		return &model.PhaseResult{
			Metadata: map[string]any{
				"addresses":      len(loaded.Addresses()),
				"cached_regions": loaded.RegionCount(),
			},
		}, nil
	})
	if pr.Status == model.PhaseStatusFailed {
		return fail(eris.New(pr.Error))
	}

	// ===== Manual decisions (optional external source) =====
	if p.notion != nil && p.cfg.Notion.DecisionDB != "" {
		trackPhase("manual_decisions", func() (*model.PhaseResult, error) {
			decisions, err := notion.QueryExclusionDecisions(ctx, p.notion, p.cfg.Notion.DecisionDB)
			if err != nil {
				// Recoverable: the workbook manual sheet still applies.
				log.Warn("pipeline: manual-decision query failed", zap.Error(err))
				return &model.PhaseResult{
					Status:   model.PhaseStatusFailed,
					Error:    err.Error(),
					Metadata: map[string]any{"merged": 0},
				}, nil
			}
			ids := make([]string, 0, len(decisions))
			for _, d := range decisions {
				ids = append(ids, d.ResponseID)
			}
			wb.MergeManualDecisions(ids, "notion")
			return &model.PhaseResult{
				Metadata: map[string]any{"merged": len(ids)},
			}, nil
		})
	}

	// ===== Credential pre-flight =====
	// Geo credentials are proven before any record is mutated, but only when
	// there is something to resolve.
	if p.locator != nil && uncachedAddressCount(wb, records) > 0 {
		pr = trackPhase("validate_geo", func() (*model.PhaseResult, error) {
			if err := p.locator.Validate(ctx); err != nil {
				return nil, err
			}
			return &model.PhaseResult{}, nil
		})
		if pr.Status == model.PhaseStatusFailed {
			return fail(eris.New(pr.Error))
		}
	}

	// ===== Enrichment (geo and engagement in parallel) =====
	setStatus(model.RunStatusEnriching)

	bounds := p.loadBoundary()
	engCache, cacheUsable := p.loadEngagementCache()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		trackPhase("enrich_geo", func() (*model.PhaseResult, error) {
			before := wb.RegionCount()
			if err := enrich.Geo(gctx, wb, records, p.locator, bounds); err != nil {
				return nil, err
			}
			return &model.PhaseResult{
				Metadata: map[string]any{
					"resolved": wb.RegionCount() - before,
					"cached":   before,
				},
			}, nil
		})
		return gctx.Err()
	})
	g.Go(func() error {
		trackPhase("enrich_engagement", func() (*model.PhaseResult, error) {
			before := len(engCache)
			if err := enrich.Engagement(gctx, records, p.analytics, engCache, p.cfg.Analytics.MaxConcurrent); err != nil {
				return nil, err
			}
			if fetched := len(engCache) - before; fetched > 0 && cacheUsable {
				if err := enrich.SaveCache(p.cfg.Analytics.CacheFile, engCache); err != nil {
					log.Warn("pipeline: failed to save engagement cache", zap.Error(err))
				}
			}
			return &model.PhaseResult{
				Metadata: map[string]any{
					"fetched": len(engCache) - before,
					"cached":  before,
				},
			}, nil
		})
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return fail(eris.Wrap(err, "pipeline: enrichment cancelled"))
	}

	// ===== Quality flags and exclusion =====
	setStatus(model.RunStatusFlagging)

	var flagCounts map[string]int
	var excluded int
	trackPhase("quality_flags", func() (*model.PhaseResult, error) {
		engine := qc.New(reg, wb.IsManuallyExcluded, qc.Options{
			SpeedRatio:          p.cfg.QC.SpeedRatio,
			LongstringThreshold: p.cfg.QC.LongstringThreshold,
			TargetProvince:      p.cfg.Study.TargetProvince,
			ValidGenders:        p.cfg.Quota.ValidGenders,
		})
		engine.Run(records)
		flagCounts = model.Counts(records)
		for _, r := range records {
			if r.Excluded {
				excluded++
			}
		}
		return &model.PhaseResult{
			Metadata: map[string]any{
				"flags":    flagCounts,
				"excluded": excluded,
			},
		}, nil
	})

	// ===== Scoring =====
	setStatus(model.RunStatusScoring)

	trackPhase("scoring", func() (*model.PhaseResult, error) {
		scoring.Apply(reg, records)
		return &model.PhaseResult{
			Metadata: map[string]any{"scores": len(reg.AllScores())},
		}, nil
	})

	// ===== Quota accounting =====
	var crossTab quota.CrossTab
	var reasons []quota.ReasonCount
	var quotaClean int
	trackPhase("quota", func() (*model.PhaseResult, error) {
		quota.AssignReasons(records, p.cfg.Quota.ValidGenders)
		crossTab = quota.Tabulate(records)
		reasons = quota.CountReasons(records)
		for _, r := range records {
			if !r.QuotaExcluded {
				quotaClean++
			}
		}
		return &model.PhaseResult{
			Metadata: map[string]any{
				"quota_clean": quotaClean,
				"tabulated":   crossTab.Total(),
			},
		}, nil
	})

	// ===== Snapshot =====
	setStatus(model.RunStatusExporting)

	var snapshotDir string
	pr = trackPhase("snapshot", func() (*model.PhaseResult, error) {
		dir, err := export.WriteSnapshot(p.cfg.Export.OutDir, runID, time.Now(), res, reg)
		if err != nil {
			return nil, err
		}
		snapshotDir = dir
		return &model.PhaseResult{
			Metadata: map[string]any{"dir": dir},
		}, nil
	})
	if pr.Status == model.PhaseStatusFailed {
		return fail(eris.New(pr.Error))
	}

	// ===== Workbook save =====
	pr = trackPhase("workbook_save", func() (*model.PhaseResult, error) {
		reasonRows := make([]workbook.ReasonRow, 0, len(records))
		for _, r := range records {
			reasonRows = append(reasonRows, workbook.ReasonRow{
				ResponseID: r.ResponseID,
				Reason:     string(r.Reason),
			})
		}
		countRows := make([]workbook.CountRow, 0, len(reasons))
		for _, rc := range reasons {
			countRows = append(countRows, workbook.CountRow{
				Reason: string(rc.Reason),
				Count:  rc.Count,
			})
		}
		if err := wb.Save(p.cfg.Study.Workbook, reasonRows, countRows); err != nil {
			return nil, err
		}
		return &model.PhaseResult{
			Metadata: map[string]any{"reasons": len(reasonRows)},
		}, nil
	})
	if pr.Status == model.PhaseStatusFailed {
		return fail(eris.New(pr.Error))
	}

	// ===== Publish =====
	published := false
	if p.sheets != nil && !opts.NoPublish {
		trackPhase("publish", func() (*model.PhaseResult, error) {
			if err := p.sheets.Publish(ctx, p.cfg.Publish.SheetName, crossTab.Rows()); err != nil {
				// Recoverable: the snapshot and workbook already carry the table.
				log.Warn("pipeline: publish failed", zap.Error(err))
				return &model.PhaseResult{
					Status: model.PhaseStatusFailed,
					Error:  err.Error(),
				}, nil
			}
			published = true
			return &model.PhaseResult{
				Metadata: map[string]any{"sheet": p.cfg.Publish.SheetName},
			}, nil
		})
	}

	// ===== Record the run =====
	runResult := &model.RunResult{
		TotalRecords: len(records),
		Excluded:     excluded,
		QuotaClean:   quotaClean,
		FlagCounts:   flagCounts,
		SnapshotDir:  snapshotDir,
		Published:    published,
		Phases:       phases,
	}
	if p.store != nil {
		if err := p.store.UpdateRunResult(ctx, runID, runResult); err != nil {
			log.Warn("pipeline: failed to save run result", zap.Error(err))
		}
	}

	log.Info("pipeline: batch pass complete",
		zap.Int("records", len(records)),
		zap.Int("excluded", excluded),
		zap.Int("quota_clean", quotaClean),
		zap.String("snapshot", snapshotDir),
		zap.Bool("published", published),
	)

	return &report.Data{
		RunID:       runID,
		Source:      source,
		Total:       len(records),
		Excluded:    excluded,
		QuotaClean:  quotaClean,
		FlagCounts:  flagCounts,
		CrossTab:    crossTab,
		Reasons:     reasons,
		SnapshotDir: snapshotDir,
		Published:   published,
	}, nil
}

// ingest fetches the export when a URL is configured, parses it, and resolves
// the instrument registry against the parsed header.
func (p *Pipeline) ingest(ctx context.Context) (*ingest.Result, *instrument.Registry, error) {
	path := p.cfg.Survey.CacheFile

	switch {
	case p.cfg.Survey.ExportURL == "":
		zap.L().Info("pipeline: no export url configured, reading local cache",
			zap.String("path", path))
	case strings.HasPrefix(p.cfg.Survey.ExportURL, "ftp://"):
		f := fetcher.NewFTPFetcher(fetcher.FTPOptions{
			Timeout: time.Duration(p.cfg.Survey.TimeoutSecs) * time.Second,
		})
		n, err := f.DownloadToFile(ctx, p.cfg.Survey.ExportURL, path)
		if err != nil {
			return nil, nil, eris.Wrap(err, "pipeline: download export")
		}
		zap.L().Info("pipeline: export downloaded", zap.Int64("bytes", n))
	default:
		if p.survey == nil {
			return nil, nil, eris.New("pipeline: export url configured but no survey client")
		}
		n, err := p.survey.ExportToFile(ctx, path)
		if err != nil {
			return nil, nil, eris.Wrap(err, "pipeline: download export")
		}
		zap.L().Info("pipeline: export downloaded", zap.Int64("bytes", n))
	}

	res, err := ingest.ParseFile(ctx, path)
	if err != nil {
		return nil, nil, err
	}

	specs := instrument.Defaults()
	if p.cfg.Study.InstrumentsFile != "" {
		specs, err = instrument.Load(p.cfg.Study.InstrumentsFile)
		if err != nil {
			return nil, nil, err
		}
	}
	reg, err := instrument.Resolve(specs, res.Header)
	if err != nil {
		return nil, nil, err
	}
	return res, reg, nil
}

// sourceLabel names the response source for the run record.
func (p *Pipeline) sourceLabel() string {
	if p.cfg.Survey.ExportURL != "" {
		return p.cfg.Survey.ExportURL
	}
	return p.cfg.Survey.CacheFile
}

// loadBoundary loads the optional province shapefile. A configured but
// unreadable shapefile disables the fallback with a warning; the boundary
// resolution is an enhancement, not a required input.
func (p *Pipeline) loadBoundary() *boundary.Index {
	if p.cfg.Geo.BoundaryShapefile == "" {
		return nil
	}
	ix, err := boundary.Load(p.cfg.Geo.BoundaryShapefile)
	if err != nil {
		zap.L().Warn("pipeline: boundary shapefile unavailable", zap.Error(err))
		return nil
	}
	zap.L().Debug("pipeline: boundary index loaded", zap.Int("regions", ix.Regions()))
	return ix
}

// loadEngagementCache loads the engagement cache. On a load failure the run
// proceeds with an empty cache but never rewrites the file, so a readable
// cache is never replaced by a partial one.
func (p *Pipeline) loadEngagementCache() (enrich.Cache, bool) {
	cache, err := enrich.LoadCache(p.cfg.Analytics.CacheFile)
	if err != nil {
		zap.L().Warn("pipeline: engagement cache unreadable, proceeding without it",
			zap.Error(err))
		return enrich.Cache{}, false
	}
	return cache, true
}

// uncachedAddressCount counts records whose address needs a lookup: an
// address is on file but no region is cached yet.
func uncachedAddressCount(wb *workbook.Workbook, records []*model.Record) int {
	n := 0
	for _, r := range records {
		if _, ok := wb.Address(r.ResponseID); !ok {
			continue
		}
		if _, ok := wb.Region(r.ResponseID); !ok {
			n++
		}
	}
	return n
}
