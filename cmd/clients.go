package main

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tamarack-research/surveyqc/pkg/analytics"
	"github.com/tamarack-research/surveyqc/pkg/iplocate"
	"github.com/tamarack-research/surveyqc/pkg/notion"
	"github.com/tamarack-research/surveyqc/pkg/sheets"
	"github.com/tamarack-research/surveyqc/pkg/surveyapi"
)

// Each constructor returns nil when its integration is unconfigured; the
// pipeline skips nil clients silently.

// newSurveyClient builds the HTTPS export client. FTP export URLs are handled
// by the pipeline's fetcher, not this client.
func newSurveyClient() surveyapi.Client {
	u := cfg.Survey.ExportURL
	if u == "" || strings.HasPrefix(u, "ftp://") {
		return nil
	}
	return surveyapi.NewClient(u, cfg.Survey.Token,
		surveyapi.WithTimeout(time.Duration(cfg.Survey.TimeoutSecs)*time.Second))
}

func newLocator() iplocate.Client {
	if cfg.Geo.APIKey == "" {
		zap.L().Debug("geo.api_key not set, region resolution disabled")
		return nil
	}
	return iplocate.NewClient(cfg.Geo.APIKey,
		iplocate.WithBaseURL(cfg.Geo.BaseURL),
		iplocate.WithRateLimit(cfg.Geo.RateLimitPerMin),
		iplocate.WithBatchSize(cfg.Geo.BatchSize),
	)
}

func newAnalyticsClient() analytics.Client {
	if cfg.Analytics.PropertyID == "" || cfg.Analytics.Token == "" {
		zap.L().Debug("analytics not configured, engagement enrichment disabled")
		return nil
	}
	return analytics.NewClient(cfg.Analytics.PropertyID, cfg.Analytics.Token,
		analytics.WithBaseURL(cfg.Analytics.BaseURL),
		analytics.WithDateRange(cfg.Analytics.StartDate, cfg.Analytics.EndDate),
	)
}

func newSheetsClient() sheets.Client {
	if cfg.Publish.SpreadsheetID == "" || cfg.Publish.Token == "" {
		zap.L().Debug("publish not configured, spreadsheet publish disabled")
		return nil
	}
	return sheets.NewClient(cfg.Publish.SpreadsheetID, cfg.Publish.Token,
		sheets.WithBaseURL(cfg.Publish.BaseURL))
}

func newNotionClient() notion.Client {
	if cfg.Notion.Token == "" || cfg.Notion.DecisionDB == "" {
		zap.L().Debug("notion not configured, manual-decision merge disabled")
		return nil
	}
	return notion.NewClient(cfg.Notion.Token)
}
