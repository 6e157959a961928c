// Package enrich joins external context onto parsed records: resolved
// regions for each network address and analytics engagement counters for
// each tracking code. Both stages read and grow a persistent cache so a
// rerun only fetches what a previous run has not seen.
package enrich

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tamarack-research/surveyqc/internal/boundary"
	"github.com/tamarack-research/surveyqc/internal/model"
	"github.com/tamarack-research/surveyqc/internal/workbook"
	"github.com/tamarack-research/surveyqc/pkg/iplocate"
)

// Geo fills each record's address from the workbook address list and its
// region from the region cache, then resolves the remaining distinct
// addresses through the locator and appends the new entries to the cache.
// Records whose address yields no resolvable region keep an absent region.
//
// Lookup failures leave regions unresolved for this batch; only context
// cancellation aborts.
func Geo(ctx context.Context, wb *workbook.Workbook, records []*model.Record, locator iplocate.Client, bounds *boundary.Index) error {
	byIP := make(map[string][]*model.Record)
	var uncached []string
	cached := 0
	for _, r := range records {
		ip, ok := wb.Address(r.ResponseID)
		if !ok || ip == "" {
			continue
		}
		r.IP = &ip
		if region, ok := wb.Region(r.ResponseID); ok && region != "" {
			r.Region = &region
			cached++
			continue
		}
		if _, seen := byIP[ip]; !seen {
			uncached = append(uncached, ip)
		}
		byIP[ip] = append(byIP[ip], r)
	}

	if len(uncached) == 0 {
		zap.L().Debug("all regions cached", zap.Int("cached", cached))
		return nil
	}
	if locator == nil {
		zap.L().Debug("geo locator not configured, regions left unresolved",
			zap.Int("addresses", len(uncached)))
		return nil
	}

	zap.L().Info("resolving regions",
		zap.Int("cached", cached),
		zap.Int("addresses", len(uncached)))

	results, err := locator.BatchLocate(ctx, uncached)
	if err != nil {
		if ctx.Err() != nil {
			return eris.Wrap(err, "enrich: region lookup cancelled")
		}
		zap.L().Warn("region lookup failed, regions left unresolved for this batch",
			zap.Int("addresses", len(uncached)), zap.Error(err))
		return nil
	}

	resolved := 0
	for _, res := range results {
		region := regionOf(res, bounds)
		if region == "" {
			continue
		}
		for _, r := range byIP[res.Query] {
			r.Region = &region
			wb.AddRegion(r.ResponseID, region)
			resolved++
		}
	}
	zap.L().Info("regions resolved",
		zap.Int("resolved", resolved),
		zap.Int("unresolved", len(uncached)-resolved))
	return nil
}

// regionOf extracts the region from a lookup result, falling back to the
// boundary index when the provider returned coordinates but no region name.
func regionOf(res iplocate.Result, bounds *boundary.Index) string {
	if !res.Ok() {
		zap.L().Debug("address unresolved", zap.String("ip", res.Query), zap.String("message", res.Message))
		return ""
	}
	if region := strings.TrimSpace(res.Region); region != "" {
		return region
	}
	if bounds != nil && (res.Lat != 0 || res.Lon != 0) {
		return bounds.Resolve(res.Lon, res.Lat)
	}
	return ""
}
