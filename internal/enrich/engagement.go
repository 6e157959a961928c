package enrich

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tamarack-research/surveyqc/internal/model"
	"github.com/tamarack-research/surveyqc/internal/resilience"
	"github.com/tamarack-research/surveyqc/pkg/analytics"
)

// Named engagement events extracted from the analytics response.
const (
	eventFirstVisit     = "first_visit"
	eventPageView       = "page_view"
	eventScreenView     = "screen_view"
	eventSessionStart   = "session_start"
	eventUserEngagement = "user_engagement"
)

// analyticsFailureThreshold is the consecutive-failure count after which the
// rest of a batch's lookups are skipped.
const analyticsFailureThreshold = 5

// Engagement attaches analytics counters to each record with a tracking
// code. Cached tickets are served from the cache; the rest are fetched
// concurrently and merged into it. A failed single fetch leaves that ticket
// without counters for this batch; when the analytics endpoint fails
// repeatedly the remaining lookups are skipped. Only context cancellation
// aborts.
func Engagement(ctx context.Context, records []*model.Record, client analytics.Client, cache Cache, maxConcurrent int) error {
	var uncached []string
	seen := make(map[string]bool)
	for _, r := range records {
		if r.Ticket == nil || *r.Ticket == "" {
			continue
		}
		ticket := *r.Ticket
		if seen[ticket] {
			continue
		}
		seen[ticket] = true
		if _, ok := cache[ticket]; !ok {
			uncached = append(uncached, ticket)
		}
	}

	if client != nil && len(uncached) > 0 {
		zap.L().Info("fetching engagement counters",
			zap.Int("cached", len(seen)-len(uncached)),
			zap.Int("tickets", len(uncached)))

		if maxConcurrent < 1 {
			maxConcurrent = 1
		}

		retryCfg := resilience.DefaultRetryConfig()
		retryCfg.MaxAttempts = 2
		retryCfg.OnRetry = resilience.RetryLogger("analytics", "event_counts")

		breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: analyticsFailureThreshold,
			ShouldTrip: func(err error) bool {
				return !eris.Is(err, context.Canceled) && !eris.Is(err, context.DeadlineExceeded)
			},
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("analytics circuit state changed",
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxConcurrent)
		var mu sync.Mutex
		skipped := 0
		for _, ticket := range uncached {
			g.Go(func() error {
				rep, err := resilience.ExecuteVal(gctx, breaker, func(ctx context.Context) (*analytics.Report, error) {
					return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*analytics.Report, error) {
						return client.EventCounts(ctx, ticket)
					})
				})
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					if eris.Is(err, resilience.ErrCircuitOpen) {
						mu.Lock()
						skipped++
						mu.Unlock()
						return nil
					}
					zap.L().Warn("engagement lookup failed",
						zap.String("ticket", ticket), zap.Error(err))
					return nil
				}
				mu.Lock()
				cache[ticket] = toEngagement(ticket, rep, time.Now().UTC())
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return eris.Wrap(err, "enrich: engagement fetch cancelled")
		}
		if skipped > 0 {
			zap.L().Warn("engagement lookups skipped while analytics circuit open",
				zap.Int("tickets", skipped))
		}
	}

	attached := 0
	for _, r := range records {
		if r.Ticket == nil || *r.Ticket == "" {
			continue
		}
		if eng, ok := cache[*r.Ticket]; ok {
			r.Engagement = &eng
			attached++
		}
	}
	zap.L().Debug("engagement attached", zap.Int("records", attached))
	return nil
}

func toEngagement(ticket string, rep *analytics.Report, fetchedAt time.Time) model.Engagement {
	return model.Engagement{
		Ticket:         ticket,
		FirstVisit:     rep.Events[eventFirstVisit],
		PageView:       rep.Events[eventPageView],
		ScreenView:     rep.Events[eventScreenView],
		SessionStart:   rep.Events[eventSessionStart],
		UserEngagement: rep.Events[eventUserEngagement],
		EngagementSecs: rep.EngagementSecs,
		FetchedAt:      fetchedAt,
	}
}
