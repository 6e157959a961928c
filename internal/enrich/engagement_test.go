package enrich

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamarack-research/surveyqc/internal/model"
	"github.com/tamarack-research/surveyqc/pkg/analytics"
)

type stubAnalytics struct {
	mu       sync.Mutex
	calls    []string
	inFlight int
	maxSeen  int
	delay    time.Duration
	reports  map[string]*analytics.Report
	fail     map[string]error
}

func (s *stubAnalytics) EventCounts(ctx context.Context, ticket string) (*analytics.Report, error) {
	s.mu.Lock()
	s.calls = append(s.calls, ticket)
	s.inFlight++
	if s.inFlight > s.maxSeen {
		s.maxSeen = s.inFlight
	}
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()

	if err, ok := s.fail[ticket]; ok {
		return nil, err
	}
	if rep, ok := s.reports[ticket]; ok {
		return rep, nil
	}
	return &analytics.Report{Ticket: ticket, Events: map[string]int{}}, nil
}

func (s *stubAnalytics) Validate(ctx context.Context) error { return nil }

func ticketRecord(id, ticket string) *model.Record {
	return &model.Record{ResponseID: id, Ticket: &ticket}
}

func TestEngagementFetchesUncachedTickets(t *testing.T) {
	t.Parallel()

	stub := &stubAnalytics{reports: map[string]*analytics.Report{
		"TK-1": {
			Ticket: "TK-1",
			Events: map[string]int{
				"first_visit": 2, "page_view": 14, "screen_view": 3,
				"session_start": 2, "user_engagement": 9,
			},
			EngagementSecs: 363.5,
		},
	}}
	cache := Cache{}
	r := ticketRecord("R_1", "TK-1")

	require.NoError(t, Engagement(context.Background(), []*model.Record{r}, stub, cache, 4))

	require.NotNil(t, r.Engagement)
	assert.Equal(t, 2, r.Engagement.FirstVisit)
	assert.Equal(t, 14, r.Engagement.PageView)
	assert.Equal(t, 3, r.Engagement.ScreenView)
	assert.Equal(t, 2, r.Engagement.SessionStart)
	assert.Equal(t, 9, r.Engagement.UserEngagement)
	assert.InDelta(t, 363.5, r.Engagement.EngagementSecs, 0.001)
	assert.False(t, r.Engagement.FetchedAt.IsZero())

	assert.Contains(t, cache, "TK-1", "fetched counters join the cache")
}

func TestEngagementServedFromCache(t *testing.T) {
	t.Parallel()

	cache := Cache{"TK-1": {Ticket: "TK-1", PageView: 7}}
	stub := &stubAnalytics{}
	r := ticketRecord("R_1", "TK-1")

	require.NoError(t, Engagement(context.Background(), []*model.Record{r}, stub, cache, 4))

	require.NotNil(t, r.Engagement)
	assert.Equal(t, 7, r.Engagement.PageView)
	assert.Empty(t, stub.calls, "cached tickets are not refetched")
}

func TestEngagementSharedTicketFetchedOnce(t *testing.T) {
	t.Parallel()

	stub := &stubAnalytics{}
	r1 := ticketRecord("R_1", "TK-1")
	r2 := ticketRecord("R_2", "TK-1")

	require.NoError(t, Engagement(context.Background(), []*model.Record{r1, r2}, stub, Cache{}, 4))

	assert.Equal(t, []string{"TK-1"}, stub.calls)
	assert.NotNil(t, r1.Engagement)
	assert.NotNil(t, r2.Engagement)
}

func TestEngagementSingleFailureAbsorbed(t *testing.T) {
	t.Parallel()

	stub := &stubAnalytics{
		fail: map[string]error{"TK-BAD": eris.New("quota exceeded")},
	}
	good := ticketRecord("R_1", "TK-1")
	bad := ticketRecord("R_2", "TK-BAD")
	cache := Cache{}

	require.NoError(t, Engagement(context.Background(), []*model.Record{good, bad}, stub, cache, 4))

	assert.NotNil(t, good.Engagement)
	assert.Nil(t, bad.Engagement, "failed ticket carries no counters this batch")
	assert.NotContains(t, cache, "TK-BAD")
}

func TestEngagementRepeatedFailuresSkipRemaining(t *testing.T) {
	t.Parallel()

	stub := &stubAnalytics{fail: map[string]error{}}
	records := make([]*model.Record, 7)
	for i := range records {
		ticket := "TK-" + string(rune('1'+i))
		records[i] = ticketRecord("R_"+string(rune('1'+i)), ticket)
		stub.fail[ticket] = eris.New("credential rejected (status 401)")
	}

	// Serial fan-out keeps the failure order deterministic.
	require.NoError(t, Engagement(context.Background(), records, stub, Cache{}, 1))

	assert.Len(t, stub.calls, analyticsFailureThreshold,
		"lookups stop once the circuit opens")
	for _, r := range records {
		assert.Nil(t, r.Engagement)
	}
}

func TestEngagementWithoutClient(t *testing.T) {
	t.Parallel()

	cache := Cache{"TK-1": {Ticket: "TK-1", PageView: 7}}
	cached := ticketRecord("R_1", "TK-1")
	uncached := ticketRecord("R_2", "TK-2")
	noTicket := &model.Record{ResponseID: "R_3"}

	require.NoError(t, Engagement(context.Background(), []*model.Record{cached, uncached, noTicket}, nil, cache, 4))

	assert.NotNil(t, cached.Engagement, "cache still serves without a client")
	assert.Nil(t, uncached.Engagement)
	assert.Nil(t, noTicket.Engagement)
}

func TestEngagementConcurrencyBounded(t *testing.T) {
	t.Parallel()

	stub := &stubAnalytics{delay: 10 * time.Millisecond}
	records := make([]*model.Record, 8)
	for i := range records {
		records[i] = ticketRecord(
			"R_"+string(rune('1'+i)),
			"TK-"+string(rune('1'+i)),
		)
	}

	require.NoError(t, Engagement(context.Background(), records, stub, Cache{}, 2))

	assert.Len(t, stub.calls, 8)
	assert.LessOrEqual(t, stub.maxSeen, 2, "at most two fetches in flight")
	for _, r := range records {
		assert.NotNil(t, r.Engagement)
	}
}
