package model

import (
	"time"
)

// Record is one participant response. It is created on ingestion and mutated
// in place by each pipeline stage; excluded records are retained with their
// flags, only the final export view filters them out.
type Record struct {
	ResponseID string
	Ticket     *string

	StartedAt     *time.Time
	FinishedAt    *time.Time
	ScreenedOutAt *time.Time

	Consent   *int
	Withdrawn *int
	ScrAge    *int
	Age       *int
	Gender    *int
	Province  *int

	// Items holds instrument item responses keyed by column name
	// (e.g. "cope_3"). Absent and unparseable cells are omitted entirely.
	Items map[string]*int

	// Enrichment fields, absent until the corresponding stage runs.
	IP         *string
	Region     *string
	Engagement *Engagement

	// Derived fields.
	Flags         FlagSet
	Scores        map[string]*int
	Excluded      bool
	QuotaExcluded bool
	Reason        Reason
}

// Item returns the response value for the given item column, or nil when the
// column is absent or was not answered.
func (r *Record) Item(column string) *int {
	if r.Items == nil {
		return nil
	}
	return r.Items[column]
}

// CompletionMinutes returns the elapsed minutes between start and finish, or
// nil when either timestamp is absent.
func (r *Record) CompletionMinutes() *float64 {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return nil
	}
	mins := r.FinishedAt.Sub(*r.StartedAt).Minutes()
	return &mins
}

// Consented reports whether the record-level include toggle is set.
func (r *Record) Consented() bool {
	return r.Consent != nil && *r.Consent == 1
}

// WithdrawalRequested reports whether the participant asked to withdraw.
func (r *Record) WithdrawalRequested() bool {
	return r.Withdrawn != nil && *r.Withdrawn == 1
}
