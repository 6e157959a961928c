// Package qc computes per-record quality flags and the exclusion decisions
// derived from them.
package qc

import (
	"sort"

	"go.uber.org/zap"

	"github.com/tamarack-research/surveyqc/internal/instrument"
	"github.com/tamarack-research/surveyqc/internal/model"
)

// Options carries the tunable parts of the flagging rules.
type Options struct {
	// SpeedRatio scales the batch median completion time into the speeding
	// cutoff.
	SpeedRatio float64

	// LongstringThreshold is the straight-lined instrument count above which
	// the final straight-lining flag is set.
	LongstringThreshold int

	// TargetProvince is the province code of the single-province study
	// design; records with any other code are excluded.
	TargetProvince int

	// ValidGenders are the gender codes counted toward quota cells.
	ValidGenders []int
}

// Engine applies the flagging rules to a batch of records.
type Engine struct {
	opts        Options
	reg         *instrument.Registry
	manual      func(id string) bool
	validGender map[int]bool
}

// New builds an engine. manual reports whether an identifier carries a
// forced-exclude decision; nil means no manual decisions.
func New(reg *instrument.Registry, manual func(string) bool, opts Options) *Engine {
	if manual == nil {
		manual = func(string) bool { return false }
	}
	valid := make(map[int]bool, len(opts.ValidGenders))
	for _, g := range opts.ValidGenders {
		valid[g] = true
	}
	return &Engine{opts: opts, reg: reg, manual: manual, validGender: valid}
}

// Run computes flags and decisions for every record in place. The speeding
// cutoff is computed once over the full unfiltered batch, before any record
// is flagged or excluded.
func (e *Engine) Run(records []*model.Record) {
	cutoff, haveCutoff := SpeedCutoff(records, e.opts.SpeedRatio)
	if haveCutoff {
		zap.L().Debug("qc: speeding cutoff computed",
			zap.Float64("minutes", cutoff),
			zap.Float64("ratio", e.opts.SpeedRatio))
	}

	for _, r := range records {
		e.flag(r, cutoff, haveCutoff)
		r.Excluded = e.exclude(r)
		r.QuotaExcluded = r.Excluded || e.quotaExclude(r)
	}
}

// SpeedCutoff returns ratio times the median completion time in minutes over
// every record carrying both timestamps. The median deliberately spans the
// full unfiltered batch, eventually-excluded records included, so the cutoff
// depends on batch composition. Reports false when no record has a
// completion time.
func SpeedCutoff(records []*model.Record, ratio float64) (float64, bool) {
	var times []float64
	for _, r := range records {
		if m := r.CompletionMinutes(); m != nil {
			times = append(times, *m)
		}
	}
	if len(times) == 0 {
		return 0, false
	}
	return ratio * median(times), true
}

func median(values []float64) float64 {
	sort.Float64s(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}

// flag computes the full flag set for one record.
func (e *Engine) flag(r *model.Record, cutoff float64, haveCutoff bool) {
	r.Flags = model.FlagSet{LongString: make(map[string]int, len(e.reg.Instruments))}

	if haveCutoff {
		if m := r.CompletionMinutes(); m != nil && *m <= cutoff {
			r.Flags.Speeder = 1
		}
	}

	for _, inst := range e.reg.Instruments {
		e.flagCheck(r, inst)

		if straightlined(r, inst) {
			r.Flags.LongString[inst.Name] = 1
			r.Flags.LongStringTotal++
		} else {
			r.Flags.LongString[inst.Name] = 0
		}
	}
	if r.Flags.LongStringTotal > e.opts.LongstringThreshold {
		r.Flags.LongStringFlag = 1
	}

	if r.Province != nil && r.Region != nil {
		name := model.ProvinceName(*r.Province)
		if name != "" && !model.RegionsMatch(name, *r.Region) {
			r.Flags.ProvinceMismatch = 1
		}
	}

	if r.ScrAge != nil && r.Age != nil && *r.ScrAge != *r.Age {
		r.Flags.AgeMismatch = 1
	}

	if e.manual(r.ResponseID) {
		r.Flags.Manual = 1
	}
}

// flagCheck evaluates an instrument's attention check. A mirror check flags
// when the check response differs from its paired item; a forbidden-set
// check flags when the response falls in the failing codes. A missing check
// response never flags, and a mirror check with a missing paired item never
// flags.
func (e *Engine) flagCheck(r *model.Record, inst instrument.Resolved) {
	if inst.CheckColumn == "" {
		return
	}
	check := r.Item(inst.CheckColumn)
	if check == nil {
		return
	}

	if inst.MirrorColumn != "" {
		mirror := r.Item(inst.MirrorColumn)
		if mirror != nil && *check != *mirror {
			r.Flags.TrustCheck = 1
		}
		return
	}

	for _, code := range inst.Check.Forbidden {
		if *check == code {
			r.Flags.MediaCheck = 1
			return
		}
	}
}

// straightlined reports whether every included item is present, none equals
// the instrument's ignore sentinel, and all equal the first. Any missing
// item exempts the record; the ignore-missing toggle carried on the
// instrument does not alter that.
func straightlined(r *model.Record, inst instrument.Resolved) bool {
	cols := inst.LineColumns
	if len(cols) == 0 {
		return false
	}

	first := r.Item(cols[0])
	if first == nil {
		return false
	}
	if inst.IgnoreValue != nil && *first == *inst.IgnoreValue {
		return false
	}

	for _, col := range cols[1:] {
		v := r.Item(col)
		if v == nil {
			return false
		}
		if inst.IgnoreValue != nil && *v == *inst.IgnoreValue {
			return false
		}
		if *v != *first {
			return false
		}
	}
	return true
}

// exclude is the pure OR-reduction over quality flags and structural
// conditions. Absent consent and absent province both fail their tests.
func (e *Engine) exclude(r *model.Record) bool {
	return r.Flags.Any() ||
		!r.Consented() ||
		r.Province == nil || *r.Province != e.opts.TargetProvince ||
		r.StartedAt == nil ||
		r.ScreenedOutAt != nil ||
		r.FinishedAt == nil ||
		r.WithdrawalRequested()
}

// quotaExclude adds the stricter quota-only conditions: a missing tracking
// code or a gender outside the quota-valid set. These never feed back into
// the main exclusion decision.
func (e *Engine) quotaExclude(r *model.Record) bool {
	if r.Ticket == nil || *r.Ticket == "" {
		return true
	}
	return r.Gender == nil || !e.validGender[*r.Gender]
}
