// Package quota produces the study's quota accounting: the province by
// gender cross-tabulation over quota-clean records, the per-record exclusion
// reason, and the reason-count tabulation.
package quota

import (
	"strconv"

	"github.com/tamarack-research/surveyqc/internal/model"
)

// CrossTab is the zero-filled count table over records whose quota-exclusion
// decision is false. Axes come from the fixed label tables, so unobserved
// provinces and genders still appear as zero rows and columns.
type CrossTab struct {
	Provinces []string
	Genders   []string

	// Counts[i][j] is the count for Provinces[i] x Genders[j].
	Counts [][]int
}

// Tabulate builds the cross-tab over quota-clean records. A record carrying
// a code outside the lookup tables is skipped rather than given a made-up
// label.
func Tabulate(records []*model.Record) CrossTab {
	ct := CrossTab{Provinces: model.ProvinceLabels(), Genders: model.GenderLabels()}
	ct.Counts = make([][]int, len(ct.Provinces))
	for i := range ct.Counts {
		ct.Counts[i] = make([]int, len(ct.Genders))
	}

	row := make(map[string]int, len(ct.Provinces))
	for i, label := range ct.Provinces {
		row[label] = i
	}
	col := make(map[string]int, len(ct.Genders))
	for j, label := range ct.Genders {
		col[label] = j
	}

	for _, r := range records {
		if r.QuotaExcluded || r.Province == nil || r.Gender == nil {
			continue
		}
		i, okRow := row[model.ProvinceName(*r.Province)]
		j, okCol := col[model.GenderLabel(*r.Gender)]
		if !okRow || !okCol {
			continue
		}
		ct.Counts[i][j]++
	}
	return ct
}

// Total returns the number of records counted in the table.
func (ct CrossTab) Total() int {
	total := 0
	for _, row := range ct.Counts {
		for _, n := range row {
			total += n
		}
	}
	return total
}

// Rows renders the table as a header row plus one labeled row per province,
// the shape published to the spreadsheet and rendered in the report.
func (ct CrossTab) Rows() [][]string {
	rows := make([][]string, 0, len(ct.Provinces)+1)
	rows = append(rows, append([]string{"province"}, ct.Genders...))
	for i, label := range ct.Provinces {
		row := make([]string, 0, len(ct.Genders)+1)
		row = append(row, label)
		for _, n := range ct.Counts[i] {
			row = append(row, strconv.Itoa(n))
		}
		rows = append(rows, row)
	}
	return rows
}

// AssignReasons derives the single categorical exclusion reason for every
// record. The rule list is ordered and later rules overwrite earlier ones
// when both hold; reordering it changes the published tabulation.
func AssignReasons(records []*model.Record, validGenders []int) {
	valid := make(map[int]bool, len(validGenders))
	for _, g := range validGenders {
		valid[g] = true
	}
	for _, r := range records {
		r.Reason = reasonFor(r, valid)
	}
}

func reasonFor(r *model.Record, validGender map[int]bool) model.Reason {
	reason := model.ReasonNotExcluded
	if r.Flags.Any() {
		reason = model.ReasonQualityChecks
	}
	if r.Ticket == nil || *r.Ticket == "" {
		reason = model.ReasonMissingTicket
	}
	if r.Gender == nil || !validGender[*r.Gender] {
		reason = model.ReasonQualityChecks
	}
	if r.StartedAt == nil || r.FinishedAt == nil {
		reason = model.ReasonDidNotFinish
	}
	if r.WithdrawalRequested() {
		reason = model.ReasonWithdrawal
	}
	if r.ScreenedOutAt != nil {
		reason = model.ReasonScreenout
	}
	if r.Flags.ProvinceMismatch == 1 {
		reason = model.ReasonWrongRegion
	}
	return reason
}

// ReasonCount is one row of the reason tabulation.
type ReasonCount struct {
	Reason model.Reason
	Count  int
}

// CountReasons tabulates assigned reasons over every record, zero-filled in
// the fixed label order. The counts always sum to len(records).
func CountReasons(records []*model.Record) []ReasonCount {
	order := model.Reasons()
	index := make(map[model.Reason]int, len(order))
	counts := make([]ReasonCount, len(order))
	for i, reason := range order {
		index[reason] = i
		counts[i] = ReasonCount{Reason: reason}
	}
	for _, r := range records {
		if i, ok := index[r.Reason]; ok {
			counts[i].Count++
		}
	}
	return counts
}
