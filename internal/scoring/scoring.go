// Package scoring computes the named subscale sums declared by the resolved
// instrument registry.
package scoring

import (
	"github.com/tamarack-research/surveyqc/internal/instrument"
	"github.com/tamarack-research/surveyqc/internal/model"
)

// Apply computes every registry score for every record, in place. A score
// with any missing item stays missing rather than summing a partial item set.
func Apply(reg *instrument.Registry, records []*model.Record) {
	scores := reg.AllScores()
	for _, r := range records {
		r.Scores = make(map[string]*int, len(scores))
		for _, score := range scores {
			r.Scores[score.Name] = sum(r, score.Columns)
		}
	}
}

func sum(r *model.Record, columns []string) *int {
	total := 0
	for _, col := range columns {
		v := r.Item(col)
		if v == nil {
			return nil
		}
		total += *v
	}
	return &total
}
