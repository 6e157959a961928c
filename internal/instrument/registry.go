package instrument

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// Resolved is an instrument with its column names materialized against the
// input header.
type Resolved struct {
	Spec

	// Columns holds every item column in item order.
	Columns []string

	// LineColumns holds the columns included in the straight-lining range
	// (Columns minus ExcludeItems), in item order.
	LineColumns []string

	// CheckColumn and MirrorColumn are empty when the instrument has no
	// check or no mirror binding.
	CheckColumn  string
	MirrorColumn string

	// Scores holds the resolved named sums in declaration order.
	Scores []Score
}

// Score is a resolved named sum over item columns.
type Score struct {
	Name    string
	Columns []string
}

// Registry is the resolved instrument set for a study.
type Registry struct {
	Instruments []Resolved
	byName      map[string]*Resolved
}

// Resolve validates the specs and materializes their column sets against the
// input header. A declared column absent from the header is a configuration
// error naming the column.
func Resolve(specs []Spec, header []string) (*Registry, error) {
	have := make(map[string]bool, len(header))
	for _, col := range header {
		have[col] = true
	}

	reg := &Registry{byName: make(map[string]*Resolved, len(specs))}
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}

		res := Resolved{Spec: spec}
		for i := 1; i <= spec.ItemCount; i++ {
			col := fmt.Sprintf(spec.ItemPattern, i)
			if !have[col] {
				return nil, eris.Errorf("instrument: %s column %q missing from input header", spec.Name, col)
			}
			res.Columns = append(res.Columns, col)
		}

		excluded := make(map[int]bool, len(spec.ExcludeItems))
		for _, idx := range spec.ExcludeItems {
			excluded[idx] = true
		}
		for i, col := range res.Columns {
			if !excluded[i+1] {
				res.LineColumns = append(res.LineColumns, col)
			}
		}

		if spec.Check != nil {
			res.CheckColumn = res.Columns[spec.Check.Item-1]
			if spec.Check.MirrorItem != 0 {
				res.MirrorColumn = res.Columns[spec.Check.MirrorItem-1]
			}
		}

		for _, sub := range spec.Subscales {
			score := Score{Name: spec.Name + "_" + sub.Name}
			for _, idx := range sub.Items {
				score.Columns = append(score.Columns, res.Columns[idx-1])
			}
			res.Scores = append(res.Scores, score)
		}

		reg.Instruments = append(reg.Instruments, res)
	}

	for i := range reg.Instruments {
		name := reg.Instruments[i].Name
		if _, dup := reg.byName[name]; dup {
			return nil, eris.Errorf("instrument: duplicate instrument %q", name)
		}
		reg.byName[name] = &reg.Instruments[i]
	}
	return reg, nil
}

// ByName returns the resolved instrument with the given name, or nil.
func (r *Registry) ByName(name string) *Resolved {
	return r.byName[name]
}

// Names returns instrument names in declaration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.Instruments))
	for i, inst := range r.Instruments {
		names[i] = inst.Name
	}
	return names
}

// AllScores returns every resolved score across instruments in declaration
// order, fixing the emit order of score columns.
func (r *Registry) AllScores() []Score {
	var scores []Score
	for _, inst := range r.Instruments {
		scores = append(scores, inst.Scores...)
	}
	return scores
}
