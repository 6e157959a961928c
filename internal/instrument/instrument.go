// Package instrument declares the survey instruments of a study: item column
// patterns, attention-check bindings, straight-lining ranges, and subscale
// sums. Specs are loaded once at startup and resolved against the input
// header into explicit column sets.
package instrument

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Spec declares one survey instrument.
type Spec struct {
	Name        string `yaml:"name"`
	ItemPattern string `yaml:"item_pattern"` // printf-style column pattern, e.g. "cope_%d"
	ItemCount   int    `yaml:"item_count"`

	// ExcludeItems lists item indices left out of the straight-lining range,
	// typically an embedded attention check.
	ExcludeItems []int `yaml:"exclude_items,omitempty"`

	// IgnoreValue is a sentinel response code that exempts a record from
	// straight-lining when present anywhere in the range.
	IgnoreValue *int `yaml:"ignore_value,omitempty"`

	// IgnoreMissing is carried for configuration compatibility but has no
	// effect: a record with any missing item in the range is never flagged,
	// under either toggle state.
	IgnoreMissing bool `yaml:"ignore_missing,omitempty"`

	// Check binds the instrument's attention-check item, when it has one.
	Check *Check `yaml:"check,omitempty"`

	// Subscales declares named sums over item subsets, in emit order.
	Subscales []Subscale `yaml:"subscales"`
}

// Check binds an embedded attention-check item. Exactly one of MirrorItem or
// Forbidden is meaningful: a mirror check fails when the check response
// differs from the mirrored primary item, an instructed-response check fails
// when the response falls in the forbidden code set.
type Check struct {
	Item       int   `yaml:"item"`
	MirrorItem int   `yaml:"mirror_item,omitempty"`
	Forbidden  []int `yaml:"forbidden,omitempty"`
}

// Subscale names a sum over a subset of an instrument's items. The emitted
// score is named "<instrument>_<subscale>".
type Subscale struct {
	Name  string `yaml:"name"`
	Items []int  `yaml:"items"`
}

// Validate checks the spec for internal consistency.
func (s Spec) Validate() error {
	if s.Name == "" {
		return eris.New("instrument: spec missing name")
	}
	if !strings.Contains(s.ItemPattern, "%d") {
		return eris.Errorf("instrument: %s item pattern %q has no %%d placeholder", s.Name, s.ItemPattern)
	}
	if s.ItemCount <= 0 {
		return eris.Errorf("instrument: %s has non-positive item count %d", s.Name, s.ItemCount)
	}
	for _, idx := range s.ExcludeItems {
		if idx < 1 || idx > s.ItemCount {
			return eris.Errorf("instrument: %s excluded item %d out of range 1..%d", s.Name, idx, s.ItemCount)
		}
	}
	if s.Check != nil {
		if s.Check.Item < 1 || s.Check.Item > s.ItemCount {
			return eris.Errorf("instrument: %s check item %d out of range 1..%d", s.Name, s.Check.Item, s.ItemCount)
		}
		if s.Check.MirrorItem != 0 && (s.Check.MirrorItem < 1 || s.Check.MirrorItem > s.ItemCount) {
			return eris.Errorf("instrument: %s mirror item %d out of range 1..%d", s.Name, s.Check.MirrorItem, s.ItemCount)
		}
		if s.Check.MirrorItem == 0 && len(s.Check.Forbidden) == 0 {
			return eris.Errorf("instrument: %s check declares neither mirror item nor forbidden codes", s.Name)
		}
	}
	if len(s.Subscales) == 0 {
		return eris.Errorf("instrument: %s declares no subscales", s.Name)
	}
	seen := make(map[string]bool, len(s.Subscales))
	for _, sub := range s.Subscales {
		if sub.Name == "" {
			return eris.Errorf("instrument: %s has a subscale with no name", s.Name)
		}
		if seen[sub.Name] {
			return eris.Errorf("instrument: %s duplicate subscale %q", s.Name, sub.Name)
		}
		seen[sub.Name] = true
		if len(sub.Items) == 0 {
			return eris.Errorf("instrument: %s subscale %q has no items", s.Name, sub.Name)
		}
		for _, idx := range sub.Items {
			if idx < 1 || idx > s.ItemCount {
				return eris.Errorf("instrument: %s subscale %q item %d out of range 1..%d", s.Name, sub.Name, idx, s.ItemCount)
			}
		}
	}
	return nil
}

// Defaults returns the built-in instrument set for the study, used when no
// instruments file is configured.
func Defaults() []Spec {
	return []Spec{
		{
			Name:        "cope",
			ItemPattern: "cope_%d",
			ItemCount:   15,
			Subscales: []Subscale{
				{Name: "task", Items: []int{1, 4, 7, 10, 13}},
				{Name: "emotion", Items: []int{2, 5, 8, 11, 14}},
				{Name: "avoid", Items: []int{3, 6, 9, 12, 15}},
			},
		},
		{
			Name:         "trust",
			ItemPattern:  "trust_%d",
			ItemCount:    10,
			ExcludeItems: []int{8},
			Check:        &Check{Item: 8, MirrorItem: 3},
			Subscales: []Subscale{
				{Name: "total", Items: []int{1, 2, 3, 4, 5, 6, 7, 9, 10}},
			},
		},
		{
			Name:         "media",
			ItemPattern:  "media_%d",
			ItemCount:    12,
			ExcludeItems: []int{9},
			Check:        &Check{Item: 9, Forbidden: []int{2, 3, 4, 5}},
			Subscales: []Subscale{
				{Name: "total", Items: []int{1, 2, 3, 4, 5, 6, 7, 8, 10, 11, 12}},
			},
		},
	}
}
