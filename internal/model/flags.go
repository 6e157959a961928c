package model

// FlagSet holds the independent quality indicators computed per record.
// Each indicator is 0/1 and computable from that record's fields alone; the
// speeding cutoff is the only batch-level input.
type FlagSet struct {
	Speeder          int
	TrustCheck       int
	MediaCheck       int
	ProvinceMismatch int
	AgeMismatch      int

	// LongString holds the per-instrument straight-lining indicator keyed by
	// instrument name; LongStringTotal is their sum and LongStringFlag the
	// thresholded final indicator.
	LongString      map[string]int
	LongStringTotal int
	LongStringFlag  int

	Manual int
}

// Any reports whether any final quality indicator is set. Per-instrument
// straight-lining counts only through the thresholded LongStringFlag.
func (f FlagSet) Any() bool {
	return f.Speeder == 1 ||
		f.TrustCheck == 1 ||
		f.MediaCheck == 1 ||
		f.ProvinceMismatch == 1 ||
		f.AgeMismatch == 1 ||
		f.LongStringFlag == 1 ||
		f.Manual == 1
}

// Counts returns the flag totals for a batch of records, keyed by flag name.
// Used for the run summary and the rendered report.
func Counts(records []*Record) map[string]int {
	counts := map[string]int{
		"speeder":           0,
		"trust_check":       0,
		"media_check":       0,
		"province_mismatch": 0,
		"age_mismatch":      0,
		"longstring":        0,
		"manual":            0,
	}
	for _, rec := range records {
		counts["speeder"] += rec.Flags.Speeder
		counts["trust_check"] += rec.Flags.TrustCheck
		counts["media_check"] += rec.Flags.MediaCheck
		counts["province_mismatch"] += rec.Flags.ProvinceMismatch
		counts["age_mismatch"] += rec.Flags.AgeMismatch
		counts["longstring"] += rec.Flags.LongStringFlag
		counts["manual"] += rec.Flags.Manual
	}
	return counts
}
