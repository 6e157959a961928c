// Package workbook reads and writes the study workbook: the participant
// address list, the IP-region cache, and the manual exclusion list on input,
// plus the two summary sheets written after each run.
package workbook

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
)

// Sheet names. The three input sheets are preserved and extended on save;
// the two output sheets are rewritten each run.
const (
	SheetAddresses        = "addresses"
	SheetIPRegions        = "ip_regions"
	SheetManualExclusions = "manual_exclusions"
	SheetExclusionReasons = "exclusion_reasons"
	SheetReasonCounts     = "reason_counts"
)

// Workbook is the in-memory view of the study workbook. Entry order is
// preserved so saved sheets diff cleanly across runs.
type Workbook struct {
	addresses map[string]string
	regions   map[string]string
	manual    map[string]string

	addressOrder []string
	regionOrder  []string
	manualOrder  []string
}

// ReasonRow is one exclusion_reasons sheet row.
type ReasonRow struct {
	ResponseID string
	Reason     string
}

// CountRow is one reason_counts sheet row.
type CountRow struct {
	Reason string
	Count  int
}

// New returns an empty workbook.
func New() *Workbook {
	return &Workbook{
		addresses: make(map[string]string),
		regions:   make(map[string]string),
		manual:    make(map[string]string),
	}
}

// Load reads the three input sheets from the workbook at path. A missing
// file is an error; a missing sheet is treated as empty so a fresh study
// workbook needs no pre-seeded cache sheets. Rows without an identifier are
// skipped with a warning.
func Load(path string) (*Workbook, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "workbook: open %s", path)
	}

	wb := New()
	wb.readPairs(f, SheetAddresses, func(id, v string) { wb.SetAddress(id, v) })
	wb.readPairs(f, SheetIPRegions, func(id, v string) { wb.AddRegion(id, v) })
	wb.readPairs(f, SheetManualExclusions, func(id, v string) { wb.SetManual(id, v) })
	return wb, nil
}

// readPairs reads an id/value sheet, skipping the header row.
func (w *Workbook) readPairs(f *xlsx.File, name string, add func(id, v string)) {
	sheet, ok := f.Sheet[name]
	if !ok {
		zap.L().Debug("workbook: sheet absent, treating as empty", zap.String("sheet", name))
		return
	}
	for i, row := range sheet.Rows {
		if i == 0 {
			continue // header
		}
		if len(row.Cells) == 0 {
			continue
		}
		id := row.Cells[0].String()
		if id == "" {
			zap.L().Warn("workbook: skipping row with empty identifier",
				zap.String("sheet", name), zap.Int("row", i+1))
			continue
		}
		var value string
		if len(row.Cells) > 1 {
			value = row.Cells[1].String()
		}
		add(id, value)
	}
}

// SetAddress records the network address for a response.
func (w *Workbook) SetAddress(id, ip string) {
	if _, ok := w.addresses[id]; !ok {
		w.addressOrder = append(w.addressOrder, id)
	}
	w.addresses[id] = ip
}

// Address returns the network address recorded for a response.
func (w *Workbook) Address(id string) (string, bool) {
	ip, ok := w.addresses[id]
	return ip, ok
}

// Addresses returns all response ids with a recorded address, in sheet order.
func (w *Workbook) Addresses() []string {
	return append([]string(nil), w.addressOrder...)
}

// AddRegion appends a resolved region to the cache. An existing entry is
// never overwritten; the cache grows monotonically. Reports whether the
// entry was added.
func (w *Workbook) AddRegion(id, region string) bool {
	if _, ok := w.regions[id]; ok {
		return false
	}
	w.regions[id] = region
	w.regionOrder = append(w.regionOrder, id)
	return true
}

// Region returns the cached region for a response.
func (w *Workbook) Region(id string) (string, bool) {
	region, ok := w.regions[id]
	return region, ok
}

// RegionCount returns the number of cached region entries.
func (w *Workbook) RegionCount() int {
	return len(w.regions)
}

// SetManual records a manual-decision marker for a response.
func (w *Workbook) SetManual(id, marker string) {
	if _, ok := w.manual[id]; !ok {
		w.manualOrder = append(w.manualOrder, id)
	}
	w.manual[id] = marker
}

// IsManuallyExcluded reports whether a response carries a forced-exclude
// marker. Any marker other than empty or "0" forces exclusion.
func (w *Workbook) IsManuallyExcluded(id string) bool {
	marker, ok := w.manual[id]
	if !ok {
		return false
	}
	return marker != "" && marker != "0"
}

// MergeManualDecisions adds externally sourced exclusion decisions to the
// manual set. Existing markers are kept.
func (w *Workbook) MergeManualDecisions(ids []string, marker string) {
	for _, id := range ids {
		if _, ok := w.manual[id]; ok {
			continue
		}
		w.SetManual(id, marker)
	}
}

// Save writes all five sheets to path atomically: the file is assembled in a
// temp file next to the target and renamed into place, so an aborted run
// never leaves a partial workbook.
func (w *Workbook) Save(path string, reasons []ReasonRow, counts []CountRow) error {
	f := xlsx.NewFile()

	if err := w.writePairs(f, SheetAddresses, "response_id", "ip", w.addressOrder, w.addresses); err != nil {
		return err
	}
	if err := w.writePairs(f, SheetIPRegions, "response_id", "region", w.regionOrder, w.regions); err != nil {
		return err
	}
	if err := w.writePairs(f, SheetManualExclusions, "response_id", "exclude", w.manualOrder, w.manual); err != nil {
		return err
	}

	reasonSheet, err := f.AddSheet(SheetExclusionReasons)
	if err != nil {
		return eris.Wrap(err, "workbook: add exclusion_reasons sheet")
	}
	header := reasonSheet.AddRow()
	header.AddCell().SetString("response_id")
	header.AddCell().SetString("reason")
	for _, r := range reasons {
		row := reasonSheet.AddRow()
		row.AddCell().SetString(r.ResponseID)
		row.AddCell().SetString(r.Reason)
	}

	countSheet, err := f.AddSheet(SheetReasonCounts)
	if err != nil {
		return eris.Wrap(err, "workbook: add reason_counts sheet")
	}
	header = countSheet.AddRow()
	header.AddCell().SetString("reason")
	header.AddCell().SetString("count")
	for _, c := range counts {
		row := countSheet.AddRow()
		row.AddCell().SetString(c.Reason)
		row.AddCell().SetInt(c.Count)
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := f.Save(tmp); err != nil {
		return eris.Wrapf(err, "workbook: write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return eris.Wrapf(err, "workbook: rename into %s", path)
	}
	return nil
}

// writePairs writes an id/value sheet with a header row.
func (w *Workbook) writePairs(f *xlsx.File, name, idHeader, valueHeader string, order []string, values map[string]string) error {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrapf(err, "workbook: add %s sheet", name)
	}
	header := sheet.AddRow()
	header.AddCell().SetString(idHeader)
	header.AddCell().SetString(valueHeader)
	for _, id := range order {
		row := sheet.AddRow()
		row.AddCell().SetString(id)
		row.AddCell().SetString(values[id])
	}
	return nil
}
