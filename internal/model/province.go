package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// provinceNames maps stratification codes to display labels. The table is
// fixed: ten provinces in alphabetical order, the three territories, then a
// catch-all for respondents outside the country.
var provinceNames = map[int]string{
	1:  "Alberta",
	2:  "British Columbia",
	3:  "Manitoba",
	4:  "New Brunswick",
	5:  "Newfoundland and Labrador",
	6:  "Nova Scotia",
	7:  "Ontario",
	8:  "Prince Edward Island",
	9:  "Quebec",
	10: "Saskatchewan",
	11: "Northwest Territories",
	12: "Nunavut",
	13: "Yukon",
	14: "Outside Canada",
}

// genderNames maps gender codes to display labels.
var genderNames = map[int]string{
	1: "Woman",
	2: "Man",
	3: "Non-binary",
	4: "Self-described",
	5: "Not stated",
}

// ProvinceName returns the display label for a province code, or "" when the
// code is not in the lookup table.
func ProvinceName(code int) string {
	return provinceNames[code]
}

// GenderLabel returns the display label for a gender code, or "" when the
// code is not in the lookup table.
func GenderLabel(code int) string {
	return genderNames[code]
}

// ProvinceLabels returns every province label in code order. The quota
// cross-tab uses this as its row axis so unobserved provinces still appear.
func ProvinceLabels() []string {
	labels := make([]string, 0, len(provinceNames))
	for code := 1; code <= len(provinceNames); code++ {
		labels = append(labels, provinceNames[code])
	}
	return labels
}

// GenderLabels returns every gender label in code order.
func GenderLabels() []string {
	labels := make([]string, 0, len(genderNames))
	for code := 1; code <= len(genderNames); code++ {
		labels = append(labels, genderNames[code])
	}
	return labels
}

// NormalizeRegion lowercases a region name and strips diacritics so that
// "Québec" compares equal to "Quebec".
func NormalizeRegion(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// RegionsMatch reports whether two region names refer to the same region,
// ignoring case and diacritics.
func RegionsMatch(a, b string) bool {
	return NormalizeRegion(a) == NormalizeRegion(b)
}
