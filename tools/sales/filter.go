package sales

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Filter selects rows. Zero fields match everything.
type Filter struct {
	Stores []int
	Year   int
	Month  time.Month
	Day    int
}

var (
	numberPattern  = regexp.MustCompile(`\b\d{4}\b`)
	ordinalPattern = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)\b`)
	wordPattern    = regexp.MustCompile(`[a-z]+`)
)

var months = map[string]time.Month{}

func init() {
	for m := time.January; m <= time.December; m++ {
		name := strings.ToLower(m.String())
		months[name] = m
		months[name[:3]] = m
	}
	months["sept"] = time.September
}

// ParseFilter reads store numbers, a year, a month and an ordinal day from a
// free-text request. Four-digit numbers naming a known store are stores; others
// between 1900 and 2100 are years. A day only counts together with a month.
func ParseFilter(prompt string, stores []int) Filter {
	var f Filter
	text := strings.ToLower(prompt)

	for _, s := range numberPattern.FindAllString(text, -1) {
		n, _ := strconv.Atoi(s)
		switch {
		case slices.Contains(stores, n):
			if !slices.Contains(f.Stores, n) {
				f.Stores = append(f.Stores, n)
			}
		case n >= 1900 && n <= 2100 && f.Year == 0:
			f.Year = n
		}
	}

	for _, w := range wordPattern.FindAllString(text, -1) {
		if m, ok := months[w]; ok {
			f.Month = m
			break
		}
	}

	if f.Month != 0 {
		if m := ordinalPattern.FindStringSubmatch(text); m != nil {
			if d, _ := strconv.Atoi(m[1]); d >= 1 && d <= 31 {
				f.Day = d
			}
		}
	}
	return f
}

// Match reports whether r passes the filter.
func (x Filter) Match(r Row) bool {
	if len(x.Stores) > 0 && !slices.Contains(x.Stores, r.Store) {
		return false
	}
	if x.Year != 0 && r.Date.Year() != x.Year {
		return false
	}
	if x.Month != 0 && r.Date.Month() != x.Month {
		return false
	}
	if x.Day != 0 && r.Date.Day() != x.Day {
		return false
	}
	return true
}

// Apply returns the rows passing the filter, in input order.
func (x Filter) Apply(rows []Row) []Row {
	var out []Row
	for _, r := range rows {
		if x.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

func storesOf(rows []Row) []int {
	var out []int
	for _, r := range rows {
		if !slices.Contains(out, r.Store) {
			out = append(out, r.Store)
		}
	}
	slices.Sort(out)
	return out
}
