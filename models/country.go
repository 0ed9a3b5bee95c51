// Package models defines data structures for the scraper.
package models

import "time"

// Column identifies one semantic column of the source country table.
type Column int

const (
	ColNumber Column = iota
	ColCountry
	ColTotalCases
	ColNewCases
	ColTotalDeaths
	ColNewDeaths
	ColTotalRecovered
	ColNewRecovered
	ColActiveCases
	ColSeriousCritical
	ColCasesPerMillion
	ColDeathsPerMillion
	ColTotalTests
	ColTestsPerMillion
	ColPopulation
	ColRegion
)

// RawColumnCount is the number of cells kept from every source row.
const RawColumnCount = 16

var columnNames = [RawColumnCount]string{
	"Number",
	"Country",
	"Total Cases",
	"New Cases",
	"Total Deaths",
	"New Deaths",
	"Total Recovered",
	"New Recovered",
	"Active Cases",
	"Serious Critical",
	"Tot Cases/1M pop",
	"Deaths/1M pop",
	"Total Tests",
	"Tests/1M pop",
	"Population",
	"Country Region",
}

func (c Column) String() string {
	if c < 0 || int(c) >= len(columnNames) {
		return "unknown"
	}
	return columnNames[c]
}

// MetricColumns are the columns coerced to numbers, in output order. The
// source New-* columns are stale and recomputed from the two snapshots.
var MetricColumns = []Column{
	ColTotalCases,
	ColTotalDeaths,
	ColTotalRecovered,
	ColActiveCases,
	ColSeriousCritical,
	ColCasesPerMillion,
	ColDeathsPerMillion,
	ColTotalTests,
	ColTestsPerMillion,
	ColPopulation,
}

// Capture names the point in time a snapshot was taken.
type Capture string

const (
	CaptureToday     Capture = "today"
	CaptureYesterday Capture = "yesterday"
)

// RawRow is the trimmed text of one data row, indexed by Column.
type RawRow []string

// Field returns the cell for col or "" when the row is short.
func (r RawRow) Field(col Column) string {
	if int(col) < 0 || int(col) >= len(r) {
		return ""
	}
	return r[col]
}

// Snapshot is one scrape of the country table.
type Snapshot struct {
	Capture   Capture
	TableID   string
	SourceURL string
	FetchedAt time.Time
	Rows      []RawRow
}

// CountryRecord is one snapshot row after type coercion.
type CountryRecord struct {
	Country string
	Region  string
	Numbers map[Column]float64
	// Texts holds the original cells of columns that never parsed as numbers.
	Texts map[Column]string
}

// Value returns the numeric value of col and whether the column is numeric.
func (r *CountryRecord) Value(col Column) (float64, bool) {
	if r == nil || r.Numbers == nil {
		return 0, false
	}
	v, ok := r.Numbers[col]
	return v, ok
}

// Number returns the numeric value of col, or 0.
func (r *CountryRecord) Number(col Column) float64 {
	v, _ := r.Value(col)
	return v
}

// ReconciledRecord is a today record with day-over-day deltas.
type ReconciledRecord struct {
	CountryRecord
	NewCases     *float64
	NewDeaths    *float64
	NewRecovered *float64
	LocationCode string
}

// ReconcileResult is the joined view of two snapshots.
type ReconcileResult struct {
	Records []*ReconciledRecord
	// Unmatched lists countries present today but missing yesterday.
	Unmatched []string
	// Vanished lists countries present yesterday but missing today.
	Vanished   []string
	Duplicates []string
}

// CoercionStats summarises how a snapshot's cells were converted.
type CoercionStats struct {
	Rows        int
	InvalidRows int
	ZeroFilled  map[Column]int
	TextColumns []Column
	Duplicates  []string
}

// TotalZeroFilled returns the number of cells replaced by zero.
func (s CoercionStats) TotalZeroFilled() int {
	total := 0
	for _, n := range s.ZeroFilled {
		total += n
	}
	return total
}

// FetchStats are request counters reported by a fetcher.
type FetchStats struct {
	RequestCount int
	ErrorCount   int
	RetryCount   int
	ErrorsByType map[string]int
}

// Report holds the overall result of one run.
type Report struct {
	Records        []*ReconciledRecord
	Unmatched      []string
	Vanished       []string
	TodayRows      int
	YesterdayRows  int
	TodayStats     CoercionStats
	YesterdayStats CoercionStats
	StartTime      time.Time
	EndTime        time.Time
	Fetch          FetchStats
}
