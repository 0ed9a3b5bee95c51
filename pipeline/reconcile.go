package pipeline

import (
	"sort"

	"github.com/aluiziolira/go-scrape-covid/models"
)

// deltaColumns pairs each cumulative column with the delta it produces.
var deltaColumns = []struct {
	col models.Column
	set func(r *models.ReconciledRecord, v *float64)
}{
	{models.ColTotalCases, func(r *models.ReconciledRecord, v *float64) { r.NewCases = v }},
	{models.ColTotalDeaths, func(r *models.ReconciledRecord, v *float64) { r.NewDeaths = v }},
	{models.ColTotalRecovered, func(r *models.ReconciledRecord, v *float64) { r.NewRecovered = v }},
}

// Reconcile joins two coerced snapshots by exact country name and derives
// New Cases, New Deaths and New Recovered as today minus yesterday.
//
// Countries missing yesterday keep nil deltas. The result is ordered by
// Total Cases descending; equal totals keep their input order.
func Reconcile(today, yesterday []*models.CountryRecord) models.ReconcileResult {
	var result models.ReconcileResult

	previous := make(map[string]*models.CountryRecord, len(yesterday))
	for _, record := range yesterday {
		if record == nil {
			continue
		}
		if _, dup := previous[record.Country]; dup {
			continue
		}
		previous[record.Country] = record
	}

	seen := make(map[string]struct{}, len(today))
	result.Records = make([]*models.ReconciledRecord, 0, len(today))
	for _, record := range today {
		if record == nil {
			continue
		}
		if _, dup := seen[record.Country]; dup {
			result.Duplicates = append(result.Duplicates, record.Country)
			continue
		}
		seen[record.Country] = struct{}{}

		reconciled := &models.ReconciledRecord{CountryRecord: *record}
		prior, ok := previous[record.Country]
		if !ok {
			result.Unmatched = append(result.Unmatched, record.Country)
		} else {
			for _, dc := range deltaColumns {
				dc.set(reconciled, delta(record, prior, dc.col))
			}
		}
		result.Records = append(result.Records, reconciled)
	}

	for _, record := range yesterday {
		if record == nil {
			continue
		}
		if _, ok := seen[record.Country]; !ok {
			result.Vanished = append(result.Vanished, record.Country)
			seen[record.Country] = struct{}{}
		}
	}

	SortByTotalCases(result.Records)
	return result
}

// SortByTotalCases orders records by Total Cases descending, keeping the
// existing order of ties.
func SortByTotalCases(records []*models.ReconciledRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Number(models.ColTotalCases) > records[j].Number(models.ColTotalCases)
	})
}

func delta(today, yesterday *models.CountryRecord, col models.Column) *float64 {
	now, ok := today.Value(col)
	if !ok {
		return nil
	}
	before, ok := yesterday.Value(col)
	if !ok {
		return nil
	}
	d := now - before
	return &d
}
