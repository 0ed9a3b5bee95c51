package report

import (
	"math"
	"sort"

	"github.com/aluiziolira/go-scrape-covid/models"
	"github.com/montanaflynn/stats"
)

// RegionTotal is the sum of Total Cases over one region.
type RegionTotal struct {
	Region     string
	TotalCases float64
	Countries  int
}

// RegionTotals sums Total Cases per region, largest first. Records without a
// region are left out.
func RegionTotals(records []*models.ReconciledRecord) []RegionTotal {
	byRegion := make(map[string]*RegionTotal)
	for _, r := range records {
		if r.Region == "" {
			continue
		}
		total, ok := byRegion[r.Region]
		if !ok {
			total = &RegionTotal{Region: r.Region}
			byRegion[r.Region] = total
		}
		total.TotalCases += r.Number(models.ColTotalCases)
		total.Countries++
	}

	out := make([]RegionTotal, 0, len(byRegion))
	for _, total := range byRegion {
		out = append(out, *total)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalCases != out[j].TotalCases {
			return out[i].TotalCases > out[j].TotalCases
		}
		return out[i].Region < out[j].Region
	})
	return out
}

// DeathRate is Total Deaths over Total Cases for one country.
type DeathRate struct {
	Country string
	Rate    float64
}

// DeathRates returns deaths per case, highest first. Countries with no
// cases are skipped.
func DeathRates(records []*models.ReconciledRecord) []DeathRate {
	out := make([]DeathRate, 0, len(records))
	for _, r := range records {
		cases := r.Number(models.ColTotalCases)
		if cases <= 0 {
			continue
		}
		out = append(out, DeathRate{Country: r.Country, Rate: r.Number(models.ColTotalDeaths) / cases})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Rate > out[j].Rate
	})
	return out
}

// CorrelationRow holds Pearson coefficients of one column against every metric.
type CorrelationRow struct {
	Against models.Column
	Values  map[models.Column]float64
}

// CorrelationBases are the columns compared against every other metric.
var CorrelationBases = []models.Column{models.ColPopulation, models.ColTotalTests}

// Correlations computes Pearson coefficients between each base column and
// every numeric metric. Pairs that cannot be computed are NaN.
func Correlations(records []*models.ReconciledRecord) []CorrelationRow {
	columns := make(map[models.Column]stats.Float64Data, len(models.MetricColumns))
	for _, col := range models.MetricColumns {
		data := make(stats.Float64Data, 0, len(records))
		numeric := true
		for _, r := range records {
			v, ok := r.Value(col)
			if !ok {
				numeric = false
				break
			}
			data = append(data, v)
		}
		if numeric {
			columns[col] = data
		}
	}

	out := make([]CorrelationRow, 0, len(CorrelationBases))
	for _, base := range CorrelationBases {
		row := CorrelationRow{Against: base, Values: make(map[models.Column]float64, len(models.MetricColumns))}
		baseData, ok := columns[base]
		for _, col := range models.MetricColumns {
			data, numeric := columns[col]
			if !ok || !numeric {
				row.Values[col] = math.NaN()
				continue
			}
			coef, err := stats.Correlation(baseData, data)
			if err != nil {
				coef = math.NaN()
			}
			row.Values[col] = coef
		}
		out = append(out, row)
	}
	return out
}

// Totals are world-wide sums over the reconciled records.
type Totals struct {
	Countries      int
	TotalCases     float64
	TotalDeaths    float64
	TotalRecovered float64
	NewCases       float64
	NewDeaths      float64
	NewRecovered   float64
}

// Summarize sums the cumulative columns and the known deltas.
func Summarize(records []*models.ReconciledRecord) Totals {
	collect := func(get func(r *models.ReconciledRecord) (float64, bool)) float64 {
		data := make(stats.Float64Data, 0, len(records))
		for _, r := range records {
			if v, ok := get(r); ok {
				data = append(data, v)
			}
		}
		if len(data) == 0 {
			return 0
		}
		sum, _ := stats.Sum(data)
		return sum
	}
	column := func(col models.Column) func(r *models.ReconciledRecord) (float64, bool) {
		return func(r *models.ReconciledRecord) (float64, bool) { return r.Value(col) }
	}
	delta := func(pick func(r *models.ReconciledRecord) *float64) func(r *models.ReconciledRecord) (float64, bool) {
		return func(r *models.ReconciledRecord) (float64, bool) {
			if d := pick(r); d != nil {
				return *d, true
			}
			return 0, false
		}
	}

	return Totals{
		Countries:      len(records),
		TotalCases:     collect(column(models.ColTotalCases)),
		TotalDeaths:    collect(column(models.ColTotalDeaths)),
		TotalRecovered: collect(column(models.ColTotalRecovered)),
		NewCases:       collect(delta(func(r *models.ReconciledRecord) *float64 { return r.NewCases })),
		NewDeaths:      collect(delta(func(r *models.ReconciledRecord) *float64 { return r.NewDeaths })),
		NewRecovered:   collect(delta(func(r *models.ReconciledRecord) *float64 { return r.NewRecovered })),
	}
}
