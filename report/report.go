// Package report renders the reconciled country records as terminal tables.
package report

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/aluiziolira/go-scrape-covid/models"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
)

// ErrCountryNotFound is returned by RenderCountry for an unknown name.
var ErrCountryNotFound = errors.New("report: country not found")

// NewTable returns a rounded table writer mirroring to w.
func NewTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

// RenderSummary prints world-wide totals.
func RenderSummary(w io.Writer, records []*models.ReconciledRecord) {
	totals := Summarize(records)
	t := NewTable(w)
	t.SetTitle("World")
	t.AppendHeader(table.Row{"Countries", "Total Cases", "Total Deaths", "Total Recovered", "New Cases", "New Deaths", "New Recovered"})
	t.AppendRow(table.Row{
		totals.Countries,
		count(totals.TotalCases),
		count(totals.TotalDeaths),
		count(totals.TotalRecovered),
		count(totals.NewCases),
		count(totals.NewDeaths),
		count(totals.NewRecovered),
	})
	t.Render()
}

// RenderTop prints the first n records; n <= 0 prints all of them.
func RenderTop(w io.Writer, records []*models.ReconciledRecord, n int) {
	if n <= 0 || n > len(records) {
		n = len(records)
	}
	t := NewTable(w)
	t.SetTitle(fmt.Sprintf("Top %d countries by total cases", n))
	t.AppendHeader(table.Row{"#", "Country", "Total Cases", "New Cases", "Total Deaths", "New Deaths", "Total Recovered", "New Recovered", "Active Cases"})
	for i, r := range records[:n] {
		t.AppendRow(table.Row{
			i + 1,
			r.Country,
			count(r.Number(models.ColTotalCases)),
			deltaCount(r.NewCases),
			count(r.Number(models.ColTotalDeaths)),
			deltaCount(r.NewDeaths),
			count(r.Number(models.ColTotalRecovered)),
			deltaCount(r.NewRecovered),
			count(r.Number(models.ColActiveCases)),
		})
	}
	t.Render()
}

// RenderCountry prints the detail card of one country, matched case-insensitively.
func RenderCountry(w io.Writer, records []*models.ReconciledRecord, name string) error {
	var found *models.ReconciledRecord
	for _, r := range records {
		if strings.EqualFold(r.Country, strings.TrimSpace(name)) {
			found = r
			break
		}
	}
	if found == nil {
		return fmt.Errorf("%w: %q", ErrCountryNotFound, name)
	}

	t := NewTable(w)
	title := found.Country
	if found.LocationCode != "" {
		title = fmt.Sprintf("%s (%s)", found.Country, found.LocationCode)
	}
	t.SetTitle(title)
	t.AppendRows([]table.Row{
		{"Total Cases", count(found.Number(models.ColTotalCases))},
		{"Total Deaths", count(found.Number(models.ColTotalDeaths))},
		{"Total Recovered", count(found.Number(models.ColTotalRecovered))},
		{"New Cases", deltaCount(found.NewCases)},
		{"New Deaths", deltaCount(found.NewDeaths)},
		{"New Recovered", deltaCount(found.NewRecovered)},
	})
	t.Render()
	return nil
}

// RenderRegions prints Total Cases per region.
func RenderRegions(w io.Writer, records []*models.ReconciledRecord) {
	t := NewTable(w)
	t.SetTitle("Total cases by region")
	t.AppendHeader(table.Row{"Region", "Countries", "Total Cases"})
	for _, total := range RegionTotals(records) {
		t.AppendRow(table.Row{total.Region, total.Countries, count(total.TotalCases)})
	}
	t.Render()
}

// RenderDeathRates prints the n highest deaths-per-case ratios.
func RenderDeathRates(w io.Writer, records []*models.ReconciledRecord, n int) {
	rates := DeathRates(records)
	if n > 0 && n < len(rates) {
		rates = rates[:n]
	}
	t := NewTable(w)
	t.SetTitle("Deaths per case")
	t.AppendHeader(table.Row{"Country", "Deaths/Cases"})
	for _, rate := range rates {
		t.AppendRow(table.Row{rate.Country, fmt.Sprintf("%.2f%%", rate.Rate*100)})
	}
	t.Render()
}

// RenderCorrelations prints Pearson coefficients of Population and Total
// Tests against every metric.
func RenderCorrelations(w io.Writer, records []*models.ReconciledRecord) {
	t := NewTable(w)
	t.SetTitle("Correlation")
	header := table.Row{""}
	for _, col := range models.MetricColumns {
		header = append(header, col.String())
	}
	t.AppendHeader(header)
	for _, row := range Correlations(records) {
		cells := table.Row{row.Against.String()}
		for _, col := range models.MetricColumns {
			v := row.Values[col]
			if math.IsNaN(v) {
				cells = append(cells, "-")
				continue
			}
			cells = append(cells, fmt.Sprintf("%.2f", v))
		}
		t.AppendRow(cells)
	}
	t.Render()
}

// Render prints every section in report order.
func Render(w io.Writer, rep *models.Report, topN int, country string) error {
	RenderSummary(w, rep.Records)
	RenderTop(w, rep.Records, topN)
	if country != "" {
		if err := RenderCountry(w, rep.Records, country); err != nil {
			return err
		}
	}
	RenderRegions(w, rep.Records)
	RenderDeathRates(w, rep.Records, topN)
	RenderCorrelations(w, rep.Records)
	return nil
}

func count(v float64) string {
	return humanize.Comma(int64(math.Round(v)))
}

func deltaCount(d *float64) string {
	if d == nil {
		return "n/a"
	}
	return count(*d)
}
