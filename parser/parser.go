package parser

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-covid/models"
)

// ValidateRow ensures the scraper captured a usable country row.
func ValidateRow(row models.RawRow) error {
	if len(row) < models.RawColumnCount {
		return fmt.Errorf("row has %d cells, want %d", len(row), models.RawColumnCount)
	}
	if strings.TrimSpace(row.Field(models.ColCountry)) == "" {
		return fmt.Errorf("row missing country")
	}
	return nil
}

// NormalizeNumber strips surrounding whitespace and thousands separators.
func NormalizeNumber(text string) string {
	return strings.ReplaceAll(strings.TrimSpace(text), ",", "")
}

// ParseNumber converts a table cell such as "1,234,567" or "+12.5".
func ParseNumber(text string) (float64, bool) {
	clean := NormalizeNumber(text)
	if clean == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Coerce converts a snapshot into country records sorted by country name.
//
// A metric column is numeric when at least one of its cells parses; its
// unparseable cells become zero. A column where nothing parses keeps its
// original text.
func Coerce(snapshot *models.Snapshot) ([]*models.CountryRecord, models.CoercionStats) {
	stats := models.CoercionStats{ZeroFilled: make(map[models.Column]int)}
	if snapshot == nil {
		return nil, stats
	}

	rows := make([]models.RawRow, 0, len(snapshot.Rows))
	seen := make(map[string]struct{}, len(snapshot.Rows))
	for _, row := range snapshot.Rows {
		if ValidateRow(row) != nil {
			stats.InvalidRows++
			continue
		}
		rows = append(rows, row)
		name := strings.TrimSpace(row.Field(models.ColCountry))
		if _, dup := seen[name]; dup {
			stats.Duplicates = append(stats.Duplicates, name)
			continue
		}
		seen[name] = struct{}{}
	}
	stats.Rows = len(rows)

	numeric := make(map[models.Column]bool, len(models.MetricColumns))
	for _, col := range models.MetricColumns {
		for _, row := range rows {
			if _, ok := ParseNumber(row.Field(col)); ok {
				numeric[col] = true
				break
			}
		}
		if !numeric[col] {
			stats.TextColumns = append(stats.TextColumns, col)
		}
	}

	records := make([]*models.CountryRecord, 0, len(rows))
	for _, row := range rows {
		record := &models.CountryRecord{
			Country: strings.TrimSpace(row.Field(models.ColCountry)),
			Region:  strings.TrimSpace(row.Field(models.ColRegion)),
			Numbers: make(map[models.Column]float64, len(models.MetricColumns)),
		}
		for _, col := range models.MetricColumns {
			cell := row.Field(col)
			if !numeric[col] {
				if record.Texts == nil {
					record.Texts = make(map[models.Column]string)
				}
				record.Texts[col] = cell
				continue
			}
			v, ok := ParseNumber(cell)
			if !ok {
				stats.ZeroFilled[col]++
			}
			record.Numbers[col] = v
		}
		records = append(records, record)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Country < records[j].Country
	})
	return records, stats
}
