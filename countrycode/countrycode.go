// Package countrycode maps country names from the statistics table to
// ISO 3166 alpha-3 location codes.
package countrycode

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/antzucaro/matchr"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrMissingColumn is returned when the reference table lacks a required header.
var ErrMissingColumn = errors.New("countrycode: missing column")

// Entry is one row of the reference table.
type Entry struct {
	Country string
	Alpha3  string
	Numeric string
}

// Table is the loaded reference table.
type Table struct {
	entries []Entry
	byName  map[string]Entry
}

// Load reads a semicolon-delimited reference file.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open country codes: %w", err)
	}
	defer f.Close()

	table, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return table, nil
}

// Parse reads the reference table from r. The header must name the
// "Country" and "Alpha Code 3" columns; "Numeric" is optional.
func Parse(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	countryIdx, alphaIdx, numericIdx := -1, -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case "Country":
			countryIdx = i
		case "Alpha Code 3":
			alphaIdx = i
		case "Numeric":
			numericIdx = i
		}
	}
	if countryIdx < 0 {
		return nil, fmt.Errorf("%w: Country", ErrMissingColumn)
	}
	if alphaIdx < 0 {
		return nil, fmt.Errorf("%w: Alpha Code 3", ErrMissingColumn)
	}

	table := &Table{byName: make(map[string]Entry)}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		entry := Entry{
			Country: field(record, countryIdx),
			Alpha3:  strings.ToUpper(field(record, alphaIdx)),
			Numeric: field(record, numericIdx),
		}
		if entry.Country == "" || entry.Alpha3 == "" {
			continue
		}
		if _, dup := table.byName[entry.Country]; dup {
			continue
		}
		table.byName[entry.Country] = entry
		table.entries = append(table.entries, entry)
	}
	return table, nil
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Lookup returns the entry for an exact country name.
func (t *Table) Lookup(name string) (Entry, bool) {
	e, ok := t.byName[name]
	return e, ok
}

type resolution struct {
	code  string
	score float64
	ok    bool
}

// Resolver resolves names exactly first, then by Jaro-Winkler similarity.
// Results, including misses, are cached.
type Resolver struct {
	table     *Table
	threshold float64
	cache     *lru.Cache[string, resolution]
}

// NewResolver builds a resolver. A threshold of 1 disables fuzzy matching.
func NewResolver(table *Table, threshold float64, cacheSize int) (*Resolver, error) {
	if table == nil {
		return nil, fmt.Errorf("countrycode: nil table")
	}
	cache, err := lru.New[string, resolution](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create resolution cache: %w", err)
	}
	return &Resolver{table: table, threshold: threshold, cache: cache}, nil
}

// Resolve returns the alpha-3 code for name and the similarity score of the
// matched reference name (1 for an exact match).
func (r *Resolver) Resolve(name string) (string, float64, bool) {
	name = strings.TrimSpace(name)
	if cached, ok := r.cache.Get(name); ok {
		return cached.code, cached.score, cached.ok
	}

	res := r.resolve(name)
	r.cache.Add(name, res)
	return res.code, res.score, res.ok
}

func (r *Resolver) resolve(name string) resolution {
	if name == "" {
		return resolution{}
	}
	if e, ok := r.table.Lookup(name); ok {
		return resolution{code: e.Alpha3, score: 1, ok: true}
	}
	if r.threshold >= 1 {
		return resolution{}
	}

	var best Entry
	var bestScore float64
	for _, e := range r.table.entries {
		score := matchr.JaroWinkler(name, e.Country, false)
		if score > bestScore {
			bestScore = score
			best = e
		}
	}
	if bestScore < r.threshold || bestScore == 0 {
		return resolution{score: bestScore}
	}
	return resolution{code: best.Alpha3, score: bestScore, ok: true}
}
