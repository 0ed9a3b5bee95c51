package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-covid/models"
)

// recordHeader is the column order shared by the tabular writers.
func recordHeader() []string {
	header := []string{"country", "country_region", "location_code"}
	for _, col := range models.MetricColumns {
		header = append(header, fieldName(col))
	}
	return append(header, "new_cases", "new_deaths", "new_recovered")
}

// recordFields renders a record in recordHeader order. Unknown deltas are
// left empty.
func recordFields(record *models.ReconciledRecord) []string {
	fields := []string{record.Country, record.Region, record.LocationCode}
	for _, col := range models.MetricColumns {
		if v, ok := record.Value(col); ok {
			fields = append(fields, formatNumber(v))
			continue
		}
		fields = append(fields, record.Texts[col])
	}
	for _, d := range []*float64{record.NewCases, record.NewDeaths, record.NewRecovered} {
		if d == nil {
			fields = append(fields, "")
			continue
		}
		fields = append(fields, formatNumber(*d))
	}
	return fields
}

func fieldName(col models.Column) string {
	name := strings.ToLower(col.String())
	name = strings.ReplaceAll(name, "/1m pop", "_per_million")
	name = strings.ReplaceAll(name, "tot cases", "cases")
	return strings.ReplaceAll(name, " ", "_")
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// CSVWriter writes records to CSV.
type CSVWriter struct {
	file    *os.File
	writer  *csv.Writer
	records int
	mu      sync.Mutex
}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(recordHeader()); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Write appends records to the CSV output.
func (cw *CSVWriter) Write(records []*models.ReconciledRecord) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, record := range records {
		if err := cw.writer.Write(recordFields(record)); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
		cw.records++
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures at least one record was written below the header.
func (cw *CSVWriter) Validate() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.records == 0 {
		return fmt.Errorf("csv: %w", ErrNoRecords)
	}
	info, err := cw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// jsonRecord is the JSONL shape of a reconciled record.
type jsonRecord struct {
	Country      string             `json:"country"`
	Region       string             `json:"country_region"`
	LocationCode string             `json:"location_code,omitempty"`
	Metrics      map[string]float64 `json:"metrics"`
	Text         map[string]string  `json:"text,omitempty"`
	NewCases     *float64           `json:"new_cases"`
	NewDeaths    *float64           `json:"new_deaths"`
	NewRecovered *float64           `json:"new_recovered"`
}

func toJSONRecord(record *models.ReconciledRecord) jsonRecord {
	out := jsonRecord{
		Country:      record.Country,
		Region:       record.Region,
		LocationCode: record.LocationCode,
		Metrics:      make(map[string]float64, len(record.Numbers)),
		NewCases:     record.NewCases,
		NewDeaths:    record.NewDeaths,
		NewRecovered: record.NewRecovered,
	}
	for col, v := range record.Numbers {
		out.Metrics[fieldName(col)] = v
	}
	if len(record.Texts) > 0 {
		out.Text = make(map[string]string, len(record.Texts))
		for col, v := range record.Texts {
			out.Text[fieldName(col)] = v
		}
	}
	return out
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	records int
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends records in JSONL format.
func (jw *JSONWriter) Write(records []*models.ReconciledRecord) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, record := range records {
		if err := jw.encoder.Encode(toJSONRecord(record)); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
		jw.records++
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}

	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file holds at least one record.
func (jw *JSONWriter) Validate() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.records == 0 {
		return fmt.Errorf("json: %w", ErrNoRecords)
	}
	info, err := jw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("json file is empty")
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
