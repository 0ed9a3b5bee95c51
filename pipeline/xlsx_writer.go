package pipeline

import (
	"fmt"
	"os"
	"sync"

	"github.com/aluiziolira/go-scrape-covid/models"
	"github.com/xuri/excelize/v2"
)

// XLSXSheet is the sheet the records are written to.
const XLSXSheet = "Countries"

// XLSXWriter writes records to a single-sheet workbook. The workbook is
// saved after every Write.
type XLSXWriter struct {
	path    string
	file    *excelize.File
	row     int
	records int
	mu      sync.Mutex
}

// NewXLSXWriter creates the workbook and writes the header row.
func NewXLSXWriter(filename string) (*XLSXWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", XLSXSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	xw := &XLSXWriter{path: filename, file: f, row: 1}
	header := recordHeader()
	cells := make([]interface{}, len(header))
	for i, h := range header {
		cells[i] = h
	}
	if err := xw.writeRow(cells); err != nil {
		f.Close()
		return nil, fmt.Errorf("write xlsx header: %w", err)
	}
	return xw, nil
}

// Write appends records and saves the workbook.
func (xw *XLSXWriter) Write(records []*models.ReconciledRecord) error {
	xw.mu.Lock()
	defer xw.mu.Unlock()

	for _, record := range records {
		if err := xw.writeRow(xlsxCells(record)); err != nil {
			return fmt.Errorf("write xlsx record: %w", err)
		}
		xw.records++
	}
	if err := xw.file.SaveAs(xw.path); err != nil {
		return fmt.Errorf("save xlsx: %w", err)
	}
	return nil
}

// Close releases the workbook.
func (xw *XLSXWriter) Close() error {
	xw.mu.Lock()
	defer xw.mu.Unlock()
	return xw.file.Close()
}

// Validate ensures the workbook was saved with content.
func (xw *XLSXWriter) Validate() error {
	xw.mu.Lock()
	records := xw.records
	xw.mu.Unlock()
	if records == 0 {
		return fmt.Errorf("xlsx: %w", ErrNoRecords)
	}

	info, err := os.Stat(xw.path)
	if err != nil {
		return fmt.Errorf("stat xlsx file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("xlsx file is empty")
	}
	return nil
}

func (xw *XLSXWriter) writeRow(values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, xw.row)
	if err != nil {
		return err
	}
	if err := xw.file.SetSheetRow(XLSXSheet, cell, &values); err != nil {
		return err
	}
	xw.row++
	return nil
}

// xlsxCells keeps numbers numeric so spreadsheet formulas work.
func xlsxCells(record *models.ReconciledRecord) []interface{} {
	cells := []interface{}{record.Country, record.Region, record.LocationCode}
	for _, col := range models.MetricColumns {
		if v, ok := record.Value(col); ok {
			cells = append(cells, v)
			continue
		}
		cells = append(cells, record.Texts[col])
	}
	for _, d := range []*float64{record.NewCases, record.NewDeaths, record.NewRecovered} {
		if d == nil {
			cells = append(cells, nil)
			continue
		}
		cells = append(cells, *d)
	}
	return cells
}
