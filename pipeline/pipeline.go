package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-covid/config"
	"github.com/aluiziolira/go-scrape-covid/models"
	"github.com/aluiziolira/go-scrape-covid/parser"
)

var (
	// ErrPipelineClosed is returned when Run is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrNoRecords is returned by Validate when a writer received no records.
	ErrNoRecords = errors.New("pipeline: no records written")
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(records []*models.ReconciledRecord) error
	Close() error
	Validate() error
}

// Fetcher returns one snapshot of the table with the given id.
type Fetcher interface {
	Fetch(ctx context.Context, tableID string) (*models.Snapshot, error)
}

// LocationResolver maps a country name to a location code.
type LocationResolver interface {
	Resolve(name string) (code string, score float64, ok bool)
}

type statsReporter interface {
	Stats() models.FetchStats
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithResolver attaches location codes to the reconciled records.
func WithResolver(r LocationResolver) Option {
	return func(p *Pipeline) {
		p.resolver = r
	}
}

// Pipeline runs fetch, coercion, reconciliation and output in sequence.
type Pipeline struct {
	fetcher  Fetcher
	writer   OutputWriter
	resolver LocationResolver
	cfg      *config.Config

	metrics metrics

	mu     sync.Mutex
	closed bool
}

// NewPipeline builds a pipeline over the given fetcher and writer.
func NewPipeline(fetcher Fetcher, writer OutputWriter, cfg *config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher: fetcher,
		writer:  writer,
		cfg:     cfg,
		metrics: newMetrics(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run fetches both snapshots, reconciles them and writes the records.
func (p *Pipeline) Run(ctx context.Context) (*models.Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPipelineClosed
	}

	report := &models.Report{StartTime: time.Now()}
	defer func() {
		report.EndTime = time.Now()
		if sr, ok := p.fetcher.(statsReporter); ok {
			report.Fetch = sr.Stats()
		}
	}()

	today, err := p.fetch(ctx, models.CaptureToday, p.cfg.TodayTableID)
	if err != nil {
		return report, err
	}
	yesterday, err := p.fetch(ctx, models.CaptureYesterday, p.cfg.YesterdayTableID)
	if err != nil {
		return report, err
	}
	report.TodayRows = len(today.Rows)
	report.YesterdayRows = len(yesterday.Rows)

	todayRecords, todayStats := parser.Coerce(today)
	yesterdayRecords, yesterdayStats := parser.Coerce(yesterday)
	report.TodayStats = todayStats
	report.YesterdayStats = yesterdayStats
	p.metrics.add("zero_filled_cell", todayStats.TotalZeroFilled()+yesterdayStats.TotalZeroFilled())
	p.metrics.add("duplicate_country", len(todayStats.Duplicates)+len(yesterdayStats.Duplicates))
	p.metrics.add("invalid_row", todayStats.InvalidRows+yesterdayStats.InvalidRows)
	if todayStats.InvalidRows+yesterdayStats.InvalidRows > 0 {
		slog.Warn("rows skipped during coercion",
			slog.Int("today", todayStats.InvalidRows),
			slog.Int("yesterday", yesterdayStats.InvalidRows),
		)
	}
	for _, col := range todayStats.TextColumns {
		slog.Warn("column kept as text", slog.String("capture", string(models.CaptureToday)), slog.String("column", col.String()))
	}

	result := Reconcile(todayRecords, yesterdayRecords)
	report.Records = result.Records
	report.Unmatched = result.Unmatched
	report.Vanished = result.Vanished
	p.metrics.add("unmatched_country", len(result.Unmatched))
	p.metrics.add("vanished_country", len(result.Vanished))
	if len(result.Unmatched) > 0 {
		slog.Warn("countries missing from yesterday's table",
			slog.Int("count", len(result.Unmatched)),
			slog.Any("countries", result.Unmatched),
		)
	}
	if len(result.Vanished) > 0 {
		slog.Warn("countries missing from today's table",
			slog.Int("count", len(result.Vanished)),
			slog.Any("countries", result.Vanished),
		)
	}

	if p.resolver != nil {
		p.resolveLocations(result.Records)
	}

	if err := p.writer.Write(result.Records); err != nil {
		return report, fmt.Errorf("write records: %w", err)
	}
	p.metrics.incrementProcessed(len(result.Records))

	return report, nil
}

// Close prevents further runs.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

func (p *Pipeline) fetch(ctx context.Context, capture models.Capture, tableID string) (*models.Snapshot, error) {
	snapshot, err := p.fetcher.Fetch(ctx, tableID)
	if err != nil {
		return nil, fmt.Errorf("fetch %s table %q: %w", capture, tableID, err)
	}
	snapshot.Capture = capture
	slog.Info("snapshot fetched",
		slog.String("capture", string(capture)),
		slog.String("table", tableID),
		slog.Int("rows", len(snapshot.Rows)),
	)
	return snapshot, nil
}

func (p *Pipeline) resolveLocations(records []*models.ReconciledRecord) {
	for _, record := range records {
		code, score, ok := p.resolver.Resolve(record.Country)
		if !ok {
			p.metrics.add("missing_location_code", 1)
			slog.Debug("no location code", slog.String("country", record.Country))
			continue
		}
		if score < 1 {
			slog.Debug("fuzzy location match",
				slog.String("country", record.Country),
				slog.String("code", code),
				slog.Float64("score", score),
			)
		}
		record.LocationCode = code
	}
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed(n int) {
	m.mu.Lock()
	m.processed += int64(n)
	m.mu.Unlock()
}

func (m *metrics) add(kind string, n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.validation[kind] += n
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_countries": m.processed,
		"validation_errors":   copyValidation,
	}
}
