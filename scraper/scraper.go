package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-covid/config"
	"github.com/aluiziolira/go-scrape-covid/models"
	"github.com/gocolly/colly/v2"
)

// Scraper fetches the country tables from the statistics page.
type Scraper struct {
	cfg       *config.Config
	collector *colly.Collector
	retry     *retryPolicy
	styles    []string
	Metrics   *Metrics

	requestCount int64
	errorCount   int64

	mu           sync.Mutex
	errorsByType map[string]int
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	parsed, err := url.Parse(cfg.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("source url must include a host")
	}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	styles := make([]string, 0, len(cfg.RowStyles))
	for _, style := range cfg.RowStyles {
		styles = append(styles, normalizeStyle(style))
	}

	metrics := NewMetrics()
	return &Scraper{
		cfg:          cfg,
		collector:    collector,
		retry:        newRetryPolicy(cfg, metrics),
		styles:       styles,
		Metrics:      metrics,
		errorsByType: make(map[string]int),
	}, nil
}

// Fetch downloads the page once and extracts the table with the given id.
// The first cfg.SkipRows data rows are summary rows and are dropped.
func (s *Scraper) Fetch(ctx context.Context, tableID string) (*models.Snapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		snapshot, err := s.fetchOnce(ctx, tableID)
		if err == nil {
			return snapshot, nil
		}
		if !retryable(err) || !s.retry.wait(ctx, attempt+1) {
			return nil, err
		}
		slog.Warn("retrying fetch",
			slog.String("table", tableID),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err),
		)
	}
}

// Stats returns request counters accumulated over all fetches.
func (s *Scraper) Stats() models.FetchStats {
	s.mu.Lock()
	byType := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		byType[k] = v
	}
	s.mu.Unlock()

	return models.FetchStats{
		RequestCount: int(atomic.LoadInt64(&s.requestCount)),
		ErrorCount:   int(atomic.LoadInt64(&s.errorCount)),
		RetryCount:   s.retry.TotalRetries(),
		ErrorsByType: byType,
	}
}

func (s *Scraper) fetchOnce(ctx context.Context, tableID string) (*models.Snapshot, error) {
	c := s.collector.Clone()

	var (
		found     bool
		rows      []models.RawRow
		statusErr error
	)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		r.Ctx.Put("start", time.Now())
		atomic.AddInt64(&s.requestCount, 1)
		s.Metrics.IncRequest("started")
		slog.Debug("fetching table",
			slog.String("table", tableID),
			slog.String("url", r.URL.String()),
		)
	})

	c.OnResponse(func(r *colly.Response) {
		s.Metrics.IncRequest("completed")
		if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
			s.Metrics.ObserveDuration(time.Since(start))
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		statusCode := 0
		if r != nil {
			statusCode = r.StatusCode
		}
		statusErr = classifyError(err, statusCode)
	})

	c.OnHTML(fmt.Sprintf("table[id=%q]", tableID), func(e *colly.HTMLElement) {
		if found {
			return
		}
		found = true
		rows = s.extractRows(e.DOM)
	})

	visitErr := c.Visit(s.cfg.SourceURL)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var err error
	switch {
	case statusErr != nil:
		err = statusErr
	case visitErr != nil:
		err = classifyError(visitErr, 0)
	case !found:
		err = fmt.Errorf("%w: %q", ErrTableNotFound, tableID)
	default:
		rows, err = s.trimRows(rows)
	}
	if err != nil {
		s.recordError(tableID, err)
		return nil, err
	}

	s.Metrics.AddRows(tableID, len(rows))
	slog.Debug("table extracted", slog.String("table", tableID), slog.Int("rows", len(rows)))

	return &models.Snapshot{
		TableID:   tableID,
		SourceURL: s.cfg.SourceURL,
		FetchedAt: time.Now(),
		Rows:      rows,
	}, nil
}

// extractRows collects the trimmed cell texts of every styled data row in
// the table's first body.
func (s *Scraper) extractRows(table *goquery.Selection) []models.RawRow {
	var rows []models.RawRow
	table.Find("tbody").First().Find("tr").Each(func(_ int, tr *goquery.Selection) {
		style, ok := tr.Attr("style")
		if !ok || !s.matchStyle(style) {
			return
		}
		cells := tr.Find("td")
		row := make(models.RawRow, 0, cells.Length())
		cells.Each(func(_ int, td *goquery.Selection) {
			row = append(row, strings.TrimSpace(td.Text()))
		})
		rows = append(rows, row)
	})
	return rows
}

// trimRows drops the leading summary rows and the trailing placeholder cells.
func (s *Scraper) trimRows(rows []models.RawRow) ([]models.RawRow, error) {
	if len(rows) <= s.cfg.SkipRows {
		return nil, fmt.Errorf("%w: %d styled rows, expected more than %d", ErrLayoutChanged, len(rows), s.cfg.SkipRows)
	}

	out := make([]models.RawRow, 0, len(rows)-s.cfg.SkipRows)
	for i, row := range rows[s.cfg.SkipRows:] {
		if len(row) < models.RawColumnCount {
			return nil, fmt.Errorf("%w: row %d has %d cells, expected at least %d", ErrLayoutChanged, i+s.cfg.SkipRows, len(row), models.RawColumnCount)
		}
		out = append(out, row[:models.RawColumnCount:models.RawColumnCount])
	}
	return out, nil
}

// matchStyle reports whether a row's style attribute marks it as a data row.
// The empty marker accepts any value, so hidden continent rows are kept
// for the summary trim to remove.
func (s *Scraper) matchStyle(style string) bool {
	style = normalizeStyle(style)
	for _, marker := range s.styles {
		if marker == "" || strings.Contains(style, marker) {
			return true
		}
	}
	return false
}

func normalizeStyle(style string) string {
	return strings.ToLower(strings.Join(strings.Fields(style), ""))
}

func (s *Scraper) recordError(tableID string, err error) {
	atomic.AddInt64(&s.errorCount, 1)
	category := errorTypeLabel(err)

	s.mu.Lock()
	s.errorsByType[category]++
	s.mu.Unlock()

	s.Metrics.IncError(category)
	slog.Error("fetch error",
		slog.String("table", tableID),
		slog.String("category", category),
		slog.Any("error", err),
	)
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		}
		if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
			return ErrHTTPStatus{StatusCode: statusCode, Err: wrapped}
		}
	}

	return err
}

type retryPolicy struct {
	cfg     *config.Config
	metrics *Metrics

	mu           sync.Mutex
	totalRetries int
}

func newRetryPolicy(cfg *config.Config, metrics *Metrics) *retryPolicy {
	return &retryPolicy{cfg: cfg, metrics: metrics}
}

// wait sleeps before the given retry attempt and reports whether it may proceed.
func (rp *retryPolicy) wait(ctx context.Context, attempt int) bool {
	if attempt > rp.cfg.MaxRetries {
		return false
	}

	timer := time.NewTimer(rp.backoff(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}

	rp.mu.Lock()
	rp.totalRetries++
	rp.mu.Unlock()
	rp.metrics.IncRetries()
	return true
}

func (rp *retryPolicy) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rp.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := rp.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func (rp *retryPolicy) TotalRetries() int {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.totalRetries
}
