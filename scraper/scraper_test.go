package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-covid/config"
	"github.com/aluiziolira/go-scrape-covid/models"
	"github.com/jarcoal/httpmock"
)

const testURL = "http://example.test/coronavirus/"

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.SourceURL = testURL
	cfg.Timeout = 2 * time.Second
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = 5 * time.Millisecond
	return cfg
}

func newTestScraper(t *testing.T, cfg *config.Config, transport *httpmock.MockTransport) *Scraper {
	t.Helper()
	s, err := NewScraper(cfg)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	s.collector.WithTransport(transport)
	return s
}

func TestRetryPolicyBackoffCapped(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RetryBackoff = 200 * time.Millisecond
	cfg.RetryBackoffMax = 500 * time.Millisecond

	rp := newRetryPolicy(cfg, NewMetrics())

	if delay := rp.backoff(4); delay > cfg.RetryBackoffMax {
		t.Fatalf("delay %v exceeds max %v", delay, cfg.RetryBackoffMax)
	}
	if delay := rp.backoff(1); delay != cfg.RetryBackoff {
		t.Fatalf("first delay = %v, want %v", delay, cfg.RetryBackoff)
	}
}

func TestRetryPolicyRespectsLimit(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxRetries = 1
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = time.Millisecond

	rp := newRetryPolicy(cfg, NewMetrics())
	if !rp.wait(context.Background(), 1) {
		t.Fatalf("first retry should proceed")
	}
	if rp.wait(context.Background(), 2) {
		t.Fatalf("second retry should be refused")
	}
	if got := rp.TotalRetries(); got != 1 {
		t.Fatalf("total retries = %d, want 1", got)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server error", err: errors.New("Internal Server Error"), statusCode: http.StatusInternalServerError, expected: "http_status"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestFetchExtractsDataRows(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testURL, htmlResponder(buildCovidPage(map[string][]country{
		cfg.TodayTableID: {
			{name: "USA", cases: "1,234,567", region: "North America"},
			{name: "India", cases: "999,000", region: "Asia"},
		},
		cfg.YesterdayTableID: {
			{name: "USA", cases: "1,200,000", region: "North America"},
		},
	})))

	s := newTestScraper(t, cfg, transport)

	snapshot, err := s.Fetch(context.Background(), cfg.TodayTableID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(snapshot.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(snapshot.Rows))
	}
	first := snapshot.Rows[0]
	if len(first) != models.RawColumnCount {
		t.Fatalf("row width = %d, want %d", len(first), models.RawColumnCount)
	}
	if first.Field(models.ColCountry) != "USA" || first.Field(models.ColTotalCases) != "1,234,567" {
		t.Fatalf("unexpected first row: %v", first)
	}
	if first.Field(models.ColRegion) != "North America" {
		t.Fatalf("region = %q, want North America", first.Field(models.ColRegion))
	}
	if snapshot.TableID != cfg.TodayTableID || snapshot.SourceURL != testURL {
		t.Fatalf("unexpected snapshot metadata: %s %s", snapshot.TableID, snapshot.SourceURL)
	}

	yesterday, err := s.Fetch(context.Background(), cfg.YesterdayTableID)
	if err != nil {
		t.Fatalf("fetch yesterday: %v", err)
	}
	if len(yesterday.Rows) != 1 || yesterday.Rows[0].Field(models.ColTotalCases) != "1,200,000" {
		t.Fatalf("unexpected yesterday rows: %v", yesterday.Rows)
	}

	if got := transport.GetTotalCallCount(); got != 2 {
		t.Fatalf("http calls = %d, want one per fetch", got)
	}
	if stats := s.Stats(); stats.RequestCount != 2 || stats.ErrorCount != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestFetchDropsSummaryRowsRegardlessOfContent(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	// Summary rows that look exactly like countries are still dropped.
	page := buildPage(cfg.TodayTableID, func(b *strings.Builder) {
		for i := 0; i < cfg.SkipRows; i++ {
			writeRow(b, `style=""`, country{name: fmt.Sprintf("Fake %d", i), cases: "1"})
		}
		writeRow(b, `style=""`, country{name: "Chile", cases: "10"})
	})
	transport.RegisterResponder("GET", testURL, htmlResponder(page))

	s := newTestScraper(t, cfg, transport)
	snapshot, err := s.Fetch(context.Background(), cfg.TodayTableID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(snapshot.Rows) != 1 || snapshot.Rows[0].Field(models.ColCountry) != "Chile" {
		t.Fatalf("unexpected rows: %v", snapshot.Rows)
	}
}

func TestFetchMissingTable(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testURL, htmlResponder(buildCovidPage(nil)))

	s := newTestScraper(t, cfg, transport)
	_, err := s.Fetch(context.Background(), cfg.TodayTableID)
	if !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("expected ErrTableNotFound, got %v", err)
	}
	if got := s.Stats().ErrorsByType["table_not_found"]; got != 1 {
		t.Fatalf("table_not_found count = %d, want 1", got)
	}
}

func TestFetchLayoutChanged(t *testing.T) {
	tests := []struct {
		name string
		body func(b *strings.Builder)
	}{
		{
			name: "too few rows",
			body: func(b *strings.Builder) {
				for i := 0; i < 3; i++ {
					writeRow(b, `style=""`, country{name: "X", cases: "1"})
				}
			},
		},
		{
			name: "short row",
			body: func(b *strings.Builder) {
				for i := 0; i < 7; i++ {
					writeRow(b, `style=""`, country{name: "X", cases: "1"})
				}
				b.WriteString(`<tr style=""><td>1</td><td>Chile</td></tr>`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder("GET", testURL, htmlResponder(buildPage(cfg.TodayTableID, tt.body)))

			s := newTestScraper(t, cfg, transport)
			if _, err := s.Fetch(context.Background(), cfg.TodayTableID); !errors.Is(err, ErrLayoutChanged) {
				t.Fatalf("expected ErrLayoutChanged, got %v", err)
			}
		})
	}
}

func TestFetchRowStyleFilter(t *testing.T) {
	page := func(id string) string {
		return buildPage(id, func(b *strings.Builder) {
			writeRow(b, `style="background-color: #EAF7D5"`, country{name: "Green", cases: "1"})
			writeRow(b, `style="background-color:#F0F0F0"`, country{name: "Grey", cases: "2"})
			writeRow(b, `style=""`, country{name: "Plain", cases: "3"})
			writeRow(b, `style="display: none"`, country{name: "Hidden", cases: "4"})
			writeRow(b, ``, country{name: "Unstyled", cases: "5"})
		})
	}

	tests := []struct {
		name   string
		styles []string
		want   string
	}{
		{name: "default markers keep any styled row", styles: nil, want: "Green,Grey,Plain,Hidden"},
		{name: "background markers only", styles: []string{"background-color:#EAF7D5", "background-color:#F0F0F0"}, want: "Green,Grey"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.SkipRows = 0
			if tt.styles != nil {
				cfg.RowStyles = tt.styles
			}
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder("GET", testURL, htmlResponder(page(cfg.TodayTableID)))

			s := newTestScraper(t, cfg, transport)
			snapshot, err := s.Fetch(context.Background(), cfg.TodayTableID)
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}

			var names []string
			for _, row := range snapshot.Rows {
				names = append(names, row.Field(models.ColCountry))
			}
			if got := strings.Join(names, ","); got != tt.want {
				t.Fatalf("rows = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFetchTrimsHiddenContinentRows(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	countries := []string{"USA", "India", "Brazil", "France", "Germany", "UK", "Italy", "Chile"}
	page := buildPage(cfg.TodayTableID, func(b *strings.Builder) {
		for i := 0; i < 6; i++ {
			writeRow(b, `style="display: none"`, country{name: fmt.Sprintf("Continent %d", i), cases: "100"})
		}
		writeRow(b, `style=""`, country{name: "World", cases: "1,000"})
		for _, name := range countries {
			writeRow(b, `style=""`, country{name: name, cases: "10"})
		}
	})
	transport.RegisterResponder("GET", testURL, htmlResponder(page))

	s := newTestScraper(t, cfg, transport)
	snapshot, err := s.Fetch(context.Background(), cfg.TodayTableID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	var names []string
	for _, row := range snapshot.Rows {
		names = append(names, row.Field(models.ColCountry))
	}
	if got, want := strings.Join(names, ","), strings.Join(countries, ","); got != want {
		t.Fatalf("rows = %s, want %s", got, want)
	}
}

func TestFetchHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusNotFound, expected: "not_found"},
		{status: http.StatusBadGateway, expected: "http_status"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			cfg := testConfig()
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder("GET", testURL, httpmock.NewStringResponder(tt.status, ""))

			s := newTestScraper(t, cfg, transport)
			if _, err := s.Fetch(context.Background(), cfg.TodayTableID); err == nil {
				t.Fatalf("expected error for status %d", tt.status)
			}
			if got := s.Stats().ErrorsByType[tt.expected]; got == 0 {
				t.Fatalf("expected %q classification for status %d, got %v", tt.expected, tt.status, s.Stats().ErrorsByType)
			}
		})
	}
}

func TestFetchRetriesRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	transport := httpmock.NewMockTransport()
	page := buildCovidPage(map[string][]country{
		cfg.TodayTableID: {{name: "Chile", cases: "10"}},
	})
	calls := 0
	transport.RegisterResponder("GET", testURL, func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return httpmock.NewStringResponse(http.StatusTooManyRequests, ""), nil
		}
		resp := httpmock.NewStringResponse(http.StatusOK, page)
		resp.Header.Set("Content-Type", "text/html")
		return resp, nil
	})

	s := newTestScraper(t, cfg, transport)
	snapshot, err := s.Fetch(context.Background(), cfg.TodayTableID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(snapshot.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(snapshot.Rows))
	}
	if got := s.Stats().RetryCount; got != 1 {
		t.Fatalf("retries = %d, want 1", got)
	}
}

func TestFetchNoRetryByDefault(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testURL, httpmock.NewStringResponder(http.StatusTooManyRequests, ""))

	s := newTestScraper(t, cfg, transport)
	if _, err := s.Fetch(context.Background(), cfg.TodayTableID); err == nil {
		t.Fatalf("expected error")
	}
	if got := transport.GetTotalCallCount(); got != 1 {
		t.Fatalf("http calls = %d, want 1", got)
	}
}

func TestFetchCancelledContext(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testURL, htmlResponder(buildCovidPage(nil)))

	s := newTestScraper(t, cfg, transport)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Fetch(ctx, cfg.TodayTableID); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := transport.GetTotalCallCount(); got != 0 {
		t.Fatalf("http calls = %d, want 0", got)
	}
}

type country struct {
	name   string
	cases  string
	region string
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

// buildCovidPage renders one table per id with seven continent summary rows
// ahead of the given countries.
func buildCovidPage(tables map[string][]country) string {
	var builder strings.Builder
	builder.WriteString("<html><body>")
	for id, countries := range tables {
		writeTable(&builder, id, func(b *strings.Builder) {
			for i := 0; i < 7; i++ {
				writeRow(b, `style="background-color:#F0F0F0"`, country{name: fmt.Sprintf("Continent %d", i), cases: "100,000"})
			}
			for _, c := range countries {
				writeRow(b, `style=""`, c)
			}
		})
	}
	builder.WriteString("</body></html>")
	return builder.String()
}

func buildPage(id string, body func(b *strings.Builder)) string {
	var builder strings.Builder
	builder.WriteString("<html><body>")
	writeTable(&builder, id, body)
	builder.WriteString("</body></html>")
	return builder.String()
}

func writeTable(b *strings.Builder, id string, body func(b *strings.Builder)) {
	fmt.Fprintf(b, "<table id=%q><thead><tr><th>#</th><th>Country</th></tr></thead><tbody>", id)
	body(b)
	b.WriteString("</tbody></table>")
}

// writeRow emits a 22-cell row in the source column order.
func writeRow(b *strings.Builder, attrs string, c country) {
	cells := []string{
		"1", c.name, c.cases, "+10", "1,000", "", "900", "", "100", "5",
		"3,000", "12", "10,000", "30,000", "331,000,000", c.region,
		"", "", "", "", "", "",
	}
	fmt.Fprintf(b, "<tr %s>", attrs)
	for _, cell := range cells {
		fmt.Fprintf(b, "<td> %s </td>", cell)
	}
	b.WriteString("</tr>")
}
