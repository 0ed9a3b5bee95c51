package main

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aluiziolira/go-scrape-covid/config"
)

func TestConfigPathFromArgs(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{args: []string{"-config", "a.yaml"}, want: "a.yaml"},
		{args: []string{"--config=b.yaml", "-v"}, want: "b.yaml"},
		{args: []string{"-v", "-top", "5"}, want: ""},
		{args: []string{"config", "c.yaml"}, want: ""},
		{args: []string{"-config"}, want: ""},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			if got := configPathFromArgs(tt.args); got != tt.want {
				t.Fatalf("configPathFromArgs(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestCreateWriterUnsupported(t *testing.T) {
	if _, err := createWriter("parquet", filepath.Join(t.TempDir(), "x")); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}

func TestRunEndToEnd(t *testing.T) {
	cfg := config.DefaultConfig()
	page := buildPage(map[string][][2]string{
		cfg.TodayTableID:     {{"USA", "1,000,100"}, {"France", "500,010"}, {"Atlantis", "7"}},
		cfg.YesterdayTableID: {{"France", "500,000"}, {"USA", "1,000,000"}},
	})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, page)
	}))
	defer server.Close()

	dir := t.TempDir()
	codes := filepath.Join(dir, "Country.csv")
	if err := os.WriteFile(codes, []byte("Country;Alpha Code 3\nUSA;USA\nFrance;FRA\n"), 0o644); err != nil {
		t.Fatalf("write codes: %v", err)
	}

	cfg.SourceURL = server.URL + "/coronavirus/"
	cfg.OutputFile = filepath.Join(dir, "countries.csv")
	cfg.CountryCodesFile = codes
	cfg.Country = "France"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	var out bytes.Buffer
	if err := run(cfg, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "France (FRA)") || !strings.Contains(out.String(), "Report complete") {
		t.Fatalf("unexpected report output:\n%s", out.String())
	}

	f, err := os.Open(cfg.OutputFile)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want header + 3", len(rows))
	}
	newCases := len(rows[0]) - 3
	if rows[1][0] != "USA" || rows[1][2] != "USA" || rows[1][newCases] != "100" {
		t.Fatalf("unexpected first row: %v", rows[1])
	}
	if rows[2][0] != "France" || rows[2][newCases] != "10" {
		t.Fatalf("unexpected second row: %v", rows[2])
	}
	if rows[3][0] != "Atlantis" || rows[3][newCases] != "" {
		t.Fatalf("unexpected third row: %v", rows[3])
	}
}

func buildPage(tables map[string][][2]string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for id, countries := range tables {
		fmt.Fprintf(&b, "<table id=%q><tbody>", id)
		for i := 0; i < 7; i++ {
			writeRow(&b, "background-color:#F0F0F0", fmt.Sprintf("Continent %d", i), "1")
		}
		for _, c := range countries {
			writeRow(&b, "", c[0], c[1])
		}
		b.WriteString("</tbody></table>")
	}
	b.WriteString("</body></html>")
	return b.String()
}

func writeRow(b *strings.Builder, style, name, cases string) {
	cells := []string{"1", name, cases, "", "10", "", "5", "", "1", "", "1", "1", "100", "1", "1,000", "Region", "", "", "", "", "", ""}
	fmt.Fprintf(b, "<tr style=%q>", style)
	for _, cell := range cells {
		fmt.Fprintf(b, "<td>%s</td>", cell)
	}
	b.WriteString("</tr>")
}
