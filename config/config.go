package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds scraper configuration.
type Config struct {
	SourceURL        string        `yaml:"source_url"`
	TodayTableID     string        `yaml:"today_table_id"`
	YesterdayTableID string        `yaml:"yesterday_table_id"`
	SkipRows         int           `yaml:"skip_rows"`
	RowStyles        []string      `yaml:"row_styles"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax  time.Duration `yaml:"retry_backoff_max"`
	UserAgent        string        `yaml:"user_agent"`

	OutputFile   string `yaml:"output_file"`
	OutputFormat string `yaml:"output_format"` // csv, json, dual, or xlsx

	CountryCodesFile string  `yaml:"country_codes_file"`
	MatchThreshold   float64 `yaml:"match_threshold"`
	CodeCacheSize    int     `yaml:"code_cache_size"`

	TopN        int    `yaml:"top_n"`
	Country     string `yaml:"country"`
	MetricsAddr string `yaml:"metrics_addr"`
	Verbose     bool   `yaml:"verbose"`
}

// DefaultConfig returns defaults for the Worldometer country table.
func DefaultConfig() *Config {
	return &Config{
		SourceURL:        "https://www.worldometers.info/coronavirus/",
		TodayTableID:     "main_table_countries_today",
		YesterdayTableID: "main_table_countries_yesterday2",
		SkipRows:         7,
		RowStyles:        []string{"background-color:#EAF7D5", "background-color:#F0F0F0", ""},
		Timeout:          30 * time.Second,
		MaxRetries:       0,
		RetryBackoff:     500 * time.Millisecond,
		RetryBackoffMax:  5 * time.Second,
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		OutputFile:       "output/countries.csv",
		OutputFormat:     "csv",
		MatchThreshold:   0.93,
		CodeCacheSize:    512,
		TopN:             20,
	}
}

// LoadFile overlays the YAML file at path onto cfg.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	return nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.SourceURL == "" {
		return fmt.Errorf("source URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.SourceURL)
	if err != nil {
		return fmt.Errorf("invalid source URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("source URL must include a host")
	}

	if strings.TrimSpace(c.TodayTableID) == "" || strings.TrimSpace(c.YesterdayTableID) == "" {
		return fmt.Errorf("table ids cannot be empty")
	}
	if c.TodayTableID == c.YesterdayTableID {
		return fmt.Errorf("table ids must differ")
	}
	if c.SkipRows < 0 {
		return fmt.Errorf("skip rows cannot be negative")
	}
	if len(c.RowStyles) == 0 {
		return fmt.Errorf("row styles cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	switch c.OutputFormat {
	case "csv", "json", "dual", "xlsx":
	default:
		return fmt.Errorf("output format must be csv, json, dual, or xlsx")
	}
	if c.MatchThreshold < 0 || c.MatchThreshold > 1 {
		return fmt.Errorf("match threshold must be within [0, 1]")
	}
	if c.CodeCacheSize <= 0 {
		return fmt.Errorf("code cache size must be positive")
	}
	if c.TopN < 0 {
		return fmt.Errorf("top n cannot be negative")
	}

	return nil
}
