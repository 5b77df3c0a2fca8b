package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DateLayout is the calendar date format accepted by the archive API.
const DateLayout = "2006-01-02"

// Export modes.
const (
	ModeCSV    = "csv"
	ModeJSON   = "json"
	ModeDual   = "dual"
	ModeSQLite = "sqlite"
	ModeIndex  = "index"
)

// Config holds the settings of one scrape run. Callers treat a Config as
// immutable once a run starts; use WithDateRange to derive per-day copies.
type Config struct {
	BaseURL           string        `yaml:"base_url"`
	Boards            []string      `yaml:"boards"`
	StartDate         string        `yaml:"start_date"`
	EndDate           string        `yaml:"end_date"`
	PageLimit         int           `yaml:"page_limit"` // 0 means unbounded
	RequestsPerMinute float64       `yaml:"requests_per_min"`
	RetryCooldown     time.Duration `yaml:"retry_cooldown"`
	MaxAttempts       int           `yaml:"max_attempts"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxBodySize       int           `yaml:"max_body_size"`
	UserAgent         string        `yaml:"user_agent"`

	OutputFile   string   `yaml:"output_file"`
	OutputFormat string   `yaml:"output_format"` // csv, json, dual, sqlite, or index
	StripColumns []string `yaml:"strip_columns"`
	SQLiteTable  string   `yaml:"sqlite_table"`

	Index IndexConfig `yaml:"index"`

	MetricsAddr string `yaml:"metrics_addr"`
	Verbose     bool   `yaml:"verbose"`
}

// IndexConfig describes the search-index target.
type IndexConfig struct {
	Addresses    []string `yaml:"addresses"`
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	Name         string   `yaml:"name"`
	DocumentKind string   `yaml:"document_kind"` // empty for typeless mappings
	DateColumn   string   `yaml:"date_column"`
	DateFormat   string   `yaml:"date_format"`
}

// DefaultConfig returns the defaults of the public 4plebs archive.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           "http://archive.4plebs.org/_/api/chan/search/",
		Boards:            []string{"pol"},
		PageLimit:         0,
		RequestsPerMinute: 5,
		RetryCooldown:     5 * time.Second,
		MaxAttempts:       2,
		Timeout:           30 * time.Second,
		MaxBodySize:       32 * 1024 * 1024,
		UserAgent:         "go-scrape-plebs/1.0 (+https://github.com/aluiziolira/go-scrape-plebs)",
		OutputFormat:      ModeCSV,
		StripColumns:      []string{"media"},
		SQLiteTable:       "posts",
		Index: IndexConfig{
			Addresses:    []string{"http://localhost:9200"},
			Name:         "dataframe",
			DocumentKind: "record",
			DateColumn:   "timestamp",
			DateFormat:   "epoch_second",
		},
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Boards = append([]string(nil), c.Boards...)
	out.StripColumns = append([]string(nil), c.StripColumns...)
	out.Index.Addresses = append([]string(nil), c.Index.Addresses...)
	return &out
}

// WithDateRange returns a copy of c scoped to [start, end]. The output file
// is re-derived unless it was set explicitly on c.
func (c *Config) WithDateRange(start, end string) *Config {
	out := c.Clone()
	out.StartDate = start
	out.EndDate = end
	return out
}

// Interval is the fixed spacing between two requests.
func (c *Config) Interval() time.Duration {
	if c.RequestsPerMinute <= 0 {
		return 0
	}
	return time.Duration(float64(time.Minute) / c.RequestsPerMinute)
}

// JoinedBoards returns the boards in the dot-joined form used by the API.
func (c *Config) JoinedBoards() string {
	return strings.Join(c.Boards, ".")
}

// ResolveOutputFile returns OutputFile, or the default
// "<start>_<end>_<boards>.<ext>" name when it is empty.
func (c *Config) ResolveOutputFile() string {
	if c.OutputFile != "" {
		return c.OutputFile
	}
	ext := "csv"
	switch c.OutputFormat {
	case ModeJSON:
		ext = "jsonl"
	case ModeSQLite:
		ext = "db"
	}
	name := strings.Join([]string{c.StartDate, c.EndDate, c.JoinedBoards()}, "_") + "." + ext
	return filepath.Clean(name)
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if len(c.Boards) == 0 {
		return fmt.Errorf("at least one board is required")
	}
	for _, b := range c.Boards {
		if strings.TrimSpace(b) == "" {
			return fmt.Errorf("board names cannot be empty")
		}
		if strings.Contains(b, ".") {
			return fmt.Errorf("board %q cannot contain '.'", b)
		}
	}

	start, err := time.Parse(DateLayout, c.StartDate)
	if err != nil {
		return fmt.Errorf("invalid start date %q: %w", c.StartDate, err)
	}
	end, err := time.Parse(DateLayout, c.EndDate)
	if err != nil {
		return fmt.Errorf("invalid end date %q: %w", c.EndDate, err)
	}
	if end.Before(start) {
		return fmt.Errorf("end date %s is before start date %s", c.EndDate, c.StartDate)
	}

	if c.PageLimit < 0 {
		return fmt.Errorf("page limit cannot be negative")
	}
	if c.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests per minute must be positive")
	}
	if c.RetryCooldown < 0 {
		return fmt.Errorf("retry cooldown cannot be negative")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxBodySize < 0 {
		return fmt.Errorf("max body size cannot be negative")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	switch c.OutputFormat {
	case ModeCSV, ModeJSON, ModeDual:
	case ModeSQLite:
		if c.SQLiteTable == "" {
			return fmt.Errorf("sqlite table cannot be empty")
		}
	case ModeIndex:
		if err := c.Index.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("output format must be csv, json, dual, sqlite, or index")
	}
	return nil
}

// Validate checks the index target settings.
func (ic IndexConfig) Validate() error {
	if len(ic.Addresses) == 0 {
		return fmt.Errorf("index addresses cannot be empty")
	}
	if ic.Name == "" {
		return fmt.Errorf("index name cannot be empty")
	}
	if ic.Name != strings.ToLower(ic.Name) {
		return fmt.Errorf("index name %q must be lowercase", ic.Name)
	}
	if ic.DateColumn != "" && ic.DateFormat == "" {
		return fmt.Errorf("index date format is required when a date column is set")
	}
	return nil
}
