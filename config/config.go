package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseURL     string
	DBPath          string // operational SQLite store
	LogLevel        string
	DefaultCurrency string
	Headless        bool
	Scraper         ScraperConfig
	Limits          LimitsConfig
	Scheduler       SchedulerConfig
	Export          ExportConfig
	Sources         map[string]*SourceConfig
	Searches        []SearchConfig
}

type ScraperConfig struct {
	PageDelayMS int // fixed minimum delay between page loads
	JitterMS    int // bounded random jitter added on top
	MaxRetries  int // page-level navigation retries
}

type LimitsConfig struct {
	MaxConcurrentAdapters int
	MaxConcurrentSessions int
	AdapterTimeout        time.Duration // wall-clock budget per adapter invocation
	DefaultMaxResults     int
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type ExportConfig struct {
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

// SourceConfig is the typed per-source record loaded from
// config/sources/*.yaml. Kind selects the adapter implementation; the field
// map and selectors are the declarative raw-to-canonical mapping for that
// adapter kind.
type SourceConfig struct {
	ID             string            `yaml:"id"`
	Name           string            `yaml:"name"`
	Kind           string            `yaml:"kind"` // "browser" or "api"
	BaseURL        string            `yaml:"base_url"`
	Endpoints      map[string]string `yaml:"endpoints"`
	RateLimitMS    int               `yaml:"rate_limit_ms"`
	RatePerSecond  float64           `yaml:"rate_per_second"` // api adapters
	MaxResults     int               `yaml:"max_results"`
	Currency       string            `yaml:"currency"` // fallback for unlabelled salaries
	SalaryPatterns []string          `yaml:"salary_patterns"`
	Auth           AuthConfig        `yaml:"auth"`
	Fields         FieldMap          `yaml:"fields"`
	Selectors      SelectorMap       `yaml:"selectors"`
	Pagination     PaginationConfig  `yaml:"pagination"`
}

type AuthConfig struct {
	// Values support ${ENV_VAR} expansion at load time.
	Params map[string]string `yaml:"params"` // query parameters
	Header string            `yaml:"header"` // e.g. "Authorization"
	Token  string            `yaml:"token"`  // header value
}

// FieldMap maps source JSON field names to canonical posting attributes
// (api adapters).
type FieldMap struct {
	Results         string `yaml:"results"` // key of the results array; empty means root array
	Title           string `yaml:"title"`
	Company         string `yaml:"company"`
	Location        string `yaml:"location"`
	Description     string `yaml:"description"`
	URL             string `yaml:"url"`
	Salary          string `yaml:"salary"`
	SalaryMin       string `yaml:"salary_min"`
	SalaryMax       string `yaml:"salary_max"`
	SalaryCurrency  string `yaml:"salary_currency"`
	EmploymentType  string `yaml:"employment_type"`
	ExperienceLevel string `yaml:"experience_level"`
	Posted          string `yaml:"posted"`
}

// SelectorMap maps rendered-DOM selectors to canonical posting attributes
// (browser adapters).
type SelectorMap struct {
	Card           string   `yaml:"card"`
	Title          string   `yaml:"title"`
	Company        string   `yaml:"company"`
	Location       string   `yaml:"location"`
	Description    string   `yaml:"description"`
	URL            string   `yaml:"url"` // anchor inside the card
	Salary         string   `yaml:"salary"`
	EmploymentType string   `yaml:"employment_type"`
	Posted         string   `yaml:"posted"`
	NextPage       string   `yaml:"next_page"`
	ConsentButtons []string `yaml:"consent_buttons"`
}

type PaginationConfig struct {
	PageParam    string `yaml:"page_param"`     // e.g. "page" or "start"
	PerPageParam string `yaml:"per_page_param"` // e.g. "results_per_page"
	PerPage      int    `yaml:"per_page"`
	StartAtZero  bool   `yaml:"start_at_zero"` // offset-style pagination
}

// SearchConfig is one scheduled query/location pair.
type SearchConfig struct {
	Query      string   `yaml:"query"`
	Location   string   `yaml:"location"`
	MaxResults int      `yaml:"max_results"`
	Sources    []string `yaml:"sources"` // empty = all active sources
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		DBPath:          getEnv("DB_PATH", "jobharvest.db"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DefaultCurrency: getEnv("DEFAULT_CURRENCY", "USD"),
		Headless:        getEnv("SCRAPE_HEADLESS", "true") == "true",
		Scraper: ScraperConfig{
			PageDelayMS: getEnvInt("SCRAPE_DELAY_MS", 2000),
			JitterMS:    getEnvInt("SCRAPE_JITTER_MS", 1500),
			MaxRetries:  getEnvInt("SCRAPE_MAX_RETRIES", 3),
		},
		Limits: LimitsConfig{
			MaxConcurrentAdapters: getEnvInt("MAX_CONCURRENT_ADAPTERS", 3),
			MaxConcurrentSessions: getEnvInt("MAX_CONCURRENT_SESSIONS", 2),
			AdapterTimeout:        getEnvDuration("ADAPTER_TIMEOUT", 10*time.Minute),
			DefaultMaxResults:     getEnvInt("DEFAULT_MAX_RESULTS", 50),
		},
		Scheduler: SchedulerConfig{
			Cron:     os.Getenv("SCRAPE_CRON"),
			Interval: getEnvDuration("SCRAPE_INTERVAL", 0),
		},
		Export: ExportConfig{
			S3Bucket:    os.Getenv("EXPORT_S3_BUCKET"),
			S3Region:    getEnv("EXPORT_S3_REGION", "us-east-1"),
			S3Endpoint:  os.Getenv("EXPORT_S3_ENDPOINT"),
			S3AccessKey: os.Getenv("EXPORT_S3_ACCESS_KEY"),
			S3SecretKey: os.Getenv("EXPORT_S3_SECRET_KEY"),
		},
		Sources: make(map[string]*SourceConfig),
	}

	if err := cfg.loadSourceConfigs("config/sources"); err != nil {
		return nil, err
	}
	if err := cfg.loadSearches("config/searches.yaml"); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadSourceConfigs(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}

		var src SourceConfig
		if err := yaml.Unmarshal(data, &src); err != nil {
			return fmt.Errorf("parse %s: %w", entry.Name(), err)
		}
		if src.ID == "" {
			return fmt.Errorf("source config %s: missing id", entry.Name())
		}
		if src.Kind != "browser" && src.Kind != "api" {
			return fmt.Errorf("source config %s: unknown kind %q", entry.Name(), src.Kind)
		}

		// Secrets live in the environment, not in YAML.
		for k, v := range src.Auth.Params {
			src.Auth.Params[k] = os.ExpandEnv(v)
		}
		src.Auth.Token = os.ExpandEnv(src.Auth.Token)

		c.Sources[src.ID] = &src
	}

	return nil
}

func (c *Config) loadSearches(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var doc struct {
		Searches []SearchConfig `yaml:"searches"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	c.Searches = doc.Searches
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
