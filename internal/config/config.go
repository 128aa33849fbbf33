package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// DefaultCatalogURL is the NCEI directory listing of Storm Events CSV files.
const DefaultCatalogURL = "https://www.ncei.noaa.gov/pub/data/swdi/stormevents/csvfiles/"

// cacheNameRe restricts snapshot names to a single path element.
var cacheNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Config holds all run settings, populated from environment variables.
type Config struct {
	CatalogURL    string
	FilePrefix    string
	FileExtension string
	Years         []int
	MaxFiles      int
	TargetEvent   string

	RefreshFromSource bool
	PersistToCache    bool
	CacheName         string
	CacheDir          string
	CacheAllowPartial bool

	FetchTimeout     time.Duration
	FetchRetries     int
	FetchMaxBackoff  time.Duration
	FetchConcurrency int

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	TracesToStdout  bool

	// Kafka hand-off of the final dataset.
	KafkaEnabled   bool
	KafkaBrokers   []string
	KafkaSinkTopic string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	fetchTimeout, err := parsePositiveDuration("FETCH_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	maxBackoff, err := parsePositiveDuration("FETCH_MAX_BACKOFF", "5s")
	if err != nil {
		return nil, err
	}
	retries, err := parseIntInRange("FETCH_RETRIES", 3, 1, 10)
	if err != nil {
		return nil, err
	}
	concurrency, err := parseIntInRange("FETCH_CONCURRENCY", 1, 1, 32)
	if err != nil {
		return nil, err
	}
	maxFiles, err := parseIntInRange("CATALOG_MAX_FILES", 0, 0, 10000)
	if err != nil {
		return nil, err
	}
	years, err := ParseYears(os.Getenv("CATALOG_YEARS"))
	if err != nil {
		return nil, fmt.Errorf("invalid CATALOG_YEARS: %w", err)
	}

	refresh, err := parseBool("REFRESH_FROM_SOURCE", true)
	if err != nil {
		return nil, err
	}
	persist, err := parseBool("PERSIST_TO_CACHE", true)
	if err != nil {
		return nil, err
	}
	allowPartial, err := parseBool("CACHE_ALLOW_PARTIAL", false)
	if err != nil {
		return nil, err
	}
	kafkaEnabled, err := parseBool("KAFKA_ENABLED", false)
	if err != nil {
		return nil, err
	}
	tracesStdout, err := parseBool("OTEL_TRACES_STDOUT", false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		CatalogURL:    sharedcfg.EnvOrDefault("CATALOG_URL", DefaultCatalogURL),
		FilePrefix:    sharedcfg.EnvOrDefault("CATALOG_FILE_PREFIX", "StormEvents_details"),
		FileExtension: sharedcfg.EnvOrDefault("CATALOG_FILE_EXTENSION", ".csv.gz"),
		Years:         years,
		MaxFiles:      maxFiles,
		TargetEvent:   sharedcfg.EnvOrDefault("TARGET_EVENT_TYPE", "Tornado"),

		RefreshFromSource: refresh,
		PersistToCache:    persist,
		CacheName:         sharedcfg.EnvOrDefault("CACHE_NAME", "tornado_data"),
		CacheDir:          sharedcfg.EnvOrDefault("CACHE_DIR", "data/cache"),
		CacheAllowPartial: allowPartial,

		FetchTimeout:     fetchTimeout,
		FetchRetries:     retries,
		FetchMaxBackoff:  maxBackoff,
		FetchConcurrency: concurrency,

		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		TracesToStdout:  tracesStdout,

		KafkaEnabled:   kafkaEnabled,
		KafkaBrokers:   sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSinkTopic: sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "tornado-events"),
	}

	if !strings.HasSuffix(cfg.CatalogURL, "/") {
		cfg.CatalogURL += "/"
	}
	if cfg.TargetEvent == "" {
		return nil, errors.New("TARGET_EVENT_TYPE is required")
	}
	if cfg.FileExtension == "" {
		return nil, errors.New("CATALOG_FILE_EXTENSION is required")
	}
	if !cacheNameRe.MatchString(cfg.CacheName) {
		return nil, fmt.Errorf("invalid CACHE_NAME %q: use letters, digits, '.', '_' or '-'", cfg.CacheName)
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.KafkaEnabled && cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required when KAFKA_ENABLED is true")
	}

	return cfg, nil
}

// ParseYears parses a comma-separated list of years and inclusive ranges,
// e.g. "1999,2010-2012". An empty string selects every year.
func ParseYears(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var years []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(part, "-")
		from, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("year %q: %w", part, err)
		}
		to := from
		if isRange {
			to, err = strconv.Atoi(strings.TrimSpace(hi))
			if err != nil {
				return nil, fmt.Errorf("year %q: %w", part, err)
			}
		}
		if to < from {
			return nil, fmt.Errorf("range %q is reversed", part)
		}
		for y := from; y <= to; y++ {
			years = append(years, y)
		}
	}
	return years, nil
}

func parsePositiveDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseIntInRange(key string, fallback, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be between %d and %d", key, lo, hi)
	}
	return n, nil
}

func parseBool(key string, fallback bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
