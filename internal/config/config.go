package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration values for the Salvi server. A Config is
// built once at startup and treated as read-only afterwards.
type Config struct {
	DBPath        string
	ServerPort    int
	LogLevel      string
	SentryDSN     string
	Environment   string
	ShutdownGrace time.Duration
	AuthHeader    string
	Extensions    []string
	RateLimit     RateLimit
	Site          Site
	Sync          Sync
}

// RateLimit configures the per-client HTTP limiter.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
	ClientTTL         time.Duration
}

// Site mirrors the `site` section of the optional YAML site file.
type Site struct {
	Title           string   `yaml:"title"`
	ItemsPerPage    int      `yaml:"items_per_page"`
	DescriptionSize int      `yaml:"description_size"`
	Extensions      []string `yaml:"extensions"`
}

// Sync configures pulling pages from a master instance.
type Sync struct {
	Master    string `yaml:"master"`
	StatePath string `yaml:"state_path"`
	Schedule  string `yaml:"schedule"`
}

type siteFile struct {
	Site Site `yaml:"site"`
	Sync Sync `yaml:"sync"`
}

const (
	defaultDBPath          = "./data/salvi.db"
	defaultServerPort      = 8080
	defaultLogLevel        = "info"
	defaultEnvironment     = "development"
	defaultShutdownGrace   = 10 * time.Second
	defaultAuthHeader      = "X-Remote-User"
	defaultSiteTitle       = "Salvi"
	defaultItemsPerPage    = 20
	defaultDescriptionSize = 200
	defaultRateLimitRPS    = 5
	defaultRateLimitBurst  = 20
	defaultRateLimitTTL    = 10 * time.Minute
	defaultSyncStatePath   = "./data/last_sync"
)

// Load reads configuration values from environment variables and the optional
// SITE_CONFIG YAML file, applying defaults where necessary. Environment values
// win over the file.
func Load() (*Config, error) {
	cfg := &Config{
		DBPath:        getEnv("DB_PATH", defaultDBPath),
		LogLevel:      getEnv("LOG_LEVEL", defaultLogLevel),
		SentryDSN:     os.Getenv("SENTRY_DSN"),
		Environment:   getEnv("ENV", defaultEnvironment),
		ShutdownGrace: defaultShutdownGrace,
		AuthHeader:    getEnv("AUTH_HEADER", defaultAuthHeader),
		Site: Site{
			Title:           defaultSiteTitle,
			ItemsPerPage:    defaultItemsPerPage,
			DescriptionSize: defaultDescriptionSize,
		},
		Sync: Sync{StatePath: defaultSyncStatePath},
	}

	if path := os.Getenv("SITE_CONFIG"); path != "" {
		if err := cfg.mergeSiteFile(path); err != nil {
			return nil, eris.Wrapf(err, "reading SITE_CONFIG %s", path)
		}
	}

	portValue := getEnv("SERVER_PORT", strconv.Itoa(defaultServerPort))
	port, err := strconv.Atoi(portValue)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid SERVER_PORT value: %s", portValue)
	}
	cfg.ServerPort = port

	rateLimit, err := loadRateLimit()
	if err != nil {
		return nil, err
	}
	cfg.RateLimit = rateLimit

	if raw := os.Getenv("EXTENSIONS"); raw != "" {
		cfg.Extensions = splitList(raw)
	} else {
		cfg.Extensions = cfg.Site.Extensions
	}

	if master := os.Getenv("SYNC_MASTER"); master != "" {
		cfg.Sync.Master = master
	}
	if statePath := os.Getenv("SYNC_STATE_PATH"); statePath != "" {
		cfg.Sync.StatePath = statePath
	}
	if schedule := os.Getenv("SYNC_SCHEDULE"); schedule != "" {
		cfg.Sync.Schedule = schedule
	}

	return cfg, nil
}

func (c *Config) mergeSiteFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrap(err, "opening site file")
	}

	var file siteFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return eris.Wrap(err, "decoding YAML")
	}

	if title := strings.TrimSpace(file.Site.Title); title != "" {
		c.Site.Title = title
	}
	if file.Site.ItemsPerPage > 0 {
		c.Site.ItemsPerPage = file.Site.ItemsPerPage
	}
	if file.Site.DescriptionSize > 0 {
		c.Site.DescriptionSize = file.Site.DescriptionSize
	}
	c.Site.Extensions = file.Site.Extensions

	if file.Sync.Master != "" {
		c.Sync.Master = file.Sync.Master
	}
	if file.Sync.StatePath != "" {
		c.Sync.StatePath = file.Sync.StatePath
	}
	c.Sync.Schedule = file.Sync.Schedule

	return nil
}

func loadRateLimit() (RateLimit, error) {
	limit := RateLimit{
		RequestsPerSecond: defaultRateLimitRPS,
		Burst:             defaultRateLimitBurst,
		ClientTTL:         defaultRateLimitTTL,
	}

	if raw := os.Getenv("RATE_LIMIT_RPS"); raw != "" {
		rps, err := strconv.ParseFloat(raw, 64)
		if err != nil || rps <= 0 {
			return RateLimit{}, eris.Errorf("invalid RATE_LIMIT_RPS value: %s", raw)
		}
		limit.RequestsPerSecond = rps
	}

	if raw := os.Getenv("RATE_LIMIT_BURST"); raw != "" {
		burst, err := strconv.Atoi(raw)
		if err != nil || burst <= 0 {
			return RateLimit{}, eris.Errorf("invalid RATE_LIMIT_BURST value: %s", raw)
		}
		limit.Burst = burst
	}

	if raw := os.Getenv("RATE_LIMIT_CLIENT_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			return RateLimit{}, eris.Errorf("invalid RATE_LIMIT_CLIENT_TTL value: %s", raw)
		}
		limit.ClientTTL = ttl
	}

	return limit, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
