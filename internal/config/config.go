package config

import (
	"errors"
	"time"

	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/ifuryst/lolify/pkg/logger"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logger    logger.Config   `yaml:"logger"`
	Meta      MetaConfig      `yaml:"meta"`
	Graph     GraphConfig     `yaml:"graph"`
	Media     MediaConfig     `yaml:"media"`
	Publisher PublisherConfig `yaml:"publisher"`
	Inflight  InflightConfig  `yaml:"inflight"`
	Admin     AdminConfig     `yaml:"admin"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
	// Path is the sqlite file when Type is "sqlite".
	Path string `yaml:"path"`
}

// MetaConfig holds the webhook subscription secrets.
type MetaConfig struct {
	VerifyToken string `yaml:"verify_token"`
	AppSecret   string `yaml:"app_secret"`
}

type GraphConfig struct {
	PageBaseURL        string `yaml:"page_base_url"`
	AccountBaseURL     string `yaml:"account_base_url"`
	AccessToken        string `yaml:"access_token"`
	PageID             string `yaml:"page_id"`
	InstagramAccountID string `yaml:"instagram_account_id"`
	UserAgent          string `yaml:"user_agent"`
	Timeout            string `yaml:"timeout"`
}

type MediaConfig struct {
	TempDir          string `yaml:"temp_dir"`
	MaxDownloadBytes int64  `yaml:"max_download_bytes"`
	DownloadTimeout  string `yaml:"download_timeout"`
}

type PublisherConfig struct {
	Async          bool    `yaml:"async"`
	QueueSize      int     `yaml:"queue_size"`
	PollInitial    string  `yaml:"poll_initial"`
	PollMax        string  `yaml:"poll_max"`
	PollMultiplier float64 `yaml:"poll_multiplier"`
	// PollJitter is nil when unset; an explicit 0 disables jitter.
	PollJitter         *float64 `yaml:"poll_jitter"`
	PollMaxAttempts    int      `yaml:"poll_max_attempts"`
	PollTimeout        string   `yaml:"poll_timeout"`
	QuotaCheckInterval string   `yaml:"quota_check_interval"`
}

type InflightConfig struct {
	Driver   string `yaml:"driver"`
	TTL      string `yaml:"ttl"`
	RedisURL string `yaml:"redis_url"`
}

type AdminConfig struct {
	TOTPSecret string `yaml:"totp_secret"`
}

const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()

	return cfg, nil
}

// ApplyDefaults fills every unset field with its default value.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "sqlite3.db"
	}
	if cfg.Graph.PageBaseURL == "" {
		cfg.Graph.PageBaseURL = "https://graph.facebook.com/v20.0"
	}
	if cfg.Graph.AccountBaseURL == "" {
		cfg.Graph.AccountBaseURL = "https://graph.instagram.com"
	}
	if cfg.Graph.UserAgent == "" {
		cfg.Graph.UserAgent = DefaultUserAgent
	}
	if cfg.Graph.Timeout == "" {
		cfg.Graph.Timeout = "30s"
	}
	if cfg.Media.DownloadTimeout == "" {
		cfg.Media.DownloadTimeout = "5m"
	}
	if cfg.Publisher.QueueSize == 0 {
		cfg.Publisher.QueueSize = 32
	}
	if cfg.Publisher.PollInitial == "" {
		cfg.Publisher.PollInitial = "5s"
	}
	if cfg.Publisher.PollMax == "" {
		cfg.Publisher.PollMax = "30s"
	}
	if cfg.Publisher.PollMultiplier == 0 {
		cfg.Publisher.PollMultiplier = 2
	}
	if cfg.Publisher.PollJitter == nil {
		jitter := 0.2
		cfg.Publisher.PollJitter = &jitter
	}
	if cfg.Publisher.PollMaxAttempts == 0 {
		cfg.Publisher.PollMaxAttempts = 60
	}
	if cfg.Publisher.PollTimeout == "" {
		cfg.Publisher.PollTimeout = "10m"
	}
	if cfg.Inflight.Driver == "" {
		cfg.Inflight.Driver = "memory"
	}
	if cfg.Inflight.TTL == "" {
		cfg.Inflight.TTL = "15m"
	}
}

// Validate reports the settings the service cannot run without.
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.Graph.AccessToken == "" {
		errs = append(errs, errors.New("graph.access_token is required"))
	}
	if cfg.Graph.PageID == "" && cfg.Graph.InstagramAccountID == "" {
		errs = append(errs, errors.New("graph.page_id or graph.instagram_account_id is required"))
	}
	if cfg.Meta.VerifyToken == "" {
		errs = append(errs, errors.New("meta.verify_token is required"))
	}
	switch cfg.Database.Type {
	case "postgres", "sqlite":
	default:
		errs = append(errs, errors.New("database.type must be postgres or sqlite"))
	}
	switch cfg.Inflight.Driver {
	case "memory":
	case "redis":
		if cfg.Inflight.RedisURL == "" {
			errs = append(errs, errors.New("inflight.redis_url is required for the redis driver"))
		}
	default:
		errs = append(errs, errors.New("inflight.driver must be memory or redis"))
	}
	for name, value := range map[string]string{
		"graph.timeout":                  cfg.Graph.Timeout,
		"media.download_timeout":         cfg.Media.DownloadTimeout,
		"publisher.poll_initial":         cfg.Publisher.PollInitial,
		"publisher.poll_max":             cfg.Publisher.PollMax,
		"publisher.poll_timeout":         cfg.Publisher.PollTimeout,
		"publisher.quota_check_interval": cfg.Publisher.QuotaCheckInterval,
		"inflight.ttl":                   cfg.Inflight.TTL,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			errs = append(errs, errors.New(name+": "+err.Error()))
		}
	}
	return errors.Join(errs...)
}

// Duration parses a validated duration field, returning fallback when empty.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
