package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Salesflow SalesflowConfig `yaml:"salesflow"`
	Logging   LoggingConfig   `yaml:"logging"`
	Database  DatabaseConfig  `yaml:"database"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Archive   ArchiveConfig   `yaml:"archive"`
}

type SalesflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// PipelineConfig carries the tunables of one dashboard/forecast run.
// ConfidenceWidth is the probability mass between the lower and upper
// forecast bounds; 0.8 is the published default.
type PipelineConfig struct {
	HorizonDays     int     `yaml:"horizon_days"`
	ConfidenceWidth float64 `yaml:"confidence_width"`
	TopNItems       int     `yaml:"top_n_items"`
	MinHistoryDays  int     `yaml:"min_history_days"`
	MaxFitWorkers   int     `yaml:"max_fit_workers"`
}

type ServerConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Address   string          `yaml:"address"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BatchBuffer   int           `yaml:"batch_buffer"`
}

// Valid forecast horizons, mirrored by the API layer.
const (
	HorizonWeek  = 7
	HorizonMonth = 30
)

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Pipeline: PipelineConfig{
			HorizonDays:     HorizonWeek,
			ConfidenceWidth: 0.8,
			TopNItems:       10,
			MinHistoryDays:  2,
			MaxFitWorkers:   4,
		},
		Archive: ArchiveConfig{
			FlushInterval: time.Minute,
			BatchBuffer:   8,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment overrides take precedence over file values.
	if v := os.Getenv("DATABASE_URL"); v != "" {
		config.Database.URL = strings.TrimSpace(v)
	}
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Salesflow.Name == "" {
		return fmt.Errorf("salesflow.name is required")
	}
	if cfg.Salesflow.Version == "" {
		return fmt.Errorf("salesflow.version is required")
	}

	if cfg.Database.URL == "" && cfg.Database.Host == "" {
		return fmt.Errorf("database.url or database.host is required")
	}

	if cfg.Pipeline.HorizonDays != HorizonWeek && cfg.Pipeline.HorizonDays != HorizonMonth {
		return fmt.Errorf("pipeline.horizon_days must be %d or %d", HorizonWeek, HorizonMonth)
	}
	if cfg.Pipeline.ConfidenceWidth <= 0 || cfg.Pipeline.ConfidenceWidth >= 1 {
		return fmt.Errorf("pipeline.confidence_width must be in (0, 1)")
	}
	if cfg.Pipeline.TopNItems <= 0 {
		return fmt.Errorf("pipeline.top_n_items must be greater than 0")
	}
	if cfg.Pipeline.MinHistoryDays < 2 {
		return fmt.Errorf("pipeline.min_history_days must be at least 2")
	}
	if cfg.Pipeline.MaxFitWorkers <= 0 {
		return fmt.Errorf("pipeline.max_fit_workers must be greater than 0")
	}

	if cfg.Server.Enabled && cfg.Server.Address == "" {
		return fmt.Errorf("server.address is required when the server is enabled")
	}

	if cfg.Archive.Enabled {
		if !cfg.Storage.S3.Enabled {
			return fmt.Errorf("archive requires storage.s3 to be enabled")
		}
		if cfg.Archive.FlushInterval <= 0 {
			return fmt.Errorf("archive.flush_interval must be greater than 0")
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

// ConnectionString assembles a lib/pq DSN, preferring an explicit URL.
func (d DatabaseConfig) ConnectionString() string {
	if d.URL != "" {
		return d.URL
	}
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	port := d.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, port, d.User, d.Password, d.DBName, sslmode)
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
