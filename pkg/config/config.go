// Package config loads and validates classifier configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (k-mer search, index, output, Redis, Kafka, Postgres, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	apperrors "github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/errors"
)

const (
	MinKmerSize = 1
	MaxKmerSize = 15
)

// Output orderings for the per-level fields of a result line.
const (
	OrderGeneralFirst  = "general-first"
	OrderSpecificFirst = "specific-first"
)

// Config is the top-level application configuration.
type Config struct {
	Kmer     KmerConfig     `yaml:"kmer"`
	Index    IndexConfig    `yaml:"index"`
	Output   OutputConfig   `yaml:"output"`
	Summary  SummaryConfig  `yaml:"summary"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// KmerConfig controls k-mer size, parallelism and bootstrap resampling.
// A zero Subsample means "use the k-mer size".
type KmerConfig struct {
	Size      int `yaml:"size"`
	Threads   int `yaml:"threads"`
	Bootstrap int `yaml:"bootstrap"`
	Subsample int `yaml:"subsample"`
}

// SubsampleDivisor returns the effective bootstrap subsample divisor.
func (k KmerConfig) SubsampleDivisor() int {
	if k.Subsample == 0 {
		return k.Size
	}
	return k.Subsample
}

// IndexConfig locates the reference database and controls snapshot caching.
type IndexConfig struct {
	Database      string `yaml:"database"`
	WriteSnapshot bool   `yaml:"writeSnapshot"`
	MemoryLimit   string `yaml:"memoryLimit"`
}

// MemoryLimitBytes parses MemoryLimit ("16GiB", "512MB", ...).
func (i IndexConfig) MemoryLimitBytes() (uint64, error) {
	if i.MemoryLimit == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(i.MemoryLimit)
	if err != nil {
		return 0, fmt.Errorf("parsing memory limit %q: %w", i.MemoryLimit, err)
	}
	return n, nil
}

// SnapshotPath returns the on-disk snapshot location for the given k-mer size.
func (i IndexConfig) SnapshotPath(kmerSize int) string {
	return fmt.Sprintf("%s.idx_%d", i.Database, kmerSize)
}

// OutputConfig controls the result line layout.
type OutputConfig struct {
	Input     string `yaml:"input"`
	Ambiguous bool   `yaml:"ambiguous"`
	Order     string `yaml:"order"`
	Progress  bool   `yaml:"progress"`
}

// SummaryConfig holds the thresholds used when summarising a result file.
type SummaryConfig struct {
	Level      int     `yaml:"level"`
	Similarity float64 `yaml:"similarity"`
	Threshold  float64 `yaml:"threshold"`
	Percent    bool    `yaml:"percent"`
}

// PostgresConfig holds PostgreSQL connection parameters for the result store.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	BatchSize       int           `yaml:"batchSize"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds the broker list and topic classification results are
// published to.
type KafkaConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Brokers   []string `yaml:"brokers"`
	Topic     string   `yaml:"topic"`
	BatchSize int      `yaml:"batchSize"`
}

// RedisConfig holds Redis connection parameters for the search-hit cache.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
	// FlushOnStart drops the cached hits of the opened index before
	// classifying.
	FlushOnStart bool `yaml:"flushOnStart"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values. Load does not validate; call Validate once flags are applied.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrIO, "reading config file %s: %v", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperrors.Newf(apperrors.ErrConfig, "parsing config file %s: %v", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Default returns a Config with the classifier's standard defaults.
func Default() *Config {
	return &Config{
		Kmer: KmerConfig{
			Size:      8,
			Threads:   1,
			Bootstrap: 10,
		},
		Index: IndexConfig{
			MemoryLimit: "16GiB",
		},
		Output: OutputConfig{
			Order: OrderGeneralFirst,
		},
		Summary: SummaryConfig{
			Level:      3,
			Similarity: 0.5,
			Threshold:  0.8,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "classifier",
			User:            "classifier",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
			BatchSize:       500,
		},
		Kafka: KafkaConfig{
			Brokers:   []string{"localhost:9092"},
			Topic:     "classification-results",
			BatchSize: 100,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Port: 9090,
		},
	}
}

// Validate checks the search parameters. Every failure is a configuration
// error reported before any processing starts.
func (c *Config) Validate() error {
	if c.Kmer.Size < MinKmerSize || c.Kmer.Size > MaxKmerSize {
		return apperrors.Newf(apperrors.ErrConfig,
			"kmer size = %d: value must be in the range [%d,%d]", c.Kmer.Size, MinKmerSize, MaxKmerSize)
	}
	if c.Kmer.Threads < 1 {
		return apperrors.Newf(apperrors.ErrConfig, "threads = %d: value must be >= 1", c.Kmer.Threads)
	}
	if c.Kmer.Bootstrap < 0 {
		return apperrors.Newf(apperrors.ErrConfig, "bootstrap = %d: value must be >= 0", c.Kmer.Bootstrap)
	}
	if c.Kmer.Subsample < 0 {
		return apperrors.Newf(apperrors.ErrConfig, "subsample = %d: value must be >= 0 (0 uses the kmer size)", c.Kmer.Subsample)
	}
	switch c.Output.Order {
	case OrderGeneralFirst, OrderSpecificFirst:
	default:
		return apperrors.Newf(apperrors.ErrConfig, "unknown output order %q", c.Output.Order)
	}
	if _, err := c.Index.MemoryLimitBytes(); err != nil {
		return apperrors.New(apperrors.ErrConfig, err.Error())
	}
	return nil
}

// applyEnvOverrides reads SPG_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SPG_KMER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Kmer.Size = n
		}
	}
	if v := os.Getenv("SPG_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Kmer.Threads = n
		}
	}
	if v := os.Getenv("SPG_BOOTSTRAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Kmer.Bootstrap = n
		}
	}
	if v := os.Getenv("SPG_DATABASE"); v != "" {
		cfg.Index.Database = v
	}
	if v := os.Getenv("SPG_MEMORY_LIMIT"); v != "" {
		cfg.Index.MemoryLimit = v
	}
	if v := os.Getenv("SPG_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SPG_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SPG_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SPG_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SPG_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SPG_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SPG_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SPG_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SPG_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SPG_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
