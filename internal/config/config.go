// Package config provides configuration management for newscluster.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm/logger"

	"github.com/thebtf/newscluster/internal/articles"
	"github.com/thebtf/newscluster/internal/llm"
	"github.com/thebtf/newscluster/internal/pipeline"
	"github.com/thebtf/newscluster/internal/refine"
	"github.com/thebtf/newscluster/internal/runlock"
	"github.com/thebtf/newscluster/internal/scheduler"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Environment variables overriding the file.
const (
	EnvDatabaseDSN    = "NEWSCLUSTER_DATABASE_DSN"
	EnvArticlesDriver = "NEWSCLUSTER_ARTICLES_DRIVER"
	EnvArticlesDSN    = "NEWSCLUSTER_ARTICLES_DSN"
	EnvAPIKey         = "OPENAI_API_KEY"
	EnvEmbeddingModel = "NEWSCLUSTER_EMBEDDING_MODEL"
	EnvOracleModel    = "NEWSCLUSTER_ORACLE_MODEL"
	EnvRedisAddr      = "NEWSCLUSTER_REDIS_ADDR"
	EnvListenAddr     = "NEWSCLUSTER_LISTEN_ADDR"
	EnvLogLevel       = "NEWSCLUSTER_LOG_LEVEL"
)

// Defaults not owned by another package.
const (
	DefaultWindow     = 24 * time.Hour
	DefaultListenAddr = ":8088"
	DefaultDBPath     = "newscluster.db"
	DefaultLockPrefix = "newscluster:lock:"
	DefaultLLMTimeout = 60 * time.Second
	DefaultMaxRetries = 3
	DefaultMaxConns   = 4
)

// Config holds all newscluster settings.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Articles   ArticlesConfig   `yaml:"articles"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Oracle     OracleConfig     `yaml:"oracle"`
	Ingestion  IngestionConfig  `yaml:"ingestion"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Lock       LockConfig       `yaml:"lock"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DatabaseConfig describes the embedding and cluster store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	LogLevel string `yaml:"log_level"`
	MaxConns int    `yaml:"max_conns"`
}

// GormLogLevel maps LogLevel to the GORM logger level. Unknown values are silent.
func (d DatabaseConfig) GormLogLevel() logger.LogLevel {
	switch strings.ToLower(d.LogLevel) {
	case "error":
		return logger.Error
	case "warn", "warning":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Silent
	}
}

// ArticlesConfig describes the external article store.
type ArticlesConfig struct {
	Driver string `yaml:"driver"` // mysql or postgres
	DSN    string `yaml:"dsn"`
	Table  string `yaml:"table"`
	Locale string `yaml:"locale"`
}

// EmbeddingConfig describes the embedding service.
type EmbeddingConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// OracleConfig describes the text-generation oracle.
type OracleConfig struct {
	Temperature         *float64      `yaml:"temperature"`
	BaseURL             string        `yaml:"base_url"`
	APIKey              string        `yaml:"api_key"`
	Model               string        `yaml:"model"`
	Timeout             time.Duration `yaml:"timeout"`
	MaxCompletionTokens int           `yaml:"max_completion_tokens"`
	MaxRetries          int           `yaml:"max_retries"`
}

// IngestionConfig tunes embedding ingestion.
type IngestionConfig struct {
	Window      time.Duration `yaml:"window"`
	Concurrency int           `yaml:"concurrency"`
}

// ClusteringConfig tunes clustering and refinement.
type ClusteringConfig struct {
	Window            time.Duration `yaml:"window"`
	SelectionEpsilon  float64       `yaml:"selection_epsilon"`
	MinClusterSize    int           `yaml:"min_cluster_size"`
	MinSamples        int           `yaml:"min_samples"`
	RefineMinMembers  int           `yaml:"refine_min_members"`
	SummaryRunes      int           `yaml:"summary_runes"`
	TokenBudget       int           `yaml:"token_budget"`
	RefineConcurrency int           `yaml:"refine_concurrency"`
}

// Params returns the clustering run parameters.
func (c ClusteringConfig) Params() pipeline.ClusterParams {
	return pipeline.ClusterParams{
		Window:           c.Window,
		MinClusterSize:   c.MinClusterSize,
		MinSamples:       c.MinSamples,
		SelectionEpsilon: c.SelectionEpsilon,
	}
}

// SchedulerConfig describes periodic runs.
type SchedulerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	RunOnStart bool          `yaml:"run_on_start"`
}

// LockConfig describes the run lock. An empty RedisAddr uses an in-process lock.
type LockConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// ServerConfig describes the ops HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig describes log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:   "sqlite",
			DSN:      DefaultDBPath,
			LogLevel: "silent",
			MaxConns: DefaultMaxConns,
		},
		Articles: ArticlesConfig{
			Driver: articles.DriverMySQL,
			Table:  "news",
			Locale: "ru",
		},
		Embedding: EmbeddingConfig{
			BaseURL:    llm.DefaultBaseURL,
			Model:      llm.DefaultEmbeddingModel,
			Timeout:    DefaultLLMTimeout,
			MaxRetries: DefaultMaxRetries,
		},
		Oracle: OracleConfig{
			BaseURL:             llm.DefaultBaseURL,
			Model:               llm.DefaultChatModel,
			Timeout:             DefaultLLMTimeout,
			MaxCompletionTokens: llm.DefaultMaxCompletionTokens,
			MaxRetries:          DefaultMaxRetries,
		},
		Ingestion: IngestionConfig{
			Window:      DefaultWindow,
			Concurrency: 1,
		},
		Clustering: ClusteringConfig{
			Window:            DefaultWindow,
			MinClusterSize:    pipeline.DefaultMinClusterSize,
			MinSamples:        pipeline.DefaultMinSamples,
			SelectionEpsilon:  pipeline.DefaultSelectionEpsilon,
			RefineMinMembers:  refine.DefaultMinMembers,
			SummaryRunes:      refine.DefaultSummaryRunes,
			TokenBudget:       refine.DefaultTokenBudget,
			RefineConcurrency: 1,
		},
		Scheduler: SchedulerConfig{
			Interval: scheduler.DefaultInterval,
		},
		Lock: LockConfig{
			KeyPrefix: DefaultLockPrefix,
			TTL:       runlock.DefaultTTL,
		},
		Server: ServerConfig{
			Addr: DefaultListenAddr,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. A .env file in the working directory is loaded first. An empty
// path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Database.DSN, EnvDatabaseDSN)
	set(&c.Articles.Driver, EnvArticlesDriver)
	set(&c.Articles.DSN, EnvArticlesDSN)
	set(&c.Embedding.APIKey, EnvAPIKey)
	set(&c.Oracle.APIKey, EnvAPIKey)
	set(&c.Embedding.Model, EnvEmbeddingModel)
	set(&c.Oracle.Model, EnvOracleModel)
	set(&c.Lock.RedisAddr, EnvRedisAddr)
	set(&c.Server.Addr, EnvListenAddr)
	set(&c.Logging.Level, EnvLogLevel)
}

// Validate reports every unusable setting at once.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	check(c.Database.Driver == "postgres" || c.Database.Driver == "sqlite",
		fmt.Sprintf("database.driver %q must be postgres or sqlite", c.Database.Driver))
	check(c.Database.DSN != "", "database.dsn is required")
	check(c.Articles.Driver == articles.DriverMySQL || c.Articles.Driver == articles.DriverPostgres,
		fmt.Sprintf("articles.driver %q must be mysql or postgres", c.Articles.Driver))
	check(c.Articles.DSN != "", "articles.dsn is required")
	check(c.Articles.Locale == "ru" || c.Articles.Locale == "kz" || c.Articles.Locale == "en",
		fmt.Sprintf("articles.locale %q must be ru, kz or en", c.Articles.Locale))
	check(c.Embedding.APIKey != "", "embedding.api_key is required")
	check(c.Oracle.APIKey != "", "oracle.api_key is required")
	check(c.Ingestion.Window > 0, "ingestion.window must be positive")
	check(c.Ingestion.Concurrency >= 1, "ingestion.concurrency must be at least 1")
	check(c.Clustering.RefineMinMembers >= 1, "clustering.refine_min_members must be at least 1")
	check(c.Clustering.RefineConcurrency >= 1, "clustering.refine_concurrency must be at least 1")
	check(c.Scheduler.Interval > 0, "scheduler.interval must be positive")
	if err := c.Clustering.Params().Validate(); err != nil {
		problems = append(problems, "clustering: "+strings.TrimPrefix(err.Error(), pipeline.ErrInvalidParams.Error()+": "))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
