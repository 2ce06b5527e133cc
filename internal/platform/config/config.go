package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	strutil "pseudonym/pkg/platform/strings"
)

// Backend names accepted by Store.Backend.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendFile     = "file"
	BackendHTTP     = "http"
	BackendBlob     = "blob"
)

// PopulationPresets name national populations usable as
// PSEUDONYM_POPULATION_SIZE.
var PopulationPresets = map[string]int{
	"bhutan":  727145,
	"belgium": 11742796,
	"brazil":  203080756,
}

// ParsePopulationSize accepts a positive count or a preset name.
func ParsePopulationSize(v string) (int, error) {
	if n, ok := PopulationPresets[strings.ToLower(strings.TrimSpace(v))]; ok {
		return n, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("population size %q is neither a number nor a preset", v)
	}
	if n < 1 {
		return 0, fmt.Errorf("population size must be positive, got %d", n)
	}
	return n, nil
}

// Config is the whole process configuration. Values come from defaults,
// then the YAML file named by PSEUDONYM_CONFIG, then environment variables.
type Config struct {
	Server     Server     `yaml:"server"`
	Population Population `yaml:"population"`
	Words      Words      `yaml:"words"`
	Store      Store      `yaml:"store"`
	Redis      Redis      `yaml:"redis"`
	Audit      Audit      `yaml:"audit"`
	Log        Log        `yaml:"log"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string `yaml:"addr"`
	JWTSigningKey string `yaml:"-"`
	JWTIssuer     string `yaml:"jwt_issuer"`
	// RateLimit is resolve requests per client per minute; 0 disables it.
	RateLimit int `yaml:"rate_limit"`
}

// Population fixes the identifier to pseudonym mapping.
type Population struct {
	// SecretKey is hex; only ever read from the environment.
	SecretKey    string  `yaml:"-"`
	Size         int     `yaml:"size"`
	SpreadFactor float64 `yaml:"spread_factor"`
	Reduction    string  `yaml:"reduction"`
	Algorithm    string  `yaml:"algorithm"`
	Coalesce     bool    `yaml:"coalesce"`
}

// Words names the word list files, one word per line.
type Words struct {
	First  string `yaml:"first"`
	Middle string `yaml:"middle"`
	Last   string `yaml:"last"`
}

// Store selects and configures the persistence backend.
type Store struct {
	Backend     string `yaml:"backend"`
	DatabaseURL string `yaml:"-"`
	SQLitePath  string `yaml:"sqlite_path"`
	FilePath    string `yaml:"file_path"`
	KVURL       string `yaml:"kv_url"`
}

// Redis configures the Redis client when Store.Backend is redis.
type Redis struct {
	URL          string        `yaml:"-"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Audit configures where assignment events go. No brokers means log only.
type Audit struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration usable for local development.
func Default() Config {
	return Config{
		Server: Server{Addr: ":8080", JWTIssuer: "pseudonym", RateLimit: 600},
		Population: Population{
			Size:      1000,
			Reduction: "wide-multiply",
			Algorithm: "blake3",
		},
		Store: Store{
			Backend:    BackendMemory,
			SQLitePath: "data/pseudonyms.db",
			FilePath:   "data/pseudonyms.log",
		},
		Redis: Redis{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Audit: Audit{Topic: "pseudonym.assignments"},
		Log:   Log{Level: "info", Format: "json"},
	}
}

// FromEnv builds the configuration so main stays lean.
func FromEnv() (Config, error) {
	cfg := Default()
	if path := os.Getenv("PSEUDONYM_CONFIG"); path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// LoadFile overlays the YAML file at path onto cfg.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PSEUDONYM_ADDR", &cfg.Server.Addr)
	str("JWT_SIGNING_KEY", &cfg.Server.JWTSigningKey)
	str("PSEUDONYM_SECRET_KEY", &cfg.Population.SecretKey)
	str("PSEUDONYM_REDUCTION", &cfg.Population.Reduction)
	str("PSEUDONYM_ALGORITHM", &cfg.Population.Algorithm)
	str("PSEUDONYM_WORDS_FIRST", &cfg.Words.First)
	str("PSEUDONYM_WORDS_MIDDLE", &cfg.Words.Middle)
	str("PSEUDONYM_WORDS_LAST", &cfg.Words.Last)
	str("PSEUDONYM_BACKEND", &cfg.Store.Backend)
	str("DATABASE_URL", &cfg.Store.DatabaseURL)
	str("PSEUDONYM_SQLITE_PATH", &cfg.Store.SQLitePath)
	str("PSEUDONYM_FILE_PATH", &cfg.Store.FilePath)
	str("PSEUDONYM_KV_URL", &cfg.Store.KVURL)
	str("REDIS_URL", &cfg.Redis.URL)
	str("KAFKA_AUDIT_TOPIC", &cfg.Audit.Topic)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		cfg.Audit.Brokers = strutil.DedupeAndTrim(strings.Split(v, ","))
	}
	if v, ok := lookup("PSEUDONYM_POPULATION_SIZE"); ok && v != "" {
		n, err := ParsePopulationSize(v)
		if err != nil {
			return fmt.Errorf("PSEUDONYM_POPULATION_SIZE: %w", err)
		}
		cfg.Population.Size = n
	}
	if v, ok := lookup("PSEUDONYM_RATE_LIMIT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PSEUDONYM_RATE_LIMIT: %w", err)
		}
		cfg.Server.RateLimit = n
	}
	if v, ok := lookup("PSEUDONYM_SPREAD_FACTOR"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("PSEUDONYM_SPREAD_FACTOR: %w", err)
		}
		cfg.Population.SpreadFactor = f
	}
	if v, ok := lookup("PSEUDONYM_COALESCE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PSEUDONYM_COALESCE: %w", err)
		}
		cfg.Population.Coalesce = b
	}
	return nil
}

// Validate checks backend selection and its required settings. Population
// parameters are validated where the population is built.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("backend %s requires REDIS_URL", c.Store.Backend)
		}
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("backend %s requires DATABASE_URL", c.Store.Backend)
		}
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("backend %s requires PSEUDONYM_SQLITE_PATH", c.Store.Backend)
		}
	case BackendFile:
		if c.Store.FilePath == "" {
			return fmt.Errorf("backend %s requires PSEUDONYM_FILE_PATH", c.Store.Backend)
		}
	case BackendHTTP, BackendBlob:
		if c.Store.KVURL == "" {
			return fmt.Errorf("backend %s requires PSEUDONYM_KV_URL", c.Store.Backend)
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Store.Backend)
	}
	return nil
}
