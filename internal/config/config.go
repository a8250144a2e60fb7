// Package config loads the service configuration. Sources, lowest
// precedence first: built-in defaults, an optional YAML file, a .env file,
// and the process environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"dicetables-db/internal/cache"
	"dicetables-db/internal/dice"
	"dicetables-db/internal/store"
	"dicetables-db/pkg/logging/logging"
)

type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Cache     CacheConfig     `yaml:"cache"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type StoreConfig struct {
	Backend        string        `yaml:"backend" validate:"required,oneof=memory sqlite postgres mongo badger redis"`
	DSN            string        `yaml:"dsn" validate:"required_if=Backend sqlite,required_if=Backend postgres,required_if=Backend mongo"`
	Database       string        `yaml:"database" validate:"required"`
	Collection     string        `yaml:"collection" validate:"required"`
	Path           string        `yaml:"path"`
	RedisAddr      string        `yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisPrefix    string        `yaml:"redis_prefix"`
	ConnectRetries int           `yaml:"connect_retries" validate:"gte=0,lte=20"`
	ConnectBackoff time.Duration `yaml:"connect_backoff" validate:"gte=0"`
}

type CacheConfig struct {
	StepSize     int     `yaml:"step_size" validate:"gte=1"`
	CloseEnough  float64 `yaml:"close_enough" validate:"gt=0,lte=1"`
	QueueSize    int     `yaml:"queue_size" validate:"gte=1"`
	MaxDiceValue int     `yaml:"max_dice_value" validate:"gte=1"`
}

type ServerConfig struct {
	Port            string        `yaml:"port" validate:"required,numeric"`
	RequestTimeout  time.Duration `yaml:"request_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" validate:"gt=0"`
}

type LogConfig struct {
	Env   string `yaml:"env"`
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name" validate:"required"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	sc := store.Config{}.WithDefaults()
	return Config{
		Store: StoreConfig{
			Backend:        sc.Backend,
			Database:       sc.Database,
			Collection:     sc.Collection,
			RedisAddr:      sc.RedisAddr,
			RedisPrefix:    sc.RedisPrefix,
			ConnectRetries: sc.ConnectRetries,
			ConnectBackoff: sc.ConnectBackoff,
		},
		Cache: CacheConfig{
			StepSize:     30,
			CloseEnough:  0.8,
			QueueSize:    cache.DefaultQueueSize,
			MaxDiceValue: dice.DefaultMaxDiceValue,
		},
		Server: ServerConfig{
			Port:            "8080",
			RequestTimeout:  60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 16,
		},
		Telemetry: TelemetryConfig{ServiceName: "dicetables"},
	}
}

// Options names the files Load reads. Both are optional; an EnvFile that
// does not exist is ignored.
type Options struct {
	File    string
	EnvFile string
}

var validate = validator.New()

// Load builds the configuration and validates it.
func Load(opts Options) (Config, error) {
	cfg := Default()

	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", opts.File, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("config: parse %s: %w", opts.File, err)
		}
	}

	dotenv := map[string]string{}
	if opts.EnvFile != "" {
		m, err := godotenv.Read(opts.EnvFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("config: read %s: %w", opts.EnvFile, err)
		default:
			dotenv = m
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	if cfg.Store.Backend == store.BackendSQLite && cfg.Store.DSN == "" {
		cfg.Store.DSN = store.Config{Backend: store.BackendSQLite}.WithDefaults().DSN
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"STORE_BACKEND", &cfg.Store.Backend},
		{"STORE_DSN", &cfg.Store.DSN},
		{"STORE_DATABASE", &cfg.Store.Database},
		{"STORE_COLLECTION", &cfg.Store.Collection},
		{"STORE_PATH", &cfg.Store.Path},
		{"REDIS_ADDR", &cfg.Store.RedisAddr},
		{"REDIS_PREFIX", &cfg.Store.RedisPrefix},
		{"PORT", &cfg.Server.Port},
		{"ENV", &cfg.Log.Env},
		{"LOG_LEVEL", &cfg.Log.Level},
	}
	for _, s := range strs {
		if v, ok := lookup(s.key); ok && v != "" {
			*s.dst = v
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"STORE_CONNECT_RETRIES", &cfg.Store.ConnectRetries},
		{"CACHE_STEP_SIZE", &cfg.Cache.StepSize},
		{"CACHE_QUEUE_SIZE", &cfg.Cache.QueueSize},
		{"CACHE_MAX_DICE_VALUE", &cfg.Cache.MaxDiceValue},
	}
	for _, s := range ints {
		v, ok := lookup(s.key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", s.key, err)
		}
		*s.dst = n
	}

	if v, ok := lookup("CACHE_CLOSE_ENOUGH"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: CACHE_CLOSE_ENOUGH: %w", err)
		}
		cfg.Cache.CloseEnough = f
	}
	if v, ok := lookup("TRACING_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: TRACING_ENABLED: %w", err)
		}
		cfg.Telemetry.Enabled = b
	}
	return nil
}

// StoreOptions is the store factory's view of the configuration.
func (c Config) StoreOptions() store.Config {
	return store.Config{
		Backend:        c.Store.Backend,
		DSN:            c.Store.DSN,
		Database:       c.Store.Database,
		Collection:     c.Store.Collection,
		Path:           c.Store.Path,
		RedisAddr:      c.Store.RedisAddr,
		RedisPrefix:    c.Store.RedisPrefix,
		ConnectRetries: c.Store.ConnectRetries,
		ConnectBackoff: c.Store.ConnectBackoff,
	}
}

func (c Config) CacheOptions() cache.Config {
	return cache.Config{
		StepSize:    c.Cache.StepSize,
		CloseEnough: c.Cache.CloseEnough,
		QueueSize:   c.Cache.QueueSize,
	}
}

func (c Config) RequestOptions() dice.RequestOptions {
	return dice.RequestOptions{MaxDiceValue: c.Cache.MaxDiceValue}
}

func (c Config) LogOptions() logging.Options {
	return logging.Options{Env: c.Log.Env, Level: c.Log.Level}
}
