package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendBadger   = "badger"
	BackendRedis    = "redis"
)

// Backends lists every supported backend name.
var Backends = []string{BackendMemory, BackendSQLite, BackendPostgres, BackendMongo, BackendBadger, BackendRedis}

const (
	DefaultCollection = "dice_tables"
	DefaultDatabase   = "dicetables"
)

type Config struct {
	Backend string

	// DSN is the sqlite path, postgres connection string or mongo URI.
	DSN string

	// Database names the memory or mongo database.
	Database   string
	Collection string

	// Path is the badger directory; empty keeps badger in memory.
	Path string

	RedisAddr   string
	RedisPrefix string

	ConnectRetries int
	ConnectBackoff time.Duration
}

func (c Config) WithDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.Backend == BackendSQLite && c.DSN == "" {
		c.DSN = "dicetables.db"
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.RedisPrefix == "" {
		c.RedisPrefix = "dicetables"
	}
	if c.ConnectRetries < 0 {
		c.ConnectRetries = 0
	} else if c.ConnectRetries == 0 {
		c.ConnectRetries = 2
	}
	if c.ConnectBackoff <= 0 {
		c.ConnectBackoff = 200 * time.Millisecond
	}
	return c
}

// Open connects to the configured backend and wraps it with logging.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	cfg = cfg.WithDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := retryPolicy{retries: cfg.ConnectRetries, base: cfg.ConnectBackoff}

	var (
		s   Store
		err error
	)
	switch cfg.Backend {
	case BackendMemory:
		s = NewMemoryStore(cfg.Database, cfg.Collection)
	case BackendSQLite:
		s, err = OpenSQL(ctx, SQLConfig{Dialect: BackendSQLite, DSN: cfg.DSN, Collection: cfg.Collection})
	case BackendPostgres:
		s, err = connectWithRetry(ctx, logger, cfg.Backend, policy, func(ctx context.Context) (*SQLStore, error) {
			return OpenSQL(ctx, SQLConfig{Dialect: BackendPostgres, DSN: cfg.DSN, Collection: cfg.Collection})
		})
	case BackendMongo:
		s, err = connectWithRetry(ctx, logger, cfg.Backend, policy, func(ctx context.Context) (*MongoStore, error) {
			return OpenMongo(ctx, MongoConfig{URI: cfg.DSN, Database: cfg.Database, Collection: cfg.Collection})
		})
	case BackendBadger:
		s, err = OpenBadger(ctx, BadgerConfig{Path: cfg.Path, Collection: cfg.Collection, Logger: logger})
	case BackendRedis:
		s, err = connectWithRetry(ctx, logger, cfg.Backend, policy, func(ctx context.Context) (*RedisStore, error) {
			return openRedis(ctx, cfg)
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return WithLogging(s, cfg.Backend, logger), nil
}

func openRedis(ctx context.Context, cfg Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	s, err := NewRedisStore(ctx, client, RedisConfig{
		Prefix:     cfg.RedisPrefix,
		Collection: cfg.Collection,
		OwnsClient: true,
	})
	if err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}
