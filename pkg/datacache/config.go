package datacache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/vnykmshr/datacache-go/internal/store"
	"github.com/vnykmshr/datacache-go/internal/store/memory"
	redisstore "github.com/vnykmshr/datacache-go/internal/store/redis"
	sqlstore "github.com/vnykmshr/datacache-go/internal/store/sql"
	"github.com/vnykmshr/datacache-go/pkg/codec"
	"github.com/vnykmshr/datacache-go/pkg/filter"
	"github.com/vnykmshr/datacache-go/pkg/metrics"
	"github.com/vnykmshr/datacache-go/pkg/record"
)

// Store is the backing store contract. Implementations must make Update
// atomic per key.
type Store = store.Store

// UpdateFunc is the compare-and-swap callback passed to Store.Update
type UpdateFunc = store.UpdateFunc

// ErrStoreConflict is returned by a Store when Update lost a race
var ErrStoreConflict = store.ErrConflict

// NewMemoryStore returns an in-process store. Sharing one between two
// registries simulates two server instances.
func NewMemoryStore() Store {
	return memory.New()
}

// MaxRetryBudget bounds RetryAttempts × RetryDelay
const MaxRetryBudget = 30 * time.Second

// StoreType defines the type of backend store to use
type StoreType int

const (
	// StoreTypeMemory uses in-memory storage (default)
	StoreTypeMemory StoreType = iota
	// StoreTypeRedis uses Redis as backend storage
	StoreTypeRedis
	// StoreTypeSQL uses a MySQL table through gorm
	StoreTypeSQL
)

func (t StoreType) String() string {
	switch t {
	case StoreTypeMemory:
		return "memory"
	case StoreTypeRedis:
		return "redis"
	case StoreTypeSQL:
		return "sql"
	default:
		return "unknown"
	}
}

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	// Client is a pre-configured Redis client
	// If nil, a new client will be created using Addr, Password, DB
	Client redis.UniversalClient

	// Addr is the Redis server address (host:port)
	// Only used if Client is nil
	Addr string

	// Password for Redis authentication
	// Only used if Client is nil
	Password string

	// DB is the Redis database number to use
	// Only used if Client is nil
	DB int

	// KeyPrefix is prepended to all record keys
	// Default: "datacache:<cache name>:"
	KeyPrefix string
}

// SQLConfig holds SQL-specific configuration
type SQLConfig struct {
	// DB is an open gorm handle; if nil DSN is opened with the MySQL driver
	DB *gorm.DB

	// DSN is the MySQL data source name
	DSN string
}

// MetricsConfig holds metrics exporter configuration
type MetricsConfig struct {
	// Exporter is the metrics exporter to use
	Exporter metrics.Exporter

	// Enabled determines whether metrics collection is enabled
	Enabled bool

	// ReportingInterval determines how often to export stats automatically
	// Set to 0 to disable automatic reporting
	ReportingInterval time.Duration

	// Labels are additional labels applied to all metrics
	Labels metrics.Labels
}

// Config defines the configuration options for a Cache instance
type Config struct {
	// KeyTemplate maps entity ids to store keys
	// Default: "Player_%i"
	KeyTemplate KeyTemplate

	// Template is the default data every record is reconciled against
	Template record.Data

	// ReplaceTypes lets the template win when a stored value has a
	// different kind than the template value
	ReplaceTypes bool

	// EnableListeners turns on per-tick change detection for OnChanged
	EnableListeners bool

	// CompressFloats rounds float leaves to FloatPlaces decimals before writes
	CompressFloats bool
	FloatPlaces    int

	// FilterStrings passes string leaves through Filter on load
	FilterStrings     bool
	FilterMode        filter.Mode
	FilterKeys        []string
	Filter            filter.Service
	FilterPlaceholder string

	// ClientRead exposes each entity's own data on the registry handler
	ClientRead         bool
	ClientReadEndpoint string

	// RetryEnabled retries failed store calls RetryAttempts times in total,
	// RetryDelay apart
	RetryEnabled  bool
	RetryAttempts int
	RetryDelay    time.Duration

	// AutoSaveInterval is the period between autosaves of an entity
	// Default: 60 seconds
	AutoSaveInterval time.Duration

	// Hooks defines event callbacks
	Hooks *Hooks

	// Metrics holds metrics exporter configuration
	Metrics *MetricsConfig

	// StoreType selects the backend when Store is nil
	StoreType StoreType

	// Store is an explicit backing store; it takes precedence over StoreType
	Store Store

	// Redis holds Redis-specific configuration
	Redis *RedisConfig

	// SQL holds SQL-specific configuration
	SQL *SQLConfig

	// Codec configures record encoding for the redis and sql stores
	Codec *codec.Config
}

// NewDefaultConfig returns a Config with sensible defaults for memory storage
func NewDefaultConfig() *Config {
	return &Config{
		KeyTemplate:        DefaultKeyTemplate,
		Template:           record.Data{},
		FloatPlaces:        2,
		FilterPlaceholder:  filter.DefaultPlaceholder,
		ClientReadEndpoint: "data",
		RetryEnabled:       true,
		RetryAttempts:      3,
		RetryDelay:         time.Second,
		AutoSaveInterval:   60 * time.Second,
		Hooks:              &Hooks{},
		StoreType:          StoreTypeMemory,
	}
}

// WithKeyTemplate sets the key template
func (c *Config) WithKeyTemplate(t KeyTemplate) *Config {
	c.KeyTemplate = t
	return c
}

// WithTemplate sets the default data
func (c *Config) WithTemplate(data record.Data) *Config {
	c.Template = data
	return c
}

// WithReplaceTypes enables type-replacing reconciliation
func (c *Config) WithReplaceTypes(enabled bool) *Config {
	c.ReplaceTypes = enabled
	return c
}

// WithListeners enables change detection
func (c *Config) WithListeners(enabled bool) *Config {
	c.EnableListeners = enabled
	return c
}

// WithFloatCompression rounds float leaves to places decimals
func (c *Config) WithFloatCompression(places int) *Config {
	c.CompressFloats = true
	c.FloatPlaces = places
	return c
}

// WithStringFilter filters string leaves through svc on load
func (c *Config) WithStringFilter(svc filter.Service, mode filter.Mode, keys ...string) *Config {
	c.FilterStrings = true
	c.Filter = svc
	c.FilterMode = mode
	c.FilterKeys = keys
	return c
}

// WithFilterPlaceholder sets the replacement for strings that failed filtering
func (c *Config) WithFilterPlaceholder(placeholder string) *Config {
	c.FilterPlaceholder = placeholder
	return c
}

// WithClientRead exposes entity data on the registry handler under endpoint
func (c *Config) WithClientRead(endpoint string) *Config {
	c.ClientRead = true
	if endpoint != "" {
		c.ClientReadEndpoint = endpoint
	}
	return c
}

// WithRetry sets the store retry policy
func (c *Config) WithRetry(attempts int, delay time.Duration) *Config {
	c.RetryEnabled = true
	c.RetryAttempts = attempts
	c.RetryDelay = delay
	return c
}

// WithoutRetry disables store retries
func (c *Config) WithoutRetry() *Config {
	c.RetryEnabled = false
	return c
}

// WithAutoSaveInterval sets the autosave period
func (c *Config) WithAutoSaveInterval(d time.Duration) *Config {
	c.AutoSaveInterval = d
	return c
}

// WithHooks sets the event hooks
func (c *Config) WithHooks(hooks *Hooks) *Config {
	c.Hooks = hooks
	return c
}

// WithStore sets an explicit backing store
func (c *Config) WithStore(s Store) *Config {
	c.Store = s
	return c
}

// WithRedis configures the cache to use Redis storage
func (c *Config) WithRedis(redisConfig *RedisConfig) *Config {
	c.StoreType = StoreTypeRedis
	c.Redis = redisConfig
	return c
}

// WithRedisClient configures the cache to use Redis with a pre-configured client
func (c *Config) WithRedisClient(client redis.UniversalClient) *Config {
	return c.WithRedis(&RedisConfig{Client: client})
}

// WithSQL configures the cache to use SQL storage
func (c *Config) WithSQL(sqlConfig *SQLConfig) *Config {
	c.StoreType = StoreTypeSQL
	c.SQL = sqlConfig
	return c
}

// WithCodec sets record encoding for the redis and sql stores
func (c *Config) WithCodec(codecConfig *codec.Config) *Config {
	c.Codec = codecConfig
	return c
}

// WithMetricsExporter configures metrics with the given exporter
func (c *Config) WithMetricsExporter(exporter metrics.Exporter) *Config {
	c.Metrics = &MetricsConfig{
		Exporter:          exporter,
		Enabled:           true,
		ReportingInterval: 30 * time.Second,
		Labels:            make(metrics.Labels),
	}
	return c
}

// attempts returns the total number of tries per store call
func (c *Config) attempts() int {
	if !c.RetryEnabled || c.RetryAttempts < 1 {
		return 1
	}
	return c.RetryAttempts
}

// fillDefaults replaces zero values that have a sensible default
func (c *Config) fillDefaults() {
	d := NewDefaultConfig()
	if c.KeyTemplate == "" {
		c.KeyTemplate = d.KeyTemplate
	}
	if c.Template == nil {
		c.Template = d.Template
	}
	if c.Hooks == nil {
		c.Hooks = d.Hooks
	}
	if c.AutoSaveInterval == 0 {
		c.AutoSaveInterval = d.AutoSaveInterval
	}
	if c.ClientReadEndpoint == "" {
		c.ClientReadEndpoint = d.ClientReadEndpoint
	}
	if c.FilterPlaceholder == "" {
		c.FilterPlaceholder = d.FilterPlaceholder
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if err := c.KeyTemplate.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.RetryEnabled {
		if c.RetryAttempts < 1 {
			return fmt.Errorf("%w: retry attempts must be at least 1, got %d", ErrInvalidConfig, c.RetryAttempts)
		}
		if c.RetryDelay < 0 {
			return fmt.Errorf("%w: retry delay must not be negative", ErrInvalidConfig)
		}
		if total := time.Duration(c.RetryAttempts) * c.RetryDelay; total >= MaxRetryBudget {
			return fmt.Errorf("%w: retry attempts × delay must be under %s, got %s", ErrInvalidConfig, MaxRetryBudget, total)
		}
	}
	if c.CompressFloats && (c.FloatPlaces < 0 || c.FloatPlaces > 15) {
		return fmt.Errorf("%w: float places must be between 0 and 15, got %d", ErrInvalidConfig, c.FloatPlaces)
	}
	if c.FilterStrings && c.Filter == nil {
		return fmt.Errorf("%w: string filtering requires a filter service", ErrInvalidConfig)
	}
	if c.AutoSaveInterval <= 0 {
		return fmt.Errorf("%w: autosave interval must be positive", ErrInvalidConfig)
	}
	if c.Store == nil {
		switch c.StoreType {
		case StoreTypeMemory:
		case StoreTypeRedis:
			if c.Redis == nil || (c.Redis.Client == nil && c.Redis.Addr == "") {
				return fmt.Errorf("%w: redis store requires a client or address", ErrInvalidConfig)
			}
		case StoreTypeSQL:
			if c.SQL == nil || (c.SQL.DB == nil && c.SQL.DSN == "") {
				return fmt.Errorf("%w: sql store requires a DB handle or DSN", ErrInvalidConfig)
			}
		default:
			return fmt.Errorf("%w: unsupported store type %v", ErrInvalidConfig, c.StoreType)
		}
	}
	return nil
}

// newStore builds the backing store for the cache called name
func (c *Config) newStore(ctx context.Context, name string) (Store, error) {
	if c.Store != nil {
		return c.Store, nil
	}

	switch c.StoreType {
	case StoreTypeRedis:
		prefix := c.Redis.KeyPrefix
		if prefix == "" {
			prefix = redisstore.DefaultKeyPrefix + name + ":"
		}
		return redisstore.New(ctx, &redisstore.Config{
			Client:    c.Redis.Client,
			Addr:      c.Redis.Addr,
			Password:  c.Redis.Password,
			DB:        c.Redis.DB,
			KeyPrefix: prefix,
			Codec:     c.Codec,
		})
	case StoreTypeSQL:
		return sqlstore.New(&sqlstore.Config{DB: c.SQL.DB, DSN: c.SQL.DSN, KeyPrefix: name + ":", Codec: c.Codec})
	default:
		return memory.New(), nil
	}
}
