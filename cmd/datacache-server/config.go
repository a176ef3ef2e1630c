package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vnykmshr/datacache-go/pkg/codec"
	"github.com/vnykmshr/datacache-go/pkg/datacache"
	"github.com/vnykmshr/datacache-go/pkg/filter"
	"github.com/vnykmshr/datacache-go/pkg/record"
)

// Config is the server configuration read from datacache.yaml and
// DATACACHE_* environment variables
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Registry RegistryConfig `mapstructure:"registry"`
	Store    StoreConfig    `mapstructure:"store"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Filter   FilterConfig   `mapstructure:"filter"`
	Caches   []CacheConfig  `mapstructure:"caches"`

	// dir is the directory of the file the configuration was read from
	dir string
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// Debug switches to the console encoder and mirrors output to stdout
	Debug bool `mapstructure:"debug"`

	// File enables rotated file output; empty logs to stderr only
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`

	Events EventsConfig `mapstructure:"events"`
}

// EventsConfig selects the cache events written to the log
type EventsConfig struct {
	Loads          bool `mapstructure:"loads"`
	Releases       bool `mapstructure:"releases"`
	Autosaves      bool `mapstructure:"autosaves"`
	Wipes          bool `mapstructure:"wipes"`
	Changes        bool `mapstructure:"changes"`
	Kicks          bool `mapstructure:"kicks"`
	IncludeValues  bool `mapstructure:"include_values"`
	MaxValueLength int  `mapstructure:"max_value_length"`
}

type RegistryConfig struct {
	PlaceID              string        `mapstructure:"place_id"`
	OwnerID              string        `mapstructure:"owner_id"`
	TickInterval         time.Duration `mapstructure:"tick_interval"`
	SessionLockTimeout   time.Duration `mapstructure:"session_lock_timeout"`
	GracePeriod          time.Duration `mapstructure:"grace_period"`
	LockCheckInterval    time.Duration `mapstructure:"lock_check_interval"`
	MaxEvictionDeferrals int           `mapstructure:"max_eviction_deferrals"`
	KickMessage          string        `mapstructure:"kick_message"`
	BudgetBase           int           `mapstructure:"budget_base"`
	BudgetPerEntity      int           `mapstructure:"budget_per_entity"`
}

type StoreConfig struct {
	// Type is memory, redis or sql
	Type  string      `mapstructure:"type"`
	Redis RedisConfig `mapstructure:"redis"`
	SQL   SQLConfig   `mapstructure:"sql"`
	Codec CodecConfig `mapstructure:"codec"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

type CodecConfig struct {
	Format      string `mapstructure:"format"`
	Compression string `mapstructure:"compression"`
	MinSize     int    `mapstructure:"min_size"`
}

type MetricsConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Path              string        `mapstructure:"path"`
	ReportingInterval time.Duration `mapstructure:"reporting_interval"`
	DetailedTimings   bool          `mapstructure:"detailed_timings"`
}

// FilterConfig configures the word filter shared by caches with
// filter_strings set
type FilterConfig struct {
	Words       []string `mapstructure:"words"`
	Placeholder string   `mapstructure:"placeholder"`
	CacheSize   int      `mapstructure:"cache_size"`
}

type CacheConfig struct {
	Name               string        `mapstructure:"name"`
	KeyTemplate        string        `mapstructure:"key_template"`
	ReplaceTypes       bool          `mapstructure:"replace_types"`
	EnableListeners    bool          `mapstructure:"enable_listeners"`
	AutoSaveInterval   time.Duration `mapstructure:"autosave_interval"`
	FloatPlaces        int           `mapstructure:"float_places"`
	ClientRead         bool          `mapstructure:"client_read"`
	ClientReadEndpoint string        `mapstructure:"client_read_endpoint"`
	RetryAttempts      int           `mapstructure:"retry_attempts"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	FilterStrings      bool          `mapstructure:"filter_strings"`
	FilterMode         string        `mapstructure:"filter_mode"`
	FilterKeys         []string      `mapstructure:"filter_keys"`

	// TemplateFile is a JSON document holding the default data, resolved
	// against the configuration file's directory. Keys keep their case,
	// which viper would fold.
	TemplateFile string `mapstructure:"template_file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.max_age", 7)

	events := datacache.NewDefaultLoggingConfig(nil)
	v.SetDefault("log.events.loads", events.LogLoads)
	v.SetDefault("log.events.releases", events.LogReleases)
	v.SetDefault("log.events.autosaves", events.LogAutosave)
	v.SetDefault("log.events.wipes", events.LogWipes)
	v.SetDefault("log.events.changes", events.LogChanges)
	v.SetDefault("log.events.kicks", events.LogKicks)
	v.SetDefault("log.events.max_value_length", events.MaxValueLength)

	d := datacache.NewDefaultOptions()
	v.SetDefault("registry.place_id", d.PlaceID)
	v.SetDefault("registry.tick_interval", d.TickInterval)
	v.SetDefault("registry.session_lock_timeout", d.SessionLockTimeout)
	v.SetDefault("registry.grace_period", d.GracePeriod)
	v.SetDefault("registry.lock_check_interval", d.LockCheckInterval)
	v.SetDefault("registry.max_eviction_deferrals", d.MaxEvictionDeferrals)
	v.SetDefault("registry.kick_message", d.KickMessage)
	v.SetDefault("registry.budget_base", d.BudgetBase)
	v.SetDefault("registry.budget_per_entity", d.BudgetPerEntity)

	v.SetDefault("store.type", "memory")
	v.SetDefault("store.codec.format", string(codec.FormatJSON))
	v.SetDefault("store.codec.compression", string(codec.AlgorithmNone))
	v.SetDefault("store.codec.min_size", 1024)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.reporting_interval", 15*time.Second)

	v.SetDefault("filter.placeholder", filter.DefaultPlaceholder)
	v.SetDefault("filter.cache_size", 1024)

	v.SetDefault("caches", []map[string]any{{"name": "PlayerData"}})
}

// LoadConfig reads the configuration. An explicit path must exist; without
// one, datacache.yaml is searched in ./config, ../config and the working
// directory, and defaults apply when none is found.
func LoadConfig(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("DATACACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("datacache")
		v.SetConfigType("yaml")
		for _, p := range []string{"./config", "../config", "."} {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if used := v.ConfigFileUsed(); used != "" {
		cfg.dir = filepath.Dir(used)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the parts of the configuration the library does not
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "memory":
	case "redis":
		if c.Store.Redis.Addr == "" {
			return errors.New("store.redis.addr is required for the redis store")
		}
	case "sql":
		if c.Store.SQL.DSN == "" {
			return errors.New("store.sql.dsn is required for the sql store")
		}
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}

	if len(c.Caches) == 0 {
		return errors.New("at least one cache must be configured")
	}
	seen := make(map[string]bool, len(c.Caches))
	for i, cc := range c.Caches {
		if cc.Name == "" {
			return fmt.Errorf("caches[%d]: name is required", i)
		}
		if seen[cc.Name] {
			return fmt.Errorf("caches[%d]: duplicate cache name %q", i, cc.Name)
		}
		seen[cc.Name] = true

		if _, err := filter.ParseMode(cc.FilterMode); err != nil {
			return fmt.Errorf("caches[%d]: %w", i, err)
		}
		if cc.FilterStrings && len(c.Filter.Words) == 0 {
			return fmt.Errorf("caches[%d]: filter_strings needs filter.words", i)
		}
	}
	return nil
}

// filterService builds the shared word filter, memoized with an LRU. It
// returns nil when no words are configured.
func (c *Config) filterService() (filter.Service, error) {
	if len(c.Filter.Words) == 0 {
		return nil, nil
	}
	svc, err := filter.NewCached(filter.NewWords(c.Filter.Words...), c.Filter.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create filter cache: %w", err)
	}
	return svc, nil
}

// eventHooks builds the hooks that log the configured cache events
func (c *Config) eventHooks(logger datacache.Logger) *datacache.Hooks {
	ev := c.Log.Events
	return datacache.NewLoggingHooks(&datacache.LoggingConfig{
		Logger:         logger,
		LogLoads:       ev.Loads,
		LogReleases:    ev.Releases,
		LogAutosave:    ev.Autosaves,
		LogWipes:       ev.Wipes,
		LogChanges:     ev.Changes,
		LogKicks:       ev.Kicks,
		IncludeValues:  ev.IncludeValues,
		MaxValueLength: ev.MaxValueLength,
	})
}

// options builds the registry options
func (c *Config) options(logger datacache.Logger) *datacache.Options {
	r := c.Registry
	opts := datacache.NewDefaultOptions().
		WithPlaceID(r.PlaceID).
		WithTickInterval(r.TickInterval).
		WithSessionLockTimeout(r.SessionLockTimeout).
		WithGracePeriod(r.GracePeriod).
		WithLockCheckInterval(r.LockCheckInterval).
		WithMaxEvictionDeferrals(r.MaxEvictionDeferrals).
		WithKickMessage(r.KickMessage).
		WithBudget(r.BudgetBase, r.BudgetPerEntity, time.Minute).
		WithLogger(logger)
	if r.OwnerID != "" {
		opts.WithOwnerID(r.OwnerID)
	}
	return opts
}

func (c *Config) codecConfig() *codec.Config {
	return &codec.Config{
		Format:      codec.Format(c.Store.Codec.Format),
		Compression: codec.Algorithm(c.Store.Codec.Compression),
		MinSize:     c.Store.Codec.MinSize,
		Level:       -1,
	}
}

// loadTemplate reads a cache's default data
func (c *Config) loadTemplate(cc CacheConfig) (record.Data, error) {
	if cc.TemplateFile == "" {
		return record.Data{}, nil
	}
	path := cc.TemplateFile
	if !filepath.IsAbs(path) && c.dir != "" {
		path = filepath.Join(c.dir, path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cache %s: read template: %w", cc.Name, err)
	}
	var data record.Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("cache %s: decode template %s: %w", cc.Name, path, err)
	}
	return data, nil
}

// cacheConfig builds the library configuration for one cache. Event hooks
// log through logger when it is set; svc serves filter_strings.
func (c *Config) cacheConfig(cc CacheConfig, logger datacache.Logger, svc filter.Service) (*datacache.Config, error) {
	template, err := c.loadTemplate(cc)
	if err != nil {
		return nil, err
	}
	cfg := datacache.NewDefaultConfig().
		WithTemplate(template).
		WithReplaceTypes(cc.ReplaceTypes).
		WithListeners(cc.EnableListeners).
		WithCodec(c.codecConfig())
	if logger != nil {
		cfg.Hooks.Merge(c.eventHooks(logger.With(datacache.F("cache", cc.Name))))
	}
	if cc.FilterStrings {
		if svc == nil {
			return nil, fmt.Errorf("cache %s: filter_strings without a filter service", cc.Name)
		}
		mode, err := filter.ParseMode(cc.FilterMode)
		if err != nil {
			return nil, fmt.Errorf("cache %s: %w", cc.Name, err)
		}
		cfg.WithStringFilter(svc, mode, cc.FilterKeys...).
			WithFilterPlaceholder(c.Filter.Placeholder)
	}
	if cc.KeyTemplate != "" {
		cfg.WithKeyTemplate(datacache.KeyTemplate(cc.KeyTemplate))
	}
	if cc.AutoSaveInterval > 0 {
		cfg.WithAutoSaveInterval(cc.AutoSaveInterval)
	}
	if cc.FloatPlaces > 0 {
		cfg.WithFloatCompression(cc.FloatPlaces)
	}
	if cc.ClientRead {
		cfg.WithClientRead(cc.ClientReadEndpoint)
	}
	if cc.RetryAttempts > 0 {
		delay := cc.RetryDelay
		if delay == 0 {
			delay = time.Second
		}
		cfg.WithRetry(cc.RetryAttempts, delay)
	}
	return cfg, nil
}
