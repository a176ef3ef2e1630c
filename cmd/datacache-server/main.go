// Command datacache-server hosts session-locked entity caches behind HTTP.
// Entities join with POST /sessions/:id and leave with DELETE /sessions/:id;
// the registry endpoints and Prometheus metrics are served alongside.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	sqlstore "github.com/vnykmshr/datacache-go/internal/store/sql"
	"github.com/vnykmshr/datacache-go/pkg/datacache"
	"github.com/vnykmshr/datacache-go/pkg/metrics"
	"github.com/vnykmshr/datacache-go/pkg/roster"
)

func main() {
	flags := pflag.NewFlagSet("datacache-server", pflag.ExitOnError)
	configPath := flags.String("config", "", "path to the configuration file")
	flags.String("addr", "", "listen address (overrides server.addr)")
	_ = flags.Parse(os.Args[1:])

	v := viper.New()
	if f := flags.Lookup("addr"); f.Changed {
		_ = v.BindPFlag("server.addr", f)
	}

	cfg, err := LoadConfig(v, *configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *Config) error {
	z, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = z.Sync() }()
	sqlstore.Logf = z.Named("gorm").Sugar().Warnf

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := datacache.NewZapLogger(z.Named("datacache"))
	players := roster.NewStatic()
	players.OnKick(func(id int64, message string) {
		z.Info("Entity kicked", zap.Int64("entity", id), zap.String("message", message))
	})

	reg, err := datacache.NewRegistry(cfg.options(logger).WithRoster(players))
	if err != nil {
		return err
	}

	conns, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer conns.close()

	var exporter metrics.Exporter
	if cfg.Metrics.Enabled {
		exporter, err = metrics.NewPrometheusExporter(
			metrics.NewDefaultConfig().WithDetailedTimings(cfg.Metrics.DetailedTimings), nil)
		if err != nil {
			return fmt.Errorf("create metrics exporter: %w", err)
		}
	}

	words, err := cfg.filterService()
	if err != nil {
		return err
	}

	for _, cc := range cfg.Caches {
		c, err := cfg.cacheConfig(cc, logger, words)
		if err != nil {
			return err
		}
		conns.apply(c)
		if exporter != nil {
			c.WithMetricsExporter(exporter)
			c.Metrics.ReportingInterval = cfg.Metrics.ReportingInterval
		}
		if _, err := reg.CreateCache(cc.Name, c); err != nil {
			return fmt.Errorf("create cache %s: %w", cc.Name, err)
		}
	}

	srv := &server{reg: reg, roster: players, logger: z}
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = promhttp.Handler()
	}
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.routes(cfg.Metrics.Path, metricsHandler),
	}

	reg.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		z.Info("Listening", zap.String("addr", cfg.Server.Addr), zap.String("owner", reg.OwnerID()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		z.Info("Shutting down")
	case err := <-errCh:
		if err != nil {
			z.Error("HTTP server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		z.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	if err := reg.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	if report, ok := reg.LastDrain(); ok {
		z.Info("Drained",
			zap.Int("issued", report.Issued),
			zap.Int("completed", report.Completed),
			zap.Int("failed", report.Failed),
			zap.Duration("duration", report.Duration))
	}
	return nil
}

// newLogger builds the process logger. Debug mode writes console output to
// stdout; otherwise JSON goes to the rotated file, or stderr without one.
func newLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var sinks []zapcore.WriteSyncer
	if cfg.File != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}))
	}

	var encoder zapcore.Encoder
	if cfg.Debug {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
		sinks = append(sinks, zapcore.AddSync(os.Stdout))
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
		if len(sinks) == 0 {
			sinks = append(sinks, zapcore.AddSync(os.Stderr))
		}
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level)
	opts := []zap.Option{zap.AddCaller()}
	if cfg.Debug {
		opts = append(opts, zap.Development())
	}
	return zap.New(core, opts...), nil
}

// backend holds the connections shared by every cache
type backend struct {
	kind  string
	redis *redis.Client
	db    *gorm.DB
}

func newBackend(ctx context.Context, cfg *Config) (*backend, error) {
	b := &backend{kind: cfg.Store.Type}
	switch cfg.Store.Type {
	case "redis":
		b.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.redis.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
	case "sql":
		db, err := gorm.Open(mysql.Open(cfg.Store.SQL.DSN), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		b.db = db
	}
	return b, nil
}

// apply points a cache configuration at the shared connection
func (b *backend) apply(c *datacache.Config) {
	switch b.kind {
	case "redis":
		c.WithRedisClient(b.redis)
	case "sql":
		c.WithSQL(&datacache.SQLConfig{DB: b.db})
	}
}

func (b *backend) close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.db != nil {
		if sqlDB, err := b.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
