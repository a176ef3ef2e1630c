// Package sql implements a record store on top of a relational database
// through gorm. Records are kept as encoded blobs keyed by the record key.
package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlog "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/vnykmshr/datacache-go/internal/store"
	"github.com/vnykmshr/datacache-go/pkg/codec"
	"github.com/vnykmshr/datacache-go/pkg/record"
)

// Row is one stored record
type Row struct {
	Key       string `gorm:"primaryKey;size:191"`
	Payload   []byte `gorm:"type:mediumblob"`
	Version   int64
	UpdatedAt time.Time
}

// TableName pins the table name regardless of naming strategy
func (Row) TableName() string { return "datacache_records" }

// Config holds SQL store configuration
type Config struct {
	// DB is an already opened gorm handle; when nil DSN is opened with the
	// MySQL driver
	DB *gorm.DB

	// DSN is a MySQL data source name, e.g. user:pass@tcp(host:3306)/db
	DSN string

	// KeyPrefix namespaces keys so several caches can share the table
	KeyPrefix string

	// SlowThreshold logs statements slower than this duration
	SlowThreshold time.Duration

	// Codec configures payload serialization; nil means plain JSON
	Codec *codec.Config
}

// Store implements store.Store with row locking for Update
type Store struct {
	db     *gorm.DB
	codec  codec.Codec
	prefix string
	ownDB  bool
}

// New opens (if needed) the database and migrates the records table
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("sql store configuration is required")
	}

	c, err := codec.New(config.Codec)
	if err != nil {
		return nil, err
	}

	db, ownDB := config.DB, false
	if db == nil {
		if config.DSN == "" {
			return nil, fmt.Errorf("sql store requires a DB handle or DSN")
		}
		slow := config.SlowThreshold
		if slow <= 0 {
			slow = 500 * time.Millisecond
		}
		logger := gormlog.New(gormWriter{}, gormlog.Config{
			SlowThreshold:             slow,
			LogLevel:                  gormlog.Warn,
			IgnoreRecordNotFoundError: true,
		})
		db, err = gorm.Open(mysql.Open(config.DSN), &gorm.Config{
			NamingStrategy:         schema.NamingStrategy{SingularTable: true},
			SkipDefaultTransaction: true,
			Logger:                 logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		ownDB = true
	}

	if err := db.AutoMigrate(&Row{}); err != nil {
		return nil, fmt.Errorf("failed to migrate records table: %w", err)
	}

	return &Store{db: db, codec: c, prefix: config.KeyPrefix, ownDB: ownDB}, nil
}

// Get loads the row for key and decodes it
func (s *Store) Get(ctx context.Context, key string) (*record.Record, error) {
	var row Row
	err := s.db.WithContext(ctx).Where("`key` = ?", s.prefix+key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sql get %s: %w", key, err)
	}
	return s.codec.Unmarshal(row.Payload)
}

// Set upserts the row for key
func (s *Store) Set(ctx context.Context, key string, r *record.Record) error {
	row, err := s.encode(key, r)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
	if err != nil {
		return fmt.Errorf("sql set %s: %w", key, err)
	}
	return nil
}

// Update locks the row with SELECT ... FOR UPDATE inside a transaction, so
// concurrent updaters of the same key are serialized by the database
func (s *Store) Update(ctx context.Context, key string, fn store.UpdateFunc) (*record.Record, error) {
	var written *record.Record

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest *record.Record
		var row Row
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("`key` = ?", s.prefix+key).Take(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return fmt.Errorf("sql lock %s: %w", key, err)
		default:
			if latest, err = s.codec.Unmarshal(row.Payload); err != nil {
				return err
			}
		}

		next, err := fn(latest)
		if err != nil {
			return err
		}

		encoded, err := s.encode(key, next)
		if err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(encoded).Error; err != nil {
			return fmt.Errorf("sql write %s: %w", key, err)
		}
		written = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return written, nil
}

// Close closes the connection pool when the store opened it
func (s *Store) Close() error {
	if !s.ownDB {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) encode(key string, r *record.Record) (*Row, error) {
	payload, err := s.codec.Marshal(r)
	if err != nil {
		return nil, err
	}
	return &Row{Key: s.prefix + key, Payload: payload, Version: r.Version, UpdatedAt: time.Now()}, nil
}

// gormWriter truncates slow-query reports before they reach the log
type gormWriter struct{}

func (gormWriter) Printf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if len(msg) > 500 {
		msg = msg[:500]
	}
	Logf("%s", msg)
}

// Logf receives gorm warnings; replaced by the server to route them into its logger
var Logf = func(format string, args ...interface{}) {}

var _ store.Store = (*Store)(nil)
