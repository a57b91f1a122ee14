// Package store is the durable persistence layer (spec component 4.A): a
// single embedded relational engine (SQLite via glebarez/sqlite, the
// teacher's pure-Go gorm driver of choice) fronted by a connection pool and
// per-run write serialization.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is the durable persistence layer shared by the agent loop, the
// session manager and the API surface.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger

	// runLocks serializes writers per run_id (spec §5: "Steps/Logs within a
	// run are totally ordered"). Distinct runs proceed fully in parallel.
	runLocksMu sync.Mutex
	runLocks   map[string]*sync.Mutex

	logSeqMu sync.Mutex
	logSeq   int64
}

// PoolConfig configures the underlying *sql.DB connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig mirrors the teacher's internal/database defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// Open opens (creating if necessary) the SQLite file at <dataDir>/tasker.db,
// applies migrations, and configures the pool.
func Open(dataDir string, pool PoolConfig, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "tasker.db")

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	// SQLite serializes writers at the file level; a single open connection
	// avoids SQLITE_BUSY thrash while still letting reads proceed through
	// gorm's connection pool for concurrent sessions.
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)

	if err := runMigrations(sqlDB); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info("store opened", zap.String("path", dbPath))

	return &Store{
		db:       db,
		logger:   log.With(zap.String("component", "store")),
		runLocks: make(map[string]*sync.Mutex),
	}, nil
}

// OpenWithDB wraps an already-open *sql.DB (used by tests with sqlite's
// in-memory mode, where Open's file-path semantics don't apply).
func OpenWithDB(sqlDB *sql.DB, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Dialector{Conn: sqlDB}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("wrap sql.DB: %w", err)
	}
	if err := runMigrations(sqlDB); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{
		db:       db,
		logger:   log.With(zap.String("component", "store")),
		runLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the underlying connection is alive, for /healthz.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// lockFor returns the per-run mutex, creating it on first use. Locks are
// never removed: a run_id is reused rarely enough (never, in practice —
// ids are UUIDs) that the map's steady-state size is bounded by total runs
// ever seen, which is acceptable for a sidecar process.
func (s *Store) lockFor(runID string) *sync.Mutex {
	s.runLocksMu.Lock()
	defer s.runLocksMu.Unlock()
	l, ok := s.runLocks[runID]
	if !ok {
		l = &sync.Mutex{}
		s.runLocks[runID] = l
	}
	return l
}

func (s *Store) nextLogSeq() int64 {
	s.logSeqMu.Lock()
	defer s.logSeqMu.Unlock()
	s.logSeq++
	return s.logSeq
}
