// Package db owns the Postgres schema and the raw SQL behind store.Postgres.
// Statements go through gorm's Raw/Exec so one connection pool serves both the
// auto-migration and the hand-written queries.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"horse.fit/jobdedup/internal/config"
)

const (
	connMaxIdleTime = 5 * time.Minute
	connMaxLifetime = 30 * time.Minute
)

// Querier is the statement surface shared by the pool and a transaction.
type Querier interface {
	QueryRow(ctx context.Context, query string, args ...any) *Row
	Query(ctx context.Context, query string, args ...any) (*Rows, error)
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

// Tx is a Querier bound to an open transaction.
type Tx interface {
	Querier
}

// Row is a single result row. Scan on a missing row returns sql.ErrNoRows.
type Row struct {
	row *sql.Row
	err error
}

func (r *Row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return r.row.Scan(dest...)
}

// Rows iterates a result set; callers must Close it.
type Rows struct {
	*sql.Rows
}

func (r *Rows) Close() {
	_ = r.Rows.Close()
}

// gormQuerier runs raw statements on a gorm handle, which is either the pool
// or an open transaction.
type gormQuerier struct {
	gdb *gorm.DB
}

func (q gormQuerier) QueryRow(ctx context.Context, query string, args ...any) *Row {
	row := q.gdb.WithContext(ctx).Raw(query, args...).Row()
	if row == nil {
		return &Row{err: sql.ErrNoRows}
	}
	return &Row{row: row}
}

func (q gormQuerier) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	rows, err := q.gdb.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, Classify(err)
	}
	return &Rows{Rows: rows}, nil
}

func (q gormQuerier) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res := q.gdb.WithContext(ctx).Exec(query, args...)
	return res.RowsAffected, Classify(res.Error)
}

// Pool is the process-wide database handle.
type Pool struct {
	gormQuerier
	sqlDB *sql.DB
}

// NewPool connects, pings and migrates the jobs schema.
func NewPool(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	gdb, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger:  newGormLogger(log.With().Str("component", "gorm").Logger(), slowQueryThreshold),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, Classify(fmt.Errorf("open database: %w", err))
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	maxOpen := max(1, int(cfg.DBMaxConns))
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(max(1, min(int(cfg.DBMinConns), maxOpen)))
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	pool := &Pool{gormQuerier: gormQuerier{gdb: gdb}, sqlDB: sqlDB}
	if err := pool.Ping(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if err := pool.migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	log.Info().Int("max_conns", maxOpen).Msg("database ready")
	return pool, nil
}

// WithinTx runs fn in a transaction, committing when fn returns nil. Errors
// are passed through Classify.
func (p *Pool) WithinTx(ctx context.Context, fn func(Tx) error) error {
	tx := p.gdb.WithContext(ctx).Begin()
	if tx.Error != nil {
		return Classify(fmt.Errorf("begin transaction: %w", tx.Error))
	}

	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := fn(gormQuerier{gdb: tx}); err != nil {
		return Classify(err)
	}
	if err := tx.Commit().Error; err != nil {
		return Classify(fmt.Errorf("commit transaction: %w", err))
	}
	committed = true
	return nil
}

func (p *Pool) Ping(ctx context.Context) error {
	if p == nil || p.sqlDB == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	if err := p.sqlDB.PingContext(ctx); err != nil {
		return Classify(fmt.Errorf("ping database: %w", err))
	}
	return nil
}

func (p *Pool) Close() error {
	if p == nil || p.sqlDB == nil {
		return nil
	}
	return p.sqlDB.Close()
}

// IsNoRows reports whether err means the query matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, gorm.ErrRecordNotFound)
}
