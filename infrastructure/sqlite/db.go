package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// DB wraps split read/write Bun connections. All writes go through a single
// connection that takes the database lock at BEGIN, so write transactions are
// serialized and check-then-act sequences inside one are race free.
type DB struct {
	WriteSQL *sql.DB
	ReadSQL  *sql.DB
	W        *bun.DB
	R        *bun.DB
}

// Options tunes the connection pools.
type Options struct {
	ReadConns   int
	BusyTimeout time.Duration
}

var DefaultOptions = Options{
	ReadConns:   8,
	BusyTimeout: 5 * time.Second,
}

// OpenDB opens path with DefaultOptions.
func OpenDB(path string) (*DB, error) {
	return OpenDBWithOptions(path, DefaultOptions)
}

// OpenDBWithOptions initializes sqlite handles for immediate writer tx and pooled reads.
func OpenDBWithOptions(path string, opts Options) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if opts.ReadConns <= 0 {
		opts.ReadConns = DefaultOptions.ReadConns
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultOptions.BusyTimeout
	}
	busy := opts.BusyTimeout.Milliseconds()

	writeDSN := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=%d&_txlock=immediate&_journal_mode=WAL", path, busy)
	readDSN := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=%d&_query_only=1", path, busy)

	wsql, err := sql.Open("sqlite3", writeDSN)
	if err != nil {
		return nil, fmt.Errorf("open write db: %w", err)
	}
	wsql.SetMaxOpenConns(1)
	wsql.SetConnMaxLifetime(15 * time.Minute)

	// The writer creates the file so the read pool never races a missing database.
	if err := wsql.Ping(); err != nil {
		wsql.Close()
		return nil, fmt.Errorf("ping write db: %w", err)
	}

	rsql, err := sql.Open("sqlite3", readDSN)
	if err != nil {
		wsql.Close()
		return nil, fmt.Errorf("open read db: %w", err)
	}
	rsql.SetMaxOpenConns(opts.ReadConns)
	rsql.SetConnMaxIdleTime(5 * time.Minute)
	rsql.SetConnMaxLifetime(15 * time.Minute)

	if _, err := rsql.Exec("PRAGMA query_only = ON"); err != nil {
		wsql.Close()
		rsql.Close()
		return nil, fmt.Errorf("enable read query_only: %w", err)
	}

	return &DB{
		WriteSQL: wsql,
		ReadSQL:  rsql,
		W:        bun.NewDB(wsql, sqlitedialect.New()),
		R:        bun.NewDB(rsql, sqlitedialect.New()),
	}, nil
}

// Close closes read and write handles and returns the first error.
func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	var errs []error
	if db.W != nil {
		errs = appendErr(errs, db.W.Close())
	}
	if db.R != nil {
		errs = appendErr(errs, db.R.Close())
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func appendErr(errs []error, err error) []error {
	if err != nil {
		return append(errs, err)
	}
	return errs
}

// IsUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint failure.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// IsConstraintViolation reports whether err is any constraint failure.
func IsConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrConstraint
}
