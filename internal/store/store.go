// Package store persists datasets, snapshots, diffs and findings in the
// service's own PostGIS database. One Store wraps the pool; WithTx binds
// every sub-store to a single transaction so a change-detection run
// commits or rolls back as one unit.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/driftwatch/driftwatch/internal/errs"
)

// Queryer is what sub-stores run statements against: either the pool or
// one transaction.
type Queryer interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

type Store struct {
	db *sqlx.DB

	Datasets  *DatasetStore
	Snapshots *SnapshotStore
	Diffs     *DiffStore
	Findings  *FindingStore
}

func Open(ctx context.Context, url string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", url)
	if err != nil {
		return nil, errs.Wrap(errs.KindLocalStore, fmt.Errorf("connect: %w", err))
	}
	return New(db), nil
}

func New(db *sqlx.DB) *Store {
	s := bind(db)
	s.db = db
	return s
}

func bind(q Queryer) *Store {
	return &Store{
		Datasets:  &DatasetStore{q: q},
		Snapshots: &SnapshotStore{q: q},
		Diffs:     &DiffStore{q: q},
		Findings:  &FindingStore{q: q},
	}
}

func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithTx returns a view of the store whose writes all ride tx.
func (s *Store) WithTx(tx *sqlx.Tx) *Store {
	b := bind(tx)
	b.db = s.db
	return b
}

// InTx runs fn inside one transaction; fn's error rolls it back.
func (s *Store) InTx(ctx context.Context, fn func(*Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.KindLocalStore, fmt.Errorf("begin: %w", err))
	}
	if err := fn(s.WithTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.KindLocalStore, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// IsSchemaMismatch recognises PostGIS typmod violations (dimensionality or
// SRID) that the one-shot column relaxation can repair.
func IsSchemaMismatch(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code == "22023" { // invalid_parameter_value, PostGIS typmod checks
		return true
	}
	msg := strings.ToLower(pgErr.Message)
	return strings.Contains(msg, "dimension") || strings.Contains(msg, "srid")
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsSchemaMismatch(err) {
		return errs.Wrap(errs.KindSchemaMismatch, fmt.Errorf("%s: %w", op, err))
	}
	return errs.Wrap(errs.KindLocalStore, fmt.Errorf("%s: %w", op, err))
}
