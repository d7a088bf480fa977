package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Store wraps the database handle shared by the ledger components. Every
// money mutation runs inside Transact.
type Store struct {
	DB      *gorm.DB
	Retries int
	Backoff time.Duration
}

func NewStore(db *gorm.DB, retries int, backoff time.Duration) *Store {
	if retries < 0 {
		retries = 0
	}
	if backoff <= 0 {
		backoff = 20 * time.Millisecond
	}
	return &Store{DB: db, Retries: retries, Backoff: backoff}
}

// Transact runs fn in one database transaction. Serialization failures,
// deadlocks and busy errors re-run the whole closure with exponential
// backoff; any other error (including every ledger rule violation) is
// returned as is.
func (s *Store) Transact(ctx context.Context, fn func(tx *gorm.DB) error) error {
	attempt := 0
	for {
		err := s.DB.WithContext(ctx).Transaction(fn)
		if err == nil || !isRetryable(err) || attempt >= s.Retries {
			return err
		}
		wait := s.Backoff << attempt
		attempt++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func isRetryable(err error) bool {
	var ledgerErr *LedgerError
	if errors.As(err, &ledgerErr) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
