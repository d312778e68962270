package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// busyAttempts bounds how often a BUSY statement is replayed. The wait grows
// linearly by busyStep between attempts.
const (
	busyAttempts = 3
	busyStep     = 100 * time.Millisecond
)

// IsBusy reports whether err is SQLite refusing a lock: SQLITE_BUSY,
// "database is locked" or "database table is locked".
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// RunTx runs fn in a transaction, replaying the whole transaction while
// SQLite reports BUSY. Any other error from fn rolls back and is returned.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return onBusy(ctx, "RunTx", func() error { return runOnce(ctx, db, fn) })
}

// Exec is db.ExecContext replayed while SQLite reports BUSY.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := onBusy(ctx, "Exec", func() error {
		var err error
		res, err = db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func onBusy(ctx context.Context, op string, fn func() error) error {
	for i := range busyAttempts {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsBusy(err) || i == busyAttempts-1 {
			return err
		}
		if err := sleepCtx(ctx, time.Duration(i+1)*busyStep); err != nil {
			return fmt.Errorf("dbopen: %s: context cancelled during retry: %w", op, err)
		}
	}
	return fmt.Errorf("dbopen: %s: retries exhausted", op)
}

func runOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
