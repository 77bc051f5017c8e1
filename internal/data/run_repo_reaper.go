package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/appointflow/notifier/internal/core"
	"github.com/appointflow/notifier/internal/data/pgxutil"
)

// Advisory lock namespace for reaper operations, taken with the two-arg
// pg_try_advisory_xact_lock(major, minor) so concurrent reapers skip instead of queueing.
const (
	advisoryLockReaperMajor       = 1000
	advisoryLockReaperDeleteSteps = 1
	advisoryLockReaperStaleLeases = 2
)

var _ core.StepReaper = (*RunRepo)(nil)

// lockedBatch runs fn inside a transaction guarded by the reaper advisory lock for minor. When
// another instance holds the lock the call is a no-op.
func (r *RunRepo) lockedBatch(ctx context.Context, minor int, fn func(*sql.Tx) (sql.Result, error)) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, minor).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				return nil
			}
			res, err := fn(tx)
			if err != nil {
				return err
			}
			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// DeleteOldSteps deletes step memos of terminal runs completed more than maxAge ago. The runs
// themselves are kept. Processes up to batchSize rows per call.
func (r *RunRepo) DeleteOldSteps(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}
	if maxAge <= 0 {
		return 0, errors.New("max age must be greater than zero")
	}
	cutoff := r.now().Add(-maxAge)

	return r.lockedBatch(ctx, advisoryLockReaperDeleteSteps, func(tx *sql.Tx) (sql.Result, error) {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM run_steps
			USING (
				SELECT s.ctid
				FROM run_steps s
				JOIN notification_runs n ON n.id = s.run_id
				WHERE n.completed_at IS NOT NULL
				  AND n.completed_at < $1
				ORDER BY n.completed_at
				LIMIT $2
			) sub
			WHERE run_steps.ctid = sub.ctid
		`, cutoff, batchSize)
		if err != nil {
			return nil, fmt.Errorf("delete old run steps: %w", err)
		}
		return res, nil
	})
}

// ReleaseStaleLeases clears leases that expired more than grace ago so monitoring reflects that no
// worker holds the run. Reservation already ignores expired leases; this only tidies the rows and
// wakes idle workers.
func (r *RunRepo) ReleaseStaleLeases(ctx context.Context, grace time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}
	now := r.now()
	cutoff := now.Add(-grace)

	return r.lockedBatch(ctx, advisoryLockReaperStaleLeases, func(tx *sql.Tx) (sql.Result, error) {
		res, err := tx.ExecContext(ctx, `
			UPDATE notification_runs
			SET lease_expires_at = NULL,
			    updated_at = $1
			WHERE id IN (
				SELECT id FROM notification_runs
				WHERE state IN `+activeStates+`
				  AND lease_expires_at IS NOT NULL
				  AND lease_expires_at < $2
				ORDER BY lease_expires_at
				LIMIT $3
			)
		`, now, cutoff, batchSize)
		if err != nil {
			return nil, fmt.Errorf("release stale leases: %w", err)
		}
		n, err := res.RowsAffected()
		if err == nil && n > 0 {
			if _, nerr := tx.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, RunChannel, "reaper"); nerr != nil {
				return nil, fmt.Errorf("send run notification: %w", nerr)
			}
		}
		return res, nil
	})
}
