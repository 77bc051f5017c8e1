package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/appointflow/notifier/internal/core"
	"github.com/appointflow/notifier/internal/data/pgxutil"
	"github.com/appointflow/notifier/internal/domain/model"
)

const activeStates = `('pending', 'waiting', 'resolving', 'sending')`

// runColumnsAliased qualifies runColumns with the "n" alias for UPDATE ... FROM statements.
var runColumnsAliased = func() string {
	parts := strings.Split(runColumns, ",")
	for i, p := range parts {
		parts[i] = "n." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}()

// SQL used by ReserveNext to atomically lease the next due run.
var reserveNextSQL = `
  WITH cte AS (
    SELECT id FROM notification_runs
    WHERE state IN ` + activeStates + `
      AND available_at <= $1
      AND (lease_expires_at IS NULL OR lease_expires_at <= $1)
    ORDER BY available_at ASC, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE notification_runs n
  SET lease_expires_at = $2,
      updated_at = $1
  FROM cte
  WHERE n.id = cte.id
  RETURNING ` + runColumnsAliased

// ReserveNext leases the next due run. Runs whose lease lapsed are eligible again, so a crashed
// worker's run is picked up once its lease expires.
func (r *RunRepo) ReserveNext(ctx context.Context, lease time.Duration) (*model.NotificationRun, error) {
	if lease <= 0 {
		return nil, errors.New("lease must be positive")
	}

	var run *model.NotificationRun
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			now := r.now()
			rows, qerr := tx.Query(ctx, reserveNextSQL, now, now.Add(lease))
			if qerr != nil {
				return fmt.Errorf("reserve run: %w", qerr)
			}
			defer rows.Close()

			found, cerr := collectRunFromRows(rows)
			if errors.Is(cerr, pgx.ErrNoRows) {
				return model.ErrNoRunsAvailable
			}
			if cerr != nil {
				return fmt.Errorf("reserve run: %w", cerr)
			}
			run = found
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// WaitForNotification blocks until a run is created or parked, or ctx ends.
func (r *RunRepo) WaitForNotification(ctx context.Context) error {
	_, err := pgxutil.WaitForNotify(ctx, r.DB, RunChannel)
	return err
}

// NextAvailableAt returns the earliest instant any active run becomes reservable, or nil when
// the queue is empty.
func (r *RunRepo) NextAvailableAt(ctx context.Context) (*time.Time, error) {
	var next sql.NullTime
	err := r.DB.QueryRowContext(ctx, `
		SELECT min(GREATEST(available_at, COALESCE(lease_expires_at, available_at)))
		FROM notification_runs
		WHERE state IN `+activeStates).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("next available run: %w", err)
	}
	return cloneNullableTime(next), nil
}

// Heartbeat extends the lease on an active run.
func (r *RunRepo) Heartbeat(ctx context.Context, id string, lease time.Duration) (bool, error) {
	if lease <= 0 {
		return false, errors.New("lease must be positive")
	}
	now := r.now()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE notification_runs
		SET lease_expires_at = $2,
		    updated_at = $3
		WHERE id = $1 AND state IN `+activeStates+` AND lease_expires_at IS NOT NULL
	`, id, now.Add(lease), now)
	if err != nil {
		return false, fmt.Errorf("heartbeat run: %w", err)
	}
	return rowsChanged(res)
}

// BeginWait moves a pending run to waiting and writes scheduled_for. An already recorded
// scheduled_for is kept. With Release the run is parked until its scheduled instant.
func (r *RunRepo) BeginWait(ctx context.Context, req core.BeginWaitRequest) (bool, error) {
	if req.ScheduledFor.IsZero() {
		return false, errors.New("scheduled_for is required")
	}

	var changed bool
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			tag, execErr := tx.Exec(ctx, `
				UPDATE notification_runs
				SET state = 'waiting',
				    scheduled_for = COALESCE(scheduled_for, $2),
				    available_at = CASE WHEN $3 THEN COALESCE(scheduled_for, $2) ELSE available_at END,
				    lease_expires_at = CASE WHEN $3 THEN NULL ELSE lease_expires_at END,
				    updated_at = $4
				WHERE id = $1 AND state = 'pending'
			`, req.ID, req.ScheduledFor.UTC(), req.Release, r.now())
			if execErr != nil {
				return fmt.Errorf("begin wait: %w", execErr)
			}
			changed = tag.RowsAffected() > 0
			if !changed || !req.Release {
				return nil
			}
			// Idle workers may be sleeping past this run's instant; wake them to recompute.
			if _, nerr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, RunChannel, req.ID); nerr != nil {
				return fmt.Errorf("send run notification: %w", nerr)
			}
			return nil
		},
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// Advance moves a run between non-terminal states when it is still in from.
func (r *RunRepo) Advance(ctx context.Context, id string, from, to model.RunState) (bool, error) {
	if to.Terminal() || !from.CanTransition(to) {
		return false, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, from, to)
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE notification_runs
		SET state = $3, updated_at = $4
		WHERE id = $1 AND state = $2
	`, id, from, to, r.now())
	if err != nil {
		return false, fmt.Errorf("advance run: %w", err)
	}
	return rowsChanged(res)
}

// Finish moves a run into a terminal state, recording its counts and releasing its lease.
func (r *RunRepo) Finish(ctx context.Context, req model.FinishRequest) (bool, error) {
	if !req.To.Terminal() || req.To == model.RunStateFailed || !req.From.CanTransition(req.To) {
		return false, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, req.From, req.To)
	}
	now := r.now()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE notification_runs
		SET state = $3,
		    sent_count = $4,
		    failed_count = $5,
		    completed_at = $6,
		    lease_expires_at = NULL,
		    last_error = NULL,
		    updated_at = $6
		WHERE id = $1 AND state = $2
	`, req.ID, req.From, req.To, req.Sent, req.Failed, now)
	if err != nil {
		return false, fmt.Errorf("finish run: %w", err)
	}
	return rowsChanged(res)
}

// Fail records an infrastructure failure. The run keeps its state and memoized steps and is retried
// after the retry delay until max_attempts is reached, when it becomes failed.
func (r *RunRepo) Fail(ctx context.Context, id, errMsg string) (model.RunState, error) {
	now := r.now()
	retryAt := now.Add(r.retryDelay())

	var state model.RunState
	err := r.DB.QueryRowContext(ctx, `
		UPDATE notification_runs
		SET last_error = $2,
		    attempt_count = attempt_count + 1,
		    state = CASE WHEN attempt_count + 1 >= max_attempts THEN 'failed' ELSE state END,
		    completed_at = CASE WHEN attempt_count + 1 >= max_attempts THEN $3::timestamptz ELSE NULL END,
		    available_at = CASE WHEN attempt_count + 1 >= max_attempts THEN available_at
		                        ELSE GREATEST(available_at, $4::timestamptz) END,
		    lease_expires_at = NULL,
		    updated_at = $3
		WHERE id = $1 AND state IN `+activeStates+`
		RETURNING state
	`, id, errMsg, now, retryAt).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: run %s is not active", model.ErrInvalidTransition, id)
	}
	if err != nil {
		return "", fmt.Errorf("fail run: %w", err)
	}
	return state, nil
}

func rowsChanged(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
