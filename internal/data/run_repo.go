package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/appointflow/notifier/internal/core"
	"github.com/appointflow/notifier/internal/data/pgxutil"
	"github.com/appointflow/notifier/internal/domain/model"
	apperrors "github.com/appointflow/notifier/internal/errors"
)

// RunChannel is the LISTEN/NOTIFY channel signalled when a run is created or parked.
const RunChannel = "notification_runs"

const (
	defaultRetryDelay  = 30 * time.Second
	defaultMaxAttempts = 10
)

// RepoConfig holds configuration options for the run repository.
type RepoConfig struct {
	RetryDelay   time.Duration
	MaxAttempts  int
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// RunRepo provides the durable notification run queue.
type RunRepo struct {
	DB           *sql.DB
	cfg          RepoConfig
	timeProvider TimeProvider
	logger       *slog.Logger
}

var _ core.RunRepository = (*RunRepo)(nil)

// NewRunRepo creates a new RunRepo with the given database connection and configuration.
func NewRunRepo(db *sql.DB, cfg RepoConfig) *RunRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &RunRepo{
		DB:           db,
		cfg:          cfg,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const runColumns = `
  id,
  kind,
  state,
  event_id,
  event_snapshot,
  payload,
  scheduled_for,
  available_at,
  lease_expires_at,
  attempt_count,
  max_attempts,
  last_error,
  sent_count,
  failed_count,
  dedupe_key,
  created_at,
  updated_at,
  completed_at
`

func (r *RunRepo) retryDelay() time.Duration {
	if r.cfg.RetryDelay > 0 {
		return r.cfg.RetryDelay
	}
	return defaultRetryDelay
}

func (r *RunRepo) maxAttempts(requested int) int {
	if requested > 0 {
		return requested
	}
	if r.cfg.MaxAttempts > 0 {
		return r.cfg.MaxAttempts
	}
	return defaultMaxAttempts
}

func (r *RunRepo) now() time.Time {
	return r.timeProvider.Now().UTC()
}

// Create persists a pending run and notifies listeners in the same transaction. A dedupe key
// collision returns the stored run instead of failing.
func (r *RunRepo) Create(ctx context.Context, req *model.CreateRunRequest) (*model.NotificationRun, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, apperrors.Validation(err.Error())
	}
	if err := req.Payload.Validate(); err != nil {
		return nil, false, apperrors.Validation(err.Error())
	}

	snapshot, err := json.Marshal(req.EventSnapshot)
	if err != nil {
		return nil, false, fmt.Errorf("marshal event snapshot: %w", err)
	}
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("marshal payload: %w", err)
	}

	availableAt := r.now()
	if req.AvailableAt != nil {
		availableAt = req.AvailableAt.UTC()
	}
	var dedupe *string
	if key := strings.TrimSpace(req.DedupeKey); key != "" {
		dedupe = &key
	}

	var run *model.NotificationRun
	txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, qerr := tx.Query(ctx, `
				INSERT INTO notification_runs
				  (kind, state, event_id, event_snapshot, payload, available_at, max_attempts, dedupe_key, created_at, updated_at)
				VALUES ($1, 'pending', $2, $3, $4, $5, $6, $7, $8, $8)
				RETURNING `+runColumns,
				req.Kind, req.EventSnapshot.ID, snapshot, payload, availableAt,
				r.maxAttempts(req.MaxAttempts), dedupe, r.now(),
			)
			if qerr != nil {
				return fmt.Errorf("insert run: %w", qerr)
			}
			created, cerr := collectRunFromRows(rows)
			rows.Close()
			if cerr != nil {
				return cerr
			}
			run = created
			if _, nerr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, RunChannel, created.ID); nerr != nil {
				return fmt.Errorf("send run notification: %w", nerr)
			}
			return nil
		},
	})
	if txErr == nil {
		return run, true, nil
	}

	if dedupe != nil && apperrors.IsUniqueViolation(txErr, "notification_runs_dedupe_key_key") {
		existing, getErr := r.getByDedupeKey(ctx, *dedupe)
		if getErr != nil {
			return nil, false, getErr
		}
		if existing.Kind != req.Kind {
			return nil, false, apperrors.Conflict(fmt.Sprintf("dedupe key %q is used by a %s run", *dedupe, existing.Kind))
		}
		return existing, false, nil
	}
	return nil, false, apperrors.MapDBError(txErr)
}

// GetByID retrieves a run by its id.
func (r *RunRepo) GetByID(ctx context.Context, id string) (*model.NotificationRun, error) {
	return r.getOne(ctx, `SELECT `+runColumns+` FROM notification_runs WHERE id::text = $1`, id)
}

func (r *RunRepo) getByDedupeKey(ctx context.Context, key string) (*model.NotificationRun, error) {
	return r.getOne(ctx, `SELECT `+runColumns+` FROM notification_runs WHERE dedupe_key = $1`, key)
}

func (r *RunRepo) getOne(ctx context.Context, query string, arg any) (*model.NotificationRun, error) {
	var run *model.NotificationRun
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, arg)
		if err != nil {
			return fmt.Errorf("query run: %w", err)
		}
		defer rows.Close()
		found, err := collectRunFromRows(rows)
		if err != nil {
			return err
		}
		run = found
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// collectRunFromRows collects a single run from pgx rows.
func collectRunFromRows(rows pgx.Rows) (*model.NotificationRun, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}
	run, err := scanRun(rows)
	if err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return run, nil
}

type runRowScanner interface {
	Scan(dest ...any) error
}

type runRowData struct {
	snapshot, payload                       []byte
	lastError, dedupeKey                    sql.NullString
	scheduledFor, leaseExpires, completedAt sql.NullTime
}

func (d *runRowData) scanInto(scanner runRowScanner, run *model.NotificationRun) error {
	return scanner.Scan(
		&run.ID,
		&run.Kind,
		&run.State,
		&run.EventID,
		&d.snapshot,
		&d.payload,
		&d.scheduledFor,
		&run.AvailableAt,
		&d.leaseExpires,
		&run.AttemptCount,
		&run.MaxAttempts,
		&d.lastError,
		&run.SentCount,
		&run.FailedCount,
		&d.dedupeKey,
		&run.CreatedAt,
		&run.UpdatedAt,
		&d.completedAt,
	)
}

func (d *runRowData) apply(run *model.NotificationRun) error {
	if len(d.snapshot) > 0 {
		if err := json.Unmarshal(d.snapshot, &run.EventSnapshot); err != nil {
			return fmt.Errorf("decode event snapshot for run %s: %w", run.ID, err)
		}
	}
	run.Payload = cloneJSON(d.payload)
	run.LastError = cloneNullableString(d.lastError)
	run.DedupeKey = cloneNullableString(d.dedupeKey)
	run.ScheduledFor = cloneNullableTime(d.scheduledFor)
	run.LeaseExpiresAt = cloneNullableTime(d.leaseExpires)
	run.CompletedAt = cloneNullableTime(d.completedAt)
	run.AvailableAt = run.AvailableAt.UTC()
	run.CreatedAt = run.CreatedAt.UTC()
	run.UpdatedAt = run.UpdatedAt.UTC()
	return nil
}

func scanRun(scanner runRowScanner) (*model.NotificationRun, error) {
	run := &model.NotificationRun{}
	var d runRowData
	if err := d.scanInto(scanner, run); err != nil {
		return nil, err
	}
	if err := d.apply(run); err != nil {
		return nil, err
	}
	return run, nil
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
