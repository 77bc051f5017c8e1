package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/appointflow/notifier/internal/core"
	"github.com/appointflow/notifier/internal/domain/model"
)

// StepRepo stores memoized step results in run_steps.
type StepRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

var _ core.StepStore = (*StepRepo)(nil)

// NewStepRepo creates a StepRepo. A nil time provider uses the wall clock.
func NewStepRepo(db *sql.DB, tp TimeProvider) *StepRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &StepRepo{DB: db, timeProvider: tp}
}

// Get returns the stored result for a step, if the step completed.
func (s *StepRepo) Get(ctx context.Context, runID, key string) (json.RawMessage, bool, error) {
	var raw []byte
	err := s.DB.QueryRowContext(ctx, `
		SELECT result FROM run_steps WHERE run_id = $1 AND step_key = $2
	`, runID, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get step %s: %w", key, err)
	}
	return json.RawMessage(raw), true, nil
}

// Save records a step result. If another worker already recorded the step, its result is returned
// unchanged so both workers continue from the same memo.
func (s *StepRepo) Save(ctx context.Context, runID, key string, result any) (json.RawMessage, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("step key is required")
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal step %s: %w", key, err)
	}

	var stored []byte
	err = s.DB.QueryRowContext(ctx, `
		WITH ins AS (
			INSERT INTO run_steps (run_id, step_key, result, completed_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (run_id, step_key) DO NOTHING
			RETURNING result
		)
		SELECT result FROM ins
		UNION ALL
		SELECT result FROM run_steps WHERE run_id = $1 AND step_key = $2
		LIMIT 1
	`, runID, key, encoded, s.timeProvider.Now().UTC()).Scan(&stored)
	if err != nil {
		return nil, fmt.Errorf("save step %s: %w", key, err)
	}
	return json.RawMessage(stored), nil
}

// List returns every memoized step of a run in completion order.
func (s *StepRepo) List(ctx context.Context, runID string) ([]model.StepRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT run_id, step_key, result, completed_at
		FROM run_steps
		WHERE run_id = $1
		ORDER BY completed_at, step_key
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.StepRecord, 0)
	for rows.Next() {
		var rec model.StepRecord
		var raw []byte
		if err = rows.Scan(&rec.RunID, &rec.Key, &raw, &rec.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		rec.Result = json.RawMessage(raw)
		rec.CompletedAt = rec.CompletedAt.UTC()
		out = append(out, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return out, nil
}
