package data

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/appointflow/notifier/internal/data/pgxutil"
	"github.com/appointflow/notifier/internal/domain/model"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

type runFilterQueryBuilder struct {
	query  strings.Builder
	args   []any
	argIdx int
}

func (b *runFilterQueryBuilder) addFilter(column string, value any) {
	b.query.WriteString(fmt.Sprintf(" AND %s = $%d", column, b.argIdx))
	b.args = append(b.args, value)
	b.argIdx++
}

func buildRunListQuery(opts model.RunListOptions) (string, []any) {
	b := &runFilterQueryBuilder{argIdx: 1}
	b.query.WriteString(`SELECT ` + runColumns + ` FROM notification_runs WHERE 1=1`)

	if opts.EventID != nil && *opts.EventID != "" {
		b.addFilter("event_id", *opts.EventID)
	}
	if opts.Kind != nil && *opts.Kind != "" {
		b.addFilter("kind", string(*opts.Kind))
	}
	if opts.State != nil && *opts.State != "" {
		b.addFilter("state", string(*opts.State))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := max(opts.Offset, 0)

	b.query.WriteString(fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", b.argIdx, b.argIdx+1))
	b.args = append(b.args, limit, offset)
	return b.query.String(), b.args
}

// List returns runs matching the optional filters, newest first.
func (r *RunRepo) List(ctx context.Context, opts model.RunListOptions) ([]*model.NotificationRun, error) {
	query, args := buildRunListQuery(opts)

	result := make([]*model.NotificationRun, 0)
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query runs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			run, scanErr := scanRun(rows)
			if scanErr != nil {
				return fmt.Errorf("scan run: %w", scanErr)
			}
			result = append(result, run)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Stats counts runs in each state.
func (r *RunRepo) Stats(ctx context.Context) (*model.RunStats, error) {
	var s model.RunStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE state = 'pending')          AS pending,
    count(*) FILTER (WHERE state = 'waiting')          AS waiting,
    count(*) FILTER (WHERE state = 'resolving')        AS resolving,
    count(*) FILTER (WHERE state = 'sending')          AS sending,
    count(*) FILTER (WHERE state = 'completed')        AS completed,
    count(*) FILTER (WHERE state = 'skipped_disabled') AS skipped_disabled,
    count(*) FILTER (WHERE state = 'skipped_empty')    AS skipped_empty,
    count(*) FILTER (WHERE state = 'failed')           AS failed
  FROM notification_runs
  `).Scan(
		&s.Pending,
		&s.Waiting,
		&s.Resolving,
		&s.Sending,
		&s.Completed,
		&s.SkippedDisabled,
		&s.SkippedEmpty,
		&s.Failed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get run stats: %w", err)
	}
	return &s, nil
}
