package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapDBError_NilError(t *testing.T) {
	if err := MapDBError(nil); err != nil {
		t.Errorf("MapDBError(nil) = %v, want nil", err)
	}
}

func TestMapDBError_Codes(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  ErrorCode
		wantField string
	}{
		{name: "deadline", err: context.DeadlineExceeded, wantCode: ErrCodeTimeout},
		{name: "canceled", err: fmt.Errorf("list runs: %w", context.Canceled), wantCode: ErrCodeCanceled},
		{name: "no rows", err: pgx.ErrNoRows, wantCode: ErrCodeNotFound},
		{
			name: "unique with column",
			err: &pgconn.PgError{
				Code:       pgerrcode.UniqueViolation,
				ColumnName: "dedupe_key",
			},
			wantCode:  ErrCodeConflict,
			wantField: "dedupe_key",
		},
		{
			name: "unique from detail",
			err: &pgconn.PgError{
				Code:   pgerrcode.UniqueViolation,
				Detail: "Key (event_id, email)=(e1, a@example.com) already exists.",
			},
			wantCode:  ErrCodeConflict,
			wantField: "event_id, email",
		},
		{
			name: "unique from constraint",
			err: &pgconn.PgError{
				Code:           pgerrcode.UniqueViolation,
				ConstraintName: "events_slug_key",
			},
			wantCode:  ErrCodeConflict,
			wantField: "slug",
		},
		{
			name:     "foreign key",
			err:      &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, ConstraintName: "run_steps_run_id_fkey"},
			wantCode: ErrCodeForeignKey,
		},
		{
			name:      "not null",
			err:       &pgconn.PgError{Code: pgerrcode.NotNullViolation, ColumnName: "kind"},
			wantCode:  ErrCodeValidation,
			wantField: "kind",
		},
		{
			name:     "check",
			err:      &pgconn.PgError{Code: pgerrcode.CheckViolation},
			wantCode: ErrCodeValidation,
		},
		{
			name:     "other pg error",
			err:      &pgconn.PgError{Code: pgerrcode.DiskFull},
			wantCode: ErrCodeInternal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.err)
			if got := GetCode(err); got != tt.wantCode {
				t.Errorf("code = %q, want %q", got, tt.wantCode)
			}
			if got := GetField(err); got != tt.wantField {
				t.Errorf("field = %q, want %q", got, tt.wantField)
			}
			if !errors.Is(err, tt.err) && !errors.Is(err, errors.Unwrap(tt.err)) {
				t.Errorf("mapped error should wrap the original")
			}
		})
	}
}

func TestMapDBError_UnknownPassesThrough(t *testing.T) {
	orig := errors.New("something else")
	if got := MapDBError(orig); got != orig {
		t.Errorf("MapDBError() = %v, want original", got)
	}
}

func TestMapForeignKeyViolation_Messages(t *testing.T) {
	tests := []struct {
		name    string
		pgErr   *pgconn.PgError
		wantSub string
	}{
		{
			name: "referenced from",
			pgErr: &pgconn.PgError{
				Code:   pgerrcode.ForeignKeyViolation,
				Detail: `Key (id)=(abc) is still referenced from table "run_steps".`,
			},
			wantSub: "in use by Run Step",
		},
		{
			name: "not present",
			pgErr: &pgconn.PgError{
				Code:   pgerrcode.ForeignKeyViolation,
				Detail: `Key (event_id)=(e9) is not present in table "events".`,
			},
			wantSub: "referenced Event does not exist",
		},
		{
			name:    "table name fallback",
			pgErr:   &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, TableName: "registrations"},
			wantSub: "in use by Registration",
		},
		{
			name:    "constraint fallback",
			pgErr:   &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, ConstraintName: "registrations_event_id_fkey"},
			wantSub: "event does not exist",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.pgErr)
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("message %q does not contain %q", err.Error(), tt.wantSub)
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	dup := fmt.Errorf("insert: %w", &pgconn.PgError{
		Code:           pgerrcode.UniqueViolation,
		ConstraintName: "notification_runs_dedupe_key_key",
	})
	if !IsUniqueViolation(dup, "") {
		t.Error("expected any-constraint match")
	}
	if !IsUniqueViolation(dup, "notification_runs_dedupe_key_key") {
		t.Error("expected named constraint match")
	}
	if IsUniqueViolation(dup, "other") {
		t.Error("did not expect other constraint to match")
	}
	if IsUniqueViolation(errors.New("x"), "") {
		t.Error("plain errors are not unique violations")
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(&pgconn.PgError{Code: pgerrcode.SerializationFailure}) {
		t.Error("serialization failures are transient")
	}
	if !IsTransient(&pgconn.PgError{Code: pgerrcode.AdminShutdown}) {
		t.Error("admin shutdown is transient")
	}
	if IsTransient(&pgconn.PgError{Code: pgerrcode.UniqueViolation}) {
		t.Error("unique violations are not transient")
	}
}

func TestMapTableToDomain(t *testing.T) {
	tests := map[string]string{
		"notification_runs": "Notification Run",
		"  run_steps ":      "Run Step",
		"registrations":     "Registration",
		"audit_log":         "Audit Log",
	}
	for in, want := range tests {
		if got := mapTableToDomain(in); got != want {
			t.Errorf("mapTableToDomain(%q) = %q, want %q", in, got, want)
		}
	}
}
