package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without cause",
			err:  NotFound("run not found"),
			want: "run not found",
		},
		{
			name: "with cause",
			err:  Wrap(errors.New("connection reset"), ErrCodeInternal, "create run"),
			want: "create run: connection reset",
		},
		{
			name: "formatted",
			err:  Validationf("unknown trigger %q", "sms"),
			want: `unknown trigger "sms"`,
		},
		{
			name: "percent without args is left alone",
			err:  Validation("100% invalid"),
			want: "100% invalid",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrap_NilErr(t *testing.T) {
	if got := Wrap(nil, ErrCodeInternal, "x"); got != nil {
		t.Errorf("Wrap(nil) = %v, want nil", got)
	}
}

func TestPredicates_ThroughWrapping(t *testing.T) {
	base := ValidationField("subject", "subject is required")
	wrapped := fmt.Errorf("accept trigger: %w", base)

	if !IsValidation(wrapped) {
		t.Error("expected wrapped error to be validation")
	}
	if IsNotFound(wrapped) {
		t.Error("did not expect not found")
	}
	if got := GetField(wrapped); got != "subject" {
		t.Errorf("GetField() = %q, want subject", got)
	}
	if got := GetCode(errors.New("plain")); got != "" {
		t.Errorf("GetCode(plain) = %q, want empty", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Validation("bad"), http.StatusBadRequest},
		{NotFound("gone"), http.StatusNotFound},
		{Conflict("dup"), http.StatusConflict},
		{Unavailable("kafka off"), http.StatusServiceUnavailable},
		{&AppError{Code: ErrCodeTimeout, Message: "slow"}, http.StatusGatewayTimeout},
		{Internal("boom"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
