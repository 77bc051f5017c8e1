package errors

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/appointflow/notifier/internal/domain/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "wrapped sentinel", err: fmt.Errorf("send: %w", model.ErrDispatchFailed), want: "dispatch_failed"},
		{name: "deadline", err: fmt.Errorf("query: %w", context.DeadlineExceeded), want: "deadline_exceeded"},
		{name: "concrete type", err: fmt.Errorf("dial: %w", &net.OpError{Op: "dial"}), want: "net_operror"},
		{name: "plain", err: fmt.Errorf("boom"), want: "errors_errorstring"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
