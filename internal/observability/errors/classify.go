// Package errors derives low-cardinality error classes for metric tags and alert payloads.
package errors

import (
	"context"
	goerrors "errors"
	"reflect"
	"strings"

	"github.com/appointflow/notifier/internal/domain/model"
)

var sentinelClasses = []struct {
	err   error
	class string
}{
	{context.Canceled, "context_canceled"},
	{context.DeadlineExceeded, "deadline_exceeded"},
	{model.ErrInvalidEventTime, "invalid_event_time"},
	{model.ErrTemplateRender, "template_render"},
	{model.ErrDispatchFailed, "dispatch_failed"},
	{model.ErrInvalidTransition, "invalid_transition"},
	{model.ErrRunNotFound, "run_not_found"},
}

// Classify returns a normalized error type name suitable for tagging metrics/logs.
// Known domain sentinels map to fixed names; anything else is named after the innermost
// concrete error type, converted to snake_case-ish.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	for _, s := range sentinelClasses {
		if goerrors.Is(err, s.err) {
			return s.class
		}
	}

	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(strings.ReplaceAll(t.String(), "*", ""))
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}
