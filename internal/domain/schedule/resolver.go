// Package schedule turns event-relative offsets into absolute send instants.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/appointflow/notifier/internal/domain/model"
)

// Reason explains how a Plan was derived.
type Reason string

const (
	// ReasonOffset means the send instant is the event start minus the offset.
	ReasonOffset Reason = "offset"
	// ReasonImmediateOffset means the offset was zero, negative, or not a number.
	ReasonImmediateOffset Reason = "immediate_offset"
	// ReasonPastInstant means the computed instant had already passed.
	ReasonPastInstant Reason = "past_instant"
	// ReasonInvalidTime means the event start could not be parsed.
	ReasonInvalidTime Reason = "invalid_time"
)

var (
	isoLayouts   = []string{"2006-01-02T15:04", "2006-01-02T15:04:05"}
	spaceLayouts = []string{
		"2006-01-02 15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 3:04 PM",
		"2006-01-02 3:04PM",
	}
)

// Plan is the resolved schedule for one run.
type Plan struct {
	FireAt     time.Time
	Wait       time.Duration
	EventStart time.Time
	Reason     Reason
}

// Resolver computes send instants in a fixed event timezone.
type Resolver struct {
	loc *time.Location
}

// NewResolver returns a Resolver interpreting event times in loc. A nil loc means UTC.
func NewResolver(loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{loc: loc}
}

// Location returns the timezone event times are interpreted in.
func (r *Resolver) Location() *time.Location { return r.loc }

// EventStart parses the event's date and time.
func (r *Resolver) EventStart(startDate, startTime string) (time.Time, error) {
	d, t := strings.TrimSpace(startDate), strings.TrimSpace(startTime)
	if d == "" || t == "" {
		return time.Time{}, fmt.Errorf("%w: empty date or time", model.ErrInvalidEventTime)
	}
	if ts, ok := parseFirst(d+"T"+t, isoLayouts, r.loc); ok {
		return ts, nil
	}
	if ts, ok := parseFirst(d+" "+t, spaceLayouts, r.loc); ok {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q %q", model.ErrInvalidEventTime, startDate, startTime)
}

// Resolve computes when to send a notification hoursBefore the event start. The returned error is
// only ever model.ErrInvalidEventTime, and the Plan is usable even then: it fires at now.
func (r *Resolver) Resolve(startDate, startTime string, hoursBefore model.HourOffset, now time.Time) (Plan, error) {
	immediate := Plan{FireAt: now, Wait: 0}

	start, err := r.EventStart(startDate, startTime)
	if err != nil {
		immediate.Reason = ReasonInvalidTime
		return immediate, err
	}
	immediate.EventStart = start

	if !hoursBefore.Positive() {
		immediate.Reason = ReasonImmediateOffset
		return immediate, nil
	}

	fireAt := start.Add(-time.Duration(hoursBefore.WholeHours()) * time.Hour)
	if !fireAt.After(now) {
		immediate.Reason = ReasonPastInstant
		return immediate, nil
	}
	return Plan{
		FireAt:     fireAt,
		Wait:       fireAt.Sub(now),
		EventStart: start,
		Reason:     ReasonOffset,
	}, nil
}

func parseFirst(value string, layouts []string, loc *time.Location) (time.Time, bool) {
	for _, layout := range layouts {
		if ts, err := time.ParseInLocation(layout, value, loc); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
