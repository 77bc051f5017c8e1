// Package run holds queue-level policies shared by the run service and the run workers.
package run

import (
	"errors"
	"time"
)

// ErrInvalidDefaultLease indicates the configured default lease is not positive.
var ErrInvalidDefaultLease = errors.New("default lease must be positive")

// MinLease is the shortest lease a worker may hold on a run.
const MinLease = time.Second

// LeaseSource identifies how a lease duration was resolved.
type LeaseSource string

const (
	// LeaseSourceExplicit indicates the caller supplied a usable duration.
	LeaseSourceExplicit LeaseSource = "explicit"
	// LeaseSourceDefault indicates the default duration was used.
	LeaseSourceDefault LeaseSource = "default"
	// LeaseSourceClamped indicates the request was raised to MinLease or truncated to whole seconds.
	LeaseSourceClamped LeaseSource = "clamped"
)

// LeasePolicy normalises lease durations for reservations and heartbeats.
type LeasePolicy struct {
	defaultLease time.Duration
}

// NewLeasePolicy constructs a LeasePolicy with the provided default lease.
func NewLeasePolicy(defaultLease time.Duration) (*LeasePolicy, error) {
	if defaultLease <= 0 {
		return nil, ErrInvalidDefaultLease
	}
	return &LeasePolicy{defaultLease: defaultLease.Truncate(time.Second)}, nil
}

// Default returns the configured default lease.
func (p *LeasePolicy) Default() time.Duration {
	if p == nil {
		return 0
	}
	return p.defaultLease
}

// LeaseDecision captures the outcome of resolving a lease request.
type LeaseDecision struct {
	Lease     time.Duration
	Source    LeaseSource
	Requested time.Duration
}

// Clamped reports whether the requested value was adjusted.
func (d LeaseDecision) Clamped() bool { return d.Source == LeaseSourceClamped }

// Resolve normalises a requested lease. Zero selects the default; anything else is truncated to
// whole seconds and never drops below MinLease.
func (p *LeasePolicy) Resolve(request time.Duration) LeaseDecision {
	d := LeaseDecision{Requested: request}
	if request == 0 {
		d.Lease, d.Source = p.Default(), LeaseSourceDefault
		if d.Lease < MinLease {
			d.Lease, d.Source = MinLease, LeaseSourceClamped
		}
		return d
	}

	lease := request.Truncate(time.Second)
	switch {
	case lease < MinLease:
		d.Lease, d.Source = MinLease, LeaseSourceClamped
	case lease != request:
		d.Lease, d.Source = lease, LeaseSourceClamped
	default:
		d.Lease, d.Source = lease, LeaseSourceExplicit
	}
	return d
}
