// Package source contains the three upstream clients readings can be
// fetched from, the error taxonomy that drives fallback and retry, and the
// selector that picks the source order for a given fetch window.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"energysync/pkg/record"
)

// Kind classifies a fetch failure. The kind, not the message, decides what
// happens next: fallback, retry, or per-sensor failure.
type Kind int

const (
	// KindUnavailable means the source cannot be used this run (file
	// missing, endpoint unreachable). Triggers fallback, never surfaced as
	// a user error.
	KindUnavailable Kind = iota

	// KindNotFound means the source is healthy but has no metadata for the
	// requested sensor. Triggers fallback.
	KindNotFound

	// KindUnsupported means the endpoint does not exist on this Home
	// Assistant version (404-class). Triggers fallback, not retry.
	KindUnsupported

	// KindTransient means a network or rate-limit failure. Retried with
	// exponential backoff before falling back.
	KindTransient

	// KindUnreadable means the source exists but cannot be read (permission,
	// corruption). Treated as an availability failure, not fatal.
	KindUnreadable
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindNotFound:
		return "not_found"
	case KindUnsupported:
		return "unsupported"
	case KindTransient:
		return "transient"
	case KindUnreadable:
		return "unreadable"
	default:
		return "unknown"
	}
}

// Error is a classified fetch or probe failure from one source.
type Error struct {
	Source record.Source
	Kind   Kind
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a source and failure kind.
func NewError(src record.Source, kind Kind, err error) *Error {
	return &Error{Source: src, Kind: kind, Err: err}
}

// KindOf extracts the failure kind from err, or KindUnavailable if err is
// not a classified source error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnavailable
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindTransient
}

// Reading is one native, pre-normalization sample from a source. The three
// sources populate it differently: statistics rows and hourly buckets carry
// a cumulative Sum keyed by bucket start; raw history states carry the
// textual State at a transition time (Raw=true).
type Reading struct {
	EntityID  string
	Timestamp time.Time
	State     string
	Sum       *float64
	Raw       bool
}

// Client is one upstream mechanism readings can be fetched from.
type Client interface {
	// Name identifies the source in records, logs and summaries.
	Name() record.Source

	// Probe checks availability without side effects. nil means available;
	// a non-nil error carries the reason. Availability is recomputed every
	// run, never cached across runs.
	Probe(ctx context.Context) error

	// Fetch returns native readings for one sensor over [win.Start, win.End].
	Fetch(ctx context.Context, win record.FetchWindow) ([]Reading, error)
}
