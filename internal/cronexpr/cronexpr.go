// Package cronexpr wraps the cron expression grammar as a black-box
// "next occurrence" oracle. It is the sole place in the module that knows
// how to parse a six-field, seconds-resolution cron expression; both the
// catalog (which uses it to decide which jobs are schedulable) and the
// scheduler (which must compute the next firing instant) depend on this
// leaf package instead of on each other.
package cronexpr

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts the six-field form (the seconds field is required) plus
// the standard descriptors ("@every 1h", "@daily", ...).
var parser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ErrNoFutureOccurrence is returned by Next when the expression can never
// fire again after the reference time (e.g. a fixed date already past).
var ErrNoFutureOccurrence = fmt.Errorf("cron expression has no future occurrence")

// Validate reports whether expr is a syntactically valid cron expression.
// An empty expression is never valid here — callers that allow "manual
// only" jobs must special-case the empty string themselves.
func Validate(expr string) error {
	_, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Next returns the first instant strictly after from at which expr fires.
// It returns ErrNoFutureOccurrence for expressions backed by a schedule
// that robfig/cron represents with the zero time (its own sentinel for
// "never again"), rather than letting callers fire immediately on a
// zero-value due-time.
func Next(expr string, from time.Time) (time.Time, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	next := schedule.Next(from)
	if next.IsZero() {
		return time.Time{}, ErrNoFutureOccurrence
	}
	return next, nil
}
