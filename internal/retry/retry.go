// Package retry provides a bounded retry combinator with an optional
// escalating parameter, such as swap slippage, that grows after every failed
// attempt up to a ceiling.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrExhausted is matched by every *ExhaustedError.
	ErrExhausted = errors.New("retries exhausted")
	// ErrCeiling is returned when the initial value is already above the ceiling.
	ErrCeiling = errors.New("initial value exceeds ceiling")
)

// BackoffFunc returns the wait before the attempt that follows attempt.
type BackoffFunc func(attempt int) time.Duration

// Constant waits d between every attempt.
func Constant(d time.Duration) BackoffFunc {
	return func(int) time.Duration { return d }
}

// Exponential doubles base after each attempt, capped at max.
func Exponential(base, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if max > 0 && d >= max {
				return max
			}
		}
		return d
	}
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	Backoff     BackoffFunc
	// Sleep defaults to Sleep; tests replace it to avoid real waits.
	Sleep SleepFunc
}

func (p Policy) wait(ctx context.Context, attempt int) error {
	var d time.Duration
	if p.Backoff != nil {
		d = p.Backoff(attempt)
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	return sleep(ctx, d)
}

// Escalation describes a parameter that is multiplied by Factor after each
// failure. The loop stops once the next value would exceed Ceiling.
type Escalation struct {
	Name    string
	Unit    string
	Initial float64
	Factor  float64
	Ceiling float64 // zero disables the ceiling
}

func (e Escalation) next(v float64) float64 {
	if e.Factor <= 0 {
		return v
	}
	return v * e.Factor
}

// Stats reports how a retry loop ended.
type Stats struct {
	Attempts int
	Value    float64
}

// ExhaustedError is returned when every allowed attempt failed.
type ExhaustedError struct {
	Attempts int
	Name     string
	Unit     string
	// Value is the escalated parameter used by the last attempt.
	Value float64
	Last  error
}

func (e *ExhaustedError) Error() string {
	msg := fmt.Sprintf("failed after %d attempts", e.Attempts)
	if e.Name != "" {
		msg += fmt.Sprintf(", final %s attempted: %g%s", e.Name, e.Value, e.Unit)
	}
	if e.Last != nil {
		msg += ", last error: " + e.Last.Error()
	}
	return msg
}

// Unwrap exposes both ErrExhausted and the last attempt's error.
func (e *ExhaustedError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrExhausted}
	}
	return []error{ErrExhausted, e.Last}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Escalate calls op until it succeeds. After each failure the escalated value
// grows by e.Factor. It gives up when p.MaxAttempts is reached, when the next
// value would exceed e.Ceiling, when op returns a Permanent error, or when ctx
// is done.
func Escalate[T any](
	ctx context.Context,
	p Policy,
	e Escalation,
	op func(ctx context.Context, attempt int, value float64) (T, error),
) (T, Stats, error) {
	var zero T
	if e.Ceiling > 0 && e.Initial > e.Ceiling {
		return zero, Stats{}, errors.Wrapf(ErrCeiling, "%s %g%s above %g%s", e.Name, e.Initial, e.Unit, e.Ceiling, e.Unit)
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	value := e.Initial
	for attempt := 1; ; attempt++ {
		res, err := op(ctx, attempt, value)
		stats := Stats{Attempts: attempt, Value: value}
		if err == nil {
			return res, stats, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, stats, perm.err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, stats, ctxErr
		}

		next := e.next(value)
		if attempt >= maxAttempts || (e.Ceiling > 0 && next > e.Ceiling) {
			return zero, stats, &ExhaustedError{
				Attempts: attempt,
				Name:     e.Name,
				Unit:     e.Unit,
				Value:    value,
				Last:     err,
			}
		}

		if err := p.wait(ctx, attempt); err != nil {
			return zero, stats, err
		}
		value = next
	}
}

// Do is Escalate without an escalated parameter.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	res, _, err := Escalate(ctx, p, Escalation{}, func(ctx context.Context, attempt int, _ float64) (T, error) {
		return op(ctx, attempt)
	})
	return res, err
}
