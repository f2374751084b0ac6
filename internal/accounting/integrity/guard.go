package integrity

import (
	"context"
	"errors"
)

// ErrCheckInProgress is returned when a check is started from inside another.
var ErrCheckInProgress = errors.New("integrity: check already in progress")

type guardKey struct{}

// WithGuard marks ctx as running an integrity check.
func WithGuard(ctx context.Context) context.Context {
	return context.WithValue(ctx, guardKey{}, true)
}

// GuardFrom returns ErrCheckInProgress when ctx already carries the guard.
func GuardFrom(ctx context.Context) error {
	if active, _ := ctx.Value(guardKey{}).(bool); active {
		return ErrCheckInProgress
	}
	return nil
}
