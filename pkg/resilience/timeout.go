// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jllopis/mathqa/pkg/errors"
)

// WithTimeout runs fn under a derived context bounded by d. A zero d runs fn
// with ctx unchanged. When the deadline fires before fn returns, a
// recoverable CodeTimeout error is returned.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		if stderrors.Is(ctx.Err(), context.Canceled) {
			return zero, errors.New(errors.CodeContextLost, "operation canceled", ctx.Err())
		}
		return zero, errors.New(errors.CodeTimeout, "operation exceeded timeout", ctx.Err()).
			WithContext("timeout", d.String()).
			WithRecoverable(true)
	case res := <-done:
		return res.value, res.err
	}
}
