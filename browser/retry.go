package browser

import (
	"context"
	"errors"
	"time"
)

// Retry is the budget for element lookups.
type Retry struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetry is 5 attempts, 1s apart.
var DefaultRetry = Retry{Attempts: 5, Delay: time.Second}

// WaitElement looks selector up until it is found or the retry budget is
// spent. Errors other than ErrElementNotFound are retried as well, and the
// last one is returned as is so callers can tell a missing element from a
// broken page.
func WaitElement(ctx context.Context, p Page, selector string, r Retry) (Element, error) {
	if r.Attempts <= 0 {
		r = DefaultRetry
	}
	var lastErr error
	for attempt := 0; attempt < r.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.Delay):
			}
		}
		el, err := p.FindElement(ctx, selector)
		if err == nil {
			return el, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// ErrNoNavigation is returned by WaitURLChange when the page stayed on the
// same URL for the whole retry budget.
var ErrNoNavigation = errors.New("browser: page did not navigate")

// WaitURLChange polls the current URL until it differs from from. Click
// returns before the navigation it starts, so callers that act on the next
// page wait here first. URL read errors count as "not yet".
func WaitURLChange(ctx context.Context, p Page, from string, r Retry) (string, error) {
	if r.Attempts <= 0 {
		r = DefaultRetry
	}
	for attempt := 0; attempt < r.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(r.Delay):
			}
		}
		u, err := p.CurrentURL(ctx)
		if err == nil && u != from {
			return u, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", ErrNoNavigation
}
