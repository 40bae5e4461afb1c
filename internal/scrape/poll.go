package scrape

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/court-case-scraper/internal/court"
)

// ReadyState is the verdict of a poll.
type ReadyState int

// Poll verdicts.
const (
	Exhausted ReadyState = iota
	Ready
)

func (s ReadyState) String() string {
	if s == Ready {
		return "ready"
	}
	return "exhausted"
}

// Budget bounds a poll: at most MaxAttempts checks, Interval apart.
type Budget struct {
	MaxAttempts int
	Interval    time.Duration
}

// Bound is the longest a poll can spend sleeping.
func (b Budget) Bound() time.Duration {
	if b.MaxAttempts <= 1 {
		return 0
	}
	return time.Duration(b.MaxAttempts-1) * b.Interval
}

// Observation is one evaluation of a table.
type Observation struct {
	State    TableState
	Snapshot string
}

// Check evaluates the current page state. Returning a *court.Error stops the
// poll; any other error counts as a not-ready attempt.
type Check func(ctx context.Context) (Observation, error)

// Report summarizes a finished poll.
type Report struct {
	State          ReadyState
	Attempts       int
	SawEmptyMarker bool
	Last           Observation
	LastErr        error
}

// Poll evaluates check until it reports a populated table or the budget runs
// out. Exhaustion is not an error: callers decide what it means using
// SawEmptyMarker.
func Poll(ctx context.Context, check Check, budget Budget) (Report, error) {
	attempts := budget.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var rep Report
	for i := 1; i <= attempts; i++ {
		rep.Attempts = i
		obs, err := check(ctx)
		if err != nil {
			if stop := fatalPollError(ctx, err); stop != nil {
				return rep, stop
			}
			rep.LastErr = err
		} else {
			rep.Last = obs
			rep.LastErr = nil
			switch obs.State {
			case TablePopulated:
				rep.State = Ready
				return rep, nil
			case TableEmptyMarker:
				rep.SawEmptyMarker = true
			}
		}
		if i == attempts {
			break
		}
		if err := sleep(ctx, budget.Interval); err != nil {
			return rep, err
		}
	}
	rep.State = Exhausted
	return rep, nil
}

func fatalPollError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("poll canceled: %w", ctxErr)
	}
	var ce *court.Error
	if errors.As(err, &ce) {
		return err
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("wait canceled: %w", err)
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
