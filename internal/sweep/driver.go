package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/labsweep/internal/monitoring"
	"github.com/banshee-data/labsweep/internal/sweeperr"
	"github.com/banshee-data/labsweep/internal/timeutil"
)

// Run drives e from a ticker until the sweep is done, Advance fails or ctx
// is cancelled. Elapsed time is measured between tick timestamps. observe,
// when non-nil, receives a snapshot after every tick.
func Run(ctx context.Context, e *Engine, clock timeutil.Clock, tick time.Duration, observe func(Status)) error {
	if tick <= 0 {
		return fmt.Errorf("%w: tick must be positive, got %v", sweeperr.ErrInvalidArgument, tick)
	}
	if e.Mode() != ModeSweep {
		return fmt.Errorf("%w: engine must be in sweep mode to run (mode is %s)", sweeperr.ErrInvalidState, e.Mode())
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	ticker := clock.NewTicker(tick)
	defer ticker.Stop()

	lap := timeutil.StartStopwatch(clock.Now())
	if observe != nil {
		observe(e.Status())
	}
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("[sweep] run %s stopped: %v", e.RunID(), ctx.Err())
			return ctx.Err()

		case now := <-ticker.C():
			elapsed := lap.Lap(now)
			if elapsed <= 0 {
				continue
			}

			err := e.Advance(elapsed)
			if observe != nil {
				observe(e.Status())
			}
			if err != nil {
				monitoring.Logf("[sweep] run %s failed in %s at %v: %v", e.RunID(), e.Phase(), e.Position(), err)
				return err
			}
			if e.Done() {
				return nil
			}
		}
	}
}

// RunToCompletion advances e with a fixed elapsed time until it is done,
// without waiting. It returns the number of Advance calls made. maxCalls
// bounds the loop; zero means unbounded.
func RunToCompletion(e *Engine, elapsed time.Duration, maxCalls int) (int, error) {
	calls := 0
	for !e.Done() {
		if maxCalls > 0 && calls >= maxCalls {
			return calls, fmt.Errorf("%w: sweep not done after %d advances", sweeperr.ErrInvalidState, calls)
		}
		calls++
		if err := e.Advance(elapsed); err != nil {
			return calls, err
		}
	}
	return calls, nil
}
