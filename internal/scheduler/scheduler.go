// Package scheduler implements C10: the driver loop shared by the brain and
// worker binaries. It wraps a single track's RunCycle in once/forever mode
// semantics (budget law itself lives in runtimestate's
// ComputeBrainEventBudget/ComputeWorkerEventBudget, called from inside
// brain.RunCycle/worker.RunCycle) and persists the runtime state after every
// cycle. Grounded on Heikkila-Pty-Ltd-cortex's internal/scheduler cadence
// loop shape (ticker + structured logging + transient-error backoff),
// retargeted at the two-track event pipeline instead of bead dispatch.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/antigravity-dev/cortex/internal/runtimestate"
	"github.com/antigravity-dev/cortex/internal/store"
	"golang.org/x/sync/errgroup"
)

// lockBackoff is the retry delay the original's StorageError handling uses
// for transient SQLITE_BUSY-style lock contention.
const lockBackoff = 800 * time.Millisecond

// Driver runs one track's RunCycle on a cadence, in once or forever mode.
type Driver struct {
	Name     string // "brain" or "worker", used for logging and state actor tags
	Store    *store.Store
	Interval time.Duration
	Logger   *slog.Logger

	// Cycle is bound by the caller to a closure over brain.RunCycle/
	// worker.RunCycle with that track's Options already captured.
	Cycle func(ctx context.Context, s *runtimestate.State) (int, error)
}

// Run drives the track until ctx is cancelled (forever mode) or after a
// single pass (once=true), persisting the mutated state after each cycle.
// It returns the last cycle's handled count in once mode.
func (d *Driver) Run(ctx context.Context, s *runtimestate.State, once bool) (int, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("track", d.Name)
	interval := d.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return 0, nil
		default:
		}

		handled, err := d.Cycle(ctx, s)
		if err != nil {
			if isTransientLockError(err) {
				logger.Warn("transient store lock, backing off", "error", err)
				select {
				case <-ctx.Done():
					return handled, nil
				case <-time.After(lockBackoff):
				}
				continue
			}
			return handled, fmt.Errorf("scheduler: %s cycle: %w", d.Name, err)
		}

		if err := d.persist(s); err != nil {
			return handled, fmt.Errorf("scheduler: %s persist state: %w", d.Name, err)
		}
		logger.Info("cycle complete", "handled", handled, "cycle", s.Cycle)

		if once {
			return handled, nil
		}
		if handled == 0 {
			select {
			case <-ctx.Done():
				return handled, nil
			case <-time.After(interval):
			}
		}
	}
}

func (d *Driver) persist(s *runtimestate.State) error {
	m, err := s.ToMap()
	if err != nil {
		return err
	}
	return d.Store.SaveRuntimeState(m)
}

func isTransientLockError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
}

// RunBoth fans brain-tick and worker-tick out concurrently, bounded to the
// two drivers given — the single-process "combined" mode alongside the
// default split-process topology (separate brain/worker binaries sharing
// one store). Each driver owns an independent in-memory State snapshot
// during the run; scalar fields drift independently and are reconciled by
// mergeState once both return, since only the MVCC state_versions counter
// (not the cached runtimestate.State struct) is the real cross-track
// consistency boundary.
func RunBoth(ctx context.Context, brainDriver, workerDriver *Driver, base runtimestate.State, once bool) (runtimestate.State, error) {
	brainState := base
	workerState := base

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := brainDriver.Run(gctx, &brainState, once)
		return err
	})
	g.Go(func() error {
		_, err := workerDriver.Run(gctx, &workerState, once)
		return err
	})
	if err := g.Wait(); err != nil {
		return base, err
	}
	return mergeState(brainState, workerState), nil
}

// mergeState reconciles the two tracks' independently-drifted State copies:
// the brain track owns scalar/stability/orchestration/work-memory state (it
// runs C7+C10 for the primary track), the worker track's only authoritative
// writes are its own reward-reputation scalars.
func mergeState(brainState, workerState runtimestate.State) runtimestate.State {
	merged := brainState
	merged.RewardRepDreamWorker = workerState.RewardRepDreamWorker
	merged.RewardRepDeepWorker = workerState.RewardRepDeepWorker
	return merged
}
