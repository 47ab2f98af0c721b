// Command worker runs the worker driver: C8 (dream replay or deep safety
// chain + MVCC publish) ticked by C10's budget law, against the event log
// and state it shares with the brain and panel processes. Grounded on
// Heikkila-Pty-Ltd-cortex's cmd/cortex flag/logging/signal-handling shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/antigravity-dev/cortex/internal/config"
	"github.com/antigravity-dev/cortex/internal/lock"
	"github.com/antigravity-dev/cortex/internal/router"
	"github.com/antigravity-dev/cortex/internal/runtimestate"
	"github.com/antigravity-dev/cortex/internal/safety"
	"github.com/antigravity-dev/cortex/internal/scheduler"
	"github.com/antigravity-dev/cortex/internal/store"
	"github.com/antigravity-dev/cortex/internal/worker"
)

func main() {
	var (
		dbPath      = flag.String("db", "resident_output/cortex.db", "path to the shared event-log SQLite database")
		statePath   = flag.String("state", "resident_output/runtime_state.json", "unused placeholder; state now lives in the db, flag kept for CLI parity")
		once        = flag.Bool("once", false, "run a single cycle and exit instead of looping forever")
		forceSkill  = flag.Bool("force-skill", false, "accepted for CLI parity; worker has no skill-pack override in this implementation")
		forceDeep   = flag.Bool("force-deep", false, "force every pending event through the deep safety chain instead of the dream branch")
		forceDream  = flag.Bool("force-dream", false, "force every pending event through the dream-replay branch instead of the deep chain")
		intervalSec = flag.Float64("interval-sec", 30, "forever-mode sleep interval when a cycle handles nothing")
		maxEvents   = flag.Int("max-events", 6, "requested worker events per cycle, before budget-law scaling")
		configPath  = flag.String("config", "runtime.toml", "path to the process config file")
	)
	flag.Parse()
	_ = statePath
	_ = forceSkill

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("component", "worker")
	slog.SetDefault(logger)

	if err := run(*dbPath, *configPath, *intervalSec, *maxEvents, *once, *forceDeep, *forceDream); err != nil {
		logger.Error("worker driver exited with error", "error", err)
		os.Exit(1)
	}
}

func run(dbPath, configPath string, intervalSec float64, maxEvents int, once, forceDeep, forceDream bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Warn("falling back to defaults, could not load config", "path", configPath, "error", err)
		cfg = defaultConfig(dbPath)
	}

	lockPath := filepath.Join(filepath.Dir(dbPath), "worker.lock")
	lf, err := lock.Acquire(lockPath)
	if err != nil {
		return err
	}
	defer lock.Release(lf)

	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	raw, err := st.LoadRuntimeState()
	if err != nil {
		return fmt.Errorf("load runtime state: %w", err)
	}
	state, err := runtimestate.FromMap(raw)
	if err != nil {
		return fmt.Errorf("decode runtime state: %w", err)
	}

	caller := router.NewCaller(nil, 5)
	baseDir := filepath.Dir(dbPath)

	driver := &scheduler.Driver{
		Name:     "worker",
		Store:    st,
		Interval: time.Duration(intervalSec * float64(time.Second)),
		Logger:   slog.Default(),
		Cycle: func(ctx context.Context, s *runtimestate.State) (int, error) {
			return worker.RunCycle(ctx, st, s, worker.Options{
				BaseDir:    baseDir,
				MaxEvents:  maxEvents,
				Caller:     caller,
				ForceDeep:  forceDeep,
				ForceDream: forceDream,
				Safety: safety.Options{
					BaseDir:     baseDir,
					CanaryDir:   cfg.Safety.CanaryDir,
					RollbackDir: cfg.Safety.RollbackDir,
					EvalEnabled: cfg.Safety.EvalEnabled,
					EvalTimeout: cfg.Safety.EvalTimeout.Duration,
					EvalCommand: cfg.Safety.EvalCommand,
				},
			})
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err = driver.Run(ctx, &state, once)
	return err
}

// defaultConfig builds a minimally valid Config when runtime.toml is
// absent, so the driver is still runnable without a config file present.
func defaultConfig(dbPath string) *config.Config {
	return &config.Config{
		General: config.General{
			StateDB: dbPath,
			BaseDir: filepath.Dir(dbPath),
		},
		Budgets: config.Budgets{
			RequestedBrainEvents:  6,
			RequestedWorkerEvents: 6,
			GCEveryNCycles:        40,
		},
	}
}
