// Command panel is the read-only operational surface: it serves the last
// health Snapshot, the Prometheus metrics SPEC_FULL.md's ambient stack
// calls for, a recent-events JSON feed, and accepts event-append requests —
// without ever rendering an HTML control panel, a deliberate Non-goal.
// Grounded on Heikkila-Pty-Ltd-cortex's cmd/cortex HTTP wiring shape.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/antigravity-dev/cortex/internal/health"
	"github.com/antigravity-dev/cortex/internal/runtimestate"
	"github.com/antigravity-dev/cortex/internal/store"
)

func main() {
	var (
		host      = flag.String("host", "127.0.0.1", "bind host")
		port      = flag.Int("port", 9090, "bind port")
		dbPath    = flag.String("db", "resident_output/cortex.db", "path to the shared event-log SQLite database")
		statePath = flag.String("state", "resident_output/runtime_state.json", "unused placeholder; state now lives in the db, flag kept for CLI parity")
	)
	flag.Parse()
	_ = statePath

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("component", "panel")
	slog.SetDefault(logger)

	if err := run(*host, *port, *dbPath, logger); err != nil {
		logger.Error("panel exited with error", "error", err)
		os.Exit(1)
	}
}

func run(host string, port int, dbPath string, logger *slog.Logger) error {
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

	monitor := health.NewMonitor(st, &state, 15*time.Second, logger)

	mux := http.NewServeMux()
	mux.Handle("/healthz", monitor.HealthzHandler())
	mux.Handle("/metrics", monitor.Metrics().Handler())
	mux.HandleFunc("/events/recent", recentEventsHandler(st))
	mux.HandleFunc("/events", appendEventHandler(st))

	addr := fmt.Sprintf("%s:%d", host, port)
	srv := &http.Server{Addr: addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go monitor.Start(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	logger.Info("panel listening", "addr", addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// recentEventsHandler serves the last N events of the requested types as a
// read-only JSON snapshot, e.g. GET /events/recent?types=input,dream_request&limit=20.
func recentEventsHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		var types []string
		if v := r.URL.Query().Get("types"); v != "" {
			types = splitCSV(v)
		}
		events, err := st.RecentEventsByTypes(types, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(events)
	}
}

// appendEventHandler accepts a JSON-encoded {source, event_type, content,
// meta} body and enqueues it — the panel's only write surface, matching
// spec.md's "event-append producer" role. It never invokes a brain/worker
// cycle itself.
func appendEventHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			Source    string         `json:"source"`
			EventType string         `json:"event_type"`
			Content   string         `json:"content"`
			Meta      map[string]any `json:"meta"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if body.Source == "" || body.EventType == "" {
			http.Error(w, "source and event_type are required", http.StatusBadRequest)
			return
		}
		id, err := st.Enqueue(body.Source, body.EventType, body.Content, body.Meta)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": id})
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
