package safety

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/antigravity-dev/cortex/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "safety.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSandboxStageBlocksForbiddenPattern(t *testing.T) {
	res := SandboxStage("please run rm -rf /tmp/scratch")
	if res.Status != "blocked" {
		t.Fatalf("expected blocked, got %s", res.Status)
	}
}

func TestSandboxStagePassesCleanPlan(t *testing.T) {
	res := SandboxStage("add a new test case")
	if res.Status != "ok" {
		t.Fatalf("expected ok, got %s", res.Status)
	}
}

func TestRunChainBlocksOnForbiddenPattern(t *testing.T) {
	st := openTestStore(t)
	result, err := RunChain(context.Background(), st, 1, "drop table users", Options{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK {
		t.Fatalf("expected chain to fail on forbidden pattern")
	}
	if len(result.Stages) != 2 {
		t.Fatalf("expected sandbox+rollback stages, got %d", len(result.Stages))
	}
}

func TestRunChainFailsClosedWhenEvalDisabled(t *testing.T) {
	st := openTestStore(t)
	result, err := RunChain(context.Background(), st, 2, "add a helper function", Options{BaseDir: t.TempDir(), EvalEnabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK {
		t.Fatalf("expected chain to fail closed without eval")
	}
}

func TestCanaryStageWritesArtifact(t *testing.T) {
	st := openTestStore(t)
	dir := t.TempDir()
	res, err := CanaryStage(st, dir, 3, "safe change")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != "ok" {
		t.Fatalf("expected ok, got %s", res.Status)
	}
}
