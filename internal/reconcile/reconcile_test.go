package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	dbpkg "github.com/metalagman/fraudcrew/internal/db"
)

func openStore(t *testing.T) *dbpkg.Store {
	t.Helper()
	database, err := dbpkg.Open(context.Background(), filepath.Join(t.TempDir(), "fraudcrew.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return dbpkg.NewStore(database)
}

func TestRunClosesInterruptedRuns(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	runID := "run-1"
	stepsDir := filepath.Join(t.TempDir(), "steps")
	recovered := filepath.Join(stepsDir, "001-research_task")
	lost := filepath.Join(stepsDir, "002-data_analysis_task")
	if err := os.MkdirAll(recovered, 0o755); err != nil {
		t.Fatalf("create step dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(recovered, OutputFileName), []byte("findings\n"), 0o644); err != nil {
		t.Fatalf("write output: %v", err)
	}
	startedAt := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	finishedAt := startedAt.Add(10 * time.Minute)
	if err := os.Chtimes(filepath.Join(recovered, OutputFileName), finishedAt, finishedAt); err != nil {
		t.Fatalf("set output mtime: %v", err)
	}

	if err := store.CreateRun(ctx, dbpkg.RunRecord{RunID: runID, Mode: "m", Model: "x", Dataset: "d", BundleJSON: "{}", RunDir: "r"}); err != nil {
		t.Fatalf("create run: %v", err)
	}
	for i, dir := range []string{recovered, lost} {
		if err := store.StartTask(ctx, dbpkg.TaskRecord{RunID: runID, TaskIndex: i, TaskName: filepath.Base(dir)[4:], AgentRole: "r", StepDir: dir, StartedAt: startedAt}); err != nil {
			t.Fatalf("start task: %v", err)
		}
	}
	if err := store.CreateRun(ctx, dbpkg.RunRecord{RunID: "done", Mode: "m", Model: "x", Dataset: "d", BundleJSON: "{}", RunDir: "r"}); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := store.FinishRun(ctx, "done", dbpkg.StatusCompleted, ""); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	closed, err := Run(ctx, store)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if closed != 1 {
		t.Fatalf("closed = %d, want 1", closed)
	}

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != dbpkg.StatusFailed || run.Error != "interrupted" {
		t.Fatalf("run = %+v, want failed/interrupted", run)
	}

	tasks, err := store.TaskRuns(ctx, runID)
	if err != nil {
		t.Fatalf("task runs: %v", err)
	}
	if tasks[0].Status != dbpkg.StatusCompleted || tasks[0].Output != "findings" {
		t.Fatalf("tasks[0] = %+v, want recovered output", tasks[0])
	}
	if !tasks[0].EndedAt.Equal(finishedAt) {
		t.Fatalf("tasks[0].EndedAt = %v, want output mtime %v", tasks[0].EndedAt, finishedAt)
	}
	if tasks[1].Status != dbpkg.StatusFailed {
		t.Fatalf("tasks[1].Status = %q, want failed", tasks[1].Status)
	}

	done, err := store.GetRun(ctx, "done")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if done.Status != dbpkg.StatusCompleted {
		t.Fatalf("completed run was touched: %+v", done)
	}

	// A second pass has nothing left to close.
	closed, err = Run(ctx, store)
	if err != nil {
		t.Fatalf("reconcile second pass: %v", err)
	}
	if closed != 0 {
		t.Fatalf("closed on second pass = %d, want 0", closed)
	}
}
