// Package reconcile repairs run records left behind by an interrupted process.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/metalagman/fraudcrew/internal/db"
	"github.com/rs/zerolog/log"
)

// OutputFileName is the task output written into each step directory.
const OutputFileName = "output.md"

const interrupted = "interrupted"

// Run closes every run still marked running. It must be called while holding
// the project lock, so no such run can be live. Tasks whose step directory
// already holds an output are recovered as completed; other running tasks
// fail. It returns the number of runs closed.
func Run(ctx context.Context, store *db.Store) (int, error) {
	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, run := range runs {
		if run.Status != db.StatusRunning {
			continue
		}
		if err := closeRun(ctx, store, run.RunID); err != nil {
			return closed, fmt.Errorf("reconcile run %s: %w", run.RunID, err)
		}
		closed++
	}
	return closed, nil
}

func closeRun(ctx context.Context, store *db.Store, runID string) error {
	tasks, err := store.TaskRuns(ctx, runID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.Status != db.StatusRunning {
			continue
		}
		output, endedAt, ok, err := readOutput(t.StepDir)
		if err != nil {
			return err
		}
		if ok {
			if err := store.FinishTask(ctx, runID, t.TaskIndex, output, endedAt); err != nil {
				return err
			}
			if err := store.AddEvent(ctx, runID, "reconciled_task", t.TaskName+" recovered from step dir", ""); err != nil {
				return err
			}
			continue
		}
		if err := store.FailTask(ctx, runID, t.TaskIndex, interrupted); err != nil {
			return err
		}
	}
	log.Warn().Str("run_id", runID).Msg("closing interrupted run")
	return store.FinishRun(ctx, runID, db.StatusFailed, interrupted)
}

// readOutput returns the step output and its modification time, which is when
// the task finished.
func readOutput(stepDir string) (string, time.Time, bool, error) {
	if stepDir == "" {
		return "", time.Time{}, false, nil
	}
	path := filepath.Join(stepDir, OutputFileName)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("stat step output: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("read step output: %w", err)
	}
	return strings.TrimSpace(string(data)), info.ModTime().UTC(), true, nil
}
