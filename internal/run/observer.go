package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/metalagman/fraudcrew/internal/crew"
	"github.com/metalagman/fraudcrew/internal/db"
	"github.com/metalagman/fraudcrew/internal/project"
	"github.com/metalagman/fraudcrew/internal/reconcile"
	"github.com/rs/zerolog"
)

const promptFileName = "prompt.txt"

// storeObserver records task transitions in the store and the step dirs.
type storeObserver struct {
	store  *db.Store
	layout project.Layout
	runID  string
	logger zerolog.Logger
}

func (o *storeObserver) TaskStarted(ctx context.Context, index int, task *crew.TaskSpec) error {
	stepDir := o.layout.StepDir(o.runID, index, task.Name)
	if err := os.MkdirAll(stepDir, 0o755); err != nil {
		return fmt.Errorf("create step dir: %w", err)
	}
	return o.store.StartTask(ctx, db.TaskRecord{
		RunID:     o.runID,
		TaskIndex: index,
		TaskName:  task.Name,
		AgentRole: task.Agent.Role,
		StepDir:   stepDir,
	})
}

func (o *storeObserver) TaskFinished(ctx context.Context, index int, out crew.TaskOutput) error {
	stepDir := o.layout.StepDir(o.runID, index, out.TaskName)
	if err := os.WriteFile(filepath.Join(stepDir, promptFileName), []byte(out.Prompt), 0o644); err != nil {
		return fmt.Errorf("write prompt: %w", err)
	}
	if err := os.WriteFile(filepath.Join(stepDir, reconcile.OutputFileName), []byte(out.Text+"\n"), 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return o.store.FinishTask(ctx, o.runID, index, out.Text, out.EndedAt)
}

func (o *storeObserver) TaskFailed(ctx context.Context, index int, _ *crew.TaskSpec, cause error) {
	if err := o.store.FailTask(context.WithoutCancel(ctx), o.runID, index, cause.Error()); err != nil {
		o.logger.Error().Err(err).Int("index", index).Msg("record task failure")
	}
}
