package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/metalagman/fraudcrew/internal/crew"
	"github.com/metalagman/fraudcrew/internal/db"
	"github.com/metalagman/fraudcrew/internal/evaluate"
	"github.com/metalagman/fraudcrew/internal/project"
	"github.com/metalagman/fraudcrew/internal/report"
	"github.com/rs/zerolog/log"
)

// ErrNothingScored is returned by Test when the evaluator scored no output.
var ErrNothingScored = errors.New("no task output could be scored")

// TrainingIteration is one crew execution of a training session.
type TrainingIteration struct {
	Iteration int               `json:"iteration"`
	RunID     string            `json:"run_id"`
	Outputs   []crew.TaskOutput `json:"outputs"`
}

// TrainingFile is written by Train.
type TrainingFile struct {
	CreatedAt  time.Time           `json:"created_at"`
	Model      string              `json:"model"`
	Bundle     crew.InputBundle    `json:"bundle"`
	Iterations []TrainingIteration `json:"iterations"`
}

// Train runs the crew n times and writes every task output to filename,
// relative to the project root.
func (r *Runner) Train(ctx context.Context, n int, filename string) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("train crew: iterations must be positive, got %d", n)
	}
	if filename == "" {
		return "", fmt.Errorf("train crew: filename is required")
	}

	bundle, info, err := r.prepare()
	if err != nil {
		return "", fmt.Errorf("train crew: %w", err)
	}

	out := TrainingFile{CreatedAt: r.opts.Now().UTC(), Model: r.opts.Model, Bundle: bundle}
	for i := range n {
		log.Info().Int("iteration", i+1).Int("of", n).Msg("training iteration")
		res, err := r.execute(ctx, bundle, info, executeParams{quiet: i > 0})
		if err != nil {
			r.printer.Failure(err)
			return "", fmt.Errorf("train crew: iteration %d: %w", i+1, err)
		}
		out.Iterations = append(out.Iterations, TrainingIteration{Iteration: i + 1, RunID: res.RunID, Outputs: res.Outputs})
	}

	path := filename
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.layout.Root, path)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("train crew: marshal training file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("train crew: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("train crew: write %s: %w", filename, err)
	}
	return path, nil
}

// Test runs the crew n times, scores every task output with the evaluator and
// prints the score table.
func (r *Runner) Test(ctx context.Context, n int, evaluator *evaluate.Evaluator) (*evaluate.Sheet, error) {
	if n <= 0 {
		return nil, fmt.Errorf("test crew: iterations must be positive, got %d", n)
	}

	bundle, info, err := r.prepare()
	if err != nil {
		return nil, fmt.Errorf("test crew: %w", err)
	}

	sheet := evaluate.NewSheet(crew.Tasks, n)
	scored := 0
	for i := range n {
		res, err := r.execute(ctx, bundle, info, executeParams{quiet: i > 0})
		if err != nil {
			r.printer.Failure(err)
			return nil, fmt.Errorf("test crew: iteration %d: %w", i+1, err)
		}
		sheet.SetDuration(i, res.Duration)
		for j, out := range res.Outputs {
			score, err := evaluator.Score(ctx, r.tasks[j], bundle, out)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("test crew: iteration %d: %w", i+1, ctxErr)
			}
			if err != nil {
				log.Warn().Err(err).Int("iteration", i+1).Str("task", out.TaskName).Msg("task left unscored")
				if err := r.store.AddEvent(ctx, res.RunID, "task_unscored",
					fmt.Sprintf("%s not scored by %s: %v", out.TaskName, evaluator.Model(), err), ""); err != nil {
					return nil, fmt.Errorf("test crew: %w", err)
				}
				continue
			}
			scored++
			log.Debug().Str("task", out.TaskName).Float64("score", score.Value).Str("rationale", score.Rationale).Msg("task scored")
			sheet.Set(i, out.TaskName, score.Value)
			if err := r.store.AddEvent(ctx, res.RunID, "task_scored",
				fmt.Sprintf("%s scored %.1f by %s", out.TaskName, score.Value, evaluator.Model()), ""); err != nil {
				return nil, fmt.Errorf("test crew: %w", err)
			}
		}
	}

	_, _ = fmt.Fprintln(r.opts.Out, sheet.Table())
	if scored == 0 {
		return sheet, fmt.Errorf("test crew: %w", ErrNothingScored)
	}
	return sheet, nil
}

// Replay re-executes the latest stored run from taskName, reusing the stored
// outputs of the tasks before it and the original input bundle.
func (r *Runner) Replay(ctx context.Context, taskName string) (Result, error) {
	res, err := r.replay(ctx, taskName)
	if err != nil {
		return res, fmt.Errorf("replay crew: %w", err)
	}
	r.printer.Success(report.Summary{ReportsDir: r.layout.ReportsDir, Artifacts: res.Artifacts, Duration: res.Duration})
	return res, nil
}

func (r *Runner) replay(ctx context.Context, taskName string) (Result, error) {
	start := crew.TaskIndex(taskName)
	if start < 0 {
		return Result{}, fmt.Errorf("unknown task %q", taskName)
	}

	latest, err := r.store.LatestRun(ctx)
	if err != nil {
		return Result{}, err
	}
	var bundle crew.InputBundle
	if err := json.Unmarshal([]byte(latest.BundleJSON), &bundle); err != nil {
		return Result{}, fmt.Errorf("decode stored bundle of run %s: %w", latest.RunID, err)
	}

	records, err := r.store.TaskRuns(ctx, latest.RunID)
	if err != nil {
		return Result{}, err
	}
	prior, err := priorOutputs(records, start)
	if err != nil {
		return Result{}, fmt.Errorf("run %s: %w", latest.RunID, err)
	}

	info, err := (project.Layout{Dataset: bundle.DatasetPath}).StatDataset()
	if err != nil {
		return Result{}, err
	}

	res, err := r.execute(ctx, bundle, info, executeParams{replayOf: latest.RunID, start: start, prior: prior})
	if err != nil {
		r.printer.Failure(err)
	}
	return res, err
}

func priorOutputs(records []db.TaskRecord, start int) ([]crew.TaskOutput, error) {
	byIndex := make(map[int]db.TaskRecord, len(records))
	for _, rec := range records {
		byIndex[rec.TaskIndex] = rec
	}
	prior := make([]crew.TaskOutput, 0, start)
	for i := range start {
		rec, ok := byIndex[i]
		if !ok || (rec.Status != db.StatusCompleted && rec.Status != db.StatusReused) {
			return nil, fmt.Errorf("task %q has no stored output", crew.Tasks[i])
		}
		prior = append(prior, crew.TaskOutput{
			TaskName:  rec.TaskName,
			AgentRole: rec.AgentRole,
			Text:      rec.Output,
			StartedAt: rec.StartedAt,
			EndedAt:   rec.EndedAt,
		})
	}
	return prior, nil
}
