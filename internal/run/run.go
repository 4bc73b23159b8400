// Package run implements the fraudcrew entry points: run, train, test and
// replay.
package run

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/metalagman/fraudcrew/internal/config"
	"github.com/metalagman/fraudcrew/internal/crew"
	"github.com/metalagman/fraudcrew/internal/db"
	"github.com/metalagman/fraudcrew/internal/llm"
	"github.com/metalagman/fraudcrew/internal/logging"
	"github.com/metalagman/fraudcrew/internal/pipeline"
	"github.com/metalagman/fraudcrew/internal/project"
	"github.com/metalagman/fraudcrew/internal/reconcile"
	"github.com/metalagman/fraudcrew/internal/report"
	"github.com/rs/zerolog/log"
)

// Run outcomes.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	// StatusSkipped means the dataset was missing and nothing ran.
	StatusSkipped = "skipped"
)

// Result summarizes one crew execution.
type Result struct {
	RunID     string
	Status    string
	Outputs   []crew.TaskOutput
	Final     crew.TaskOutput
	Artifacts []string
	Duration  time.Duration
}

// Options tune a Runner.
type Options struct {
	// UseSample runs on the first SampleSize rows.
	UseSample  bool
	SampleSize int
	// Model is shown in the banner and stored with the run.
	Model string
	// Out receives user-facing output. Defaults to io.Discard.
	Out io.Writer
	// ShowReport renders the final report on Out after a successful run.
	ShowReport    bool
	MarkdownStyle string
	// Executor replaces the default task executor.
	Executor pipeline.Executor
	Now      func() time.Time
}

// Runner drives the crew inside a project.
type Runner struct {
	layout  project.Layout
	store   *db.Store
	tasks   []*crew.TaskSpec
	opts    Options
	printer *report.Printer
}

// New creates a runner over the crew tasks.
func New(layout project.Layout, store *db.Store, tasks []*crew.TaskSpec, opts Options) *Runner {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = config.DefaultSampleSize
	}
	return &Runner{
		layout:  layout,
		store:   store,
		tasks:   tasks,
		opts:    opts,
		printer: report.NewPrinter(opts.Out),
	}
}

// Run executes the crew once. A missing dataset prints the setup steps and
// returns a skipped result with a nil error.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	bundle, info, err := r.prepare()
	if errors.Is(err, project.ErrDatasetMissing) {
		r.printer.DatasetMissing(r.layout.Dataset)
		log.Warn().Str("dataset", r.layout.Dataset).Msg("dataset missing, crew not started")
		return Result{Status: StatusSkipped}, nil
	}
	if err != nil {
		return Result{}, err
	}

	res, err := r.execute(ctx, bundle, info, executeParams{})
	if err != nil {
		r.printer.Failure(err)
		return res, fmt.Errorf("run crew: %w", err)
	}

	r.printer.Success(report.Summary{
		ReportsDir: r.layout.ReportsDir,
		Artifacts:  res.Artifacts,
		Duration:   res.Duration,
	})
	if r.opts.ShowReport {
		if err := r.printer.ShowMarkdown(res.Final.Text, r.opts.MarkdownStyle, 100); err != nil {
			log.Warn().Err(err).Msg("render report")
		}
	}
	return res, nil
}

// prepare creates the output directories, checks the dataset and builds the
// input bundle.
func (r *Runner) prepare() (crew.InputBundle, project.DatasetInfo, error) {
	if err := r.layout.EnsureOutputDirs(); err != nil {
		return crew.InputBundle{}, project.DatasetInfo{}, err
	}
	info, err := r.layout.StatDataset()
	if err != nil {
		return crew.InputBundle{}, project.DatasetInfo{}, err
	}
	bundle := crew.NewInputBundle(
		r.layout.Dataset,
		r.layout.FeaturesDir,
		r.layout.ModelsDir,
		r.layout.ReportsDir,
		r.opts.UseSample,
		r.opts.SampleSize,
		r.opts.Now(),
	)
	return bundle, info, nil
}

type executeParams struct {
	replayOf string
	start    int
	prior    []crew.TaskOutput
	quiet    bool
}

// execute runs the crew under the project lock and records it in the store.
func (r *Runner) execute(ctx context.Context, bundle crew.InputBundle, info project.DatasetInfo, p executeParams) (Result, error) {
	lock, err := r.layout.TryLock()
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = lock.Release() }()

	if err := r.layout.EnsureStateDirs(); err != nil {
		return Result{}, err
	}
	if _, err := reconcile.Run(ctx, r.store); err != nil {
		return Result{}, err
	}

	runID, err := newRunID(r.opts.Now())
	if err != nil {
		return Result{}, err
	}
	bundleJSON, err := json.Marshal(bundle)
	if err != nil {
		return Result{}, fmt.Errorf("marshal input bundle: %w", err)
	}
	runDir := r.layout.RunDir(runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return Result{RunID: runID}, fmt.Errorf("create run dir: %w", err)
	}
	if err := r.store.CreateRun(ctx, db.RunRecord{
		RunID:      runID,
		CreatedAt:  r.opts.Now(),
		Mode:       bundle.Mode(),
		Model:      r.opts.Model,
		Dataset:    bundle.DatasetPath,
		BundleJSON: string(bundleJSON),
		ReplayOf:   p.replayOf,
		RunDir:     runDir,
	}); err != nil {
		return Result{RunID: runID}, err
	}
	for i, out := range p.prior {
		if err := r.store.ReuseTask(ctx, db.TaskRecord{
			RunID:     runID,
			TaskIndex: i,
			TaskName:  out.TaskName,
			AgentRole: out.AgentRole,
			StartedAt: out.StartedAt,
			EndedAt:   out.EndedAt,
			Output:    out.Text,
		}); err != nil {
			return Result{RunID: runID}, err
		}
	}

	logger := logging.ForRun(runID)
	if !p.quiet {
		r.printer.Start(report.StartInfo{
			RunID:   runID,
			Dataset: bundle.DatasetPath,
			SizeGB:  info.SizeGB(),
			Mode:    bundle.Mode(),
			Year:    bundle.CurrentYear,
			Model:   r.opts.Model,
		})
	}

	opts := []pipeline.Option{
		pipeline.WithObserver(&storeObserver{store: r.store, layout: r.layout, runID: runID, logger: logger}),
		pipeline.WithObserver(r.printer.NewProgress(len(r.tasks))),
		pipeline.WithArtifactRoot(r.layout.Root),
		pipeline.WithLogger(logger),
	}
	exec := r.opts.Executor
	if exec == nil {
		exec = crew.Execute
	}
	opts = append(opts, pipeline.WithExecutor(r.inStepDir(runID, exec)))
	coord, err := pipeline.New(r.tasks, opts...)
	if err != nil {
		return Result{RunID: runID}, err
	}

	startedAt := time.Now()
	logger.Info().Int("start", p.start).Str("mode", bundle.Mode()).Msg("crew started")
	res, runErr := coord.StartAt(ctx, bundle, p.start, p.prior)
	duration := time.Since(startedAt)

	if runErr != nil {
		if err := r.store.FinishRun(context.WithoutCancel(ctx), runID, db.StatusFailed, runErr.Error()); err != nil {
			logger.Error().Err(err).Msg("record run failure")
		}
		logger.Error().Err(runErr).Dur("duration", duration).Msg("crew failed")
		return Result{RunID: runID, Status: StatusFailed, Duration: duration}, runErr
	}
	if err := r.store.FinishRun(ctx, runID, db.StatusCompleted, ""); err != nil {
		return Result{RunID: runID, Status: StatusFailed, Duration: duration}, err
	}
	logger.Info().Dur("duration", duration).Msg("crew completed")

	return Result{
		RunID:     runID,
		Status:    StatusCompleted,
		Outputs:   res.Outputs,
		Final:     res.Final,
		Artifacts: res.Artifacts,
		Duration:  duration,
	}, nil
}

// inStepDir runs every task with its step dir as the working directory of
// exec-backed agents.
func (r *Runner) inStepDir(runID string, exec pipeline.Executor) pipeline.Executor {
	return func(ctx context.Context, task *crew.TaskSpec, bundle crew.InputBundle, prior []crew.TaskOutput) (crew.TaskOutput, error) {
		ctx = llm.WithRunDir(ctx, r.layout.StepDir(runID, task.Position, task.Name))
		return exec(ctx, task, bundle, prior)
	}
}

func newRunID(now time.Time) (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102-150405"), hex.EncodeToString(buf)), nil
}
