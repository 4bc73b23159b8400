package run

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/metalagman/fraudcrew/internal/config"
	"github.com/metalagman/fraudcrew/internal/crew"
	"github.com/metalagman/fraudcrew/internal/db"
	"github.com/metalagman/fraudcrew/internal/evaluate"
	"github.com/metalagman/fraudcrew/internal/llm"
	"github.com/metalagman/fraudcrew/internal/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticClient struct {
	text string
}

func (c staticClient) Generate(context.Context, llm.Request) (llm.Response, error) {
	return llm.Response{Text: c.text}, nil
}

func (c staticClient) Model() string { return "static" }

type recordingExec struct {
	mu     sync.Mutex
	calls  []string
	dirs   []string
	failOn string
}

func (e *recordingExec) exec(ctx context.Context, task *crew.TaskSpec, bundle crew.InputBundle, prior []crew.TaskOutput) (crew.TaskOutput, error) {
	e.mu.Lock()
	e.calls = append(e.calls, task.Name)
	e.dirs = append(e.dirs, llm.RunDirFrom(ctx))
	e.mu.Unlock()

	now := time.Now().UTC()
	if task.Name == e.failOn {
		return crew.TaskOutput{}, errors.New("model overloaded")
	}
	return crew.TaskOutput{
		TaskName:   task.Name,
		AgentRole:  task.Agent.Role,
		Text:       fmt.Sprintf("%s after %d (%s)", task.Name, len(prior), bundle.Mode()),
		OutputFile: task.OutputFile,
		Prompt:     "prompt of " + task.Name,
		StartedAt:  now,
		EndedAt:    now,
	}, nil
}

type fixture struct {
	root   string
	layout project.Layout
	store  *db.Store
	tasks  []*crew.TaskSpec
	out    *bytes.Buffer
}

func newFixture(t *testing.T, withDataset bool) *fixture {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)

	root := t.TempDir()
	layout, err := project.Resolve(root, cfg.Data)
	require.NoError(t, err)
	if withDataset {
		require.NoError(t, os.MkdirAll(filepath.Dir(layout.Dataset), 0o755))
		require.NoError(t, os.WriteFile(layout.Dataset, []byte("TransactionID,isFraud\n1,0\n"), 0o644))
	}

	database, err := db.Open(context.Background(), layout.DBPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	agents, err := crew.NewAgents(cfg.Agents, staticClient{text: "ok"}, nil)
	require.NoError(t, err)
	tasks, err := crew.NewTasks(cfg.Tasks, agents)
	require.NoError(t, err)

	return &fixture{root: root, layout: layout, store: db.NewStore(database), tasks: tasks, out: &bytes.Buffer{}}
}

func (f *fixture) runner(exec *recordingExec) *Runner {
	opts := Options{UseSample: true, Model: "gemini-2.5-flash", Out: f.out}
	if exec != nil {
		opts.Executor = exec.exec
	}
	return New(f.layout, f.store, f.tasks, opts)
}

func TestRun_MissingDatasetIsSoftExit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	exec := &recordingExec{}

	res, err := f.runner(exec).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Empty(t, exec.calls)
	assert.Contains(t, f.out.String(), f.layout.Dataset)

	runs, err := f.store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)

	for _, dir := range []string{f.layout.FeaturesDir, f.layout.ModelsDir, f.layout.ReportsDir} {
		_, err := os.Stat(dir)
		assert.NoError(t, err, "output dir %s", dir)
	}
}

func TestRun_CompletesAndPersists(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, true)
	exec := &recordingExec{}

	res, err := f.runner(exec).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, crew.Tasks, exec.calls)
	require.Len(t, res.Outputs, 5)

	reportPath := filepath.Join(f.layout.ReportsDir, crew.ReportFile)
	assert.Equal(t, []string{reportPath}, res.Artifacts)
	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "evaluation_task after 4")

	run, err := f.store.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusCompleted, run.Status)
	assert.Equal(t, "development (50000 samples)", run.Mode)

	var stored crew.InputBundle
	require.NoError(t, json.Unmarshal([]byte(run.BundleJSON), &stored))
	assert.Equal(t, f.layout.Dataset, stored.DatasetPath)
	assert.Equal(t, config.DefaultSampleSize, stored.SampleSize)

	tasks, err := f.store.TaskRuns(ctx, res.RunID)
	require.NoError(t, err)
	require.Len(t, tasks, 5)
	for _, tr := range tasks {
		assert.Equal(t, db.StatusCompleted, tr.Status)
	}
	prompt, err := os.ReadFile(filepath.Join(f.layout.StepDir(res.RunID, 0, crew.TaskResearch), promptFileName))
	require.NoError(t, err)
	assert.Equal(t, "prompt of research_task", string(prompt))

	out := f.out.String()
	assert.Contains(t, out, "Crew completed")
	assert.Contains(t, out, crew.ReportFile)
}

func TestRun_TasksRunInTheirStepDirs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	exec := &recordingExec{}
	res, err := f.runner(exec).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, exec.dirs, len(crew.Tasks))
	for i, name := range crew.Tasks {
		want := f.layout.StepDir(res.RunID, i, name)
		assert.Equal(t, want, exec.dirs[i])
		assert.DirExists(t, want)
	}
}

func TestRun_FailureIsWrappedAndRecorded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, true)
	exec := &recordingExec{failOn: crew.TaskFeatureEngineering}

	res, err := f.runner(exec).Run(ctx)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "run crew: "), "err = %v", err)
	assert.Contains(t, err.Error(), "model overloaded")
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, crew.Tasks[:3], exec.calls)

	run, err := f.store.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusFailed, run.Status)
	assert.Equal(t, 2, run.CurrentTaskIndex)

	_, err = os.Stat(filepath.Join(f.layout.ReportsDir, crew.ReportFile))
	assert.True(t, os.IsNotExist(err))
	assert.Contains(t, f.out.String(), "Crew failed")
}

func TestRun_LockedProject(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	lock, err := f.layout.TryLock()
	require.NoError(t, err)
	t.Cleanup(func() { _ = lock.Release() })

	exec := &recordingExec{}
	_, err = f.runner(exec).Run(context.Background())
	require.ErrorIs(t, err, project.ErrLocked)
	assert.Empty(t, exec.calls)
}

func TestRun_DefaultExecutorWithSharedClient(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	res, err := f.runner(nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Final.Text)
}

func TestReplay_ReusesStoredOutputs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, true)

	first, err := f.runner(&recordingExec{failOn: crew.TaskModelDevelopment}).Run(ctx)
	require.Error(t, err)

	exec := &recordingExec{}
	res, err := f.runner(exec).Replay(ctx, crew.TaskModelDevelopment)
	require.NoError(t, err)
	assert.Equal(t, crew.Tasks[3:], exec.calls)
	require.Len(t, res.Outputs, 5)
	assert.Equal(t, "feature_engineering_task after 2 (development (50000 samples))", res.Outputs[2].Text)
	assert.Equal(t, "evaluation_task after 4 (development (50000 samples))", res.Final.Text)

	run, err := f.store.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, first.RunID, run.ReplayOf)

	tasks, err := f.store.TaskRuns(ctx, res.RunID)
	require.NoError(t, err)
	require.Len(t, tasks, 5)
	assert.Equal(t, db.StatusReused, tasks[0].Status)
	assert.Equal(t, db.StatusCompleted, tasks[4].Status)
}

func TestReplay_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, true)

	_, err := f.runner(&recordingExec{}).Replay(ctx, "unknown_task")
	require.Error(t, err)

	_, err = f.runner(&recordingExec{}).Replay(ctx, crew.TaskResearch)
	require.ErrorIs(t, err, db.ErrNotFound)

	_, err = f.runner(&recordingExec{failOn: crew.TaskResearch}).Run(ctx)
	require.Error(t, err)
	_, err = f.runner(&recordingExec{}).Replay(ctx, crew.TaskDataAnalysis)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no stored output")
}

func TestTrain_WritesIterations(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	exec := &recordingExec{}

	path, err := f.runner(exec).Train(context.Background(), 2, "training/crew.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.root, "training/crew.json"), path)
	assert.Len(t, exec.calls, 10)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var file TrainingFile
	require.NoError(t, json.Unmarshal(data, &file))
	require.Len(t, file.Iterations, 2)
	assert.Len(t, file.Iterations[1].Outputs, 5)
	assert.NotEqual(t, file.Iterations[0].RunID, file.Iterations[1].RunID)

	_, err = f.runner(exec).Train(context.Background(), 0, "x.json")
	require.Error(t, err)
}

type gradingClient struct{}

func (gradingClient) Generate(context.Context, llm.Request) (llm.Response, error) {
	return llm.Response{Text: `{"score": 7, "rationale": "solid"}`}, nil
}

func (gradingClient) Model() string { return "grader" }

func TestTest_ScoresEveryTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	sheet, err := f.runner(&recordingExec{}).Test(context.Background(), 1, evaluate.New(gradingClient{}))
	require.NoError(t, err)
	for _, name := range crew.Tasks {
		assert.InDelta(t, 7.0, sheet.Average(name), 1e-9, name)
	}
	assert.Contains(t, f.out.String(), "Execution time")
}

// pickyGrader rejects the outputs of the listed tasks with a reply that is not JSON.
type pickyGrader struct {
	reject []string
}

func (g pickyGrader) Generate(_ context.Context, req llm.Request) (llm.Response, error) {
	for _, name := range g.reject {
		if strings.Contains(req.Prompt, "on task "+name+".") {
			return llm.Response{Text: "I would rather not grade this."}, nil
		}
	}
	return llm.Response{Text: `{"score": 8, "rationale": "fine"}`}, nil
}

func (pickyGrader) Model() string { return "picky" }

func TestTest_UnscoredTaskDoesNotAbort(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	exec := &recordingExec{}
	sheet, err := f.runner(exec).Test(context.Background(), 2, evaluate.New(pickyGrader{reject: []string{crew.TaskDataAnalysis}}))
	require.NoError(t, err)
	assert.Len(t, exec.calls, 2*len(crew.Tasks))
	assert.Zero(t, sheet.Average(crew.TaskDataAnalysis))
	assert.InDelta(t, 8.0, sheet.Average(crew.TaskResearch), 1e-9)
	assert.InDelta(t, 8.0, sheet.Overall(), 1e-9)

	latest, err := f.store.LatestRun(context.Background())
	require.NoError(t, err)
	events, err := f.store.Events(context.Background(), latest.RunID)
	require.NoError(t, err)
	var unscored int
	for _, ev := range events {
		if ev.Type == "task_unscored" {
			unscored++
		}
	}
	assert.Equal(t, 1, unscored)
}

func TestTest_NothingScoredIsError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	_, err := f.runner(&recordingExec{}).Test(context.Background(), 1, evaluate.New(pickyGrader{reject: crew.Tasks}))
	require.ErrorIs(t, err, ErrNothingScored)
}

func TestTrain_MissingDatasetIsError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	_, err := f.runner(&recordingExec{}).Train(context.Background(), 1, "out.json")
	require.ErrorIs(t, err, project.ErrDatasetMissing)
}
