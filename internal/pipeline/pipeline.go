// Package pipeline drives the crew tasks one at a time as a linear state
// machine on top of an ADK agent tree.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"

	"github.com/metalagman/fraudcrew/internal/adkexec"
	"github.com/metalagman/fraudcrew/internal/crew"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/adk/agent"
	adkmodel "google.golang.org/adk/model"
	"google.golang.org/adk/session"
	"google.golang.org/genai"
)

// State is the coordinator state.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrAlreadyRunning is returned when Run is called on a busy coordinator.
var ErrAlreadyRunning = errors.New("pipeline is already running")

// Status is a snapshot of the coordinator. Index is the current task while
// running and the failed task once failed.
type Status struct {
	State State
	Index int
}

// Executor runs a single task.
type Executor func(ctx context.Context, task *crew.TaskSpec, bundle crew.InputBundle, prior []crew.TaskOutput) (crew.TaskOutput, error)

// Observer is notified of task transitions. An error returned from
// TaskStarted or TaskFinished fails the task.
type Observer interface {
	TaskStarted(ctx context.Context, index int, task *crew.TaskSpec) error
	TaskFinished(ctx context.Context, index int, out crew.TaskOutput) error
	TaskFailed(ctx context.Context, index int, task *crew.TaskSpec, err error)
}

// Result is the outcome of a completed run.
type Result struct {
	Outputs   []crew.TaskOutput
	Final     crew.TaskOutput
	Artifacts []string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithExecutor replaces crew.Execute.
func WithExecutor(exec Executor) Option {
	return func(c *Coordinator) {
		c.exec = exec
	}
}

// WithObserver registers an observer. Observers are called in registration order.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		c.observers = append(c.observers, o)
	}
}

// WithArtifactRoot resolves relative reports directories against root.
func WithArtifactRoot(root string) Option {
	return func(c *Coordinator) {
		c.artifactRoot = root
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// Coordinator executes the crew tasks in declaration order.
type Coordinator struct {
	tasks        []*crew.TaskSpec
	exec         Executor
	observers    []Observer
	artifactRoot string
	logger       zerolog.Logger

	mu      sync.Mutex
	state   State
	index   int
	outputs []crew.TaskOutput
	failErr error
}

// New creates a coordinator over tasks.
func New(tasks []*crew.TaskSpec, opts ...Option) (*Coordinator, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("pipeline requires at least one task")
	}
	for i, t := range tasks {
		if t == nil || t.Agent == nil {
			return nil, fmt.Errorf("task %d has no agent", i)
		}
	}
	c := &Coordinator{
		tasks:  tasks,
		exec:   crew.Execute,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Tasks returns the tasks in execution order.
func (c *Coordinator) Tasks() []*crew.TaskSpec {
	return c.tasks
}

// Status returns the current state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, Index: c.index}
}

// Run executes every task from the first one.
func (c *Coordinator) Run(ctx context.Context, bundle crew.InputBundle) (Result, error) {
	return c.StartAt(ctx, bundle, 0, nil)
}

// StartAt executes tasks from index start, seeding the context with prior,
// the outputs of tasks 0..start-1.
func (c *Coordinator) StartAt(ctx context.Context, bundle crew.InputBundle, start int, prior []crew.TaskOutput) (Result, error) {
	if start < 0 || start >= len(c.tasks) {
		return Result{}, fmt.Errorf("start index %d out of range [0,%d)", start, len(c.tasks))
	}
	if len(prior) != start {
		return Result{}, fmt.Errorf("resume at task %d needs %d prior outputs, got %d", start, start, len(prior))
	}

	c.mu.Lock()
	if c.state == StateRunning {
		c.mu.Unlock()
		return Result{}, ErrAlreadyRunning
	}
	c.state = StateRunning
	c.index = start
	c.outputs = append(make([]crew.TaskOutput, 0, len(c.tasks)), prior...)
	c.failErr = nil
	c.mu.Unlock()

	root, err := c.buildAgent(bundle, start)
	if err != nil {
		return Result{}, c.fail(ctx, start, err)
	}

	sum, runErr := adkexec.Run(ctx, adkexec.RunInput{
		Agent: root,
		OnEvent: func(ev *session.Event) error {
			c.logger.Debug().Str("author", ev.Author).Msg("pipeline event")
			return nil
		},
	})

	c.logger.Debug().Int("events", sum.Events).Msg("pipeline drained")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return Result{}, c.failErr
	}
	if runErr != nil {
		c.state = StateFailed
		c.failErr = runErr
		return Result{}, runErr
	}
	if len(c.outputs) != len(c.tasks) {
		c.state = StateFailed
		c.failErr = fmt.Errorf("pipeline stopped after %d of %d tasks", len(c.outputs), len(c.tasks))
		return Result{}, c.failErr
	}
	c.state = StateCompleted

	res := Result{
		Outputs: append([]crew.TaskOutput(nil), c.outputs...),
		Final:   c.outputs[len(c.outputs)-1],
	}
	for _, out := range c.outputs[start:] {
		if out.OutputFile != "" {
			res.Artifacts = append(res.Artifacts, c.artifactPath(bundle, out.OutputFile))
		}
	}
	return res, nil
}

func (c *Coordinator) buildAgent(bundle crew.InputBundle, start int) (agent.Agent, error) {
	subAgents := make([]agent.Agent, 0, len(c.tasks))
	for i, t := range c.tasks {
		sub, err := agent.New(agent.Config{
			Name:        t.Name,
			Description: t.Agent.Role,
			Run:         c.taskRun(i, bundle),
		})
		if err != nil {
			return nil, fmt.Errorf("create %s agent: %w", t.Name, err)
		}
		subAgents = append(subAgents, sub)
	}

	return agent.New(agent.Config{
		Name:        "fraud_crew",
		Description: "Runs the fraud detection crew sequentially.",
		SubAgents:   subAgents,
		Run: func(ctx agent.InvocationContext) iter.Seq2[*session.Event, error] {
			return func(yield func(*session.Event, error) bool) {
				for _, sub := range subAgents[start:] {
					for ev, err := range sub.Run(ctx) {
						if err != nil {
							yield(nil, err)
							return
						}
						if !yield(ev, nil) {
							return
						}
					}
				}
			}
		},
	})
}

func (c *Coordinator) taskRun(index int, bundle crew.InputBundle) func(agent.InvocationContext) iter.Seq2[*session.Event, error] {
	task := c.tasks[index]
	return func(ctx agent.InvocationContext) iter.Seq2[*session.Event, error] {
		return func(yield func(*session.Event, error) bool) {
			out, err := c.runTask(ctx, index, task, bundle)
			if err != nil {
				yield(nil, err)
				return
			}

			ev := session.NewEvent(ctx.InvocationID())
			ev.Author = task.Name
			ev.LLMResponse = adkmodel.LLMResponse{
				Content: genai.NewContentFromText(out.Text, genai.RoleModel),
			}
			yield(ev, nil)
		}
	}
}

func (c *Coordinator) runTask(ctx context.Context, index int, task *crew.TaskSpec, bundle crew.InputBundle) (crew.TaskOutput, error) {
	l := c.logger.With().Str("task", task.Name).Str("role", task.Agent.Role).Int("index", index).Logger()

	c.mu.Lock()
	c.index = index
	prior := append([]crew.TaskOutput(nil), c.outputs...)
	c.mu.Unlock()

	for _, o := range c.observers {
		if err := o.TaskStarted(ctx, index, task); err != nil {
			return crew.TaskOutput{}, c.fail(ctx, index, err)
		}
	}

	l.Info().Msg("task started")
	out, err := c.exec(ctx, task, bundle, prior)
	if err != nil {
		return crew.TaskOutput{}, c.fail(ctx, index, err)
	}
	if out.OutputFile != "" {
		if err := c.writeArtifact(bundle, out); err != nil {
			return crew.TaskOutput{}, c.fail(ctx, index, err)
		}
	}
	for _, o := range c.observers {
		if err := o.TaskFinished(ctx, index, out); err != nil {
			return crew.TaskOutput{}, c.fail(ctx, index, err)
		}
	}
	l.Info().Dur("duration", out.Duration()).Msg("task finished")

	c.mu.Lock()
	c.outputs = append(c.outputs, out)
	c.mu.Unlock()
	return out, nil
}

// fail moves the coordinator to Failed at index and returns the wrapped error.
func (c *Coordinator) fail(ctx context.Context, index int, cause error) error {
	task := c.tasks[index]
	err := fmt.Errorf("task %q (%d/%d): %w", task.Name, index+1, len(c.tasks), cause)

	c.mu.Lock()
	c.state = StateFailed
	c.index = index
	c.failErr = err
	c.mu.Unlock()

	c.logger.Error().Err(cause).Str("task", task.Name).Int("index", index).Msg("task failed")
	for _, o := range c.observers {
		o.TaskFailed(ctx, index, task, cause)
	}
	return err
}

func (c *Coordinator) artifactPath(bundle crew.InputBundle, name string) string {
	dir := bundle.ReportsDir
	if !filepath.IsAbs(dir) && c.artifactRoot != "" {
		dir = filepath.Join(c.artifactRoot, dir)
	}
	return filepath.Join(dir, name)
}

func (c *Coordinator) writeArtifact(bundle crew.InputBundle, out crew.TaskOutput) error {
	path := c.artifactPath(bundle, out.OutputFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create reports dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(out.Text+"\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out.OutputFile, err)
	}
	return nil
}
