// Package crew defines the fixed fraud-detection crew: five agents, five
// tasks and the input bundle every task is rendered against.
package crew

import (
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/metalagman/fraudcrew/internal/config"
	"github.com/metalagman/fraudcrew/internal/llm"
)

const (
	RoleResearcher      = "researcher"
	RoleDataAnalyst     = "data_analyst"
	RoleFeatureEngineer = "feature_engineer"
	RoleMLEngineer      = "ml_engineer"
	RoleEvaluator       = "evaluator"

	TaskResearch           = "research_task"
	TaskDataAnalysis       = "data_analysis_task"
	TaskFeatureEngineering = "feature_engineering_task"
	TaskModelDevelopment   = "model_development_task"
	TaskEvaluation         = "evaluation_task"

	// ReportFile is the artifact written by the evaluation task.
	ReportFile = "fraud_detection_evaluation_report.md"
)

var (
	// ErrMissingRoleConfig is returned when a crew role has no configuration.
	ErrMissingRoleConfig = errors.New("missing role configuration")
	// ErrMissingAgent is returned when a task references an unknown agent.
	ErrMissingAgent = errors.New("missing agent")
	// ErrMissingTaskConfig is returned when a crew task has no configuration.
	ErrMissingTaskConfig = errors.New("missing task configuration")
	// ErrUnexpectedOutputFile is returned when a task other than the last one
	// declares an output file.
	ErrUnexpectedOutputFile = errors.New("only the final task may declare an output file")
	// ErrInvalidTemplate is returned when an agent or task template cannot be
	// rendered against an input bundle.
	ErrInvalidTemplate = errors.New("invalid template")
)

// Roles lists the crew roles in declaration order.
var Roles = []string{
	RoleResearcher,
	RoleDataAnalyst,
	RoleFeatureEngineer,
	RoleMLEngineer,
	RoleEvaluator,
}

// Tasks lists the crew tasks in execution order.
var Tasks = []string{
	TaskResearch,
	TaskDataAnalysis,
	TaskFeatureEngineering,
	TaskModelDevelopment,
	TaskEvaluation,
}

// TaskIndex returns the position of the named task, or -1.
func TaskIndex(name string) int {
	for i, t := range Tasks {
		if t == name {
			return i
		}
	}
	return -1
}

// ClientFactory builds the client of an exec-type agent.
type ClientFactory func(name string, cfg config.AgentConfig) (llm.Client, error)

// AgentSpec is one crew member. It is immutable after construction.
type AgentSpec struct {
	Name      string
	Role      string
	Goal      string
	Backstory string
	LLM       llm.Client

	goal      *template.Template
	backstory *template.Template
}

// TaskSpec is one unit of work bound to a single agent.
type TaskSpec struct {
	Name           string
	Description    string
	ExpectedOutput string
	Agent          *AgentSpec
	OutputFile     string
	Position       int

	description *template.Template
	expected    *template.Template
}

// NewAgents builds the five crew agents. Agents of type llm share the given
// client; exec agents are built through execFactory.
func NewAgents(cfg map[string]config.AgentConfig, shared llm.Client, execFactory ClientFactory) ([]*AgentSpec, error) {
	agents := make([]*AgentSpec, 0, len(Roles))
	for _, name := range Roles {
		agentCfg, ok := cfg[name]
		if !ok {
			return nil, fmt.Errorf("agent %q: %w", name, ErrMissingRoleConfig)
		}
		if strings.TrimSpace(agentCfg.Role) == "" {
			return nil, fmt.Errorf("agent %q: role is empty: %w", name, ErrMissingRoleConfig)
		}

		client, err := agentClient(name, agentCfg, shared, execFactory)
		if err != nil {
			return nil, err
		}

		a := &AgentSpec{
			Name:      name,
			Role:      strings.TrimSpace(agentCfg.Role),
			Goal:      agentCfg.Goal,
			Backstory: agentCfg.Backstory,
			LLM:       client,
		}
		if a.goal, err = parseTemplate(name+".goal", agentCfg.Goal); err != nil {
			return nil, err
		}
		if a.backstory, err = parseTemplate(name+".backstory", agentCfg.Backstory); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, nil
}

func agentClient(name string, cfg config.AgentConfig, shared llm.Client, execFactory ClientFactory) (llm.Client, error) {
	switch cfg.Type {
	case "", config.AgentTypeLLM:
		if shared == nil {
			return nil, fmt.Errorf("agent %q: llm client is required", name)
		}
		return shared, nil
	case config.AgentTypeExec:
		if execFactory == nil {
			return nil, fmt.Errorf("agent %q: exec agents are not supported here", name)
		}
		client, err := execFactory(name, cfg)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", name, err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("agent %q: unknown type %q", name, cfg.Type)
	}
}

// NewTasks builds the five crew tasks in execution order, binding each one to
// its agent by name.
func NewTasks(cfg map[string]config.TaskConfig, agents []*AgentSpec) ([]*TaskSpec, error) {
	byName := make(map[string]*AgentSpec, len(agents))
	for _, a := range agents {
		byName[a.Name] = a
	}

	tasks := make([]*TaskSpec, 0, len(Tasks))
	for i, name := range Tasks {
		taskCfg, ok := cfg[name]
		if !ok {
			return nil, fmt.Errorf("task %q: %w", name, ErrMissingTaskConfig)
		}
		a, ok := byName[taskCfg.Agent]
		if !ok {
			return nil, fmt.Errorf("task %q references agent %q: %w", name, taskCfg.Agent, ErrMissingAgent)
		}

		outputFile := strings.TrimSpace(taskCfg.OutputFile)
		last := i == len(Tasks)-1
		switch {
		case last && outputFile == "":
			outputFile = ReportFile
		case !last && outputFile != "":
			return nil, fmt.Errorf("task %q: %w", name, ErrUnexpectedOutputFile)
		}

		t := &TaskSpec{
			Name:           name,
			Description:    taskCfg.Description,
			ExpectedOutput: taskCfg.ExpectedOutput,
			Agent:          a,
			OutputFile:     outputFile,
			Position:       i,
		}
		var err error
		if t.description, err = parseTemplate(name+".description", taskCfg.Description); err != nil {
			return nil, err
		}
		if t.expected, err = parseTemplate(name+".expected_output", taskCfg.ExpectedOutput); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}

	if err := dryRender(agents, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// dryRender executes every agent and task template against a sampled and a
// full-dataset bundle so both sides of a sampling conditional are checked.
func dryRender(agents []*AgentSpec, tasks []*TaskSpec) error {
	bundles := []InputBundle{
		{UseSample: true, SampleSize: 1, CurrentYear: 2000},
		{CurrentYear: 2000},
	}
	for _, b := range bundles {
		for _, a := range agents {
			if _, err := a.System(b); err != nil {
				return fmt.Errorf("agent %q: %w: %w", a.Name, ErrInvalidTemplate, err)
			}
		}
		for _, t := range tasks {
			if _, err := t.Request(b, nil); err != nil {
				return fmt.Errorf("task %q: %w: %w", t.Name, ErrInvalidTemplate, err)
			}
		}
	}
	return nil
}

func parseTemplate(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse %s template: %w", name, err)
	}
	return tmpl, nil
}

// Number returns the one-based position of the task.
func (t *TaskSpec) Number() int {
	return t.Position + 1
}
