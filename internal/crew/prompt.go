package crew

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/metalagman/fraudcrew/internal/llm"
)

//go:embed prompts/*.gotmpl
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.gotmpl"))

// TaskOutput is the result of one executed task.
type TaskOutput struct {
	TaskName   string    `json:"task_name"`
	AgentRole  string    `json:"agent_role"`
	Text       string    `json:"text"`
	OutputFile string    `json:"output_file,omitempty"`
	Prompt     string    `json:"-"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// Duration returns the wall time of the task.
func (o TaskOutput) Duration() time.Duration {
	return o.EndedAt.Sub(o.StartedAt)
}

// System renders the agent persona against the bundle.
func (a *AgentSpec) System(bundle InputBundle) (string, error) {
	goal, err := render(a.goal, bundle)
	if err != nil {
		return "", err
	}
	backstory, err := render(a.backstory, bundle)
	if err != nil {
		return "", err
	}

	data := struct {
		Role      string
		Goal      string
		Backstory string
	}{
		Role:      a.Role,
		Goal:      goal,
		Backstory: backstory,
	}
	return execute("system.gotmpl", data)
}

// Request renders the full LLM request of the task: the agent persona, the
// task templates, the bundle and the text of every prior task.
func (t *TaskSpec) Request(bundle InputBundle, prior []TaskOutput) (llm.Request, error) {
	system, err := t.Agent.System(bundle)
	if err != nil {
		return llm.Request{}, fmt.Errorf("render agent %q: %w", t.Agent.Name, err)
	}
	description, err := render(t.description, bundle)
	if err != nil {
		return llm.Request{}, fmt.Errorf("render task %q: %w", t.Name, err)
	}
	expected, err := render(t.expected, bundle)
	if err != nil {
		return llm.Request{}, fmt.Errorf("render task %q: %w", t.Name, err)
	}

	data := struct {
		Task           *TaskSpec
		Description    string
		ExpectedOutput string
		Bundle         InputBundle
		Prior          []TaskOutput
	}{
		Task:           t,
		Description:    description,
		ExpectedOutput: expected,
		Bundle:         bundle,
		Prior:          prior,
	}
	prompt, err := execute("task.gotmpl", data)
	if err != nil {
		return llm.Request{}, err
	}
	return llm.Request{System: system, Prompt: prompt}, nil
}

// Execute runs the task once on its agent's client.
func Execute(ctx context.Context, t *TaskSpec, bundle InputBundle, prior []TaskOutput) (TaskOutput, error) {
	out := TaskOutput{
		TaskName:   t.Name,
		AgentRole:  t.Agent.Role,
		OutputFile: t.OutputFile,
		StartedAt:  time.Now().UTC(),
	}

	req, err := t.Request(bundle, prior)
	if err != nil {
		return out, err
	}
	out.Prompt = req.Prompt

	resp, err := t.Agent.LLM.Generate(ctx, req)
	out.EndedAt = time.Now().UTC()
	if err != nil {
		return out, err
	}
	out.Text = strings.TrimSpace(resp.Text)
	return out, nil
}

func render(tmpl *template.Template, bundle InputBundle) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, bundle); err != nil {
		return "", fmt.Errorf("execute %s: %w", tmpl.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func execute(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("execute prompt template %q: %w", name, err)
	}
	return buf.String(), nil
}
