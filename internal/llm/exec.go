package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/metalagman/ainvoke/adk"
	"github.com/metalagman/fraudcrew/internal/adkexec"
	"google.golang.org/genai"
)

const execInputSchema = `{
  "type": "object",
  "required": ["system", "prompt"],
  "properties": {
    "system": {"type": "string"},
    "prompt": {"type": "string"}
  }
}`

const execOutputSchema = `{
  "type": "object",
  "required": ["output"],
  "properties": {
    "output": {"type": "string", "minLength": 1}
  }
}`

const execInstructions = "You are one member of a fraud detection crew. " +
	"Follow the persona in `system` and complete the task in `prompt`. " +
	"Put your complete Markdown answer in the `output` field."

// ExecConfig configures an agent backed by an external agent CLI.
type ExecConfig struct {
	Name   string
	Cmd    []string
	RunDir string
	UseTTY bool
	Stdout io.Writer
	Stderr io.Writer
}

// Exec delegates generation to an external agent CLI through ainvoke.
type Exec struct {
	cfg ExecConfig
}

type execInput struct {
	System string `json:"system"`
	Prompt string `json:"prompt"`
}

type execOutput struct {
	Output string `json:"output"`
}

// NewExec validates cfg and returns an exec-backed client.
func NewExec(cfg ExecConfig) (*Exec, error) {
	if len(cfg.Cmd) == 0 || strings.TrimSpace(cfg.Cmd[0]) == "" {
		return nil, fmt.Errorf("exec agent %q: cmd is required", cfg.Name)
	}
	if cfg.Name == "" {
		cfg.Name = "exec"
	}
	if cfg.Stdout == nil {
		cfg.Stdout = io.Discard
	}
	if cfg.Stderr == nil {
		cfg.Stderr = io.Discard
	}
	return &Exec{cfg: cfg}, nil
}

// Model returns the executable name.
func (e *Exec) Model() string {
	return e.cfg.Cmd[0]
}

type runDirKey struct{}

// WithRunDir returns a context that makes exec clients run their command in dir.
func WithRunDir(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, runDirKey{}, dir)
}

// RunDirFrom returns the directory set by WithRunDir, or "".
func RunDirFrom(ctx context.Context) string {
	dir, _ := ctx.Value(runDirKey{}).(string)
	return dir
}

func (e *Exec) runDir(ctx context.Context) string {
	if dir := RunDirFrom(ctx); dir != "" {
		return dir
	}
	return e.cfg.RunDir
}

// Generate runs the configured command once and returns its output field.
// The command runs in the directory from WithRunDir when set.
func (e *Exec) Generate(ctx context.Context, req Request) (Response, error) {
	input, err := json.Marshal(execInput{System: req.System, Prompt: req.Prompt})
	if err != nil {
		return Response{}, fmt.Errorf("marshal exec input: %w", err)
	}

	opts := []adk.OptExecAgentOptionsSetter{
		adk.WithExecAgentRunDir(e.runDir(ctx)),
		adk.WithExecAgentUseTTY(e.cfg.UseTTY),
		adk.WithExecAgentStdout(e.cfg.Stdout),
		adk.WithExecAgentStderr(e.cfg.Stderr),
		adk.WithExecAgentPrompt(execInstructions),
		adk.WithExecAgentInputSchema(execInputSchema),
		adk.WithExecAgentOutputSchema(execOutputSchema),
	}
	sub, err := adk.NewExecAgent(e.cfg.Name, "fraudcrew exec agent", e.cfg.Cmd, opts...)
	if err != nil {
		return Response{}, fmt.Errorf("create exec agent %q: %w", e.cfg.Name, err)
	}

	sum, err := adkexec.Run(ctx, adkexec.RunInput{
		Agent:   sub,
		Content: genai.NewContentFromText(string(input), genai.RoleUser),
	})
	if err != nil {
		return Response{}, fmt.Errorf("run exec agent %q: %w", e.cfg.Name, err)
	}

	text, err := parseExecOutput(sum.LastText)
	if err != nil {
		return Response{}, fmt.Errorf("exec agent %q: %w", e.cfg.Name, err)
	}
	return Response{Text: text}, nil
}

func parseExecOutput(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("no output")
	}
	obj, ok := ExtractJSON(raw)
	if !ok {
		return raw, nil
	}
	var out execOutput
	if err := json.Unmarshal([]byte(obj), &out); err != nil || strings.TrimSpace(out.Output) == "" {
		return raw, nil
	}
	return strings.TrimSpace(out.Output), nil
}

var (
	_ Client = (*Exec)(nil)
	_ Client = (*Gemini)(nil)
)
