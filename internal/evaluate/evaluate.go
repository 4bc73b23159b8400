// Package evaluate scores crew task outputs with an evaluation model.
package evaluate

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/metalagman/fraudcrew/internal/crew"
	"github.com/metalagman/fraudcrew/internal/llm"
	"github.com/metalagman/fraudcrew/internal/schema"
)

//go:embed prompts/*.gotmpl
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.gotmpl"))

const scoreSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["score"],
  "properties": {
    "score": {"type": "number", "minimum": 1, "maximum": 10},
    "rationale": {"type": "string"}
  }
}`

const judgeSystem = "You are an impartial reviewer of fraud detection work. " +
	"You grade deliverables strictly and reply with JSON only."

// Score is the grade of one task output.
type Score struct {
	Value     float64 `json:"score"`
	Rationale string  `json:"rationale,omitempty"`
}

// Evaluator grades task outputs on a 1-10 scale.
type Evaluator struct {
	client llm.Client
}

// New creates an evaluator backed by client.
func New(client llm.Client) *Evaluator {
	return &Evaluator{client: client}
}

// Model returns the evaluation model name.
func (e *Evaluator) Model() string {
	return e.client.Model()
}

// Score grades out against the expectations of task.
func (e *Evaluator) Score(ctx context.Context, task *crew.TaskSpec, bundle crew.InputBundle, out crew.TaskOutput) (Score, error) {
	req, err := task.Request(bundle, nil)
	if err != nil {
		return Score{}, err
	}

	var buf bytes.Buffer
	data := struct {
		Task   *crew.TaskSpec
		Prompt string
		Output string
	}{
		Task:   task,
		Prompt: req.Prompt,
		Output: out.Text,
	}
	if err := prompts.ExecuteTemplate(&buf, "score.gotmpl", data); err != nil {
		return Score{}, fmt.Errorf("execute prompt template %q: %w", "score.gotmpl", err)
	}

	resp, err := e.client.Generate(ctx, llm.Request{System: judgeSystem, Prompt: buf.String()})
	if err != nil {
		return Score{}, fmt.Errorf("score %s: %w", task.Name, err)
	}
	return parseScore(resp.Text)
}

func parseScore(text string) (Score, error) {
	raw, ok := llm.ExtractJSON(text)
	if !ok {
		return Score{}, fmt.Errorf("evaluation reply has no JSON object")
	}
	if err := schema.ValidateJSON(scoreSchema, []byte(raw)); err != nil {
		return Score{}, fmt.Errorf("evaluation reply: %w", err)
	}
	var s Score
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Score{}, fmt.Errorf("decode evaluation reply: %w", err)
	}
	return s, nil
}
