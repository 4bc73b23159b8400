package evaluate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/metalagman/fraudcrew/internal/config"
	"github.com/metalagman/fraudcrew/internal/crew"
	"github.com/metalagman/fraudcrew/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type judge struct {
	reply string
	last  llm.Request
}

func (j *judge) Generate(_ context.Context, req llm.Request) (llm.Response, error) {
	j.last = req
	return llm.Response{Text: j.reply}, nil
}

func (j *judge) Model() string { return "judge" }

func researchTask(t *testing.T) *crew.TaskSpec {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	agents, err := crew.NewAgents(cfg.Agents, &judge{}, nil)
	require.NoError(t, err)
	tasks, err := crew.NewTasks(cfg.Tasks, agents)
	require.NoError(t, err)
	return tasks[0]
}

func TestEvaluatorScore(t *testing.T) {
	t.Parallel()

	j := &judge{reply: "Here you go:\n```json\n{\"score\": 8.5, \"rationale\": \"thorough\"}\n```"}
	bundle := crew.NewInputBundle("d.csv", "f", "m", "r", true, 50000, time.Now())

	score, err := New(j).Score(context.Background(), researchTask(t), bundle, crew.TaskOutput{Text: "TEN-FINDINGS"})
	require.NoError(t, err)
	assert.InDelta(t, 8.5, score.Value, 1e-9)
	assert.Equal(t, "thorough", score.Rationale)
	assert.Contains(t, j.last.Prompt, "TEN-FINDINGS")
	assert.Contains(t, j.last.Prompt, "research_task")
}

func TestParseScore_Rejects(t *testing.T) {
	t.Parallel()

	for _, reply := range []string{
		"no json",
		`{"score": 42}`,
		`{"rationale": "missing score"}`,
		`{"score": "high"}`,
	} {
		_, err := parseScore(reply)
		assert.Error(t, err, "reply %q", reply)
	}
}

func TestSheet(t *testing.T) {
	t.Parallel()

	s := NewSheet([]string{crew.TaskResearch, crew.TaskEvaluation}, 2)
	s.Set(0, crew.TaskResearch, 8)
	s.Set(1, crew.TaskResearch, 6)
	s.Set(0, crew.TaskEvaluation, 9)
	s.Set(5, crew.TaskEvaluation, 1)
	s.SetDuration(0, 90*time.Second)
	s.SetDuration(1, 30*time.Second)

	assert.InDelta(t, 7.0, s.Average(crew.TaskResearch), 1e-9)
	assert.InDelta(t, 9.0, s.Average(crew.TaskEvaluation), 1e-9)
	assert.InDelta(t, 8.5, s.IterationAverage(0), 1e-9)
	assert.InDelta(t, 23.0/3.0, s.Overall(), 1e-9)

	out := s.Table()
	for _, want := range []string{"Run 1", "Run 2", "Avg", "research_task", "7.0", "Crew", "Execution time", "1m0s"} {
		assert.True(t, strings.Contains(out, want), "table missing %q:\n%s", want, out)
	}
}
