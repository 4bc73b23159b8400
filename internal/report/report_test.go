package report

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/metalagman/fraudcrew/internal/crew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrinter_StartAndSuccess(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.Start(StartInfo{RunID: "r-1", Dataset: "data/processed/train_merged.csv", SizeGB: 1.5, Mode: "development (50000 samples)", Year: 2025, Model: "gemini-2.5-flash"})
	p.Success(Summary{ReportsDir: "data/reports", Artifacts: []string{"data/reports/fraud_detection_evaluation_report.md"}, Duration: 3 * time.Second})

	out := buf.String()
	assert.Contains(t, out, "train_merged.csv (1.50 GB)")
	assert.Contains(t, out, "development (50000 samples)")
	assert.Contains(t, out, "2025")
	assert.Contains(t, out, "fraud_detection_evaluation_report.md")
	assert.Contains(t, out, "Crew completed")
}

func TestPrinter_DatasetMissingListsSetupSteps(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	NewPrinter(&buf).DatasetMissing("/p/data/processed/train_merged.csv")

	out := buf.String()
	assert.Contains(t, out, "/p/data/processed/train_merged.csv")
	assert.Contains(t, out, "1. ")
	assert.Contains(t, out, "2. ")
	assert.Contains(t, out, "3. ")
}

func TestPrinter_Failure(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	NewPrinter(&buf).Failure(errors.New(`run crew: task "research_task" (1/5): boom`))
	assert.Contains(t, buf.String(), "boom")
}

func TestMarkdown(t *testing.T) {
	t.Parallel()

	out, err := Markdown("# Fraud Detection Evaluation Report\n\nROC-AUC **0.93**", "notty", 80)
	require.NoError(t, err)
	assert.Contains(t, out, "Fraud Detection Evaluation Report")
	assert.Contains(t, out, "0.93")
}

func TestProgress(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	pr := NewPrinter(&buf).NewProgress(5)
	task := &crew.TaskSpec{Name: "research_task", Agent: &crew.AgentSpec{Role: "Researcher"}}

	require.NoError(t, pr.TaskStarted(context.Background(), 0, task))
	require.NoError(t, pr.TaskFinished(context.Background(), 0, crew.TaskOutput{TaskName: "research_task"}))
	pr.TaskFailed(context.Background(), 1, task, errors.New("quota"))

	out := buf.String()
	assert.Contains(t, out, "[1/5]")
	assert.Contains(t, out, "research_task")
	assert.Contains(t, out, "quota")
}
