// Package report prints the console output of fraudcrew runs.
package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/metalagman/fraudcrew/internal/crew"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(10)
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("12")).Padding(0, 1)
)

// Printer writes user-facing run output.
type Printer struct {
	w io.Writer
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// StartInfo is shown before the crew starts.
type StartInfo struct {
	RunID   string
	Dataset string
	SizeGB  float64
	Mode    string
	Year    int
	Model   string
}

// Start prints the start banner.
func (p *Printer) Start(info StartInfo) {
	lines := []string{
		titleStyle.Render("Fraud detection crew"),
		"",
		field("Run", info.RunID),
		field("Dataset", fmt.Sprintf("%s (%.2f GB)", info.Dataset, info.SizeGB)),
		field("Mode", info.Mode),
		field("Year", fmt.Sprint(info.Year)),
		field("Model", info.Model),
	}
	p.println(boxStyle.Render(strings.Join(lines, "\n")))
}

// Summary is shown after a successful run.
type Summary struct {
	ReportsDir string
	Artifacts  []string
	Duration   time.Duration
}

// Success prints the output locations.
func (p *Printer) Success(s Summary) {
	p.println(okStyle.Render("✓ Crew completed") + fmt.Sprintf(" in %s", s.Duration.Round(time.Second)))
	for _, a := range s.Artifacts {
		p.println(field("Report", a))
	}
	p.println(field("Reports", s.ReportsDir))
}

// Failure prints a formatted execution error.
func (p *Printer) Failure(err error) {
	p.println(errStyle.Render("✗ Crew failed"))
	p.println("  " + err.Error())
}

// DatasetMissing prints the setup steps expected of the operator.
func (p *Printer) DatasetMissing(path string) {
	p.println(warnStyle.Render("Train data file not found"))
	p.println(field("Expected", path))
	p.println("")
	p.println("Please ensure you have:")
	p.println("  1. Downloaded the IEEE-CIS data from Kaggle")
	p.println("  2. Merged train_transaction.csv and train_identity.csv")
	p.println("  3. Saved the result as data/processed/train_merged.csv")
}

// Markdown renders md for the terminal. style is a glamour standard style
// name such as "dark", "light" or "notty".
func Markdown(md, style string, width int) (string, error) {
	if style == "" {
		style = "dark"
	}
	opts := []glamour.TermRendererOption{glamour.WithStandardStyle(style)}
	if width > 0 {
		opts = append(opts, glamour.WithWordWrap(width))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", fmt.Errorf("create markdown renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return out, nil
}

// ShowMarkdown renders md to the printer output.
func (p *Printer) ShowMarkdown(md, style string, width int) error {
	out, err := Markdown(md, style, width)
	if err != nil {
		return err
	}
	_, err = io.WriteString(p.w, out)
	return err
}

// Progress prints a line per task transition. It satisfies the pipeline
// observer contract.
type Progress struct {
	p     *Printer
	total int
}

// NewProgress returns a progress observer for a crew of total tasks.
func (p *Printer) NewProgress(total int) *Progress {
	return &Progress{p: p, total: total}
}

func (pr *Progress) TaskStarted(_ context.Context, index int, task *crew.TaskSpec) error {
	pr.p.println(fmt.Sprintf("%s %s %s", titleStyle.Render(fmt.Sprintf("[%d/%d]", index+1, pr.total)), task.Name, labelStyle.UnsetWidth().Render(task.Agent.Role)))
	return nil
}

func (pr *Progress) TaskFinished(_ context.Context, _ int, out crew.TaskOutput) error {
	pr.p.println(fmt.Sprintf("      %s %s", okStyle.Render("done"), out.Duration().Round(time.Millisecond)))
	return nil
}

func (pr *Progress) TaskFailed(_ context.Context, _ int, _ *crew.TaskSpec, err error) {
	pr.p.println(fmt.Sprintf("      %s %v", errStyle.Render("failed"), err))
}

func field(label, value string) string {
	return labelStyle.Render(label) + value
}

func (p *Printer) println(s string) {
	_, _ = fmt.Fprintln(p.w, s)
}
