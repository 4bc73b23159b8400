package evaluate

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Sheet collects scores per task and iteration.
type Sheet struct {
	Tasks      []string
	Iterations int
	scores     map[string][]float64
	durations  []time.Duration
}

// NewSheet creates a sheet for tasks over n iterations.
func NewSheet(tasks []string, n int) *Sheet {
	s := &Sheet{
		Tasks:      tasks,
		Iterations: n,
		scores:     make(map[string][]float64, len(tasks)),
		durations:  make([]time.Duration, n),
	}
	for _, t := range tasks {
		s.scores[t] = make([]float64, n)
	}
	return s
}

// Set records the score of task in iteration i (zero-based).
func (s *Sheet) Set(i int, task string, score float64) {
	if row, ok := s.scores[task]; ok && i >= 0 && i < len(row) {
		row[i] = score
	}
}

// SetDuration records the wall time of iteration i.
func (s *Sheet) SetDuration(i int, d time.Duration) {
	if i >= 0 && i < len(s.durations) {
		s.durations[i] = d
	}
}

// Average returns the mean score of task over recorded iterations.
func (s *Sheet) Average(task string) float64 {
	return mean(s.scores[task])
}

// IterationAverage returns the crew mean of iteration i.
func (s *Sheet) IterationAverage(i int) float64 {
	vals := make([]float64, 0, len(s.Tasks))
	for _, t := range s.Tasks {
		vals = append(vals, s.scores[t][i])
	}
	return mean(vals)
}

// Overall returns the mean of every recorded score.
func (s *Sheet) Overall() float64 {
	var vals []float64
	for _, t := range s.Tasks {
		vals = append(vals, s.scores[t]...)
	}
	return mean(vals)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	footStyle   = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("12"))
)

// Table renders the sheet with a column per iteration and an average column.
func (s *Sheet) Table() string {
	headers := []string{"Task"}
	for i := range s.Iterations {
		headers = append(headers, fmt.Sprintf("Run %d", i+1))
	}
	headers = append(headers, "Avg")

	rows := make([][]string, 0, len(s.Tasks)+2)
	for _, t := range s.Tasks {
		row := []string{t}
		for _, v := range s.scores[t] {
			row = append(row, formatScore(v))
		}
		rows = append(rows, append(row, formatScore(s.Average(t))))
	}

	crewRow := []string{"Crew"}
	timeRow := []string{"Execution time"}
	var total time.Duration
	for i := range s.Iterations {
		crewRow = append(crewRow, formatScore(s.IterationAverage(i)))
		timeRow = append(timeRow, s.durations[i].Round(time.Second).String())
		total += s.durations[i]
	}
	crewRow = append(crewRow, formatScore(s.Overall()))
	avgTime := time.Duration(0)
	if s.Iterations > 0 {
		avgTime = total / time.Duration(s.Iterations)
	}
	timeRow = append(timeRow, avgTime.Round(time.Second).String())
	rows = append(rows, crewRow, timeRow)

	footFrom := len(s.Tasks)
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row >= footFrom:
				return footStyle
			default:
				return cellStyle
			}
		})
	return t.String()
}

func formatScore(v float64) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f", v)
}

// mean ignores zero entries, which stand for missing scores.
func mean(vals []float64) float64 {
	var sum float64
	var n int
	for _, v := range vals {
		if v == 0 {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
