package report

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/codalotl/driveqa/internal/types"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	summaryStyle = lipgloss.NewStyle().Padding(0, 1).Bold(true)
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// RenderTable writes the per-question comparison, the per-configuration averages and the verdict.
func RenderTable(w io.Writer, rep types.EvalReport) error {
	headers := []string{"Question"}
	for _, cfg := range rep.Configurations {
		headers = append(headers, cfg.Name, cfg.Name+" tokens", cfg.Name+" calls", cfg.Name+" turns")
	}

	var rows [][]string
	questionRows := 0
	if len(rep.Configurations) > 0 {
		questionRows = len(rep.Configurations[0].Records)
	}
	for i := 0; i < questionRows; i++ {
		row := []string{rep.Configurations[0].Records[i].QuestionID}
		for _, cfg := range rep.Configurations {
			if i >= len(cfg.Records) {
				row = append(row, "", "", "", "")
				continue
			}
			rec := cfg.Records[i]
			row = append(row,
				mark(rec),
				strconv.Itoa(rec.Usage.TotalTokens()),
				strconv.Itoa(rec.Usage.CapabilityCalls),
				strconv.Itoa(rec.Usage.Turns),
			)
		}
		rows = append(rows, row)
	}

	summaryStart := len(rows)
	accuracy := []string{"Accuracy"}
	means := []string{"Mean"}
	for _, cfg := range rep.Configurations {
		s := cfg.Summary
		accuracy = append(accuracy, fmt.Sprintf("%d/%d (%s%%)", s.Correct, s.Questions, formatFloat(s.Accuracy*100)), "", "", "")
		means = append(means, "", formatFloat(s.MeanTotalTokens), formatFloat(s.MeanCapabilityCalls), formatFloat(s.MeanTurns))
	}
	rows = append(rows, accuracy, means)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row >= summaryStart:
				return summaryStyle
			default:
				return cellStyle
			}
		})

	if _, err := fmt.Fprintln(w, t.Render()); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, Verdict(rep))
	return err
}

// Verdict describes the comparison outcome in one line.
func Verdict(rep types.EvalReport) string {
	switch rep.Verdict {
	case types.VerdictWinner:
		reason := "higher accuracy"
		if len(rep.Configurations) == 2 && math.Abs(rep.Configurations[0].Summary.Accuracy-rep.Configurations[1].Summary.Accuracy) <= 1e-9 {
			reason = "same accuracy, fewer tokens"
		}
		return fmt.Sprintf("Winner: %s (%s)", rep.Winner, reason)
	case types.VerdictInconclusive:
		return "Inconclusive: same accuracy and token cost"
	default:
		return "Single configuration: no comparison"
	}
}

func mark(rec types.EvalRecord) string {
	switch {
	case rec.Error != "":
		return "✗ (error)"
	case rec.Correct:
		return "✓"
	default:
		return "✗"
	}
}
