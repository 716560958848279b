package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"tree-buffer/internal/metrics"
	"tree-buffer/internal/models"
	"tree-buffer/internal/service"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	colorAccent  = lipgloss.Color("#20B9B4")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#2C4A54")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	numberStyle  = cellStyle.Align(lipgloss.Right)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorError)
)

// 列：树种、总数、应留、已留、新增、新增树编号
var plotHeaders = []string{"Plant Type", "Total", "Required", "Already", "New", "Sapling IDs"}

// 编号列最多展示的数量，完整列表见 JSON / XLSX 输出
const maxSaplingPreview = 8

// RenderTable renders the run for an operator: a status line, one table per plot and the shortfalls.
func RenderTable(result *service.RunResult) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Tree buffer reservation"))
	b.WriteString("\n")
	b.WriteString(statusLine(result))
	b.WriteString("\n")

	if len(result.Plots) == 0 {
		b.WriteString(mutedStyle.Render("No trees found for the selected plots."))
		b.WriteString("\n")
	}
	for i := range result.Plots {
		b.WriteString("\n")
		b.WriteString(renderPlot(&result.Plots[i]))
		b.WriteString("\n")
	}

	if len(result.Contended) > 0 {
		b.WriteString("\n")
		b.WriteString(warningStyle.Render(fmt.Sprintf("Skipped %d tree(s) claimed during the run: %s",
			len(result.Contended), strings.Join(result.Contended, ", "))))
		b.WriteString("\n")
	}

	if len(result.Shortfalls) > 0 {
		b.WriteString("\n")
		b.WriteString(warningStyle.Render("Shortfalls"))
		b.WriteString("\n")
		for _, sf := range result.Shortfalls {
			b.WriteString(shortfallLine(sf))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// WriteTable writes RenderTable output to w.
func WriteTable(w io.Writer, result *service.RunResult) error {
	_, err := io.WriteString(w, RenderTable(result))
	return err
}

func statusLine(result *service.RunResult) string {
	pct := strconv.FormatFloat(result.Percentage, 'f', -1, 64)
	switch {
	case result.Outcome == metrics.OutcomeUnknown:
		// 提交结果不确定，不能当作失败报告
		return errorStyle.Render(fmt.Sprintf("APPLY OUTCOME UNKNOWN: verify the buffer before re-running: %s", result.Error))
	case result.Error != "":
		return errorStyle.Render(fmt.Sprintf("FAILED at %s (not applied): %s", result.FailedStage, result.Error))
	case result.DryRun:
		return warningStyle.Render(fmt.Sprintf("DRY RUN at %s%%: nothing was written", pct))
	default:
		return fmt.Sprintf("Applied at %s%%: %d tree(s) reserved", pct, result.ReservedCount)
	}
}

func renderPlot(plot *models.PlotSummary) string {
	rows := make([][]string, 0, len(plot.PlantTypes))
	for _, pt := range plot.PlantTypes {
		rows = append(rows, []string{
			pt.PlantTypeName,
			strconv.Itoa(pt.TotalTrees),
			strconv.Itoa(pt.RequiredBuffer),
			strconv.Itoa(pt.AlreadyReserved),
			strconv.Itoa(pt.NewlyReserved),
			previewIDs(pt.ReservedSaplingIDs),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorMuted)).
		Headers(plotHeaders...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col >= 1 && col <= 4:
				return numberStyle
			default:
				return cellStyle
			}
		})

	title := fmt.Sprintf("Plot %d: %d newly reserved", plot.PlotID, plot.NewlyReserved())
	return titleStyle.Render(title) + "\n" + t.String()
}

func shortfallLine(sf models.Shortfall) string {
	return fmt.Sprintf("  plot %d / %s: required %d, already %d, found %d, missing %d",
		sf.PlotID, sf.PlantTypeName, sf.RequiredBuffer, sf.AlreadyReserved, sf.EligibleFound, sf.Missing)
}

func previewIDs(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	if len(ids) <= maxSaplingPreview {
		return strings.Join(ids, ", ")
	}
	return strings.Join(ids[:maxSaplingPreview], ", ") + fmt.Sprintf(" (+%d more)", len(ids)-maxSaplingPreview)
}
