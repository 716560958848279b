package report

import (
	"bytes"
	"fmt"

	"tree-buffer/internal/metrics"
	"tree-buffer/internal/service"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet  = "Summary"
	reservedSheet = "Reserved"
)

// SummaryHeader 汇总表表头，每个地块 / 树种一行
var SummaryHeader = []string{
	"Plot ID",
	"Plant Type ID",
	"Plant Type",
	"Total Trees",
	"Required Buffer",
	"Already Reserved",
	"Newly Reserved",
	"Missing",
}

// ReservedHeader 预留明细表头，每棵树一行
var ReservedHeader = []string{
	"Plot ID",
	"Plant Type ID",
	"Plant Type",
	"Sapling ID",
	"Status",
}

// GenerateWorkbook 生成运行结果 Excel 文件
func GenerateWorkbook(result *service.RunResult) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(summarySheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(reservedSheet); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	// 删除默认的 Sheet1
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeRow(f, summarySheet, 1, toAny(SummaryHeader)); err != nil {
		return nil, err
	}
	if err := writeRow(f, reservedSheet, 1, toAny(ReservedHeader)); err != nil {
		return nil, err
	}
	for sheet, cols := range map[string]int{summarySheet: len(SummaryHeader), reservedSheet: len(ReservedHeader)} {
		last, _ := excelize.ColumnNumberToName(cols)
		if err := f.SetCellStyle(sheet, "A1", last+"1", headerStyle); err != nil {
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
		if err := f.SetColWidth(sheet, "A", last, 18); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	status := "reserved"
	switch {
	case result.DryRun:
		status = "proposed"
	case result.Outcome == metrics.OutcomeUnknown:
		status = "unknown"
	case !result.Applied:
		status = "not applied"
	}

	summaryRow, reservedRow := 2, 2
	for _, plot := range result.Plots {
		for i := range plot.PlantTypes {
			pt := &plot.PlantTypes[i]
			row := []any{plot.PlotID, pt.PlantTypeID, pt.PlantTypeName, pt.TotalTrees,
				pt.RequiredBuffer, pt.AlreadyReserved, pt.NewlyReserved, pt.Shortfall()}
			if err := writeRow(f, summarySheet, summaryRow, row); err != nil {
				return nil, err
			}
			summaryRow++

			for _, id := range pt.ReservedSaplingIDs {
				row := []any{plot.PlotID, pt.PlantTypeID, pt.PlantTypeName, id, status}
				if err := writeRow(f, reservedSheet, reservedRow, row); err != nil {
					return nil, err
				}
				reservedRow++
			}
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d of %s: %w", row, sheet, err)
	}
	return nil
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
