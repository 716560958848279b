package reservation

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultPercentage 默认缓冲比例（%）
const DefaultPercentage = 20

// Request 一次预留运行的输入
type Request struct {
	PlotIDs    []int64
	PlotNames  []string
	Percentage float64
	DryRun     bool
}

// Normalize trims and deduplicates identifiers and validates the request.
// Plot ids come back sorted; names keep their first-seen order.
func (r Request) Normalize() (Request, error) {
	out := Request{Percentage: r.Percentage, DryRun: r.DryRun}

	seenID := map[int64]bool{}
	for _, id := range r.PlotIDs {
		if id <= 0 {
			return Request{}, fmt.Errorf("%w: plot id %d must be positive", ErrInvalidRequest, id)
		}
		if !seenID[id] {
			seenID[id] = true
			out.PlotIDs = append(out.PlotIDs, id)
		}
	}
	sort.Slice(out.PlotIDs, func(i, j int) bool { return out.PlotIDs[i] < out.PlotIDs[j] })

	seenName := map[string]bool{}
	for _, name := range r.PlotNames {
		name = strings.TrimSpace(name)
		if name == "" || seenName[name] {
			continue
		}
		seenName[name] = true
		out.PlotNames = append(out.PlotNames, name)
	}

	if len(out.PlotIDs) == 0 && len(out.PlotNames) == 0 {
		return Request{}, fmt.Errorf("%w: at least one plot id or plot name is required", ErrInvalidRequest)
	}
	if out.Percentage <= 0 {
		return Request{}, fmt.Errorf("%w: reservation percentage must be positive, got %v", ErrInvalidRequest, r.Percentage)
	}
	return out, nil
}
