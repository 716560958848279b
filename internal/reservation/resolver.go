package reservation

import (
	"context"
	"fmt"
	"sort"

	"tree-buffer/internal/repository"

	"go.uber.org/zap"
)

// PlotResolver 把地块 ID 和地块名称合并成去重后的地块 ID 集合
type PlotResolver struct {
	store  repository.InventoryStore
	logger *zap.Logger
}

func NewPlotResolver(store repository.InventoryStore, logger *zap.Logger) *PlotResolver {
	return &PlotResolver{store: store, logger: logger}
}

// Resolve returns explicit ids ∪ ids of names, sorted.
// Any unknown name fails the whole resolution with a *PlotNotFoundError naming all of them.
func (r *PlotResolver) Resolve(ctx context.Context, plotIDs []int64, plotNames []string) ([]int64, error) {
	set := make(map[int64]struct{}, len(plotIDs)+len(plotNames))
	for _, id := range plotIDs {
		set[id] = struct{}{}
	}

	if len(plotNames) > 0 {
		byName, err := r.store.ResolvePlotIDsByName(ctx, plotNames)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve plot names: %w", err)
		}

		var missing []string
		for _, name := range plotNames {
			id, ok := byName[name]
			if !ok {
				missing = append(missing, name)
				continue
			}
			set[id] = struct{}{}
		}
		if len(missing) > 0 {
			return nil, &PlotNotFoundError{Names: missing}
		}
	}

	resolved := make([]int64, 0, len(set))
	for id := range set {
		resolved = append(resolved, id)
	}
	sort.Slice(resolved, func(i, j int) bool { return resolved[i] < resolved[j] })

	r.logger.Info("Resolved plot identifiers",
		zap.Int64s("provided_plot_ids", plotIDs),
		zap.Strings("provided_plot_names", plotNames),
		zap.Int64s("resolved_plot_ids", resolved),
	)
	return resolved, nil
}
