package reservation

import (
	"context"
	"fmt"
	"sort"

	"tree-buffer/internal/models"
	"tree-buffer/internal/repository"

	"go.uber.org/zap"
)

// InventoryAggregator 计算每个地块每个树种的缓冲需求
type InventoryAggregator struct {
	store  repository.InventoryStore
	buffer models.BufferIdentity
	logger *zap.Logger
}

func NewInventoryAggregator(store repository.InventoryStore, buffer models.BufferIdentity, logger *zap.Logger) *InventoryAggregator {
	return &InventoryAggregator{store: store, buffer: buffer, logger: logger}
}

// Aggregate builds one PlotSummary per plot that has trees, plots and plant types ordered by id.
// Plots without trees are absent from the result.
func (a *InventoryAggregator) Aggregate(ctx context.Context, plotIDs []int64, percentage float64) ([]models.PlotSummary, error) {
	if len(plotIDs) == 0 {
		return nil, nil
	}

	rows, err := a.store.AggregateTreeCounts(ctx, plotIDs, a.buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate inventory: %w", err)
	}

	index := map[int64]int{}
	var plots []models.PlotSummary
	for _, row := range rows {
		i, ok := index[row.PlotID]
		if !ok {
			i = len(plots)
			index[row.PlotID] = i
			plots = append(plots, models.PlotSummary{
				PlotID:                row.PlotID,
				ReservationPercentage: percentage,
			})
		}
		plots[i].PlantTypes = append(plots[i].PlantTypes, models.PlantTypeSummary{
			PlantTypeID:        row.PlantTypeID,
			PlantTypeName:      row.PlantTypeName,
			TotalTrees:         row.Total,
			RequiredBuffer:     models.RequiredBuffer(row.Total, percentage),
			AlreadyReserved:    row.AlreadyReserved,
			ReservedSaplingIDs: []string{},
		})
	}

	sort.Slice(plots, func(i, j int) bool { return plots[i].PlotID < plots[j].PlotID })
	for i := range plots {
		pts := plots[i].PlantTypes
		sort.Slice(pts, func(x, y int) bool { return pts[x].PlantTypeID < pts[y].PlantTypeID })
	}

	if len(plots) < len(plotIDs) {
		a.logger.Info("Some plots have no trees",
			zap.Int("requested_plots", len(plotIDs)),
			zap.Int("plots_with_trees", len(plots)),
		)
	}
	return plots, nil
}
