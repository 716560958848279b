package reservation

import (
	"context"
	"fmt"

	"tree-buffer/internal/models"
	"tree-buffer/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TreeSelector 为缓冲缺口挑选未被认领的树
type TreeSelector struct {
	store       repository.InventoryStore
	logger      *zap.Logger
	concurrency int
}

// NewTreeSelector creates a selector issuing at most concurrency queries at once.
func NewTreeSelector(store repository.InventoryStore, logger *zap.Logger, concurrency int) *TreeSelector {
	if concurrency < 1 {
		concurrency = 1
	}
	return &TreeSelector{store: store, logger: logger, concurrency: concurrency}
}

// Select fills NewlyReserved and ReservedSaplingIDs in place for every pair with a gap.
// Pairs already at or above their buffer are left untouched. Shortfalls are returned, not treated as errors.
func (s *TreeSelector) Select(ctx context.Context, plots []models.PlotSummary) ([]models.Shortfall, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i := range plots {
		plotID := plots[i].PlotID
		for j := range plots[i].PlantTypes {
			pt := &plots[i].PlantTypes[j]
			needed := pt.AdditionalNeeded()
			if needed <= 0 {
				continue
			}
			g.Go(func() error {
				ids, err := s.store.FindUnclaimedTrees(gctx, plotID, pt.PlantTypeID, needed)
				if err != nil {
					return fmt.Errorf("failed to select trees for plot %d plant type %d: %w", plotID, pt.PlantTypeID, err)
				}
				if len(ids) > needed {
					// 存储层不应返回超过 limit 的行
					ids = ids[:needed]
				}
				if ids == nil {
					ids = []string{}
				}
				pt.NewlyReserved = len(ids)
				pt.ReservedSaplingIDs = ids
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	shortfalls := models.CollectShortfalls(plots)
	for _, sf := range shortfalls {
		s.logger.Warn("Insufficient eligible trees",
			zap.Int64("plot_id", sf.PlotID),
			zap.Int64("plant_type_id", sf.PlantTypeID),
			zap.String("plant_type_name", sf.PlantTypeName),
			zap.Int("required_buffer", sf.RequiredBuffer),
			zap.Int("already_reserved", sf.AlreadyReserved),
			zap.Int("additional_needed", sf.AdditionalNeeded),
			zap.Int("eligible_found", sf.EligibleFound),
		)
	}
	return shortfalls, nil
}
