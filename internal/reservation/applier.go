package reservation

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"tree-buffer/internal/models"
	"tree-buffer/internal/repository"

	"go.uber.org/zap"
)

// ApplyResult 写入阶段的结果
type ApplyResult struct {
	Applied   bool
	Reserved  int64
	Contended []string
}

// ReservationApplier 在单个事务内提交选中的树
type ReservationApplier struct {
	store  repository.InventoryStore
	buffer models.BufferIdentity
	logger *zap.Logger
	now    func() time.Time
}

func NewReservationApplier(store repository.InventoryStore, buffer models.BufferIdentity, logger *zap.Logger) *ReservationApplier {
	return &ReservationApplier{store: store, buffer: buffer, logger: logger, now: time.Now}
}

// Apply commits every selected sapling to the buffer identity in one transaction, or nothing.
// Inside the transaction the selection is re-checked under row locks; trees claimed since selection
// are dropped from plots and reported as contended instead of being taken over.
func (a *ReservationApplier) Apply(ctx context.Context, plots []models.PlotSummary, dryRun bool) (ApplyResult, error) {
	if dryRun {
		a.logger.Info("Dry-run mode enabled. Skipping database updates.")
		return ApplyResult{}, nil
	}

	ids := models.ReservedSaplingIDs(plots)
	if len(ids) == 0 {
		a.logger.Info("No trees selected, nothing to apply")
		return ApplyResult{Applied: true}, nil
	}

	if err := ctx.Err(); err != nil {
		return ApplyResult{}, Interrupted(ctx, err)
	}

	tx, err := a.store.BeginReservation(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ApplyResult{}, Interrupted(ctx, err)
		}
		return ApplyResult{}, fmt.Errorf("%w: %w", ErrApplyFailed, err)
	}

	finished := false
	defer func() {
		if finished {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			a.logger.Error("Failed to roll back reservation", zap.Error(rbErr))
		}
	}()

	locked, err := tx.LockUnclaimed(ctx, ids)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("%w: %w", ErrApplyFailed, err)
	}

	contended := subtract(ids, locked)
	if len(contended) > 0 {
		a.logger.Warn("Trees claimed after selection, leaving them out",
			zap.Strings("sapling_ids", contended),
		)
		dropSaplings(plots, contended)
	}
	if len(locked) == 0 {
		return ApplyResult{Applied: true, Contended: contended}, nil
	}

	n, err := tx.ReserveTrees(ctx, locked, a.buffer, a.now())
	if err != nil {
		return ApplyResult{Contended: contended}, fmt.Errorf("%w: %w", ErrApplyFailed, err)
	}
	if n != int64(len(locked)) {
		return ApplyResult{Contended: contended}, fmt.Errorf("%w: expected to update %d trees, updated %d", ErrApplyFailed, len(locked), n)
	}

	if err := tx.Commit(); err != nil {
		finished = true
		if ctx.Err() != nil || errors.Is(err, driver.ErrBadConn) {
			return ApplyResult{Contended: contended}, fmt.Errorf("%w: %w", ErrApplyUnknown, err)
		}
		// 提交失败时 Postgres 已回滚
		return ApplyResult{Contended: contended}, fmt.Errorf("%w: %w", ErrApplyFailed, err)
	}
	finished = true

	a.logger.Info("Database update successful.",
		zap.Int64("reserved", n),
		zap.Int("contended", len(contended)),
	)
	return ApplyResult{Applied: true, Reserved: n, Contended: contended}, nil
}

func subtract(all, keep []string) []string {
	kept := make(map[string]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	var out []string
	for _, id := range all {
		if !kept[id] {
			out = append(out, id)
		}
	}
	return out
}

func dropSaplings(plots []models.PlotSummary, drop []string) {
	dropped := make(map[string]bool, len(drop))
	for _, id := range drop {
		dropped[id] = true
	}
	for i := range plots {
		for j := range plots[i].PlantTypes {
			pt := &plots[i].PlantTypes[j]
			kept := make([]string, 0, len(pt.ReservedSaplingIDs))
			for _, id := range pt.ReservedSaplingIDs {
				if !dropped[id] {
					kept = append(kept, id)
				}
			}
			pt.ReservedSaplingIDs = kept
			pt.NewlyReserved = len(kept)
		}
	}
}
