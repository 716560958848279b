package repository

import (
	"context"
	"time"

	"tree-buffer/internal/models"
)

// InventoryStore 树木库存访问接口
// Postgres 实现用于生产，内存实现用于测试和本地演练
type InventoryStore interface {
	// ResolvePlotIDsByName 按名称批量查询地块，返回 name -> id；找不到的名称不出现在结果中
	ResolvePlotIDsByName(ctx context.Context, names []string) (map[string]int64, error)

	// AggregateTreeCounts 一次分组聚合：每个 (plot, plant type) 的总数和已预留数
	AggregateTreeCounts(ctx context.Context, plotIDs []int64, buffer models.BufferIdentity) ([]models.TreeCountRow, error)

	// FindUnclaimedTrees 查询未被认领的树，按 sapling_id 升序，最多 limit 棵
	FindUnclaimedTrees(ctx context.Context, plotID, plantTypeID int64, limit int) ([]string, error)

	// BeginReservation 开启预留事务
	BeginReservation(ctx context.Context) (ReservationTx, error)
}

// ReservationTx 预留写入事务，由调用方负责 Commit / Rollback
type ReservationTx interface {
	// LockUnclaimed 在事务内锁定候选树，并只返回仍未被认领的那部分（升序）
	LockUnclaimed(ctx context.Context, saplingIDs []string) ([]string, error)

	// ReserveTrees 把指定树写入缓冲身份，返回受影响行数
	ReserveTrees(ctx context.Context, saplingIDs []string, buffer models.BufferIdentity, at time.Time) (int64, error)

	Commit() error
	Rollback() error
}
