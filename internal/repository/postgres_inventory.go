package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tree-buffer/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// unclaimedPredicate 未被用户、组或账号认领
const unclaimedPredicate = `mapped_to_user IS NULL
		  AND mapped_to_group IS NULL
		  AND assigned_to IS NULL`

// PostgresInventoryRepository 基于 Postgres 的库存仓库
type PostgresInventoryRepository struct {
	db     *sql.DB
	logger *zap.Logger

	trees      string
	plots      string
	plantTypes string
}

var _ InventoryStore = (*PostgresInventoryRepository)(nil)

// NewPostgresInventoryRepository creates the repository over tables in schema.
// The schema is the only identifier spliced into SQL and it is quoted once here.
func NewPostgresInventoryRepository(db *sql.DB, schema string, logger *zap.Logger) *PostgresInventoryRepository {
	qs := pq.QuoteIdentifier(schema)
	return &PostgresInventoryRepository{
		db:         db,
		logger:     logger,
		trees:      qs + ".trees",
		plots:      qs + ".plots",
		plantTypes: qs + ".plant_types",
	}
}

// ResolvePlotIDsByName 按名称查询地块
// 名称在库中应唯一；同名多个地块视为歧义，直接报错
func (r *PostgresInventoryRepository) ResolvePlotIDsByName(ctx context.Context, names []string) (map[string]int64, error) {
	found := make(map[string]int64, len(names))
	if len(names) == 0 {
		return found, nil
	}

	query := `
		SELECT id, name
		FROM ` + r.plots + `
		WHERE name = ANY($1::text[])
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("failed to query plots by name: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan plot: %w", err)
		}
		if prev, ok := found[name]; ok && prev != id {
			return nil, fmt.Errorf("plot name %q is ambiguous: matches plots %d and %d", name, prev, id)
		}
		found[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plots: %w", err)
	}
	return found, nil
}

// AggregateTreeCounts 按 (plot, plant type) 分组统计
func (r *PostgresInventoryRepository) AggregateTreeCounts(ctx context.Context, plotIDs []int64, buffer models.BufferIdentity) ([]models.TreeCountRow, error) {
	if len(plotIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT
			t.plot_id,
			t.plant_type_id,
			p.name AS plant_type_name,
			COUNT(*) AS total_trees,
			COUNT(*) FILTER (
				WHERE t.mapped_to_group = $2
				  AND t.sponsored_by_group = $2
				  AND t.assigned_to = $3
			) AS already_reserved
		FROM ` + r.trees + ` t
		JOIN ` + r.plantTypes + ` p ON t.plant_type_id = p.id
		WHERE t.plot_id = ANY($1::bigint[])
		GROUP BY t.plot_id, t.plant_type_id, p.name
		ORDER BY t.plot_id, t.plant_type_id, p.name
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(plotIDs), buffer.GroupID, buffer.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate tree counts: %w", err)
	}
	defer rows.Close()

	var out []models.TreeCountRow
	for rows.Next() {
		var row models.TreeCountRow
		if err := rows.Scan(
			&row.PlotID,
			&row.PlantTypeID,
			&row.PlantTypeName,
			&row.Total,
			&row.AlreadyReserved,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tree counts: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tree counts: %w", err)
	}

	r.logger.Debug("Aggregated tree counts",
		zap.Int("plot_count", len(plotIDs)),
		zap.Int("row_count", len(out)),
	)
	return out, nil
}

// FindUnclaimedTrees 查询可预留的树
func (r *PostgresInventoryRepository) FindUnclaimedTrees(ctx context.Context, plotID, plantTypeID int64, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT sapling_id
		FROM ` + r.trees + `
		WHERE plot_id = $1
		  AND plant_type_id = $2
		  AND ` + unclaimedPredicate + `
		ORDER BY sapling_id ASC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, plotID, plantTypeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unclaimed trees: %w", err)
	}
	defer rows.Close()

	return scanSaplingIDs(rows)
}

// BeginReservation 开启事务
func (r *PostgresInventoryRepository) BeginReservation(ctx context.Context) (ReservationTx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &postgresReservationTx{tx: tx, trees: r.trees}, nil
}

type postgresReservationTx struct {
	tx    *sql.Tx
	trees string
}

// LockUnclaimed 行锁 + 重新校验未认领条件，防止选树后被其他进程抢先认领
func (t *postgresReservationTx) LockUnclaimed(ctx context.Context, saplingIDs []string) ([]string, error) {
	if len(saplingIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT sapling_id
		FROM ` + t.trees + `
		WHERE sapling_id = ANY($1::varchar[])
		  AND ` + unclaimedPredicate + `
		ORDER BY sapling_id ASC
		FOR UPDATE
	`
	rows, err := t.tx.QueryContext(ctx, query, pq.Array(saplingIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to lock candidate trees: %w", err)
	}
	defer rows.Close()

	return scanSaplingIDs(rows)
}

// ReserveTrees 批量写入缓冲身份
func (t *postgresReservationTx) ReserveTrees(ctx context.Context, saplingIDs []string, buffer models.BufferIdentity, at time.Time) (int64, error) {
	if len(saplingIDs) == 0 {
		return 0, nil
	}

	query := `
		UPDATE ` + t.trees + `
		SET
			mapped_to_group = $1,
			sponsored_by_group = $1,
			assigned_to = $2,
			mapped_at = $3,
			assigned_at = $3,
			sponsored_at = $3,
			updated_at = $3
		WHERE sapling_id = ANY($4::varchar[])
	`
	res, err := t.tx.ExecContext(ctx, query, buffer.GroupID, buffer.AccountID, at, pq.Array(saplingIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to reserve trees: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read reserved row count: %w", err)
	}
	return n, nil
}

func (t *postgresReservationTx) Commit() error {
	return t.tx.Commit()
}

func (t *postgresReservationTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func scanSaplingIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan sapling id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sapling ids: %w", err)
	}
	return ids, nil
}
