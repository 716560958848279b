package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"tree-buffer/internal/models"
)

// MemoryTree 内存库存中的一棵树（只保留预留相关字段）
type MemoryTree struct {
	SaplingID        string
	PlotID           int64
	PlantTypeID      int64
	MappedToUser     *int64
	MappedToGroup    *int64
	SponsoredByGroup *int64
	AssignedTo       *int64
	MappedAt         *time.Time
	AssignedAt       *time.Time
	SponsoredAt      *time.Time
	UpdatedAt        *time.Time
}

func (t *MemoryTree) unclaimed() bool {
	return t.MappedToUser == nil && t.MappedToGroup == nil && t.AssignedTo == nil
}

func (t *MemoryTree) bufferReserved(b models.BufferIdentity) bool {
	return eq(t.MappedToGroup, b.GroupID) && eq(t.SponsoredByGroup, b.GroupID) && eq(t.AssignedTo, b.AccountID)
}

func eq(p *int64, v int64) bool {
	return p != nil && *p == v
}

// MemoryInventory 内存实现的 InventoryStore
// Used by engine tests and local dry runs; transactions stage writes and apply them on Commit.
type MemoryInventory struct {
	mu         sync.RWMutex
	plots      map[int64]string
	plantTypes map[int64]string
	trees      map[string]*MemoryTree

	treeQueries int

	// 故障注入
	ReserveErr       error // ReserveTrees 直接失败
	ReserveFailAfter int   // >0 时写入这么多棵后失败，用于验证回滚
	CommitErr        error // Commit 失败，暂存写入被丢弃
	BeforeLock       func() // LockUnclaimed 之前调用，模拟并发认领
}

var _ InventoryStore = (*MemoryInventory)(nil)

// ErrInjected 故障注入返回的错误
var ErrInjected = errors.New("injected failure")

func NewMemoryInventory() *MemoryInventory {
	return &MemoryInventory{
		plots:      map[int64]string{},
		plantTypes: map[int64]string{},
		trees:      map[string]*MemoryTree{},
	}
}

// AddPlot registers a plot.
func (m *MemoryInventory) AddPlot(id int64, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plots[id] = name
}

// AddPlantType registers a plant type.
func (m *MemoryInventory) AddPlantType(id int64, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plantTypes[id] = name
}

// AddTree stores a copy of tree, replacing any tree with the same sapling id.
func (m *MemoryInventory) AddTree(tree MemoryTree) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := tree
	m.trees[t.SaplingID] = &t
}

// AddTrees adds count unclaimed trees named prefix-0001.. to the plot.
func (m *MemoryInventory) AddTrees(plotID, plantTypeID int64, prefix string, count int) []string {
	ids := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		id := fmt.Sprintf("%s-%04d", prefix, i)
		m.AddTree(MemoryTree{SaplingID: id, PlotID: plotID, PlantTypeID: plantTypeID})
		ids = append(ids, id)
	}
	return ids
}

// Claim maps a tree to a user, the way a donation would.
func (m *MemoryInventory) Claim(saplingID string, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trees[saplingID]
	if !ok {
		return fmt.Errorf("tree %s not found", saplingID)
	}
	t.MappedToUser = &userID
	return nil
}

// Tree returns a copy of the stored tree.
func (m *MemoryInventory) Tree(saplingID string) (MemoryTree, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trees[saplingID]
	if !ok {
		return MemoryTree{}, false
	}
	return *t, true
}

// TreeQueries counts calls that read or write the trees table.
func (m *MemoryInventory) TreeQueries() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.treeQueries
}

func (m *MemoryInventory) ResolvePlotIDsByName(ctx context.Context, names []string) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	found := make(map[string]int64, len(names))
	for id, name := range m.plots {
		if !want[name] {
			continue
		}
		if prev, ok := found[name]; ok && prev != id {
			return nil, fmt.Errorf("plot name %q is ambiguous: matches plots %d and %d", name, prev, id)
		}
		found[name] = id
	}
	return found, nil
}

func (m *MemoryInventory) AggregateTreeCounts(ctx context.Context, plotIDs []int64, buffer models.BufferIdentity) ([]models.TreeCountRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.treeQueries++
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()

	inScope := make(map[int64]bool, len(plotIDs))
	for _, id := range plotIDs {
		inScope[id] = true
	}
	type key struct{ plot, plantType int64 }
	counts := map[key]*models.TreeCountRow{}
	for _, t := range m.trees {
		if !inScope[t.PlotID] {
			continue
		}
		name, ok := m.plantTypes[t.PlantTypeID]
		if !ok {
			// inner join on plant_types
			continue
		}
		k := key{t.PlotID, t.PlantTypeID}
		row, ok := counts[k]
		if !ok {
			row = &models.TreeCountRow{PlotID: t.PlotID, PlantTypeID: t.PlantTypeID, PlantTypeName: name}
			counts[k] = row
		}
		row.Total++
		if t.bufferReserved(buffer) {
			row.AlreadyReserved++
		}
	}

	out := make([]models.TreeCountRow, 0, len(counts))
	for _, row := range counts {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlotID != out[j].PlotID {
			return out[i].PlotID < out[j].PlotID
		}
		return out[i].PlantTypeID < out[j].PlantTypeID
	})
	return out, nil
}

func (m *MemoryInventory) FindUnclaimedTrees(ctx context.Context, plotID, plantTypeID int64, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.treeQueries++
	m.mu.Unlock()
	if limit <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for _, t := range m.trees {
		if t.PlotID == plotID && t.PlantTypeID == plantTypeID && t.unclaimed() {
			ids = append(ids, t.SaplingID)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *MemoryInventory) BeginReservation(ctx context.Context) (ReservationTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.treeQueries++
	return &memoryReservationTx{store: m, staged: map[string]MemoryTree{}}, nil
}

type memoryReservationTx struct {
	store  *MemoryInventory
	staged map[string]MemoryTree
	done   bool
}

func (tx *memoryReservationTx) LockUnclaimed(ctx context.Context, saplingIDs []string) ([]string, error) {
	if tx.done {
		return nil, errors.New("transaction already finished")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if hook := tx.store.BeforeLock; hook != nil {
		hook()
	}

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	var ids []string
	for _, id := range saplingIDs {
		if t, ok := tx.store.trees[id]; ok && t.unclaimed() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (tx *memoryReservationTx) ReserveTrees(ctx context.Context, saplingIDs []string, buffer models.BufferIdentity, at time.Time) (int64, error) {
	if tx.done {
		return 0, errors.New("transaction already finished")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if tx.store.ReserveErr != nil {
		return 0, tx.store.ReserveErr
	}

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	var n int64
	for _, id := range saplingIDs {
		if tx.store.ReserveFailAfter > 0 && int(n) >= tx.store.ReserveFailAfter {
			return n, fmt.Errorf("%w: after %d rows", ErrInjected, n)
		}
		cur, ok := tx.store.trees[id]
		if !ok {
			continue
		}
		t := *cur
		if staged, ok := tx.staged[id]; ok {
			t = staged
		}
		group, account, ts := buffer.GroupID, buffer.AccountID, at
		t.MappedToGroup = &group
		t.SponsoredByGroup = &group
		t.AssignedTo = &account
		t.MappedAt, t.AssignedAt, t.SponsoredAt, t.UpdatedAt = &ts, &ts, &ts, &ts
		tx.staged[id] = t
		n++
	}
	return n, nil
}

func (tx *memoryReservationTx) Commit() error {
	if tx.done {
		return errors.New("transaction already finished")
	}
	tx.done = true
	if tx.store.CommitErr != nil {
		tx.staged = nil
		return tx.store.CommitErr
	}

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	for id, t := range tx.staged {
		stored := t
		tx.store.trees[id] = &stored
	}
	tx.staged = nil
	return nil
}

func (tx *memoryReservationTx) Rollback() error {
	tx.done = true
	tx.staged = nil
	return nil
}
