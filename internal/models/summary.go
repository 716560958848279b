package models

import (
	"math/big"
	"strconv"
)

// BufferIdentity 缓冲库存持有者身份（组 + 账号）
// Trees held back from sale are mapped to and sponsored by Group and assigned to Account.
type BufferIdentity struct {
	GroupID   int64 `json:"group_id"`
	AccountID int64 `json:"account_id"`
}

// TreeCountRow 聚合查询的一行：某地块某树种的树木数量
type TreeCountRow struct {
	PlotID          int64
	PlantTypeID     int64
	PlantTypeName   string
	Total           int
	AlreadyReserved int
}

// PlantTypeSummary 地块内单个树种的缓冲统计
type PlantTypeSummary struct {
	PlantTypeID        int64    `json:"plant_type_id"`
	PlantTypeName      string   `json:"plant_type_name"`
	TotalTrees         int      `json:"total_trees"`
	RequiredBuffer     int      `json:"required_buffer"`
	AlreadyReserved    int      `json:"already_reserved"`
	NewlyReserved      int      `json:"newly_reserved"`
	ReservedSaplingIDs []string `json:"reserved_sapling_ids"`
}

// AdditionalNeeded is the gap between the required buffer and what is already held.
// It is negative when the pair is over-buffered.
func (p *PlantTypeSummary) AdditionalNeeded() int {
	return p.RequiredBuffer - p.AlreadyReserved
}

// Shortfall is how many trees the pair still lacks after selection.
func (p *PlantTypeSummary) Shortfall() int {
	missing := p.AdditionalNeeded() - p.NewlyReserved
	if missing < 0 {
		return 0
	}
	return missing
}

// PlotSummary 单个地块的缓冲统计
type PlotSummary struct {
	PlotID                int64              `json:"plot_id"`
	ReservationPercentage float64            `json:"reservation_percentage"`
	PlantTypes            []PlantTypeSummary `json:"plant_types"`
}

// NewlyReserved sums newly reserved trees across the plot's plant types.
func (p *PlotSummary) NewlyReserved() int {
	n := 0
	for i := range p.PlantTypes {
		n += p.PlantTypes[i].NewlyReserved
	}
	return n
}

// Shortfall 缺口记录：可用树木不足以补齐缓冲
type Shortfall struct {
	PlotID           int64  `json:"plot_id"`
	PlantTypeID      int64  `json:"plant_type_id"`
	PlantTypeName    string `json:"plant_type_name"`
	RequiredBuffer   int    `json:"required_buffer"`
	AlreadyReserved  int    `json:"already_reserved"`
	AdditionalNeeded int    `json:"additional_needed"`
	EligibleFound    int    `json:"eligible_found"`
	Missing          int    `json:"missing"`
}

// RequiredBuffer returns ceil(total * percentage / 100).
// 比例按最短十进制表示转成有理数再计算，避免浮点误差多算一棵树。
func RequiredBuffer(total int, percentage float64) int {
	if total <= 0 || percentage <= 0 {
		return 0
	}
	pct, ok := new(big.Rat).SetString(strconv.FormatFloat(percentage, 'f', -1, 64))
	if !ok {
		return 0
	}
	need := pct.Mul(pct, big.NewRat(int64(total), 100))
	q, r := new(big.Int).QuoRem(need.Num(), need.Denom(), new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return int(q.Int64())
}

// ReservedSaplingIDs flattens the selections of every plot, in plot then plant type order.
func ReservedSaplingIDs(plots []PlotSummary) []string {
	var ids []string
	for i := range plots {
		for j := range plots[i].PlantTypes {
			ids = append(ids, plots[i].PlantTypes[j].ReservedSaplingIDs...)
		}
	}
	return ids
}

// CollectShortfalls lists every plant type whose selection did not cover its gap.
func CollectShortfalls(plots []PlotSummary) []Shortfall {
	var out []Shortfall
	for i := range plots {
		for j := range plots[i].PlantTypes {
			pt := &plots[i].PlantTypes[j]
			if pt.AdditionalNeeded() <= 0 || pt.Shortfall() == 0 {
				continue
			}
			out = append(out, Shortfall{
				PlotID:           plots[i].PlotID,
				PlantTypeID:      pt.PlantTypeID,
				PlantTypeName:    pt.PlantTypeName,
				RequiredBuffer:   pt.RequiredBuffer,
				AlreadyReserved:  pt.AlreadyReserved,
				AdditionalNeeded: pt.AdditionalNeeded(),
				EligibleFound:    pt.NewlyReserved,
				Missing:          pt.Shortfall(),
			})
		}
	}
	return out
}
