package service

import (
	"fmt"
	"time"

	"tree-buffer/internal/models"
)

// Stage 运行阶段
type Stage string

const (
	StageResolving     Stage = "resolving"
	StageAggregating   Stage = "aggregating"
	StageSelecting     Stage = "selecting"
	StageDryRunPreview Stage = "dry_run_preview"
	StageApplying      Stage = "applying"
	StageDone          Stage = "done"
	StageFailed        Stage = "failed"
)

// RunError records the stage a run failed in.
type RunError struct {
	Stage Stage
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// RunResult 一次运行的完整结果
// Plots are returned even when the apply failed; Applied tells whether they were written.
type RunResult struct {
	RunID         string               `json:"run_id"`
	Stage         Stage                `json:"stage"`
	FailedStage   Stage                `json:"failed_stage,omitempty"`
	DryRun        bool                 `json:"dry_run"`
	Applied       bool                 `json:"applied"`
	Outcome       string               `json:"outcome"`
	Percentage    float64              `json:"percentage"`
	PlotIDs       []int64              `json:"plot_ids"`
	Plots         []models.PlotSummary `json:"plots"`
	Shortfalls    []models.Shortfall   `json:"shortfalls"`
	Contended     []string             `json:"contended"`
	ReservedCount int64                `json:"reserved_count"`
	Error         string               `json:"error,omitempty"`
	StartedAt     time.Time            `json:"started_at"`
	FinishedAt    time.Time            `json:"finished_at"`
}

// Duration is the wall time of the run.
func (r *RunResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
