package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	rediscommon "tree-buffer/common/redis"
	"tree-buffer/internal/metrics"
	"tree-buffer/internal/models"
	"tree-buffer/internal/repository"
	"tree-buffer/internal/reservation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 收尾操作（释放锁、发布报告、推送指标）的超时，不受运行 deadline 影响
const finalizeTimeout = 10 * time.Second

// Options 运行依赖，Redis 和 Pushgateway 相关项为 nil 时不启用
type Options struct {
	Buffer            models.BufferIdentity
	Timeout           time.Duration
	SelectConcurrency int

	Locker  *rediscommon.RunLocker
	Reports *rediscommon.StreamPublisher
	Metrics *metrics.RunMetrics
	Pusher  *metrics.Pusher
}

// ReservationService 缓冲树预留编排：解析 → 聚合 → 选树 → 预览或写入
type ReservationService struct {
	opts   Options
	logger *zap.Logger

	resolver   *reservation.PlotResolver
	aggregator *reservation.InventoryAggregator
	selector   *reservation.TreeSelector
	applier    *reservation.ReservationApplier

	newRunID func() string
	now      func() time.Time
}

// NewReservationService 创建预留服务
func NewReservationService(store repository.InventoryStore, opts Options, logger *zap.Logger) *ReservationService {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRunMetrics()
	}
	return &ReservationService{
		opts:       opts,
		logger:     logger,
		resolver:   reservation.NewPlotResolver(store, logger),
		aggregator: reservation.NewInventoryAggregator(store, opts.Buffer, logger),
		selector:   reservation.NewTreeSelector(store, logger, opts.SelectConcurrency),
		applier:    reservation.NewReservationApplier(store, opts.Buffer, logger),
		newRunID:   func() string { return uuid.New().String() },
		now:        time.Now,
	}
}

// Metrics returns the collectors updated by every run.
func (s *ReservationService) Metrics() *metrics.RunMetrics {
	return s.opts.Metrics
}

// Run executes one reservation pass. The result is never nil: on failure it carries
// whatever was computed before the failing stage, with Applied=false.
func (s *ReservationService) Run(ctx context.Context, req reservation.Request) (*RunResult, error) {
	result := &RunResult{
		RunID:      s.newRunID(),
		Stage:      StageResolving,
		DryRun:     req.DryRun,
		Percentage: req.Percentage,
		PlotIDs:    []int64{},
		Plots:      []models.PlotSummary{},
		Shortfalls: []models.Shortfall{},
		Contended:  []string{},
		StartedAt:  s.now(),
	}
	logger := s.logger.With(zap.String("run_id", result.RunID))

	err := s.run(ctx, logger, req, result)
	s.finish(ctx, logger, result, err)
	if err != nil {
		return result, err
	}
	return result, nil
}

func (s *ReservationService) run(ctx context.Context, logger *zap.Logger, req reservation.Request, result *RunResult) error {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	req, err := req.Normalize()
	if err != nil {
		return s.fail(result, err)
	}
	result.Percentage = req.Percentage

	s.enter(logger, result, StageResolving)
	plotIDs, err := s.resolver.Resolve(ctx, req.PlotIDs, req.PlotNames)
	if err != nil {
		return s.fail(result, reservation.Interrupted(ctx, err))
	}
	result.PlotIDs = plotIDs

	s.enter(logger, result, StageAggregating)
	if !req.DryRun && s.opts.Locker != nil {
		lock, err := s.opts.Locker.Acquire(ctx, result.RunID, plotResources(plotIDs)...)
		if err != nil {
			return s.fail(result, reservation.Interrupted(ctx, err))
		}
		logger.Info("Acquired plot run locks", zap.Strings("keys", lock.Keys()))
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
			defer cancel()
			if err := lock.Release(releaseCtx); err != nil {
				logger.Error("Failed to release plot run locks", zap.Error(err))
			}
		}()
	}

	plots, err := s.aggregator.Aggregate(ctx, plotIDs, req.Percentage)
	if err != nil {
		return s.fail(result, reservation.Interrupted(ctx, err))
	}
	if plots != nil {
		result.Plots = plots
	}

	s.enter(logger, result, StageSelecting)
	if _, err := s.selector.Select(ctx, plots); err != nil {
		return s.fail(result, reservation.Interrupted(ctx, err))
	}

	if req.DryRun {
		s.enter(logger, result, StageDryRunPreview)
	} else {
		s.enter(logger, result, StageApplying)
	}
	applied, err := s.applier.Apply(ctx, plots, req.DryRun)
	result.Contended = append(result.Contended, applied.Contended...)
	if err != nil {
		return s.fail(result, err)
	}
	result.Applied = applied.Applied
	result.ReservedCount = applied.Reserved

	s.enter(logger, result, StageDone)
	return nil
}

func (s *ReservationService) enter(logger *zap.Logger, result *RunResult, stage Stage) {
	result.Stage = stage
	logger.Info("Run stage", zap.String("stage", string(stage)))
}

func (s *ReservationService) fail(result *RunResult, err error) error {
	runErr := &RunError{Stage: result.Stage, Err: err}
	result.FailedStage = result.Stage
	result.Stage = StageFailed
	result.Applied = false
	result.Error = err.Error()
	return runErr
}

// finish 汇总缺口、记录指标并发布报告，任何收尾失败都只记日志
func (s *ReservationService) finish(ctx context.Context, logger *zap.Logger, result *RunResult, runErr error) {
	result.FinishedAt = s.now()
	if shortfalls := models.CollectShortfalls(result.Plots); shortfalls != nil {
		result.Shortfalls = shortfalls
	}

	outcome := Outcome(result, runErr)
	result.Outcome = outcome
	s.opts.Metrics.Record(outcome, result.ReservedCount, len(result.Contended), result.Shortfalls, result.Duration(), result.FinishedAt)

	fields := []zap.Field{
		zap.String("outcome", outcome),
		zap.Int64s("plot_ids", result.PlotIDs),
		zap.Int64("reserved_count", result.ReservedCount),
		zap.Int("shortfalls", len(result.Shortfalls)),
		zap.Int("contended", len(result.Contended)),
		zap.Duration("duration", result.Duration()),
	}
	if runErr != nil {
		logger.Error("Reservation run failed", append(fields, zap.String("failed_stage", string(result.FailedStage)), zap.Error(runErr))...)
	} else {
		logger.Info("Reservation run finished", fields...)
	}

	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if s.opts.Reports != nil {
		id, err := s.opts.Reports.PublishJSON(finalCtx, result, map[string]interface{}{
			"run_id":  result.RunID,
			"outcome": outcome,
			"dry_run": result.DryRun,
		})
		if err != nil {
			logger.Warn("Failed to publish run report", zap.String("stream", s.opts.Reports.Stream()), zap.Error(err))
		} else {
			logger.Debug("Published run report", zap.String("stream", s.opts.Reports.Stream()), zap.String("message_id", id))
		}
	}

	if s.opts.Pusher != nil {
		if err := s.opts.Pusher.Push(finalCtx, s.opts.Metrics); err != nil {
			logger.Warn("Failed to push run metrics", zap.Error(err))
		}
	}
}

// Outcome classifies a finished run for metrics and reports.
func Outcome(result *RunResult, err error) string {
	switch {
	case err == nil && result.DryRun:
		return metrics.OutcomeDryRun
	case err == nil:
		return metrics.OutcomeApplied
	case errors.Is(err, reservation.ErrApplyUnknown):
		return metrics.OutcomeUnknown
	default:
		return metrics.OutcomeFailed
	}
}

func plotResources(plotIDs []int64) []string {
	out := make([]string, 0, len(plotIDs))
	for _, id := range plotIDs {
		out = append(out, "plot:"+strconv.FormatInt(id, 10))
	}
	return out
}

