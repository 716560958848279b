package cli

import (
	"context"
	"fmt"
	"time"

	"tree-buffer/common/database"
	rediscommon "tree-buffer/common/redis"
	"tree-buffer/internal/config"
	"tree-buffer/internal/metrics"
	"tree-buffer/internal/repository"
	"tree-buffer/internal/service"

	"go.uber.org/zap"
)

// 建立数据库和 Redis 连接的超时
const connectTimeout = 15 * time.Second

// NewServiceRunner 连接 PostgreSQL（以及可选的 Redis、Pushgateway）并创建预留服务
func NewServiceRunner(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Runner, func(), error) {
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	db, err := database.NewPostgresDBContext(connectCtx, &cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	closers := []func(){func() {
		if err := database.Close(db); err != nil {
			logger.Warn("Failed to close database", zap.Error(err))
		}
	}}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	opts := service.Options{
		Buffer:            cfg.Reservation.Buffer,
		Timeout:           cfg.Reservation.Timeout,
		SelectConcurrency: cfg.Reservation.SelectConcurrency,
		Metrics:           metrics.NewRunMetrics(),
	}

	if cfg.Redis.Enabled() {
		client := rediscommon.NewRedisClient(&cfg.Redis)
		closers = append(closers, func() { _ = rediscommon.Close(client) })
		if err := rediscommon.Ping(connectCtx, client); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		opts.Locker = rediscommon.NewRunLocker(client, cfg.Reservation.LockPrefix, cfg.Reservation.LockTTL)
		if cfg.Reservation.ReportStream != "" {
			opts.Reports = rediscommon.NewStreamPublisher(client, cfg.Reservation.ReportStream, cfg.Reservation.ReportStreamMaxLen)
		}
		logger.Info("Redis run lock enabled",
			zap.String("addr", cfg.Redis.Addr),
			zap.String("report_stream", cfg.Reservation.ReportStream),
		)
	}

	if cfg.Pushgateway.Enabled() {
		opts.Pusher = metrics.NewPusher(cfg.Pushgateway, logger)
	}

	repo := repository.NewPostgresInventoryRepository(db, cfg.Schema, logger)
	return service.NewReservationService(repo, opts, logger), cleanup, nil
}
