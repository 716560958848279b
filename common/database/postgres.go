package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tree-buffer/common/config"

	_ "github.com/lib/pq"
)

const pingTimeout = 10 * time.Second

var sqlOpen = sql.Open

// NewPostgresDB 创建PostgreSQL数据库连接
func NewPostgresDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return NewPostgresDBContext(ctx, cfg)
}

// NewPostgresDBContext 创建PostgreSQL数据库连接，ping 受 ctx 控制
func NewPostgresDBContext(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sqlOpen("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 设置连接池参数
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}

	// 测试连接
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Close 关闭数据库连接
func Close(db *sql.DB) error {
	if db != nil {
		return db.Close()
	}
	return nil
}
