package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"tree-buffer/common/config"
	"tree-buffer/internal/models"
)

// ErrConfig 配置缺失或非法
var ErrConfig = errors.New("invalid configuration")

// ServiceName 日志和指标中使用的服务名
const ServiceName = "tree-buffer"

// Config 缓冲树预留任务配置
type Config struct {
	Database    config.DatabaseConfig
	Redis       config.RedisConfig
	Pushgateway config.PushgatewayConfig

	// Schema 树木库存所在的 schema
	Schema string

	Reservation struct {
		// Buffer 缓冲持有者身份，必须显式配置
		Buffer models.BufferIdentity

		// Percentage 默认预留比例（%）
		Percentage float64

		// Timeout 单次运行的总超时
		Timeout time.Duration

		// SelectConcurrency 选树查询的最大并发，1 表示串行
		SelectConcurrency int

		// LockTTL Redis 运行锁过期时间
		LockTTL time.Duration
		// LockPrefix Redis 运行锁 key 前缀
		LockPrefix string

		// ReportStream 运行结果写入的 Redis Stream，空表示不发布
		ReportStream string
		// ReportStreamMaxLen stream 近似最大长度
		ReportStreamMaxLen int64
	}

	Log struct {
		Level  string
		Format string
	}

	problems []string
}

// Load 加载配置
// DB_* / REDIS_* / PUSHGATEWAY_* 由公共配置按前缀读取，旧的 POSTGRES_* 变量只作兜底。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database = config.DatabaseConfig{
		Host:     os.Getenv("POSTGRES_HOST"),
		Port:     cfg.intEnv(getEnv("POSTGRES_PORT", "5432"), "POSTGRES_PORT", 5432),
		User:     os.Getenv("POSTGRES_READER_USER"),
		Password: os.Getenv("POSTGRES_READER_PD"),
		Database: "defaultdb",
		SSLMode:  "require",
		MaxConns: 4,
		MaxIdle:  2,
	}
	cfg.Database.LoadFromEnv("DB")
	cfg.Schema = getEnv("DB_SCHEMA", "14trees")

	cfg.Redis.LoadFromEnv("REDIS")

	cfg.Pushgateway = config.PushgatewayConfig{Job: ServiceName, Timeout: 5 * time.Second}
	cfg.Pushgateway.LoadFromEnv("PUSHGATEWAY")

	// LoadFromEnv 忽略非法数值，这里补充报告
	cfg.checkInt("DB_PORT", "DB_MAX_CONNS", "DB_MAX_IDLE", "REDIS_DB")
	cfg.checkDuration("PUSHGATEWAY_TIMEOUT")

	r := &cfg.Reservation
	r.Buffer.GroupID = int64(cfg.intEnv(getEnv("BUFFER_GROUP_ID", "0"), "BUFFER_GROUP_ID", 0))
	r.Buffer.AccountID = int64(cfg.intEnv(getEnv("BUFFER_ASSIGNED_TO", "0"), "BUFFER_ASSIGNED_TO", 0))
	r.Percentage = cfg.floatEnv(getEnv("RESERVATION_PERCENTAGE", "20"), "RESERVATION_PERCENTAGE", 20)
	r.Timeout = cfg.durationEnv(getEnv("RUN_TIMEOUT", "5m"), "RUN_TIMEOUT", 5*time.Minute)
	r.SelectConcurrency = cfg.intEnv(getEnv("SELECT_CONCURRENCY", "1"), "SELECT_CONCURRENCY", 1)
	r.LockTTL = cfg.durationEnv(getEnv("RUN_LOCK_TTL", "10m"), "RUN_LOCK_TTL", 10*time.Minute)
	r.LockPrefix = getEnv("RUN_LOCK_PREFIX", "tree-buffer:lock:")
	r.ReportStream = os.Getenv("REPORT_STREAM")
	if _, set := os.LookupEnv("REPORT_STREAM"); !set {
		r.ReportStream = "tree-buffer:runs"
	}
	r.ReportStreamMaxLen = int64(cfg.intEnv(getEnv("REPORT_STREAM_MAXLEN", "1000"), "REPORT_STREAM_MAXLEN", 1000))

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// Validate 校验必填项，一次列出所有问题
func (c *Config) Validate() error {
	problems := append([]string(nil), c.problems...)
	if c.Database.Host == "" {
		problems = append(problems, "DB_HOST is required")
	}
	if c.Database.User == "" {
		problems = append(problems, "DB_USER is required")
	}
	if c.Schema == "" {
		problems = append(problems, "DB_SCHEMA must not be empty")
	}
	if c.Reservation.Buffer.GroupID <= 0 {
		problems = append(problems, "BUFFER_GROUP_ID must be a positive id")
	}
	if c.Reservation.Buffer.AccountID <= 0 {
		problems = append(problems, "BUFFER_ASSIGNED_TO must be a positive id")
	}
	if c.Reservation.Percentage <= 0 {
		problems = append(problems, "RESERVATION_PERCENTAGE must be positive")
	}
	if c.Reservation.Timeout <= 0 {
		problems = append(problems, "RUN_TIMEOUT must be positive")
	}
	if c.Reservation.SelectConcurrency < 1 {
		problems = append(problems, "SELECT_CONCURRENCY must be at least 1")
	}
	if c.Redis.Enabled() {
		switch {
		case c.Reservation.LockTTL <= 0:
			problems = append(problems, "RUN_LOCK_TTL must be positive")
		case c.Reservation.LockTTL < c.Reservation.Timeout:
			// 锁在运行结束前过期会让并发运行失去互斥
			problems = append(problems, fmt.Sprintf("RUN_LOCK_TTL (%s) must be at least RUN_TIMEOUT (%s)",
				c.Reservation.LockTTL, c.Reservation.Timeout))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) checkInt(keys ...string) {
	for _, key := range keys {
		if raw := os.Getenv(key); raw != "" {
			if _, err := strconv.Atoi(raw); err != nil {
				c.problems = append(c.problems, fmt.Sprintf("%s=%q is not an integer", key, raw))
			}
		}
	}
}

func (c *Config) checkDuration(keys ...string) {
	for _, key := range keys {
		if raw := os.Getenv(key); raw != "" {
			if _, err := time.ParseDuration(raw); err != nil {
				c.problems = append(c.problems, fmt.Sprintf("%s=%q is not a duration", key, raw))
			}
		}
	}
}

func (c *Config) intEnv(raw, key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		c.problems = append(c.problems, fmt.Sprintf("%s=%q is not an integer", key, raw))
		return def
	}
	return v
}

func (c *Config) floatEnv(raw, key string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		c.problems = append(c.problems, fmt.Sprintf("%s=%q is not a number", key, raw))
		return def
	}
	return v
}

func (c *Config) durationEnv(raw, key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		c.problems = append(c.problems, fmt.Sprintf("%s=%q is not a duration", key, raw))
		return def
	}
	return v
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
