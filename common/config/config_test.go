package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseConfig_GetDSN(t *testing.T) {
	cfg := &DatabaseConfig{
		Host:     "db.internal",
		Port:     5432,
		User:     "reader",
		Password: "s3cret",
		Database: "defaultdb",
		SSLMode:  "require",
	}

	assert.Equal(t, "host=db.internal port=5432 user=reader password=s3cret dbname=defaultdb sslmode=require", cfg.GetDSN())
}

func TestDatabaseConfig_GetDSN_QuotesSpecialValues(t *testing.T) {
	cfg := &DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "reader",
		Password: `pa ss'w\rd`,
		Database: "defaultdb",
		SSLMode:  "disable",
	}

	assert.Contains(t, cfg.GetDSN(), `password='pa ss\'w\\rd'`)
}

func TestDatabaseConfig_GetDSN_EmptyPassword(t *testing.T) {
	cfg := &DatabaseConfig{Host: "localhost", Port: 5432, User: "u", Database: "d", SSLMode: "disable"}
	assert.Contains(t, cfg.GetDSN(), "password='' ")
}

func TestDatabaseConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("TEST_DB_HOST", "pg")
	t.Setenv("TEST_DB_PORT", "6543")
	t.Setenv("TEST_DB_USER", "writer")
	t.Setenv("TEST_DB_PASSWORD", "pw")
	t.Setenv("TEST_DB_NAME", "trees")
	t.Setenv("TEST_DB_SSLMODE", "verify-full")
	t.Setenv("TEST_DB_MAX_CONNS", "8")
	t.Setenv("TEST_DB_MAX_IDLE", "not-a-number")

	cfg := &DatabaseConfig{MaxIdle: 2}
	cfg.LoadFromEnv("TEST_DB")

	assert.Equal(t, "pg", cfg.Host)
	assert.Equal(t, 6543, cfg.Port)
	assert.Equal(t, "writer", cfg.User)
	assert.Equal(t, "pw", cfg.Password)
	assert.Equal(t, "trees", cfg.Database)
	assert.Equal(t, "verify-full", cfg.SSLMode)
	assert.Equal(t, 8, cfg.MaxConns)
	assert.Equal(t, 2, cfg.MaxIdle)
}

func TestRedisConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("TEST_REDIS_ADDR", "redis:6379")
	t.Setenv("TEST_REDIS_DB", "3")

	cfg := &RedisConfig{}
	assert.False(t, cfg.Enabled())

	cfg.LoadFromEnv("TEST_REDIS")
	assert.True(t, cfg.Enabled())
	assert.Equal(t, "redis:6379", cfg.Addr)
	assert.Equal(t, 3, cfg.DB)
}

func TestPushgatewayConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("TEST_PUSHGATEWAY_URL", "http://pushgateway:9091")
	t.Setenv("TEST_PUSHGATEWAY_TIMEOUT", "3s")

	cfg := &PushgatewayConfig{Job: "tree-buffer"}
	cfg.LoadFromEnv("TEST_PUSHGATEWAY")

	assert.True(t, cfg.Enabled())
	assert.Equal(t, "tree-buffer", cfg.Job)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
}
