package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, StoreBackendPostgres, cfg.StoreBackend)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.False(t, cfg.Database.UseSSL)
	assert.Equal(t, 24*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, 24*time.Hour, cfg.Auth.VerificationTTL)
	assert.Equal(t, 12, cfg.Auth.BcryptCost)
	assert.Equal(t, MQBackendNone, cfg.MQ.Backend)
	assert.Equal(t, StorageBackendNone, cfg.Storage.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("DB_SSL", "true")
	t.Setenv("JWT_SECRET", "  s3cret  ")
	t.Setenv("SESSION_TOKEN_TTL", "90m")
	t.Setenv("VERIFICATION_TOKEN_TTL", "2h")
	t.Setenv("BCRYPT_COST", "10")
	t.Setenv("MQ_BACKEND", "rabbitmq")
	t.Setenv("RABBITMQ_PREFETCH", "3")
	t.Setenv("STORAGE_BACKEND", "minio")

	cfg := LoadConfig()

	assert.Equal(t, 9090, cfg.ServerPort)
	assert.Equal(t, StoreBackendMemory, cfg.StoreBackend)
	assert.True(t, cfg.Database.UseSSL)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 90*time.Minute, cfg.Auth.SessionTTL)
	assert.Equal(t, 2*time.Hour, cfg.Auth.VerificationTTL)
	assert.Equal(t, 10, cfg.Auth.BcryptCost)
	assert.Equal(t, MQBackendRabbitMQ, cfg.MQ.Backend)
	assert.Equal(t, 3, cfg.MQ.RabbitMQ.PrefetchCount)
	assert.Equal(t, StorageBackendMinio, cfg.Storage.Backend)
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("SESSION_TOKEN_TTL", "soon")
	t.Setenv("DB_SSL", "maybe")

	cfg := LoadConfig()

	assert.Equal(t, 24*time.Hour, cfg.Auth.SessionTTL)
	assert.False(t, cfg.Database.UseSSL)
}
