package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Environment: "development",
		Coordinator: CoordinatorConfig{MaxRetries: 3},
		API:         APIConfig{JWTSecret: DevJWTSecret},
		Worker:      WorkerConfig{Capacity: 4},
	}
}

func TestValidate(t *testing.T) {
	t.Run("DevelopmentAcceptsSentinelSecret", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("ProductionRefusesSentinelSecret", func(t *testing.T) {
		cfg := validConfig()
		cfg.Environment = "production"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "jwt_secret")
	})

	t.Run("ProductionAcceptsRealSecret", func(t *testing.T) {
		cfg := validConfig()
		cfg.Environment = "production"
		cfg.API.JWTSecret = "a-real-secret-from-the-environment"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("NegativeRetriesRejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Coordinator.MaxRetries = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("ZeroCapacityRejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Worker.Capacity = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestDurations(t *testing.T) {
	cfg := CoordinatorConfig{HeartbeatInterval: 10, UnhealthyThreshold: 30}
	assert.Equal(t, "10s", cfg.HeartbeatIntervalDuration().String())
	assert.Equal(t, "30s", cfg.UnhealthyThresholdDuration().String())
}

func TestDSN(t *testing.T) {
	db := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "jobs", SSLMode: "disable"}
	assert.Contains(t, db.DSN(), "host=db")

	lite := DatabaseConfig{Driver: "sqlite", Name: "jobs.db"}
	assert.Equal(t, "jobs.db", lite.DSN())

	r := RedisConfig{Host: "cache", Port: 6379}
	assert.Equal(t, "cache:6379", r.Addr())
}
