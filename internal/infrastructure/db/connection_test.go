package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 10, config.MaxOpenConns)
	assert.Equal(t, 5, config.MaxIdleConns)
	assert.Equal(t, 30*time.Minute, config.ConnMaxLifetime)
	assert.Equal(t, 10*time.Second, config.QueryTimeout)
	assert.False(t, config.Enabled)
	assert.NoError(t, config.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"enabled without dsn", func(c *Config) { c.Enabled = true }, "DSN is required"},
		{"zero max open", func(c *Config) { c.MaxOpenConns = 0 }, "max_open_conns"},
		{"negative idle", func(c *Config) { c.MaxIdleConns = -1 }, "cannot be negative"},
		{"idle above open", func(c *Config) { c.MaxIdleConns = 20 }, "cannot exceed"},
		{"zero timeout", func(c *Config) { c.QueryTimeout = 0 }, "query_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(&config)
			err := config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_ApplyEnvOverrides(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://bot@localhost/queue?sslmode=disable")
	t.Setenv("PG_MAX_OPEN_CONNS", "4")
	t.Setenv("PG_QUERY_TIMEOUT", "2s")
	t.Setenv("PG_MAX_IDLE_CONNS", "not-a-number")

	config := DefaultConfig()
	config.ApplyEnvOverrides()

	assert.True(t, config.Enabled)
	assert.Equal(t, "postgres://bot@localhost/queue?sslmode=disable", config.DSN)
	assert.Equal(t, 4, config.MaxOpenConns)
	assert.Equal(t, 5, config.MaxIdleConns)
	assert.Equal(t, 2*time.Second, config.QueryTimeout)
}

func TestNewManager_Disabled(t *testing.T) {
	manager, err := NewManager(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, manager.IsEnabled())
	assert.Nil(t, manager.Repository())
	assert.Nil(t, manager.DB())
	assert.NoError(t, manager.Close())

	health := manager.Health().Health(context.Background())
	assert.True(t, health.Healthy)
	assert.Contains(t, health.Errors[0], "disabled")
	assert.NoError(t, manager.Health().Ping(context.Background()))
	assert.Equal(t, false, manager.Health().Stats(context.Background())["enabled"])
}

func TestNewManager_MissingDSN(t *testing.T) {
	_, err := NewManager(context.Background(), Config{Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DSN is required")
}

func TestNewManagerWithDB(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	manager := NewManagerWithDB(sqlx.NewDb(mockDB, "postgres"), Config{})
	assert.True(t, manager.IsEnabled())

	repos := manager.Repository()
	require.NotNil(t, repos)
	assert.NotNil(t, repos.Claims)
	assert.NotNil(t, repos.Positions)

	mock.ExpectPing()
	health := manager.Health().Health(context.Background())
	assert.True(t, health.Healthy)
	assert.Empty(t, health.Errors)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	health = manager.Health().Health(context.Background())
	assert.False(t, health.Healthy)
	require.Len(t, health.Errors, 1)
	assert.Contains(t, health.Errors[0], "connection refused")

	mock.ExpectClose()
	assert.NoError(t, manager.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
