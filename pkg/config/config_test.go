package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octantbim/octant/pkg/ratelimit"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OCTANT_SIGNING_KEY", "test-key")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultAddress, cfg.Address)
	assert.Equal(t, DefaultDatabasePath, cfg.DatabasePath)
	assert.Equal(t, DefaultBlobRoot, cfg.BlobRoot)
	assert.Equal(t, DefaultIssuer, cfg.Issuer)
	assert.Equal(t, time.Hour, cfg.AccessTokenTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, int64(500)<<20, cfg.MaxFileSizeBytes)
	assert.Equal(t, 24*time.Hour, cfg.UploadSessionTTL)
	assert.Equal(t, DefaultQueueCapacity, cfg.QueueCapacity)
	assert.Equal(t, DefaultWorkerConcurrency, cfg.WorkerConcurrency)
	assert.Equal(t, "test-key", cfg.SigningKey)
	assert.Equal(t, ratelimit.DefaultReservePolicy, cfg.RateLimits().Reserve)
	assert.Equal(t, ratelimit.DefaultContentPolicy, cfg.RateLimits().Content)
	assert.Equal(t, ratelimit.DefaultCommitPolicy, cfg.RateLimits().Commit)
}

func TestLoadRateLimitOverrides(t *testing.T) {
	t.Setenv("OCTANT_SIGNING_KEY", "test-key")
	t.Setenv("OCTANT_RATELIMIT_RESERVE_PERMIT_LIMIT", "3")
	t.Setenv("OCTANT_RATELIMIT_RESERVE_WINDOW", "10s")
	t.Setenv("OCTANT_RATELIMIT_COMMIT_PERMIT_LIMIT", "5")

	cfg, err := Load("")
	require.NoError(t, err)

	policies := cfg.RateLimits()
	assert.Equal(t, 3, policies.Reserve.PermitLimit)
	assert.Equal(t, 10*time.Second, policies.Reserve.Window)
	assert.Equal(t, 5, policies.Commit.PermitLimit)
	assert.Equal(t, time.Minute, policies.Commit.Window)
	// Untouched policies keep their defaults, names included.
	assert.Equal(t, ratelimit.DefaultContentPolicy, policies.Content)
	assert.Equal(t, ratelimit.DefaultReservePolicy.Name, policies.Reserve.Name)
}

func TestLoadEnvironmentWins(t *testing.T) {
	t.Setenv("OCTANT_SIGNING_KEY", "test-key")
	t.Setenv("OCTANT_ADDRESS", "0.0.0.0:9000")
	t.Setenv("OCTANT_QUEUE_CAPACITY", "8")
	t.Setenv("OCTANT_ACCESS_TOKEN_TTL", "15m")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Address)
	assert.Equal(t, 8, cfg.QueueCapacity)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("OCTANT_SIGNING_KEY", "test-key")

	path := filepath.Join(t.TempDir(), "octant.yaml")
	require.NoError(t, os.WriteFile(path, []byte("address: 127.0.0.1:7777\nblob_root: /var/octant/blobs\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7777", cfg.Address)
	assert.Equal(t, "/var/octant/blobs", cfg.BlobRoot)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing signing key", func(c *Config) { c.SigningKey = "" }, "signing_key"},
		{"zero queue capacity", func(c *Config) { c.QueueCapacity = 0 }, "queue_capacity"},
		{"zero worker concurrency", func(c *Config) { c.WorkerConcurrency = 0 }, "worker_concurrency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{SigningKey: "k", QueueCapacity: 1, WorkerConcurrency: 1}
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
