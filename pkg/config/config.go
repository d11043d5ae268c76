// Package config loads the octant server configuration. Values come from an
// optional config file and OCTANT_* environment variables; environment wins.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/octantbim/octant/pkg/ratelimit"
)

// Config is the full server configuration.
type Config struct {
	// Address is the host:port the HTTP server binds.
	Address string `mapstructure:"address"`

	// DatabasePath is the sqlite database file.
	DatabasePath string `mapstructure:"database_path"`

	// BlobRoot is the filesystem blob store root directory.
	BlobRoot string `mapstructure:"blob_root"`

	// SigningKey signs access tokens. Required; no default so a bare
	// deployment cannot silently mint forgeable tokens.
	SigningKey string `mapstructure:"signing_key"`

	// Issuer is the iss claim on minted access tokens.
	Issuer string `mapstructure:"issuer"`

	// AccessTokenTTL bounds access token lifetime.
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`

	// RefreshTokenTTL bounds refresh token lifetime.
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`

	// MaxFileSizeBytes caps a single upload.
	MaxFileSizeBytes int64 `mapstructure:"max_file_size_bytes"`

	// UploadSessionTTL bounds how long a reserved upload stays usable.
	UploadSessionTTL time.Duration `mapstructure:"upload_session_ttl"`

	// UploadIngressBytesPerSecond throttles server-proxy upload streams
	// globally. Zero disables the ceiling.
	UploadIngressBytesPerSecond int `mapstructure:"upload_ingress_bytes_per_second"`

	// QueueCapacity bounds the in-process job queue.
	QueueCapacity int `mapstructure:"queue_capacity"`

	// WorkerConcurrency is the number of processing workers.
	WorkerConcurrency int `mapstructure:"worker_concurrency"`

	// RateLimit sets the fixed-window upload admission policies.
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

// RateLimitPolicyConfig is one fixed-window admission rule. A zero permit
// limit or window disables the policy.
type RateLimitPolicyConfig struct {
	PermitLimit int           `mapstructure:"permit_limit"`
	Window      time.Duration `mapstructure:"window"`
}

// RateLimitConfig groups the upload admission policies.
type RateLimitConfig struct {
	Reserve RateLimitPolicyConfig `mapstructure:"reserve"`
	Content RateLimitPolicyConfig `mapstructure:"content"`
	Commit  RateLimitPolicyConfig `mapstructure:"commit"`
}

// RateLimits builds the upload admission policies from the configured
// permit limits and windows.
func (c *Config) RateLimits() ratelimit.Policies {
	return ratelimit.Policies{
		Reserve: ratelimit.Policy{
			Name:        ratelimit.DefaultReservePolicy.Name,
			PermitLimit: c.RateLimit.Reserve.PermitLimit,
			Window:      c.RateLimit.Reserve.Window,
		},
		Content: ratelimit.Policy{
			Name:        ratelimit.DefaultContentPolicy.Name,
			PermitLimit: c.RateLimit.Content.PermitLimit,
			Window:      c.RateLimit.Content.Window,
		},
		Commit: ratelimit.Policy{
			Name:        ratelimit.DefaultCommitPolicy.Name,
			PermitLimit: c.RateLimit.Commit.PermitLimit,
			Window:      c.RateLimit.Commit.Window,
		},
	}
}

// Defaults.
const (
	DefaultAddress           = "127.0.0.1:8080"
	DefaultDatabasePath      = "octant.db"
	DefaultBlobRoot          = "blobs"
	DefaultIssuer            = "octant"
	DefaultQueueCapacity     = 256
	DefaultWorkerConcurrency = 4
)

// Load reads the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("address", DefaultAddress)
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("blob_root", DefaultBlobRoot)
	v.SetDefault("issuer", DefaultIssuer)
	v.SetDefault("access_token_ttl", time.Hour)
	v.SetDefault("refresh_token_ttl", 30*24*time.Hour)
	v.SetDefault("max_file_size_bytes", int64(500)<<20)
	v.SetDefault("upload_session_ttl", 24*time.Hour)
	v.SetDefault("upload_ingress_bytes_per_second", 0)
	v.SetDefault("queue_capacity", DefaultQueueCapacity)
	v.SetDefault("worker_concurrency", DefaultWorkerConcurrency)
	v.SetDefault("ratelimit.reserve.permit_limit", ratelimit.DefaultReservePolicy.PermitLimit)
	v.SetDefault("ratelimit.reserve.window", ratelimit.DefaultReservePolicy.Window)
	v.SetDefault("ratelimit.content.permit_limit", ratelimit.DefaultContentPolicy.PermitLimit)
	v.SetDefault("ratelimit.content.window", ratelimit.DefaultContentPolicy.Window)
	v.SetDefault("ratelimit.commit.permit_limit", ratelimit.DefaultCommitPolicy.PermitLimit)
	v.SetDefault("ratelimit.commit.window", ratelimit.DefaultCommitPolicy.Window)

	v.SetEnvPrefix("OCTANT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot safely run with.
func (c *Config) Validate() error {
	if c.SigningKey == "" {
		return fmt.Errorf("signing_key is required (set OCTANT_SIGNING_KEY)")
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be positive")
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("worker_concurrency must be positive")
	}
	return nil
}
