// Package config loads coordinator configuration from environment variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds coordinator configuration, loaded from environment variables.
type Config struct {
	// Server
	Host string `env:"KUBENTLY_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"KUBENTLY_PORT" envDefault:"8080"`

	// State store (Redis) — the sole source of shared mutable state (spec.md §5).
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Telemetry
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Session & queue settings (spec.md §3, §6). MaxCommandsPerFetch and
	// PingIntervalSeconds are passed to the queue and the SSE handler.
	// SessionTTLSeconds, CommandTimeoutSeconds, ResultTTLSeconds and
	// LongPollTimeoutSeconds are parsed but not read: the session, command,
	// queue and long-poll code use their own constants.
	SessionTTLSeconds      int `env:"SESSION_TTL_SECONDS" envDefault:"300"`
	CommandTimeoutSeconds  int `env:"COMMAND_TIMEOUT_SECONDS" envDefault:"10"`
	ResultTTLSeconds       int `env:"RESULT_TTL_SECONDS" envDefault:"60"`
	MaxCommandsPerFetch    int `env:"MAX_COMMANDS_PER_FETCH" envDefault:"10"`
	LongPollTimeoutSeconds int `env:"LONG_POLL_TIMEOUT_SECONDS" envDefault:"30"`
	PingIntervalSeconds    int `env:"PING_INTERVAL_SECONDS" envDefault:"15"`

	// API keys: comma-separated "identity:key" or bare "key" entries.
	APIKeys []string `env:"API_KEYS" envSeparator:","`

	// AdminIdentities lists the API-key identities permitted to call admin
	// endpoints (issue/revoke executor tokens).
	AdminIdentities []string `env:"ADMIN_IDENTITIES" envSeparator:","`

	// OIDC (optional — if not set, JWT authentication is disabled and fails closed).
	OIDCEnabled  bool   `env:"OIDC_ENABLED" envDefault:"false"`
	OIDCIssuer   string `env:"OIDC_ISSUER"`
	OIDCClientID string `env:"OIDC_CLIENT_ID"`
	OIDCJWKSURI  string `env:"OIDC_JWKS_URI"`
	OIDCAudience string `env:"OIDC_AUDIENCE"`

	// A2A transport boundary, advertised only — out of scope per spec.md §1.
	A2AExternalURL string `env:"A2A_EXTERNAL_URL"`

	// Per-cluster dispatch throttle (token bucket) guarding /debug/execute
	// and /debug/execute/async against a single client hammering one
	// cluster's queue.
	DispatchRateLimitPerSec float64 `env:"DISPATCH_RATE_LIMIT_PER_SEC" envDefault:"20"`
	DispatchRateLimitBurst  int     `env:"DISPATCH_RATE_LIMIT_BURST" envDefault:"40"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
