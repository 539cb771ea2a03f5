package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ExecutorConfig holds the in-cluster executor's configuration, loaded from
// pod environment variables (spec.md §6 "Executor configuration").
type ExecutorConfig struct {
	CoordinatorURL string `env:"COORDINATOR_URL,required"`
	ClusterID      string `env:"CLUSTER_ID,required"`
	ExecutorToken  string `env:"EXECUTOR_TOKEN,required"`

	// Whitelist (spec.md §3 "Whitelist", §4.4).
	WhitelistPath                  string `env:"WHITELIST_PATH" envDefault:"/etc/kubently/whitelist.json"`
	WhitelistReloadIntervalSeconds int    `env:"WHITELIST_RELOAD_INTERVAL_SECONDS" envDefault:"30"`

	// Execution pool (spec.md §4.4 "executor pool, bounded concurrency").
	PoolConcurrency int `env:"POOL_CONCURRENCY" envDefault:"4"`

	// kubectl invocation.
	KubectlPath string `env:"KUBECTL_PATH" envDefault:"kubectl"`

	// Status server.
	StatusHost string `env:"STATUS_HOST" envDefault:"0.0.0.0"`
	StatusPort int    `env:"STATUS_PORT" envDefault:"8081"`

	// Logging.
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Telemetry.
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// LoadExecutor reads the executor configuration from environment variables.
func LoadExecutor() (*ExecutorConfig, error) {
	cfg := &ExecutorConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing executor config from env: %w", err)
	}
	return cfg, nil
}

// StatusAddr returns the address the executor's local status server should
// listen on.
func (c *ExecutorConfig) StatusAddr() string {
	return fmt.Sprintf("%s:%d", c.StatusHost, c.StatusPort)
}
