// Package config loads this service's runtime configuration: connection
// settings plus the Delivery Pipeline/Scheduling Engine tunables of §5.
// The rule document (§3) is a separate artifact, loaded by rules.go.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Gateway    GatewayConfig
	Pipeline   PipelineConfig
	Scheduling SchedulingConfig
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`
}

// DatabaseConfig selects and configures the Tracking Store backend. Driver
// is "postgres" or "sqlite"; SQLitePath is only meaningful for the latter,
// per the Open Question decision to keep one SQLite file per organization.
type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	Name       string `mapstructure:"name"`
	SSLMode    string `mapstructure:"sslmode"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// GatewayConfig configures the mail gateway adapter of §6. TestSendingEnabled
// and ProductionSendingEnabled are the two independent gates of the
// "control environment": each governs real sending for its own send_mode,
// defaulting respectively to true (test addresses are low-risk) and false
// (real customer inboxes require an explicit opt-in). Absent either, the
// corresponding mode runs in dry-run.
type GatewayConfig struct {
	SMTPHost                 string        `mapstructure:"smtp_host"`
	SMTPPort                 int           `mapstructure:"smtp_port"`
	SMTPUsername             string        `mapstructure:"smtp_username"`
	SMTPPassword             string        `mapstructure:"smtp_password"`
	FromEmail                string        `mapstructure:"from_email"`
	FromName                 string        `mapstructure:"from_name"`
	Timeout                  time.Duration `mapstructure:"timeout"`
	WebhookSigningKey        string        `mapstructure:"webhook_signing_key"`
	TestSendingEnabled       bool          `mapstructure:"test_sending_enabled"`
	ProductionSendingEnabled bool          `mapstructure:"production_sending_enabled"`
}

// PipelineConfig configures chunking, pacing, and test-mode delivery.
type PipelineConfig struct {
	ChunkSize         int           `mapstructure:"chunk_size"`
	InterMessageDelay time.Duration `mapstructure:"inter_message_delay"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	TestAddresses     []string      `mapstructure:"test_addresses"`
	TemplateOverrideDir string      `mapstructure:"template_override_dir"`
	CircuitBreaker    CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// CircuitBreakerConfig configures the per-organization gobreaker instances.
type CircuitBreakerConfig struct {
	MaxRequests         uint32        `mapstructure:"max_requests"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
}

// SchedulingConfig configures the Scheduling Engine's run parameters.
type SchedulingConfig struct {
	RulesPath   string `mapstructure:"rules_path"`
	Parallelism int    `mapstructure:"parallelism"`
}

// LoadConfig reads config.yaml (and any matching environment variables,
// upper-cased with "_" in place of ".") from the working directory or its
// config/ subdirectory.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("pipeline.chunk_size", 50)
	viper.SetDefault("pipeline.inter_message_delay", 500*time.Millisecond)
	viper.SetDefault("pipeline.stale_after", 10*time.Minute)
	viper.SetDefault("pipeline.circuit_breaker.max_requests", 1)
	viper.SetDefault("pipeline.circuit_breaker.interval", time.Minute)
	viper.SetDefault("pipeline.circuit_breaker.timeout", 30*time.Second)
	viper.SetDefault("pipeline.circuit_breaker.consecutive_failures", 5)
	viper.SetDefault("scheduling.parallelism", 16)
	viper.SetDefault("gateway.timeout", 15*time.Second)
	viper.SetDefault("gateway.test_sending_enabled", true)
	viper.SetDefault("gateway.production_sending_enabled", false)
}
