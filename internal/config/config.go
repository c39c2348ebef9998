package config

import (
	"time"

	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/beaconhq/beacon/pkg/logger"
)

type Config struct {
	Server     ServerConfig               `yaml:"server"`
	Database   DatabaseConfig             `yaml:"database"`
	Logger     logger.Config              `yaml:"logger"`
	Workflow   WorkflowConfig             `yaml:"workflow"`
	Scheduler  SchedulerConfig            `yaml:"scheduler"`
	Dispatcher DispatcherConfig           `yaml:"dispatcher"`
	Retry      RetryConfig                `yaml:"retry"`
	Publishers map[string]PublisherConfig `yaml:"publishers"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
}

// WorkflowConfig toggles the optional approval step. When approval is
// not required, submit-for-review moves a valid post straight to
// approved.
type WorkflowConfig struct {
	ApprovalRequired bool `yaml:"approval_required"`
}

type SchedulerConfig struct {
	TickInterval string `yaml:"tick_interval"`
	Enabled      bool   `yaml:"enabled"`
}

type DispatcherConfig struct {
	PublishTimeout string `yaml:"publish_timeout"`
}

type RetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ScanInterval string `yaml:"scan_interval"`
	BaseDelay    string `yaml:"base_delay"`
	MaxDelay     string `yaml:"max_delay"`
	MaxAttempts  int    `yaml:"max_attempts"`
}

// PublisherConfig configures one platform's gateway adapter.
type PublisherConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	// Set default values
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5340
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Scheduler.TickInterval == "" {
		cfg.Scheduler.TickInterval = "30s"
	}
	if cfg.Dispatcher.PublishTimeout == "" {
		cfg.Dispatcher.PublishTimeout = "30s"
	}
	if cfg.Retry.ScanInterval == "" {
		cfg.Retry.ScanInterval = "1m"
	}
	if cfg.Retry.BaseDelay == "" {
		cfg.Retry.BaseDelay = "1m"
	}
	if cfg.Retry.MaxDelay == "" {
		cfg.Retry.MaxDelay = "30m"
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 5
	}

	return cfg, nil
}

// ParseDuration reads a duration config value, falling back when the
// value is empty or malformed.
func ParseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
