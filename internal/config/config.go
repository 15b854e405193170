package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig marks fatal configuration errors. No test phase runs when
// Load returns an error wrapping it.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config captures the settings required to run a failover test session.
type Config struct {
	Datacenters DatacentersConfig `yaml:"datacenters"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Faults      FaultsConfig      `yaml:"faults"`
	Data        DataConfig        `yaml:"data"`
	Thresholds  ThresholdsConfig  `yaml:"thresholds"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// DatacentersConfig groups the two sites under test.
type DatacentersConfig struct {
	Primary   DatacenterConfig `yaml:"primary"`
	Secondary DatacenterConfig `yaml:"secondary"`
}

// DatacenterConfig configures access to one site's management API.
type DatacenterConfig struct {
	APIURL     string        `yaml:"apiURL"`
	AuthToken  string        `yaml:"authToken"`
	InstanceID string        `yaml:"instanceID"`
	JobID      string        `yaml:"jobID"`
	Timeout    time.Duration `yaml:"timeout"`
}

// MetricPattern names a metric and the threshold above which it counts as
// failover evidence on the secondary side.
type MetricPattern struct {
	Name      string  `yaml:"name"`
	Threshold float64 `yaml:"threshold"`
}

// MonitoringConfig tunes the status-inference poll loop. The stabilization
// delay and the detection patterns are deployment-specific, so they live in
// configuration rather than code.
type MonitoringConfig struct {
	PollInterval       time.Duration   `yaml:"pollInterval"`
	SourceTimeout      time.Duration   `yaml:"sourceTimeout"`
	StabilizationDelay time.Duration   `yaml:"stabilizationDelay"`
	SafetyFactor       float64         `yaml:"safetyFactor"`
	MetricPatterns     []MetricPattern `yaml:"metricPatterns"`
	LogPatterns        []string        `yaml:"logPatterns"`
	MaxLogLines        int             `yaml:"maxLogLines"`
}

// FaultsConfig groups fault-execution settings.
type FaultsConfig struct {
	SSH            SSHConfig     `yaml:"ssh"`
	Network        NetworkConfig `yaml:"network"`
	CleanupRetries int           `yaml:"cleanupRetries"`
	CleanupBackoff time.Duration `yaml:"cleanupBackoff"`
}

// SSHConfig holds defaults and per-host overrides for the command runner.
type SSHConfig struct {
	Username       string                `yaml:"username"`
	Password       string                `yaml:"password"`
	PrivateKeyPath string                `yaml:"privateKeyPath"`
	ConnectTimeout time.Duration         `yaml:"connectTimeout"`
	Hosts          map[string]HostConfig `yaml:"hosts"`
}

// HostConfig overrides connection parameters for a single host.
type HostConfig struct {
	Hostname       string `yaml:"hostname"`
	Port           int    `yaml:"port"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	PrivateKeyPath string `yaml:"privateKeyPath"`
}

// NetworkConfig holds network fault parameters.
type NetworkConfig struct {
	Interfaces     map[string]string `yaml:"interfaces"`
	PrimaryNetwork string            `yaml:"primaryNetwork"`
}

// DataConfig tunes dataset injection.
type DataConfig struct {
	BatchSize     int           `yaml:"batchSize"`
	RatePerSecond float64       `yaml:"ratePerSecond"`
	Timeout       time.Duration `yaml:"timeout"`
}

// ThresholdsConfig holds the pass/fail objectives for a run.
type ThresholdsConfig struct {
	RTOSeconds     float64 `yaml:"rtoSeconds"`
	RPOLossPercent float64 `yaml:"rpoLossPercent"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MetricsConfig controls the Prometheus scrape endpoint served while a run
// is in progress. Empty address disables it.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// Load initialises Config from a YAML file plus optional environment
// overrides, then validates it against the embedded schema.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("FAILOVER_TESTER_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := validateDocument(data, configSchema); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Datacenters: DatacentersConfig{
			Primary:   DatacenterConfig{Timeout: 10 * time.Second},
			Secondary: DatacenterConfig{Timeout: 10 * time.Second},
		},
		Monitoring: MonitoringConfig{
			PollInterval:       10 * time.Second,
			SourceTimeout:      5 * time.Second,
			StabilizationDelay: 20 * time.Second,
			SafetyFactor:       2,
			MaxLogLines:        200,
		},
		Faults: FaultsConfig{
			SSH:            SSHConfig{ConnectTimeout: 30 * time.Second},
			CleanupRetries: 3,
			CleanupBackoff: 5 * time.Second,
		},
		Data: DataConfig{
			BatchSize:     500,
			RatePerSecond: 1000,
			Timeout:       30 * time.Second,
		},
		Thresholds: ThresholdsConfig{
			RTOSeconds:     300,
			RPOLossPercent: 0,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

// check enforces invariants the schema cannot express.
func (c *Config) check() error {
	if c.Datacenters.Primary.APIURL == "" || c.Datacenters.Secondary.APIURL == "" {
		return fmt.Errorf("%w: both datacenter API URLs are required", ErrInvalidConfig)
	}
	if c.Monitoring.PollInterval <= 0 {
		return fmt.Errorf("%w: monitoring.pollInterval must be positive", ErrInvalidConfig)
	}
	if c.Monitoring.SafetyFactor < 1 {
		return fmt.Errorf("%w: monitoring.safetyFactor must be >= 1", ErrInvalidConfig)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FAILOVER_TESTER_PRIMARY_API_URL"); v != "" {
		cfg.Datacenters.Primary.APIURL = v
	}
	if v := os.Getenv("FAILOVER_TESTER_PRIMARY_AUTH_TOKEN"); v != "" {
		cfg.Datacenters.Primary.AuthToken = v
	}
	if v := os.Getenv("FAILOVER_TESTER_SECONDARY_API_URL"); v != "" {
		cfg.Datacenters.Secondary.APIURL = v
	}
	if v := os.Getenv("FAILOVER_TESTER_SECONDARY_AUTH_TOKEN"); v != "" {
		cfg.Datacenters.Secondary.AuthToken = v
	}
	if v := os.Getenv("FAILOVER_TESTER_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitoring.PollInterval = d
		}
	}
	if v := os.Getenv("FAILOVER_TESTER_SOURCE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitoring.SourceTimeout = d
		}
	}
	if v := os.Getenv("FAILOVER_TESTER_STABILIZATION_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitoring.StabilizationDelay = d
		}
	}
	if v := os.Getenv("FAILOVER_TESTER_SSH_USERNAME"); v != "" {
		cfg.Faults.SSH.Username = v
	}
	if v := os.Getenv("FAILOVER_TESTER_SSH_PASSWORD"); v != "" {
		cfg.Faults.SSH.Password = v
	}
	if v := os.Getenv("FAILOVER_TESTER_SSH_KEY_PATH"); v != "" {
		cfg.Faults.SSH.PrivateKeyPath = v
	}
	if v := os.Getenv("FAILOVER_TESTER_RTO_SECONDS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Thresholds.RTOSeconds = f
		}
	}
	if v := os.Getenv("FAILOVER_TESTER_RPO_LOSS_PERCENT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Thresholds.RPOLossPercent = f
		}
	}
	if v := os.Getenv("FAILOVER_TESTER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FAILOVER_TESTER_LOG_FORMAT"); strings.EqualFold(v, "json") {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("FAILOVER_TESTER_METRICS_ADDRESS"); v != "" {
		cfg.Metrics.Address = v
	}
}
