package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario describes one failover experiment: the fault to inject, the
// target to inject it into, and the recovery objectives to judge against.
type Scenario struct {
	ID                   string         `yaml:"id"`
	Name                 string         `yaml:"name"`
	FaultType            string         `yaml:"faultType"`
	Target               ScenarioTarget `yaml:"target"`
	LatencyMs            int            `yaml:"latencyMs"`
	PacketLossPercent    float64        `yaml:"packetLossPercent"`
	BandwidthLimitKbps   int            `yaml:"bandwidthLimitKbps"`
	Resource             string         `yaml:"resource"`
	ExpectedRecoveryTime time.Duration  `yaml:"expectedRecoveryTime"`
	ExpectedLossPercent  float64        `yaml:"expectedLossPercent"`
	EventCount           int            `yaml:"eventCount"`
}

// ScenarioTarget describes what the fault is aimed at.
type ScenarioTarget struct {
	Host        string `yaml:"host"`
	Network     string `yaml:"network"`
	Interface   string `yaml:"interface"`
	ProcessName string `yaml:"processName"`
	Datacenter  string `yaml:"datacenter"`
}

// LoadScenario reads and validates a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("scenario file %s not found: %w", path, err)
		}
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	if err := validateDocument(data, scenarioSchema); err != nil {
		return nil, fmt.Errorf("%w: scenario %s: %v", ErrInvalidConfig, path, err)
	}

	sc := Scenario{
		ExpectedRecoveryTime: 5 * time.Minute,
		EventCount:           10000,
	}
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if sc.ExpectedRecoveryTime <= 0 {
		sc.ExpectedRecoveryTime = 5 * time.Minute
	}
	return &sc, nil
}
