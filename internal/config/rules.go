package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jwalitptl/campaignsched/internal/model"
)

// LoadRuleConfig reads the rule document of §3 from path. It is loaded
// separately from Config since rule documents are versioned and deployed
// independently of the service binary.
func LoadRuleConfig(path string) (*model.RuleConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule config %s: %w", path, err)
	}

	var cfg model.RuleConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse rule config %s: %w", path, err)
	}
	return &cfg, nil
}
