package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"evalgo.org/kiwi/models"
)

// HopChain is the on-disk description of how to reach one infrastructure.
//
// Example:
//
//	infra:
//	  id: 5
//	  type: kubernetes
//	hops:
//	  - host: bastion.example.com
//	    port: 22
//	    username: ops
//	  - host: 10.0.0.5
//	    port: "2222"
type HopChain struct {
	Infra models.Infrastructure `yaml:"infra"`
	Hops  []models.Hop          `yaml:"hops"`
}

// LoadHopChain reads and validates a hop-chain file. Hop order in the file is kept.
func LoadHopChain(path string) (*HopChain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hop chain: %w", err)
	}

	var chain HopChain
	if err := yaml.Unmarshal(data, &chain); err != nil {
		return nil, fmt.Errorf("failed to parse hop chain %s: %w", path, err)
	}

	if chain.Infra.ID <= 0 {
		return nil, fmt.Errorf("hop chain %s: infra.id must be positive", path)
	}
	if _, err := models.ParseInfraType(string(chain.Infra.Type)); err != nil {
		return nil, fmt.Errorf("hop chain %s: %w", path, err)
	}
	if len(chain.Hops) == 0 {
		return nil, fmt.Errorf("hop chain %s: at least one hop is required", path)
	}
	for i, h := range chain.Hops {
		if h.Host == "" {
			return nil, fmt.Errorf("hop chain %s: hop %d has no host", path, i)
		}
	}

	return &chain, nil
}
