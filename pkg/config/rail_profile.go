package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quorumpay/mandate/pkg/settlement"
)

// RailProfile describes the settlement rails available to the executor.
// Credentials are referenced, never embedded.
type RailProfile struct {
	Rails map[string]settlement.RailConfig `yaml:"rails"`
}

// defaultRails covers the four shipped backends with local stub endpoints.
func defaultRails() map[string]settlement.RailConfig {
	return map[string]settlement.RailConfig{
		"card":          {Endpoint: "https://localhost:9401/card", CredentialRef: "vault:rails/card"},
		"bank_transfer": {Endpoint: "https://localhost:9402/bank", CredentialRef: "vault:rails/bank"},
		"wallet":        {Endpoint: "https://localhost:9403/wallet", CredentialRef: "vault:rails/wallet"},
		"crypto":        {Endpoint: "https://localhost:9404/crypto", CredentialRef: "vault:rails/crypto"},
	}
}

// LoadRailProfile reads a YAML rail profile. An empty path returns the
// defaults; a named rail missing from the file keeps its default.
func LoadRailProfile(path string) (map[string]settlement.RailConfig, error) {
	rails := defaultRails()
	if path == "" {
		return rails, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rail profile: %w", err)
	}
	var profile RailProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse rail profile %s: %w", path, err)
	}
	for name, rc := range profile.Rails {
		rails[name] = rc
	}
	return rails, nil
}
