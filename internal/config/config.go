// Package config models orchestrator.yml: platform switches plus the tenant
// seed list used to bootstrap a workspace. Tenant policy documents live in
// the database once seeded; the file is the import source, not the runtime
// source of truth.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"orchestrator/internal/catalog"
)

// Config models orchestrator.yml.
type Config struct {
	Platform struct {
		AIEnabled bool `yaml:"ai_enabled"`
	} `yaml:"platform"`
	Tenants []TenantSeed `yaml:"tenants"`
}

// TenantSeed describes one tenant to create on import.
type TenantSeed struct {
	ID       string         `yaml:"id"`
	Name     string         `yaml:"name"`
	Timezone string         `yaml:"timezone"`
	Features []string       `yaml:"features"`
	Policy   map[string]any `yaml:"policy"`
}

// PolicyJSON renders the seed's policy document for storage.
func (t TenantSeed) PolicyJSON() (string, error) {
	if t.Policy == nil {
		return "", nil
	}
	data, err := json.Marshal(t.Policy)
	if err != nil {
		return "", fmt.Errorf("tenant %s: marshal policy: %w", t.ID, err)
	}
	return string(data), nil
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one or pass --config", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure. Event types named
// under a tenant's auto_notification policy must be catalogued so a typo in
// the file fails here instead of reading as "disabled" at runtime.
func (c *Config) Validate() error {
	seen := map[string]bool{}
	for _, t := range c.Tenants {
		if t.ID == "" {
			return fmt.Errorf("config.tenants contains empty tenant id")
		}
		if seen[t.ID] {
			return fmt.Errorf("config.tenants repeats tenant id %s", t.ID)
		}
		seen[t.ID] = true
		if t.Name == "" {
			return fmt.Errorf("tenant %s has no name", t.ID)
		}
		if t.Timezone != "" {
			if _, err := time.LoadLocation(t.Timezone); err != nil {
				return fmt.Errorf("tenant %s has unknown timezone %q", t.ID, t.Timezone)
			}
		}
		for _, feature := range t.Features {
			if feature == "" {
				return fmt.Errorf("tenant %s has empty feature name", t.ID)
			}
		}
		if auto, ok := t.Policy["auto_notification"].(map[string]any); ok {
			for eventType := range auto {
				if err := catalog.Assert(eventType); err != nil {
					return fmt.Errorf("tenant %s: %w", t.ID, err)
				}
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "orchestrator.yml")
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns a starter config YAML for one tenant.
func GenerateDefault(tenantID string) string {
	return fmt.Sprintf(defaultTemplate, tenantID, tenantID)
}

const defaultTemplate = `platform:
  ai_enabled: false

tenants:
  - id: %s
    name: %s
    timezone: Asia/Seoul
    features: [ai]
    policy:
      auto_notification:
        absence_first_day:
          enabled: true
          channel: kakao_at
          throttle:
            daily_limit: 30
        payment_due_reminder:
          enabled: true
          channel: kakao_at
          throttle:
            daily_limit: 50
        overdue_outstanding_over_limit:
          enabled: false
          threshold: 1000000
          throttle:
            daily_limit: 1
      chatops:
        task_card:
          priority: 50
          ttl_days: 7
`
