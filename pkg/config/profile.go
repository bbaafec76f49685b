package config

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// SupportedProfileVersions is the semver range of gate profiles this build reads.
const SupportedProfileVersions = ">= 1.0.0, < 2.0.0"

// GateProfile is a YAML deployment profile. It seeds the in-memory custodian
// registry and the static oracle, and may override the registry policy.
type GateProfile struct {
	Version                   string           `yaml:"version"`
	Name                      string           `yaml:"name"`
	RequireRegisteredApprover *bool            `yaml:"require_registered_approver,omitempty"`
	OracleBackend             string           `yaml:"oracle_backend,omitempty"`
	RegistryBackend           string           `yaml:"registry_backend,omitempty"`
	Custodians                []CustodianEntry `yaml:"custodians,omitempty"`
	AuthorizedIntents         []string         `yaml:"authorized_intents,omitempty"`
}

// CustodianEntry is one pre-registered approver key.
type CustodianEntry struct {
	ID        string `yaml:"id"`
	KeyID     string `yaml:"key_id"`
	PublicKey string `yaml:"public_key"` // hex SEC1
}

// LoadProfile reads and version-checks a gate profile.
func LoadProfile(path string) (*GateProfile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}

	var profile GateProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", path, err)
	}

	if profile.Version == "" {
		return nil, fmt.Errorf("profile %q: version is required", path)
	}
	v, err := semver.NewVersion(profile.Version)
	if err != nil {
		return nil, fmt.Errorf("profile %q: invalid version %q: %w", path, profile.Version, err)
	}
	constraint, err := semver.NewConstraint(SupportedProfileVersions)
	if err != nil {
		return nil, err
	}
	if !constraint.Check(v) {
		return nil, fmt.Errorf("profile %q: version %s outside supported range %s", path, v, SupportedProfileVersions)
	}

	for i, c := range profile.Custodians {
		if c.ID == "" || c.KeyID == "" || c.PublicKey == "" {
			return nil, fmt.Errorf("profile %q: custodian #%d needs id, key_id and public_key", path, i)
		}
	}
	return &profile, nil
}

// ApplyProfile overlays the profile's settings onto c.
func (c *Config) ApplyProfile(p *GateProfile) {
	if p == nil {
		return
	}
	if p.RequireRegisteredApprover != nil {
		c.RequireRegisteredApprover = *p.RequireRegisteredApprover
	}
	if p.OracleBackend != "" {
		c.OracleBackend = p.OracleBackend
	}
	if p.RegistryBackend != "" {
		c.RegistryBackend = p.RegistryBackend
	}
}
