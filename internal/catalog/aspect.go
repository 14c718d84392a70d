// Package catalog loads diagnostic alarm aspects (YAML device profiles with
// their alarm definitions) and imports them into the store.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Aspect is a diagnostic alarm aspect document.
type Aspect struct {
	DeviceProfile DeviceProfile `yaml:"deviceProfile"`
}

// DeviceProfile describes one device and the alarms defined for it.
type DeviceProfile struct {
	ID                string              `yaml:"id"`
	Name              string              `yaml:"name"`
	Description       string              `yaml:"description"`
	Inhibit           int                 `yaml:"inhibit"`
	Type              string              `yaml:"type"`
	Port              int                 `yaml:"port"`
	Manufacturer      string              `yaml:"manufacturer"`
	SerialNumber      string              `yaml:"serialNumber"`
	DiagnosticProfile []DiagnosticProfile `yaml:"diagnosticProfile"`
}

// DiagnosticProfile groups resources by diagnostic protocol.
type DiagnosticProfile struct {
	DiagnosticProtocol  string               `yaml:"diagnosticProtocol"`
	DiagnosticResources []DiagnosticResource `yaml:"diagnosticResources"`
}

// DiagnosticResource is one alarm definition.
type DiagnosticResource struct {
	ID                string          `yaml:"id"`
	Name              string          `yaml:"name"`
	Description       string          `yaml:"description"`
	Severity          string          `yaml:"severity"`
	Priority          int             `yaml:"priority"`
	RecommendedAction string          `yaml:"recommendedAction"`
	Message           string          `yaml:"message"`
	Rule              *RuleDefinition `yaml:"rule"`
	Parameter         ParameterRef    `yaml:"parameter"`
}

// RuleDefinition is the condition of a resource.
type RuleDefinition struct {
	Name           string `yaml:"name"`
	ComparisonType string `yaml:"comparisonType"`
	Expression     string `yaml:"expression"`
}

// ParameterRef is the parameter a resource watches.
type ParameterRef struct {
	ID   string   `yaml:"id"`
	Name string   `yaml:"name"`
	Unit string   `yaml:"unit"`
	Key  []string `yaml:"key"`
}

// Validation errors.
var (
	ErrMissingDevice    = errors.New("deviceProfile.id and deviceProfile.name are required")
	ErrNoResources      = errors.New("aspect defines no diagnostic resources")
	ErrMissingResource  = errors.New("resource id and name are required")
	ErrMissingParameter = errors.New("resource parameter id and name are required")
)

// LoadAspect reads and validates an aspect file.
func LoadAspect(path string) (*Aspect, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read aspect %s: %w", path, err)
	}
	aspect, err := ParseAspect(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return aspect, nil
}

// ParseAspect decodes and validates an aspect document. Unknown fields are
// rejected.
func ParseAspect(data []byte) (*Aspect, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var aspect Aspect
	if err := dec.Decode(&aspect); err != nil {
		return nil, fmt.Errorf("invalid aspect: %w", err)
	}
	if err := aspect.Validate(); err != nil {
		return nil, err
	}
	return &aspect, nil
}

// Validate checks the fields Import relies on.
func (a *Aspect) Validate() error {
	dp := a.DeviceProfile
	if dp.ID == "" || dp.Name == "" {
		return ErrMissingDevice
	}

	count := 0
	for i, profile := range dp.DiagnosticProfile {
		for j, res := range profile.DiagnosticResources {
			if res.ID == "" || res.Name == "" {
				return fmt.Errorf("diagnosticProfile[%d].diagnosticResources[%d]: %w", i, j, ErrMissingResource)
			}
			if res.Parameter.ID == "" || res.Parameter.Name == "" {
				return fmt.Errorf("resource %q: %w", res.ID, ErrMissingParameter)
			}
			count++
		}
	}
	if count == 0 {
		return ErrNoResources
	}
	return nil
}

// Resources returns every resource across all diagnostic profiles.
func (a *Aspect) Resources() []DiagnosticResource {
	var out []DiagnosticResource
	for _, profile := range a.DeviceProfile.DiagnosticProfile {
		out = append(out, profile.DiagnosticResources...)
	}
	return out
}
