package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Dosada05/palanteer/models"
	"github.com/Dosada05/palanteer/scoring"
)

// ScoringDefaults holds scorer tolerances used when a competition stores no policy of
// its own. Metrics entries override Default field by field.
//
//	default:
//	  missing_rows: reject
//	  max_malformed_rate: 0.01
//	metrics:
//	  accuracy:
//	    missing_rows: penalize
type ScoringDefaults struct {
	Default models.ScoringPolicy            `yaml:"default"`
	Metrics map[string]models.ScoringPolicy `yaml:"metrics"`

	resolved map[string]scoring.Policy
	base     scoring.Policy
}

func DefaultScoringDefaults() *ScoringDefaults {
	d := &ScoringDefaults{}
	// The zero policy overlays nothing, so this cannot fail.
	_ = d.resolve()
	return d
}

func LoadScoringDefaults(path string) (*ScoringDefaults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scoring defaults %s: %w", path, err)
	}
	return ParseScoringDefaults(data)
}

func ParseScoringDefaults(data []byte) (*ScoringDefaults, error) {
	var d ScoringDefaults
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&d); err != nil {
		return nil, fmt.Errorf("failed to decode scoring defaults: %w", err)
	}
	if err := d.resolve(); err != nil {
		return nil, err
	}
	return &d, nil
}

func (d *ScoringDefaults) resolve() error {
	base, err := scoring.PolicyFrom(scoring.DefaultPolicy(), &d.Default)
	if err != nil {
		return fmt.Errorf("invalid default scoring policy: %w", err)
	}
	d.base = base
	d.resolved = make(map[string]scoring.Policy, len(d.Metrics))
	for name, override := range d.Metrics {
		metric, err := scoring.LookupMetric(name)
		if err != nil {
			return fmt.Errorf("scoring defaults: %w", err)
		}
		override := override
		policy, err := scoring.PolicyFrom(base, &override)
		if err != nil {
			return fmt.Errorf("invalid scoring policy for metric %s: %w", name, err)
		}
		d.resolved[metric.Name()] = policy
	}
	return nil
}

// DefaultsFor returns the policy for a metric name, falling back to the shared default.
func (d *ScoringDefaults) DefaultsFor(metric string) scoring.Policy {
	if p, ok := d.resolved[strings.ToLower(strings.TrimSpace(metric))]; ok {
		return p
	}
	return d.base
}
