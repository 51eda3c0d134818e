package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// LoadCatalog reads a YAML provider pricing catalog.
func LoadCatalog(path string) ([]ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes catalog YAML of the form:
//
//	providers:
//	  - name: gemini-flash
//	    type: gemini
//	    input_rate: 0.000075
func ParseCatalog(data []byte) ([]ProviderConfig, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse provider catalog: %w", err)
	}
	return file.Providers, nil
}

// MergeCatalog fills pricing and cap fields that configured providers leave at
// zero from the catalog entry of the same name. Catalog providers that are not
// configured are appended.
func MergeCatalog(configured, catalog []ProviderConfig) []ProviderConfig {
	byName := make(map[string]ProviderConfig, len(catalog))
	for _, c := range catalog {
		byName[c.Name] = c
	}

	merged := make([]ProviderConfig, 0, len(configured)+len(catalog))
	seen := make(map[string]bool, len(configured))
	for _, p := range configured {
		seen[p.Name] = true
		if c, ok := byName[p.Name]; ok {
			p = fillFrom(p, c)
		}
		merged = append(merged, p)
	}
	for _, c := range catalog {
		if !seen[c.Name] {
			merged = append(merged, c)
		}
	}
	return merged
}

func fillFrom(p, c ProviderConfig) ProviderConfig {
	if p.Type == "" {
		p.Type = c.Type
	}
	if p.Model == "" {
		p.Model = c.Model
	}
	if p.Endpoint == "" {
		p.Endpoint = c.Endpoint
	}
	if p.InputRate == 0 {
		p.InputRate = c.InputRate
	}
	if p.OutputRate == 0 {
		p.OutputRate = c.OutputRate
	}
	if p.CharRate == 0 {
		p.CharRate = c.CharRate
	}
	if p.DailyCap == 0 {
		p.DailyCap = c.DailyCap
	}
	if p.MonthlyCap == 0 {
		p.MonthlyCap = c.MonthlyCap
	}
	if p.DailyRequestLimit == 0 {
		p.DailyRequestLimit = c.DailyRequestLimit
	}
	if p.DailyTokenLimit == 0 {
		p.DailyTokenLimit = c.DailyTokenLimit
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = c.MaxRetries
	}
	if p.TimeoutSeconds == 0 {
		p.TimeoutSeconds = c.TimeoutSeconds
	}
	return p
}
