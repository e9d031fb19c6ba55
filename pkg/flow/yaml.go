package flow

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// yamlDocument is the on-disk shape of a flow definition
type yamlDocument struct {
	Metadata struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	} `yaml:"metadata"`
	Mutating          bool     `yaml:"mutating"`
	IdempotencyFields []string `yaml:"idempotency_fields"`
	RequireAuth       bool     `yaml:"require_auth"`
	Steps             []Step   `yaml:"steps"`
}

// Parse converts a YAML document into a validated flow definition
func Parse(content []byte) (*Definition, error) {
	var doc yamlDocument
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("invalid flow YAML: %w", err)
	}

	def := &Definition{
		Name:              doc.Metadata.Name,
		Description:       doc.Metadata.Description,
		Mutating:          doc.Mutating,
		IdempotencyFields: doc.IdempotencyFields,
		RequireAuth:       doc.RequireAuth,
		Steps:             doc.Steps,
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}
