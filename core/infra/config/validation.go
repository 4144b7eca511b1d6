package config

import (
	"fmt"

	configschema "github.com/cordum/cjcard/core/infra/schema"
	"gopkg.in/yaml.v3"
)

// validateFileSchema checks a YAML config document against the embedded schema.
func validateFileSchema(data []byte) error {
	schemaBytes, err := configSchemaFS.ReadFile(fileSchemaPath)
	if err != nil {
		return fmt.Errorf("load config schema: %w", err)
	}
	var payload any
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if payload == nil {
		return nil
	}
	if err := configschema.ValidateSchema("cjcard-config", schemaBytes, payload); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}
