package config

import (
	_ "embed"
	"fmt"

	"github.com/metalagman/fraudcrew/internal/schema"
)

//go:embed schema.json
var schemaJSON string

// ValidateSettings validates raw config settings against the JSON schema.
func ValidateSettings(settings map[string]any) error {
	if err := schema.Validate(schemaJSON, settings); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
