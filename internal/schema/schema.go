// Package schema validates documents against JSON schemas.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Validate checks a Go value (maps, slices, scalars) against schemaJSON.
func Validate(schemaJSON string, document any) error {
	return validate(schemaJSON, gojsonschema.NewGoLoader(document))
}

// ValidateJSON checks a raw JSON document against schemaJSON.
func ValidateJSON(schemaJSON string, raw []byte) error {
	return validate(schemaJSON, gojsonschema.NewBytesLoader(raw))
}

func validate(schemaJSON string, documentLoader gojsonschema.JSONLoader) error {
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schemaJSON), documentLoader)
	if err != nil {
		return fmt.Errorf("validate schema: %w", err)
	}
	if result.Valid() {
		return nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, schemaErr := range result.Errors() {
		errs = append(errs, schemaErr.String())
	}
	sort.Strings(errs)

	return &Error{Details: errs}
}

// Error lists every schema violation in a stable order.
type Error struct {
	Details []string
}

func (e *Error) Error() string {
	return "schema validation failed: " + strings.Join(e.Details, "; ")
}
