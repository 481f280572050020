package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	validator "github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaResource = "meetbot.schema.json"

// GenerateSchema generates the JSON Schema for meetbot configuration files.
func GenerateSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		// Unknown keys are almost always typos in timing options.
		AllowAdditionalProperties: false,
		// Only fields tagged jsonschema:"required" are required; every section is optional.
		RequiredFromJSONSchemaTags: true,
		// Use YAML field names for property names
		FieldNameTag: "yaml",
		Anonymous:    true,
	}

	schema := r.Reflect(&Config{})
	schema.Title = "meetbot configuration"
	schema.Description = "Schema for meetbot.yml and meetbot.toml."

	return json.MarshalIndent(schema, "", "  ")
}

// SchemaValidator validates raw configuration documents against the generated schema.
type SchemaValidator struct {
	schema *validator.Schema
}

var (
	compiledOnce   sync.Once
	compiledSchema *validator.Schema
	compileErr     error
)

// NewSchemaValidator returns a validator backed by the schema of the Config struct.
// The schema is generated and compiled once per process.
func NewSchemaValidator() (*SchemaValidator, error) {
	compiledOnce.Do(func() {
		data, err := GenerateSchema()
		if err != nil {
			compileErr = fmt.Errorf("failed to generate schema: %w", err)
			return
		}
		compiler := validator.NewCompiler()
		if err := compiler.AddResource(schemaResource, bytes.NewReader(data)); err != nil {
			compileErr = fmt.Errorf("failed to add schema resource: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile(schemaResource)
		if compileErr != nil {
			compileErr = fmt.Errorf("failed to compile schema: %w", compileErr)
		}
	})
	if compileErr != nil {
		return nil, compileErr
	}
	return &SchemaValidator{schema: compiledSchema}, nil
}

// Validate checks a JSON-compatible document (maps, slices, float64, string, bool).
func (v *SchemaValidator) Validate(doc interface{}) error {
	if err := v.schema.Validate(doc); err != nil {
		if validationErr, ok := err.(*validator.ValidationError); ok {
			var messages []string
			collectErrors(validationErr, &messages)
			return fmt.Errorf("schema validation failed:\n%s", strings.Join(messages, "\n"))
		}
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// collectErrors recursively collects all validation errors into a slice
func collectErrors(err *validator.ValidationError, messages *[]string) {
	switch {
	case err.InstanceLocation != "":
		*messages = append(*messages, fmt.Sprintf("- %s: %s", err.InstanceLocation, err.Message))
	case len(err.Causes) == 0:
		*messages = append(*messages, fmt.Sprintf("- /: %s", err.Message))
	}
	for _, cause := range err.Causes {
		collectErrors(cause, messages)
	}
}
