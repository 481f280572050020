package main

import (
	"encoding/json"
	"log"
	"os"

	"github.com/grovetools/meetbot/config"
	"github.com/grovetools/meetbot/logging"
	"github.com/invopop/jsonschema"
)

func main() {
	schemaBytes, err := config.GenerateSchema()
	if err != nil {
		log.Fatalf("Error generating schema: %v", err)
	}
	if err := os.WriteFile("meetbot.schema.json", schemaBytes, 0644); err != nil {
		log.Fatalf("Error writing schema file: %v", err)
	}
	log.Printf("Successfully generated config schema at meetbot.schema.json")

	r := &jsonschema.Reflector{
		AllowAdditionalProperties: true,
		ExpandedStruct:            true,
		FieldNameTag:              "yaml",
	}
	schema := r.Reflect(&logging.Config{})
	schema.Title = "meetbot logging configuration"
	schema.Description = "Schema for the 'logging' extension in meetbot.yml."
	schema.Required = nil

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		log.Fatalf("Error marshaling schema: %v", err)
	}
	if err := os.WriteFile("logging.schema.json", data, 0644); err != nil {
		log.Fatalf("Error writing schema file: %v", err)
	}
	log.Printf("Successfully generated logging schema at logging.schema.json")
}
