// Command generate-schema writes the JSON schema of the dittodrive
// configuration file, for editor completion and validation.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/dittodrive/pkg/config"
	"github.com/pterm/pterm"
)

func main() {
	outputFile := "config.schema.json"
	if len(os.Args) > 1 {
		outputFile = os.Args[1]
	}

	if err := writeSchema(outputFile); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
	pterm.Success.Printf("JSON schema written to %s\n", outputFile)
}

func writeSchema(path string) error {
	// Config keys are the yaml names; store sections are free-form maps
	// validated at load time against the selected store type
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		FieldNameTag:              "yaml",
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Title = "DittoDrive Configuration"
	schema.Description = "Configuration schema for DittoDrive"
	schema.Version = "1.0.0"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write schema file: %w", err)
	}
	return nil
}
