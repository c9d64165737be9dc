package mcpcheck

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateToolSchemas checks that each tool's declared input schema compiles
// as a JSON Schema. Invalid schemas are reported as human-readable warnings;
// they never fail the probe, since a broken schema only affects callers of
// that one tool.
func ValidateToolSchemas(tools []Tool) []string {
	var warnings []string
	for _, tool := range tools {
		if err := validateTool(tool); err != nil {
			warnings = append(warnings, fmt.Sprintf("tool %q: %v", tool.Name, err))
		}
	}
	return warnings
}

func validateTool(tool Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	if tool.InputSchema != nil {
		loader := gojsonschema.NewStringLoader(string(tool.InputSchema))
		if _, err := gojsonschema.NewSchema(loader); err != nil {
			return fmt.Errorf("invalid input schema: %v", err)
		}
	}

	return nil
}
