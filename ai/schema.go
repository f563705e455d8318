package ai

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// diagnosisSchema is the contract the model's JSON must satisfy
const diagnosisSchema = `{
  "type": "object",
  "required": ["rootCause", "severity", "autoFixable"],
  "properties": {
    "rootCause": {"type": "string", "minLength": 1},
    "affectedFiles": {"type": "array", "items": {"type": "string"}},
    "severity": {"enum": ["low", "medium", "high", "critical"]},
    "autoFixable": {"type": "boolean"},
    "explanation": {"type": "string"},
    "fix": {
      "oneOf": [
        {"type": "null"},
        {
          "type": "object",
          "required": ["file", "changes"],
          "properties": {
            "file": {"type": "string", "minLength": 1},
            "changes": {
              "type": "array",
              "minItems": 1,
              "items": {
                "type": "object",
                "required": ["oldText", "newText"],
                "properties": {
                  "oldText": {"type": "string", "minLength": 1},
                  "newText": {"type": "string"}
                }
              }
            }
          }
        }
      ]
    }
  }
}`

var diagnosisSchemaLoader = gojsonschema.NewStringLoader(diagnosisSchema)

// validateDiagnosisJSON checks raw JSON against the diagnosis schema
func validateDiagnosisJSON(raw string) error {
	result, err := gojsonschema.Validate(diagnosisSchemaLoader, gojsonschema.NewStringLoader(raw))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("diagnosis does not match schema: %s", strings.Join(msgs, "; "))
	}
	return nil
}
