package profiles

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// profileSchema constrains raw profile documents before decoding. Field
// semantics that depend on other fields are checked in Profile.Validate.
const profileSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "endpoint"],
  "properties": {
    "name": {"type": "string", "minLength": 1, "pattern": "^[a-z0-9]([a-z0-9-]*[a-z0-9])?$"},
    "description": {"type": "string"},
    "systemPrompt": {"type": "string"},
    "endpoint": {"type": "string", "minLength": 1},
    "toolset": {"type": "string"},
    "enabled": {"type": "boolean"},
    "auth": {
      "type": "object",
      "properties": {
        "mode": {"enum": ["none", "token", "basic"]},
        "token": {"type": "string"},
        "origin": {"type": "string"},
        "secretName": {"type": "string"}
      },
      "additionalProperties": false
    },
    "validationRules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["toolName", "kind"],
        "properties": {
          "toolName": {"type": "string", "minLength": 1},
          "kind": {"enum": ["CREATE", "UPDATE", "DELETE"]}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

var compiledSchema = jsonschema.MustCompileString("profile.json", profileSchema)

// validateRaw checks a decoded profile document against the schema.
func validateRaw(doc any) error {
	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("profile schema violation: %w", err)
	}
	return nil
}
