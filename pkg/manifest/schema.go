package manifest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// manifestSchema is the structural contract every manifest must satisfy
// before the registry touches extension code.
const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "version", "entry_point"],
  "properties": {
    "name": {"type": "string", "pattern": "^[a-z0-9][a-z0-9._-]*$"},
    "version": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "entry_point": {"type": "string", "minLength": 1},
    "permissions": {"type": "array", "items": {"type": "string"}},
    "commands": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "pattern": "^[a-z0-9][a-z0-9._-]*$"},
          "description": {"type": "string"},
          "category": {"type": "string"},
          "target_scoped": {"type": "boolean"},
          "permissions": {"type": "array", "items": {"type": "string"}},
          "exec": {
            "type": "object",
            "required": ["binary"],
            "properties": {
              "binary": {"type": "string", "minLength": 1},
              "args": {"type": "array", "items": {"type": "string"}},
              "parser": {"type": "string"}
            },
            "additionalProperties": false
          }
        },
        "additionalProperties": false
      }
    },
    "tools": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "binary"],
        "properties": {
          "name": {"type": "string"},
          "description": {"type": "string"},
          "category": {"type": "string"},
          "binary": {"type": "string", "minLength": 1},
          "danger_level": {"enum": ["low", "medium", "high"]}
        },
        "additionalProperties": false
      }
    },
    "routes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["path"],
        "properties": {
          "path": {"type": "string", "pattern": "^/"},
          "methods": {"type": "array", "items": {"enum": ["GET", "POST", "PUT", "DELETE", "PATCH"]}},
          "permissions": {"type": "array", "items": {"type": "string"}}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		const url = "https://lewis.schemas.local/extension-manifest.schema.json"
		if err := c.AddResource(url, strings.NewReader(manifestSchema)); err != nil {
			schemaErr = fmt.Errorf("manifest: schema load: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(url)
	})
	return compiledSchema, schemaErr
}

// validateSchema checks a decoded manifest document against the schema.
func validateSchema(raw map[string]any) error {
	schema, err := compiled()
	if err != nil {
		return err
	}
	if err := schema.Validate(normalizeForSchema(raw)); err != nil {
		return fmt.Errorf("manifest: schema validation: %w", err)
	}
	return nil
}

// normalizeForSchema rewrites yaml.v3 decoding artifacts (map[any]any in
// nested sequences on some inputs) into the map[string]any the validator
// expects.
func normalizeForSchema(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = normalizeForSchema(inner)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[fmt.Sprintf("%v", k)] = normalizeForSchema(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = normalizeForSchema(inner)
		}
		return out
	default:
		return val
	}
}
