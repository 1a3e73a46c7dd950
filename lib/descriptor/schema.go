package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ghodss/yaml"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var ErrInvalidDescriptor = errors.New("invalid descriptor")

// schemaJSON is the structural contract for descriptor files. Semantic checks
// (base resolvability, manifest presence) happen at build time.
const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["base", "interpreter", "entrypoint"],
  "additionalProperties": false,
  "properties": {
    "base":        {"type": "string", "minLength": 1},
    "context":     {"type": "string"},
    "manifest":    {"type": "string"},
    "expose":      {"type": "integer", "minimum": 1, "maximum": 65535},
    "interpreter": {"type": "string", "minLength": 1},
    "entrypoint":  {"type": "string", "minLength": 1},
    "workdir":     {"type": "string"},
    "tag":         {"type": "string"}
  }
}`

var schema = jsonschema.MustCompileString("kiln.schema.json", schemaJSON)

// validateSchema checks the raw YAML document against the descriptor schema.
func validateSchema(data []byte) error {
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	var doc any
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	return nil
}
