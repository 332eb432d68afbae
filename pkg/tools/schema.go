package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// argsSchema derives the JSON schema for a tool's argument struct from
// its json and jsonschema tags. Required fields carry
// `jsonschema:"required"`; descriptions, defaults, and enums come from
// the same tag.
func argsSchema[T any]() map[string]any {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(m, "$schema")
	delete(m, "$id")

	// Providers expect a bare object schema.
	out := map[string]any{"type": "object"}
	if props, ok := m["properties"]; ok {
		out["properties"] = props
	}
	if required, ok := m["required"]; ok {
		out["required"] = required
	}
	if addProps, ok := m["additionalProperties"]; ok {
		out["additionalProperties"] = addProps
	}
	return out
}
