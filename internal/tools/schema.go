package tools

import "encoding/json"

// convertExclusiveBoundsToBoolean rewrites draft-07 style numeric
// exclusiveMinimum/exclusiveMaximum fields into the draft-04 boolean
// form, hoisting the numeric bound into minimum/maximum. Some MCP servers
// (Chrome DevTools among them) emit draft-07 schemas that downstream
// model providers reject. Invalid JSON is returned unchanged.
func convertExclusiveBoundsToBoolean(raw []byte) []byte {
	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return raw
	}

	convertSchemaNode(parsed)

	converted, err := json.Marshal(parsed)
	if err != nil {
		return raw
	}
	return converted
}

func convertSchemaNode(node map[string]any) {
	if bound, ok := node["exclusiveMinimum"].(float64); ok {
		node["minimum"] = bound
		node["exclusiveMinimum"] = true
	}
	if bound, ok := node["exclusiveMaximum"].(float64); ok {
		node["maximum"] = bound
		node["exclusiveMaximum"] = true
	}

	for _, key := range []string{"items", "additionalProperties", "not"} {
		if child, ok := node[key].(map[string]any); ok {
			convertSchemaNode(child)
		}
	}

	if properties, ok := node["properties"].(map[string]any); ok {
		for _, value := range properties {
			if child, ok := value.(map[string]any); ok {
				convertSchemaNode(child)
			}
		}
	}

	for _, key := range []string{"allOf", "anyOf", "oneOf"} {
		if children, ok := node[key].([]any); ok {
			for _, value := range children {
				if child, ok := value.(map[string]any); ok {
					convertSchemaNode(child)
				}
			}
		}
	}
}
