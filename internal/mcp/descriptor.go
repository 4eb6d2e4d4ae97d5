package mcp

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/ivan-digital/aquarius/internal/llm"
)

// ParamSpec describes one parameter of a tool's input schema.
type ParamSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // JSON Schema type; empty means any
	Required bool   `json:"required"`
}

// ToolDescriptor is the static description of one backend tool, captured
// once per connection. The descriptor set never changes for the life of a
// connection; schema changes require a fresh one.
type ToolDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Params      []ParamSpec            `json:"params"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// newDescriptor converts an MCP tool schema into a descriptor with a
// flattened parameter list used for pre-dispatch validation.
func newDescriptor(name, description string, schema *jsonschema.Schema) (ToolDescriptor, error) {
	d := ToolDescriptor{
		Name:        name,
		Description: description,
		InputSchema: map[string]interface{}{"type": "object"},
	}
	if schema == nil {
		return d, nil
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return ToolDescriptor{}, fmt.Errorf("marshal input schema for %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, &d.InputSchema); err != nil {
		return ToolDescriptor{}, fmt.Errorf("flatten input schema for %s: %w", name, err)
	}

	required := make(map[string]bool, len(schema.Required))
	for _, r := range schema.Required {
		required[r] = true
	}
	for pname, prop := range schema.Properties {
		ptype := ""
		if prop != nil {
			ptype = prop.Type
		}
		d.Params = append(d.Params, ParamSpec{
			Name:     pname,
			Type:     ptype,
			Required: required[pname],
		})
	}
	return d, nil
}

// validateArgs checks the arguments against the descriptor's parameter
// schema. It returns an *InvalidToolCallError on the first violation.
func (d ToolDescriptor) validateArgs(args map[string]interface{}) error {
	byName := make(map[string]ParamSpec, len(d.Params))
	for _, p := range d.Params {
		byName[p.Name] = p
	}

	for _, p := range d.Params {
		if !p.Required {
			continue
		}
		if _, ok := args[p.Name]; !ok {
			return &InvalidToolCallError{Tool: d.Name, Reason: fmt.Sprintf("missing required parameter %q", p.Name)}
		}
	}

	for name, value := range args {
		spec, ok := byName[name]
		if !ok {
			return &InvalidToolCallError{Tool: d.Name, Reason: fmt.Sprintf("unknown parameter %q", name)}
		}
		if !matchesType(spec.Type, value) {
			return &InvalidToolCallError{
				Tool:   d.Name,
				Reason: fmt.Sprintf("parameter %q: expected %s, got %T", name, spec.Type, value),
			}
		}
	}
	return nil
}

// matchesType checks a decoded JSON value against a JSON Schema type name.
// An empty type accepts anything. null is accepted for optional values.
func matchesType(schemaType string, value interface{}) bool {
	if schemaType == "" || value == nil {
		return true
	}
	switch schemaType {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		return isJSONNumber(value)
	case "integer":
		switch v := value.(type) {
		case float64:
			return v == math.Trunc(v)
		case int, int32, int64, json.Number:
			return true
		default:
			return false
		}
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	default:
		return true
	}
}

func isJSONNumber(value interface{}) bool {
	switch value.(type) {
	case float64, float32, int, int32, int64, json.Number:
		return true
	default:
		return false
	}
}

// ToLLMTools converts tool descriptors to model tool definitions.
func ToLLMTools(tools []ToolDescriptor) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}
	}
	return defs
}
