package cachedllm

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// ToolSpec is the canonical, provider-independent tool declaration:
//
//	{type: "function", function: {name, description, parameters}}
//
// Parameters is a JSON-Schema object; by convention it carries a required
// list and additionalProperties: false.
type ToolSpec struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the function declaration inside a ToolSpec.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// NewToolSpec builds a ToolSpec from an explicit JSON-Schema parameter
// object.
func NewToolSpec(name, description string, parameters map[string]any) ToolSpec {
	return ToolSpec{
		Type: "function",
		Function: ToolFunction{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}

// ToolSpecFor derives the parameter schema from a Go struct type. Field
// descriptions come from `jsonschema_description` tags; all fields are
// required unless tagged omitempty, and the schema is closed.
func ToolSpecFor[T any](name, description string) (ToolSpec, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)

	raw, err := json.Marshal(schema)
	if err != nil {
		return ToolSpec{}, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("cannot reflect schema for tool %q", name),
			Cause:   err,
		}}
	}
	var parameters map[string]any
	if err := json.Unmarshal(raw, &parameters); err != nil {
		return ToolSpec{}, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("cannot decode reflected schema for tool %q", name),
			Cause:   err,
		}}
	}
	delete(parameters, "$schema")
	delete(parameters, "$id")

	return NewToolSpec(name, description, parameters), nil
}

// Validate checks the declaration before it is put on the wire.
func (t ToolSpec) Validate() error {
	if t.Type != "" && t.Type != "function" {
		return &ValidationError{SDKError: SDKError{
			Message: fmt.Sprintf("unsupported tool type %q", t.Type),
		}}
	}
	if t.Function.Name == "" {
		return &ValidationError{SDKError: SDKError{
			Message: "tool declaration must carry a function name",
		}}
	}
	return nil
}

// normalizeRequest applies the canonical tool rules: an empty tools slice is
// identical to absent tools, and without tools no tool_choice is emitted.
func normalizeRequest(req Request) (Request, error) {
	if len(req.Tools) == 0 {
		req.Tools = nil
		req.ToolChoice = ""
		return req, nil
	}
	for _, t := range req.Tools {
		if err := t.Validate(); err != nil {
			return req, err
		}
	}
	return req, nil
}

// namedToolChoice reports whether choice selects one specific tool rather
// than a policy keyword.
func namedToolChoice(choice string) bool {
	switch choice {
	case "", ToolChoiceAuto, ToolChoiceNone, ToolChoiceRequired:
		return false
	}
	return true
}

// sanitizeSchema deep-copies a JSON-Schema object, dropping the keywords
// Gemini's declaration format rejects.
func sanitizeSchema(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		switch k {
		case "additionalProperties", "$schema", "$id":
			continue
		}
		out[k] = sanitizeSchemaValue(v)
	}
	return out
}

func sanitizeSchemaValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return sanitizeSchema(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeSchemaValue(item)
		}
		return out
	default:
		return v
	}
}
