package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Parameter describes one argument of a built-in tool.
type Parameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Default     any
	Enum        []string
}

// ObjectSchema renders params as a closed JSON Schema object.
func ObjectSchema(params ...Parameter) json.RawMessage {
	properties := make(map[string]any, len(params))
	required := []string{}

	for _, param := range params {
		paramSchema := map[string]any{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		if len(param.Enum) > 0 {
			paramSchema["enum"] = param.Enum
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}

	// map keys are sorted by encoding/json, so the output is stable.
	raw, err := json.Marshal(schemaMap)
	if err != nil {
		panic(fmt.Sprintf("marshal schema: %v", err))
	}
	return raw
}

// SchemaValidator checks arguments against a tool's parameter schema.
// Compiled schemas are cached by content hash.
type SchemaValidator struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
}

// NewSchemaValidator creates an empty validator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{schemas: make(map[string]*gojsonschema.Schema)}
}

// Validate returns an error wrapping ErrInvalidArguments when args do not satisfy def's schema.
// A definition without a schema accepts any arguments.
func (v *SchemaValidator) Validate(def ToolDefinition, args map[string]any) error {
	if len(def.ParameterSchema) == 0 {
		return nil
	}

	schema, err := v.compile(def.ParameterSchema)
	if err != nil {
		return fmt.Errorf("%w: tool %s has an unusable schema: %v", ErrInvalidArguments, def.Name, err)
	}

	if args == nil {
		args = map[string]any{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidArguments, strings.Join(errs, "; "))
	}

	return nil
}

func (v *SchemaValidator) compile(raw json.RawMessage) (*gojsonschema.Schema, error) {
	sum := sha256.Sum256(raw)
	key := hex.EncodeToString(sum[:])

	v.mu.RLock()
	schema, ok := v.schemas[key]
	v.mu.RUnlock()
	if ok {
		return schema, nil
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.schemas[key] = schema
	v.mu.Unlock()
	return schema, nil
}
