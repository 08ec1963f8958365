package coderstream

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaValidator implements ParamValidator against a per-tool JSON Schema
// map, the same gojsonschema validation idiom internal/engine/tools.go uses
// for whole-tool-call argument validation, narrowed here to the partial
// param set available mid-stream (spec's DOMAIN STACK: "PARAM validation
// against each coder tool's declared schema before auto-exec").
type SchemaValidator struct {
	schemas map[string]string // tool name -> JSON Schema document
}

// NewSchemaValidator builds a validator from a tool-name -> schema map.
func NewSchemaValidator(schemas map[string]string) *SchemaValidator {
	return &SchemaValidator{schemas: schemas}
}

// Validate checks params (a partial view -- only the fields streamed so
// far) against tool's declared schema, if one is registered. An unknown
// tool is treated as valid (no schema to enforce).
func (v *SchemaValidator) Validate(tool string, params map[string]string) error {
	schema, ok := v.schemas[tool]
	if !ok || schema == "" {
		return nil
	}
	doc := make(map[string]any, len(params))
	for k, val := range params {
		doc[k] = val
	}
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("coderstream: schema load/validate: %w", err)
	}
	if !result.Valid() {
		errs := result.Errors()
		if len(errs) > 0 {
			return fmt.Errorf("coderstream: param validation failed for %s: %s", tool, errs[0].String())
		}
		return fmt.Errorf("coderstream: param validation failed for %s", tool)
	}
	return nil
}
