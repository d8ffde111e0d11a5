package server

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// analyzeSchema guards the /analyze request body before any field is
// read. toolInput must be an object so the detectors can traverse it.
const analyzeSchema = `{
	"type": "object",
	"required": ["toolName", "toolInput"],
	"properties": {
		"toolName": {"type": "string", "minLength": 1},
		"toolInput": {"type": "object"},
		"sessionId": {"type": "string"},
		"userId": {"type": "string"}
	}
}`

// filterSchema guards the /filter-output request body. output may be any
// JSON value; non-strings are canonicalized before scanning.
const filterSchema = `{
	"type": "object",
	"required": ["output"],
	"properties": {
		"toolName": {"type": "string"}
	}
}`

var (
	analyzeValidator = jsonschema.MustCompileString("analyze.json", analyzeSchema)
	filterValidator  = jsonschema.MustCompileString("filter.json", filterSchema)
)

// validateBody unmarshals raw JSON and checks it against the schema,
// returning the decoded document for a second, typed decode.
func validateBody(raw []byte, schema *jsonschema.Schema) (any, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}
