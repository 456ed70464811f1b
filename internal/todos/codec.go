package todos

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

const collectionSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "array",
	"items": {
		"type": "object",
		"required": ["id", "text", "completed"],
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"text": {"type": "string"},
			"completed": {"type": "boolean"},
			"userId": {"type": "string"},
			"createdAt": {"type": "string"}
		}
	}
}`

var schema = jsonschema.MustCompileString("todos.schema.json", collectionSchema)

// decodeItems parses a stored collection, rejecting anything that does not
// match the collection schema.
func decodeItems(raw string) ([]Item, error) {
	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("parse todos: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("validate todos: %s", schemaMessage(err))
	}

	var items []Item
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode todos: %w", err)
	}
	return items, nil
}

func encodeItems(items []Item) (string, error) {
	if items == nil {
		items = []Item{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode todos: %w", err)
	}
	return string(data), nil
}

// schemaMessage reports the first leaf validation failure with its location.
func schemaMessage(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	location := strings.TrimPrefix(ve.InstanceLocation, "#")
	if location == "" {
		location = "/"
	}
	return location + ": " + ve.Message
}
