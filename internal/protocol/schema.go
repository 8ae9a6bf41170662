package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Task files come from another process, so the shape is enforced at
// this boundary and trusted downstream.
const taskSchemaJSON = `{
	"type": "object",
	"required": ["type", "name"],
	"properties": {
		"type": {
			"type": "string",
			"enum": ["comment", "publish", "hotspot", "like"]
		},
		"name": {
			"type": "string",
			"minLength": 1
		},
		"estimated_tokens": {
			"type": "integer",
			"minimum": 0
		},
		"keyword": {"type": "string"},
		"topic": {"type": "string"}
	},
	"additionalProperties": true
}`

var taskSchema = mustCompileTaskSchema()

func mustCompileTaskSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(taskSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("unmarshal task schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("task.schema.json", doc); err != nil {
		panic(fmt.Sprintf("add task schema resource: %v", err))
	}
	schema, err := c.Compile("task.schema.json")
	if err != nil {
		panic(fmt.Sprintf("compile task schema: %v", err))
	}
	return schema
}

// ParseTask validates raw JSON against the task schema and decodes it.
func ParseTask(raw []byte) (*Task, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("invalid task JSON: %w", err)
	}
	if err := taskSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("task schema: %w", err)
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("task is not an object")
	}
	task := &Task{
		Type: asString(obj["type"]),
		Name: asString(obj["name"]),
	}
	// UnmarshalJSON decodes numbers as json.Number.
	if n, ok := obj["estimated_tokens"].(json.Number); ok {
		if v, err := n.Int64(); err == nil {
			task.EstimatedTokens = int(v)
		}
	}
	task.Keyword = asString(obj["keyword"])
	task.Topic = asString(obj["topic"])
	return task, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
