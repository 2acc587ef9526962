package ai

import (
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const scoresSchemaJSON = `{
  "type": "object",
  "required": ["dimensions"],
  "properties": {
    "dimensions": {"type": ["object", "array"]},
    "reasoning": {"type": "string"}
  }
}`

const learningSchemaJSON = `{
  "type": "object",
  "properties": {
    "insights": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["description"],
        "properties": {
          "description": {"type": "string"}
        }
      }
    },
    "proposed_updates": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["path", "op"],
        "properties": {
          "path": {"type": "string", "minLength": 1},
          "op": {"enum": ["add", "modify", "remove"]}
        }
      }
    },
    "reasoning": {"type": "string"}
  }
}`

var (
	scoresSchema   = jsonschema.MustCompileString("scores.json", scoresSchemaJSON)
	learningSchema = jsonschema.MustCompileString("learning.json", learningSchemaJSON)
)
