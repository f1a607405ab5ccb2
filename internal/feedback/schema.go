package feedback

import "github.com/santhosh-tekuri/jsonschema/v5"

const recordSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["summary", "experience", "education", "skills"],
  "properties": {
    "summary":    {"$ref": "#/definitions/section"},
    "experience": {"$ref": "#/definitions/section"},
    "education":  {"$ref": "#/definitions/section"},
    "skills":     {"$ref": "#/definitions/section"}
  },
  "definitions": {
    "stringList": {
      "type": ["array", "null"],
      "items": {"type": "string"}
    },
    "section": {
      "type": "object",
      "properties": {
        "issues":       {"$ref": "#/definitions/stringList"},
        "suggestions":  {"$ref": "#/definitions/stringList"},
        "replacements": {"$ref": "#/definitions/stringList"}
      }
    }
  }
}`

var recordSchema = jsonschema.MustCompileString("feedback_record.json", recordSchemaJSON)
