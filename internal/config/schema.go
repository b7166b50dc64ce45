package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	dserrors "github.com/systmms/kvrotate/internal/errors"
	"gopkg.in/yaml.v3"
)

const durationPattern = `^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`

// definitionSchema catches structural mistakes (unknown keys, wrong types)
// before the YAML is decoded onto the defaults.
var definitionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "definitions": {
    "duration": {"type": "string", "pattern": "` + durationPattern + `"},
    "poll": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "poll_interval": {"$ref": "#/definitions/duration"},
        "max_wait": {"$ref": "#/definitions/duration"}
      }
    }
  },
  "properties": {
    "vault": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "url": {"type": "string"},
        "name": {"type": "string"},
        "auth": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "method": {"enum": ["default", "managed_identity", "client_secret"]},
            "tenant_id": {"type": "string"},
            "client_id": {"type": "string"},
            "client_secret": {"type": "string"},
            "user_assigned_identity_id": {"type": "string"}
          }
        }
      }
    },
    "rotation": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "threshold_days": {"type": "integer", "minimum": 0},
        "interactive": {"$ref": "#/definitions/poll"},
        "scheduled": {"$ref": "#/definitions/poll"},
        "schedule": {"type": "string"},
        "run_on_start": {"type": "boolean"},
        "submit_retries": {"type": "integer", "minimum": 0}
      }
    },
    "issuance": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "issuer": {"type": "string"},
        "subject_template": {"type": "string"},
        "validity_months": {"type": "integer", "minimum": 1},
        "key_type": {"enum": ["RSA", "RSA-HSM", "EC", "EC-HSM"]},
        "key_size": {"type": "integer"},
        "exportable": {"type": "boolean"},
        "reuse_key": {"type": "boolean"},
        "key_usages": {"type": "array", "items": {"type": "string"}},
        "extended_key_usages": {"type": "array", "items": {"type": "string"}},
        "content_type": {"type": "string"}
      }
    },
    "server": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "listen": {"type": "string"},
        "path": {"type": "string"},
        "metrics_path": {"type": "string"},
        "read_timeout": {"$ref": "#/definitions/duration"},
        "write_timeout": {"$ref": "#/definitions/duration"}
      }
    },
    "storage": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "dir": {"type": "string"},
        "retention": {"$ref": "#/definitions/duration"},
        "disabled": {"type": "boolean"}
      }
    },
    "notifications": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "queue_size": {"type": "integer", "minimum": 1},
        "webhooks": {
          "type": "array",
          "items": {
            "type": "object",
            "additionalProperties": false,
            "required": ["url"],
            "properties": {
              "name": {"type": "string"},
              "url": {"type": "string"},
              "method": {"type": "string"},
              "headers": {"type": "object", "additionalProperties": {"type": "string"}},
              "events": {"type": "array", "items": {"enum": ["rotated", "rotation_failed", "rotation_timed_out", "sweep_completed"]}},
              "timeout": {"$ref": "#/definitions/duration"},
              "max_attempts": {"type": "integer", "minimum": 1}
            }
          }
        }
      }
    }
  }
}`

func validateSchema(data []byte) error {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return dserrors.ConfigError{
			Message:    fmt.Sprintf("invalid YAML: %v", err),
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}
	if raw == nil {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(definitionSchema),
		gojsonschema.NewGoLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var messages []string
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}
		return dserrors.ConfigError{
			Message:    "configuration does not match schema: " + strings.Join(messages, "; "),
			Suggestion: "Remove unknown keys and check value types",
		}
	}

	return nil
}
