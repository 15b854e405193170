package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// configSchema rejects structurally broken config files before decoding.
// Semantic checks (required URLs, positive intervals) happen in check().
const configSchema = `{
  "type": "object",
  "properties": {
    "datacenters": {
      "type": "object",
      "properties": {
        "primary": {"$ref": "#/definitions/datacenter"},
        "secondary": {"$ref": "#/definitions/datacenter"}
      }
    },
    "monitoring": {
      "type": "object",
      "properties": {
        "pollInterval": {"type": "string"},
        "sourceTimeout": {"type": "string"},
        "stabilizationDelay": {"type": "string"},
        "safetyFactor": {"type": "number", "minimum": 1},
        "metricPatterns": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["name"],
            "properties": {
              "name": {"type": "string"},
              "threshold": {"type": "number"}
            }
          }
        },
        "logPatterns": {"type": "array", "items": {"type": "string"}},
        "maxLogLines": {"type": "integer", "minimum": 1}
      }
    },
    "faults": {
      "type": "object",
      "properties": {
        "ssh": {
          "type": "object",
          "properties": {
            "username": {"type": "string"},
            "password": {"type": "string"},
            "privateKeyPath": {"type": "string"},
            "connectTimeout": {"type": "string"},
            "hosts": {
              "type": "object",
              "additionalProperties": {
                "type": "object",
                "required": ["hostname"],
                "properties": {
                  "hostname": {"type": "string"},
                  "port": {"type": "integer"},
                  "username": {"type": "string"},
                  "password": {"type": "string"},
                  "privateKeyPath": {"type": "string"}
                }
              }
            }
          }
        },
        "network": {
          "type": "object",
          "properties": {
            "interfaces": {"type": "object", "additionalProperties": {"type": "string"}},
            "primaryNetwork": {"type": "string"}
          }
        },
        "cleanupRetries": {"type": "integer", "minimum": 0},
        "cleanupBackoff": {"type": "string"}
      }
    },
    "data": {
      "type": "object",
      "properties": {
        "batchSize": {"type": "integer", "minimum": 1},
        "ratePerSecond": {"type": "number", "minimum": 0},
        "timeout": {"type": "string"}
      }
    },
    "thresholds": {
      "type": "object",
      "properties": {
        "rtoSeconds": {"type": "number", "minimum": 0},
        "rpoLossPercent": {"type": "number", "minimum": 0, "maximum": 100}
      }
    },
    "logging": {
      "type": "object",
      "properties": {
        "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
        "json": {"type": "boolean"}
      }
    },
    "metrics": {
      "type": "object",
      "properties": {"address": {"type": "string"}}
    }
  },
  "definitions": {
    "datacenter": {
      "type": "object",
      "properties": {
        "apiURL": {"type": "string"},
        "authToken": {"type": "string"},
        "instanceID": {"type": "string"},
        "jobID": {"type": "string"},
        "timeout": {"type": "string"}
      }
    }
  }
}`

const scenarioSchema = `{
  "type": "object",
  "required": ["id", "faultType"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "faultType": {
      "type": "string",
      "enum": [
        "network_partition", "network_latency", "network_packet_loss",
        "network_bandwidth", "process_kill", "process_hang",
        "resource_exhaustion", "api_stop_job", "api_cancel_job"
      ]
    },
    "target": {
      "type": "object",
      "properties": {
        "host": {"type": "string"},
        "network": {"type": "string"},
        "interface": {"type": "string"},
        "processName": {"type": "string"},
        "datacenter": {"type": "string", "enum": ["primary", "secondary"]}
      }
    },
    "latencyMs": {"type": "integer", "minimum": 1},
    "packetLossPercent": {"type": "number", "minimum": 0, "maximum": 100},
    "bandwidthLimitKbps": {"type": "integer", "minimum": 1},
    "resource": {"type": "string", "enum": ["cpu", "memory", "disk"]},
    "expectedRecoveryTime": {"type": "string"},
    "expectedLossPercent": {"type": "number", "minimum": 0, "maximum": 100},
    "eventCount": {"type": "integer", "minimum": 0}
  }
}`

// validateDocument checks a YAML document against a JSON schema. The YAML is
// round-tripped through JSON because the schema library only speaks JSON.
func validateDocument(data []byte, schema string) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if doc == nil {
		return nil
	}

	jsonDoc, err := json.Marshal(normalizeKeys(doc))
	if err != nil {
		return fmt.Errorf("convert to JSON: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(jsonDoc),
	)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if result.Valid() {
		return nil
	}

	issues := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		issues = append(issues, desc.String())
	}
	return fmt.Errorf("schema violations: %s", strings.Join(issues, "; "))
}

// normalizeKeys converts map[any]any trees (as produced for some YAML
// shapes) into map[string]any so they survive json.Marshal.
func normalizeKeys(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeKeys(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalizeKeys(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeKeys(item)
		}
		return out
	default:
		return v
	}
}
