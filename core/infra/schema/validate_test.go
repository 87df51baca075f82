package schema

import (
	"encoding/json"
	"testing"
)

var planSchema = []byte(`{
	"type": "object",
	"required": ["tasks_per_month", "rate_per_second"],
	"properties": {
		"tasks_per_month": {"type": "integer", "minimum": -1},
		"rate_per_second": {"type": "number", "exclusiveMinimum": 0}
	},
	"additionalProperties": false
}`)

func TestValidateSchema(t *testing.T) {
	ok := map[string]any{"tasks_per_month": 20, "rate_per_second": 0.03}
	if err := ValidateSchema("plan", planSchema, ok); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}

	bad := map[string]any{"tasks_per_month": 20, "rate_per_second": 0.03, "extra": true}
	if err := ValidateSchema("plan", planSchema, bad); err == nil {
		t.Fatal("unexpected property must be rejected")
	}

	missing := map[string]any{"tasks_per_month": 20}
	if err := ValidateSchema("plan", planSchema, missing); err == nil {
		t.Fatal("missing required property must be rejected")
	}
}

func TestValidateSchemaRawPayloads(t *testing.T) {
	raw := json.RawMessage(`{"tasks_per_month": -1, "rate_per_second": 0.5}`)
	if err := ValidateSchema("plan", planSchema, raw); err != nil {
		t.Fatalf("raw json payload rejected: %v", err)
	}

	bytesPayload := []byte(`{"tasks_per_month": 100, "rate_per_second": 0.1}`)
	if err := ValidateSchema("plan", planSchema, bytesPayload); err != nil {
		t.Fatalf("bytes payload rejected: %v", err)
	}

	if err := ValidateSchema("plan", planSchema, []byte("{not json")); err == nil {
		t.Fatal("malformed raw payload must be rejected")
	}
}

func TestValidateSchemaEmpty(t *testing.T) {
	if err := ValidateSchema("plan", nil, nil); err == nil {
		t.Fatal("nil schema must be rejected")
	}
	if err := ValidateSchema("plan", []byte{}, nil); err == nil {
		t.Fatal("empty schema must be rejected")
	}
}
