package engine

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ingressSchema is the wire contract for the ingress envelope. Violations
// are malformed input: acknowledged, counted, never redelivered.
const ingressSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["org_id", "bundle", "application", "event_type", "events"],
	"properties": {
		"version": {"type": "string"},
		"org_id": {"type": "string", "minLength": 1},
		"bundle": {"type": "string", "minLength": 1},
		"application": {"type": "string", "minLength": 1},
		"event_type": {"type": "string", "minLength": 1},
		"timestamp": {"type": "string"},
		"context": {"type": "object"},
		"events": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["payload"],
				"properties": {
					"metadata": {"type": "object"},
					"payload": {"type": "object"}
				}
			}
		},
		"recipients": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"only_admins": {"type": "boolean"},
					"ignore_user_preferences": {"type": "boolean"},
					"users": {"type": "array", "items": {"type": "string"}}
				}
			}
		}
	}
}`

// EnvelopeValidator checks raw ingress bodies against the envelope schema.
type EnvelopeValidator struct {
	schema *jsonschema.Schema
}

func NewEnvelopeValidator() (*EnvelopeValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(ingressSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ingress schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("ingress.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add ingress schema: %w", err)
	}
	schema, err := compiler.Compile("ingress.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile ingress schema: %w", err)
	}

	return &EnvelopeValidator{schema: schema}, nil
}

// Validate returns an error for bodies that are not valid envelopes.
func (v *EnvelopeValidator) Validate(body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := v.schema.Validate(inst); err != nil {
		return fmt.Errorf("invalid envelope: %w", err)
	}
	return nil
}
