// Package interop implements signed cross-node messaging: envelope
// construction and verification, replay defense, direct and hub-routed
// delivery, and relay forwarding.
package interop

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/famlabs/agentnode/pkg/canonicalize"
)

// Envelope is the wire unit exchanged between nodes. Signature covers the
// canonical serialization of the six core fields; signer and the v2 fields
// ride outside the signed body.
type Envelope struct {
	Source    string         `json:"source"`
	Target    string         `json:"target"`
	TaskType  string         `json:"task_type"`
	Payload   map[string]any `json:"payload"`
	Nonce     string         `json:"nonce"`
	Timestamp int64          `json:"timestamp"`
	Signature string         `json:"signature"`

	Signer         string `json:"signer,omitempty"`
	SignatureV2    string `json:"signature_v2,omitempty"`
	SignatureV2Alg string `json:"signature_v2_alg,omitempty"`
}

// CanonicalBody returns the canonical JSON the signatures cover: the object
// {nonce, payload, source, target, task_type, timestamp} with sorted keys and
// no insignificant whitespace.
func (e *Envelope) CanonicalBody() ([]byte, error) {
	body := map[string]any{
		"source":    e.Source,
		"target":    e.Target,
		"task_type": e.TaskType,
		"payload":   e.Payload,
		"nonce":     e.Nonce,
		"timestamp": e.Timestamp,
	}
	return canonicalize.Marshal(body)
}

const envelopeSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["source", "target", "task_type", "payload", "nonce", "timestamp", "signature"],
  "properties": {
    "source": {"type": "string", "minLength": 1},
    "target": {"type": "string", "minLength": 1},
    "task_type": {"type": "string", "minLength": 1, "maxLength": 128},
    "payload": {"type": "object"},
    "nonce": {"type": "string", "pattern": "^[0-9a-f]{32}$"},
    "timestamp": {"type": "integer"},
    "signature": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
    "signer": {"type": "string"},
    "signature_v2": {"type": "string"},
    "signature_v2_alg": {"type": "string", "enum": ["ed25519"]}
  }
}`

var envelopeSchema = jsonschema.MustCompileString("envelope.json", envelopeSchemaJSON)

// ValidateSchema checks structural validity of a decoded envelope document.
// Field-level failures come back as a SchemaError.
func ValidateSchema(doc any) error {
	if err := envelopeSchema.Validate(doc); err != nil {
		return &SchemaError{Detail: strings.TrimSpace(err.Error())}
	}
	return nil
}

// DecodeEnvelope parses raw JSON into an Envelope after schema validation.
func DecodeEnvelope(raw json.RawMessage) (Envelope, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Envelope{}, &SchemaError{Detail: err.Error()}
	}
	if err := ValidateSchema(doc); err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, &SchemaError{Detail: err.Error()}
	}
	return env, nil
}

// EncodeEnvelope renders env as a JSON document, the inverse of
// DecodeEnvelope.
func EncodeEnvelope(env Envelope) (json.RawMessage, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return raw, nil
}
