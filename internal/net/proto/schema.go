package proto

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// joinSchema is the authoritative shape of the join handshake. Keeping it a
// JSON schema (rather than ad-hoc field checks) lets non-Go clients validate
// against the identical document; cmd/schemagen regenerates it from the Go
// struct.
const joinSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["ver", "type", "name"],
  "properties": {
    "ver": {"type": "integer", "minimum": 1},
    "type": {"const": "join"},
    "name": {"type": "string", "minLength": 1, "maxLength": 32}
  },
  "additionalProperties": false
}`

var compiledJoinSchema = jsonschema.MustCompileString("join.schema.json", joinSchema)

// ValidateJoin checks a raw join frame against the handshake schema and
// returns the decoded request on success.
func ValidateJoin(raw []byte) (JoinRequest, error) {
	var req JoinRequest

	var generic any
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&generic); err != nil {
		return req, fmt.Errorf("join frame: %w", err)
	}
	if err := compiledJoinSchema.Validate(generic); err != nil {
		return req, fmt.Errorf("join frame: %w", err)
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("join frame: %w", err)
	}
	if req.Ver != Version {
		return req, fmt.Errorf("join frame: protocol version %d, want %d", req.Ver, Version)
	}
	return req, nil
}
