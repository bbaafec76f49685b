package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const decideSchemaURL = "https://helm.schemas.local/rem/decide-request.schema.json"

// decideRequestSchema accepts even-length hex strings. Lengths are left to
// the gate so that short or empty inputs surface as HashMismatch.
const decideRequestSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["intent_hash", "signature", "verifying_key"],
	"additionalProperties": false,
	"properties": {
		"intent_hash":   {"type": "string", "pattern": "^(sha256:)?([0-9a-fA-F]{2})*$", "maxLength": 71},
		"signature":     {"type": "string", "pattern": "^([0-9a-fA-F]{2})*$", "maxLength": 512},
		"verifying_key": {"type": "string", "pattern": "^([0-9a-fA-F]{2})*$", "maxLength": 260},
		"now_ms":        {"type": "integer", "minimum": 0, "maximum": 18446744073709551615}
	}
}`

const custodianKeySchemaURL = "https://helm.schemas.local/rem/custodian-key.schema.json"

const custodianKeySchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["custodian_id", "key_id", "public_key"],
	"additionalProperties": false,
	"properties": {
		"custodian_id": {"type": "string", "minLength": 1, "maxLength": 128},
		"key_id":       {"type": "string", "minLength": 1, "maxLength": 128},
		"public_key":   {"type": "string", "pattern": "^([0-9a-fA-F]{2})+$", "maxLength": 130}
	}
}`

const rotateKeySchemaURL = "https://helm.schemas.local/rem/rotate-key.schema.json"

const rotateKeySchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["public_key"],
	"additionalProperties": false,
	"properties": {
		"public_key": {"type": "string", "pattern": "^([0-9a-fA-F]{2})+$", "maxLength": 130}
	}
}`

var (
	decideValidator       = mustCompile(decideSchemaURL, decideRequestSchema)
	custodianKeyValidator = mustCompile(custodianKeySchemaURL, custodianKeySchema)
	rotateKeyValidator    = mustCompile(rotateKeySchemaURL, rotateKeySchema)
)

func mustCompile(url, schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("schema load failed: %v", err))
	}
	return c.MustCompile(url)
}

// decodeValidated reads a JSON body, validates it against schema and decodes
// it into dst.
func decodeValidated(body io.Reader, schema *jsonschema.Schema, dst any) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
