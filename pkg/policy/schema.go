package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/praxis-labs/vigil/pkg/contracts"
)

// ErrInvalidRequest indicates a malformed intent. It is raised before
// any policy runs — a partial evaluation is never surfaced.
var ErrInvalidRequest = errors.New("invalid request")

// intentSchema is the structural contract every submitted intent must
// satisfy before policy evaluation begins.
const intentSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["action", "agent_id", "subject", "resource"],
	"properties": {
		"action": {"type": "string", "minLength": 1},
		"agent_id": {"type": "string", "minLength": 1},
		"subject": {
			"type": "object",
			"required": ["user_id", "identity_id"],
			"properties": {
				"user_id": {"type": "string", "minLength": 1},
				"identity_id": {"type": "string", "minLength": 1},
				"roles": {"type": "array", "items": {"type": "string"}}
			}
		},
		"resource": {
			"type": "object",
			"required": ["type", "id", "sphere"],
			"properties": {
				"type": {"type": "string", "minLength": 1},
				"id": {"type": "string", "minLength": 1},
				"sphere": {"type": "string", "minLength": 1},
				"public": {"type": "boolean"}
			}
		},
		"payload": {"type": "object"},
		"context": {"type": "object"},
		"specialization": {"type": "string"},
		"synapse_chain": {"type": "array", "items": {"type": "string"}}
	}
}`

func compileIntentSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://vigil.schemas.local/intent.schema.json"
	if err := c.AddResource(url, strings.NewReader(intentSchema)); err != nil {
		panic(fmt.Sprintf("policy: intent schema resource: %v", err))
	}
	return c.MustCompile(url)
}

// validateIntent checks the structural contract. The intent is round-
// tripped through JSON so the schema sees exactly the wire shape.
func validateIntent(schema *jsonschema.Schema, intent contracts.Intent) error {
	raw, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := schema.Validate(generic); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}
