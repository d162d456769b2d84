package job

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// envelopeSchemaJSON describes the known fields of the wire envelope
// (spec.md §3); fields it does not list are not rejected. Decode
// validates against it before any
// struct-specific unmarshalling, so a malformed payload fails with one
// uniform error rather than an incidental field-by-field one.
const envelopeSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["jid", "class"],
  "properties": {
    "jid": {"type": "string", "minLength": 1},
    "class": {"type": "string", "minLength": 1},
    "args": {"type": ["array", "object"]},
    "queue": {"type": "string"},
    "retry": {"type": ["boolean", "integer"]},
    "retry_count": {"type": "integer", "minimum": 0},
    "at": {"type": "number"},
    "created_at": {"type": "number"},
    "enqueued_at": {"type": "number"},
    "failed_at": {"type": "number"},
    "retried_at": {"type": "number"},
    "error_class": {"type": "string"},
    "error_message": {"type": "string"},
    "unique_for": {"type": "integer"},
    "unique_until": {"type": "string"},
    "unique_token": {"type": "string"},
    "unlocks_at": {"type": "integer"}
  }
}`

var (
	envelopeSchemaOnce sync.Once
	envelopeSchema     *jsonschema.Schema
	envelopeSchemaErr  error
)

func compiledEnvelopeSchema() (*jsonschema.Schema, error) {
	envelopeSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("inmemory://job-envelope.json", bytes.NewReader([]byte(envelopeSchemaJSON))); err != nil {
			envelopeSchemaErr = fmt.Errorf("job: add envelope schema: %w", err)
			return
		}
		envelopeSchema, envelopeSchemaErr = compiler.Compile("inmemory://job-envelope.json")
	})
	return envelopeSchema, envelopeSchemaErr
}

// validateEnvelope reports whether payload satisfies the envelope
// schema. A JSON syntax error and a schema violation are both
// reported as the same kind of error to the caller: both mean the
// payload can never become a valid Job.
func validateEnvelope(payload []byte) error {
	schema, err := compiledEnvelopeSchema()
	if err != nil {
		return err
	}
	var v interface{}
	if err := json.Unmarshal(payload, &v); err != nil {
		return fmt.Errorf("job: decode: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("job: envelope validation: %w", err)
	}
	return nil
}
