package session

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaURL = "session.schema.json"

//go:embed session.schema.json
var schemaDocument []byte

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func sessionSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaDocument))
		if err != nil {
			schemaErr = fmt.Errorf("session: decode schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("session: add schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// decodeSession validates data against the session schema before decoding it.
// Any failure is reported as ErrInvalidSession.
func decodeSession(data []byte) (*Session, error) {
	schema, err := sessionSchema()
	if err != nil {
		return nil, err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if sess.Context == nil {
		sess.Context = map[string]any{}
	}
	if sess.Agents == nil {
		sess.Agents = []AgentResult{}
	}
	return &sess, nil
}
