package bus

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaCache compiles each distinct schema document once.
type schemaCache struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

func newSchemaCache() *schemaCache {
	return &schemaCache{compiled: make(map[string]*jsonschema.Schema)}
}

func (c *schemaCache) get(name string, doc json.RawMessage) (*jsonschema.Schema, error) {
	key := string(doc)

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.compiled[key]; ok {
		return s, nil
	}

	var schemaDoc any
	if err := json.Unmarshal(doc, &schemaDoc); err != nil {
		return nil, fmt.Errorf("unmarshal schema %q: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name+".json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource %q: %w", name, err)
	}
	s, err := compiler.Compile(name + ".json")
	if err != nil {
		return nil, fmt.Errorf("compile schema %q: %w", name, err)
	}
	c.compiled[key] = s
	return s, nil
}

// validate checks raw against the schema.
func (c *schemaCache) validate(name string, doc, raw json.RawMessage) error {
	s, err := c.get(name, doc)
	if err != nil {
		return err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("output is not JSON: %w", err)
	}
	return s.Validate(payload)
}
