package persona

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.yaml.in/yaml/v3"
)

//go:embed schema.json
var schemaJSON string

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.CompileString("persona.schema.json", schemaJSON)
	})
	return compiledSchema, schemaErr
}

// LoadFile reads a YAML persona, validates it and fills omitted fields from Default.
func LoadFile(path string) (Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("persona: failed to read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates and decodes a YAML persona document.
func Parse(data []byte) (Persona, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Persona{}, fmt.Errorf("persona: invalid YAML: %w", err)
	}
	if raw == nil {
		return Default(), nil
	}

	// The validator expects encoding/json shaped values (float64 numbers, string keys).
	normalized, err := json.Marshal(raw)
	if err != nil {
		return Persona{}, fmt.Errorf("persona: failed to normalize document: %w", err)
	}
	var doc any
	if err := json.Unmarshal(normalized, &doc); err != nil {
		return Persona{}, fmt.Errorf("persona: failed to normalize document: %w", err)
	}

	s, err := schema()
	if err != nil {
		return Persona{}, fmt.Errorf("persona: failed to compile schema: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return Persona{}, fmt.Errorf("persona: validation failed: %w", err)
	}

	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("persona: failed to decode: %w", err)
	}
	var set explicit
	if err := yaml.Unmarshal(data, &set); err != nil {
		return Persona{}, fmt.Errorf("persona: failed to decode: %w", err)
	}
	return p.withDefaults(set), nil
}
