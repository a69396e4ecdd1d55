package validate

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

// Schema is a JSON schema compiled on first use.
type Schema struct {
	name string
	raw  []byte

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

func New(name string, raw []byte) *Schema {
	return &Schema{name: name, raw: raw}
}

func (s *Schema) Name() string {
	return s.name
}

func (s *Schema) Validate(data []byte) error {
	compiled, err := s.compile()
	if err != nil {
		return err
	}
	result := compiled.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("%s schema validation failed: %s", s.name, describe(result.Errors))
}

func (s *Schema) compile() (*jsonschema.Schema, error) {
	s.once.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.AssertFormat = true
		compiled, err := compiler.Compile(s.raw)
		if err != nil {
			s.err = fmt.Errorf("compile %s schema: %w", s.name, err)
			return
		}
		s.compiled = compiled
	})
	return s.compiled, s.err
}

func describe[V any](details map[string]V) string {
	if len(details) == 0 {
		return "invalid document"
	}
	keys := make([]string, 0, len(details))
	for key := range details {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", key, details[key]))
	}
	return strings.Join(parts, "; ")
}
