package validate

import (
	"strings"
	"testing"
)

const widgetSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "name"],
  "properties": {
    "id": {"type": "integer", "minimum": 1},
    "name": {"type": "string", "minLength": 1}
  }
}`

func TestSchemaValidate(t *testing.T) {
	schema := New("widget", []byte(widgetSchema))
	if schema.Name() != "widget" {
		t.Fatalf("unexpected schema name: %s", schema.Name())
	}
	if err := schema.Validate([]byte(`{"id":1,"name":"a"}`)); err != nil {
		t.Fatalf("expected valid document, got %v", err)
	}
	err := schema.Validate([]byte(`{"id":0}`))
	if err == nil {
		t.Fatalf("expected invalid document to fail")
	}
	if !strings.Contains(err.Error(), "widget schema validation failed") {
		t.Fatalf("unexpected error text: %v", err)
	}
}

func TestSchemaCompileErrorIsSticky(t *testing.T) {
	schema := New("broken", []byte(`{"type":`))
	first := schema.Validate([]byte(`{}`))
	second := schema.Validate([]byte(`{}`))
	if first == nil || second == nil {
		t.Fatalf("expected compile errors, got %v / %v", first, second)
	}
	if first.Error() != second.Error() {
		t.Fatalf("expected identical compile errors, got %v / %v", first, second)
	}
}
