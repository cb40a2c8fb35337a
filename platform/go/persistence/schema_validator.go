package persistence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaValidationError carries the structured result of a failed property
// validation. It satisfies the error interface so services can surface it via
// errors.As.
type SchemaValidationError struct {
	Issues []SchemaIssue
}

// SchemaIssue is one failed schema check, located by JSON Pointer.
type SchemaIssue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Keyword string `json:"keyword"`
}

func (e *SchemaValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "schema validation failed"
	}
	return fmt.Sprintf("schema validation failed: %s at %q", e.Issues[0].Message, e.Issues[0].Path)
}

// SchemaValidator validates property bags against per-type JSON Schema
// Draft-07 documents, caching compiled schemas by type id and schema hash.
type SchemaValidator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewSchemaValidator returns a validator with an empty schema cache.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{
		cache: make(map[string]*jsonschema.Schema),
	}
}

// Validate checks the document against the type's schema. A type without a
// schema accepts any document. Returns *SchemaValidationError on failure.
func (v *SchemaValidator) Validate(typeRecord TypeRecord, document json.RawMessage) error {
	if len(typeRecord.JSONSchema) == 0 {
		return nil
	}
	if len(document) == 0 {
		document = json.RawMessage(`{}`)
	}

	compiled, err := v.getOrCompile(typeRecord.ID, typeRecord.JSONSchema)
	if err != nil {
		return err
	}

	var decoded any
	if err := json.Unmarshal(document, &decoded); err != nil {
		return fmt.Errorf("decode properties: %w", err)
	}

	if err := compiled.Validate(decoded); err != nil {
		var validationErr *jsonschema.ValidationError
		if errors.As(err, &validationErr) {
			return &SchemaValidationError{Issues: flattenIssues(validationErr)}
		}
		return fmt.Errorf("schema validation: %w", err)
	}

	return nil
}

func (v *SchemaValidator) getOrCompile(typeID uuid.UUID, schema json.RawMessage) (*jsonschema.Schema, error) {
	hash, err := CanonicalHash(schema)
	if err != nil {
		return nil, fmt.Errorf("hash schema for type %s: %w", typeID, err)
	}
	key := fmt.Sprintf("memory://types/%s/%s", typeID, hash)

	v.mu.RLock()
	compiled, ok := v.cache[key]
	v.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	// another goroutine may have populated the cache while we were waiting
	if compiled, ok = v.cache[key]; ok {
		return compiled, nil
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	if err := compiler.AddResource(key, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("register schema %s: %w", key, err)
	}

	newCompiled, err := compiler.Compile(key)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", key, err)
	}

	v.cache[key] = newCompiled
	return newCompiled, nil
}

// flattenIssues walks the cause tree and keeps the leaves, which carry the
// most specific instance location and message.
func flattenIssues(err *jsonschema.ValidationError) []SchemaIssue {
	if len(err.Causes) == 0 {
		return []SchemaIssue{{
			Path:    instancePointer(err.InstanceLocation),
			Message: err.Message,
			Keyword: keywordFromLocation(err.KeywordLocation),
		}}
	}

	var issues []SchemaIssue
	for _, cause := range err.Causes {
		issues = append(issues, flattenIssues(cause)...)
	}
	return issues
}

func instancePointer(location string) string {
	if location == "" {
		return "/"
	}
	return location
}

// keywordFromLocation extracts the failing keyword from a keyword location
// like "/properties/age/minimum", skipping structural segments such as array
// indexes and the property name under "properties".
func keywordFromLocation(location string) string {
	segments := strings.Split(location, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		segment := segments[i]
		if segment == "" || isAllDigits(segment) {
			continue
		}
		if i > 0 && (segments[i-1] == "properties" || segments[i-1] == "definitions") {
			continue
		}
		return segment
	}
	return ""
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
