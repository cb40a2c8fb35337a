package persistence

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func personType(t *testing.T) TypeRecord {
	t.Helper()
	return TypeRecord{
		ID:       uuid.New(),
		Name:     "person",
		Category: CategoryEntity,
		JSONSchema: json.RawMessage(`{
			"type": "object",
			"required": ["name"],
			"additionalProperties": false,
			"properties": {
				"name": {"type": "string", "minLength": 1},
				"age": {"type": "number", "minimum": 0, "maximum": 150},
				"role": {"enum": ["admin", "member"]},
				"tags": {"type": "array", "items": {"type": "string"}, "maxItems": 3}
			}
		}`),
	}
}

func TestSchemaValidatorAccepts(t *testing.T) {
	t.Parallel()

	validator := NewSchemaValidator()
	err := validator.Validate(personType(t), json.RawMessage(`{"name":"ada","age":36,"role":"admin","tags":["x"]}`))
	require.NoError(t, err)
}

func TestSchemaValidatorNullSchemaAcceptsAnything(t *testing.T) {
	t.Parallel()

	validator := NewSchemaValidator()
	typeRecord := TypeRecord{ID: uuid.New(), Name: "freeform", Category: CategoryEntity}

	require.NoError(t, validator.Validate(typeRecord, json.RawMessage(`{"anything":["goes",1,null]}`)))
	require.NoError(t, validator.Validate(typeRecord, nil))
}

func TestSchemaValidatorRejectsWithIssues(t *testing.T) {
	t.Parallel()

	validator := NewSchemaValidator()
	err := validator.Validate(personType(t), json.RawMessage(`{"age":-4}`))
	require.Error(t, err)

	var validationErr *SchemaValidationError
	require.ErrorAs(t, err, &validationErr)
	require.NotEmpty(t, validationErr.Issues)

	paths := make(map[string]bool)
	for _, issue := range validationErr.Issues {
		require.NotEmpty(t, issue.Message)
		paths[issue.Path] = true
	}
	// missing required "name" reported at the root, minimum violation at /age
	require.True(t, paths["/"] || paths["/age"], "expected a pointer to the failing location, got %v", paths)
}

func TestSchemaValidatorRejectsUnknownProperty(t *testing.T) {
	t.Parallel()

	validator := NewSchemaValidator()
	err := validator.Validate(personType(t), json.RawMessage(`{"name":"ada","nickname":"countess"}`))

	var validationErr *SchemaValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestSchemaValidatorMalformedDocument(t *testing.T) {
	t.Parallel()

	validator := NewSchemaValidator()
	err := validator.Validate(personType(t), json.RawMessage(`{"name":`))
	require.Error(t, err)

	var validationErr *SchemaValidationError
	require.False(t, errorsAs(err, &validationErr))
}

func errorsAs(err error, target **SchemaValidationError) bool {
	v, ok := err.(*SchemaValidationError)
	if ok {
		*target = v
	}
	return ok
}

func TestSchemaValidatorCompileCache(t *testing.T) {
	t.Parallel()

	validator := NewSchemaValidator()
	typeRecord := personType(t)

	require.NoError(t, validator.Validate(typeRecord, json.RawMessage(`{"name":"a"}`)))
	require.NoError(t, validator.Validate(typeRecord, json.RawMessage(`{"name":"b"}`)))

	validator.mu.RLock()
	defer validator.mu.RUnlock()
	require.Len(t, validator.cache, 1)
}
