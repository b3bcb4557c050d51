package validation

import (
	"fmt"
	"sort"

	"github.com/xeipuuv/gojsonschema"
)

// JSONSchema declares the typed fields of a flat JSON object. Keys without
// a property are accepted as is.
type JSONSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
}

type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Nullable    bool   `json:"nullable,omitempty"` // null passes the type check
}

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	// Expected is the declared type for INVALID_TYPE errors.
	Expected string `json:"expected,omitempty"`
}

// ValidateInput type-checks every declared field present in input.
func ValidateInput(input map[string]interface{}, schema JSONSchema) *ValidationResult {
	errors := []ValidationError{}

	for fieldName, value := range input {
		prop, exists := schema.Properties[fieldName]
		if !exists {
			continue
		}
		if value == nil && prop.Nullable {
			continue
		}
		if typeErr := validateType(value, prop.Type); typeErr != nil {
			errors = append(errors, ValidationError{
				Field:    fieldName,
				Message:  typeErr.Error(),
				Code:     "INVALID_TYPE",
				Expected: prop.Type,
			})
		}
	}

	// map iteration order is random; keep reports stable
	sort.SliceStable(errors, func(i, j int) bool { return errors[i].Field < errors[j].Field })

	return &ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}

func validateType(value interface{}, expectedType string) error {
	switch expectedType {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
	case "number":
		if _, ok := toFloat(value); !ok {
			return fmt.Errorf("expected number, got %T", value)
		}
	default:
		return fmt.Errorf("unsupported schema type %q", expectedType)
	}
	return nil
}

// GetErrorsForField returns errors for a specific field
func (vr *ValidationResult) GetErrorsForField(field string) []ValidationError {
	var fieldErrors []ValidationError
	for _, err := range vr.Errors {
		if err.Field == field {
			fieldErrors = append(fieldErrors, err)
		}
	}
	return fieldErrors
}

// ValidateDocument checks an arbitrary decoded JSON value against a raw JSON
// schema document and returns one message per violation.
func ValidateDocument(schemaJSON string, document interface{}) ([]string, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewGoLoader(document),
	)
	if err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}
	return messages, nil
}

// toFloat accepts the numeric kinds a decoded or hand-built event can carry.
// bool is not a number.
func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
