package generateimage

import (
	"fmt"
	"reflect"

	"comfyui-workers/internal/common/errors"
	"comfyui-workers/internal/common/validation"
	"comfyui-workers/internal/workflow"
)

// overrideCheckOrder is the order violations are reported in.
var overrideCheckOrder = []string{"width", "height", "steps", "cfg", "seed", "prompt"}

func GetOverridesSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type: "object",
		Properties: map[string]validation.Property{
			"prompt": {Type: "string", Description: "Positive prompt text", Nullable: true},
			"width":  {Type: "number", Description: "Image width in pixels", Nullable: true},
			"height": {Type: "number", Description: "Image height in pixels", Nullable: true},
			"steps":  {Type: "number", Description: "Sampler steps", Nullable: true},
			"cfg":    {Type: "number", Description: "Guidance scale", Nullable: true},
			"seed":   {Type: "number", Description: "Seed; null draws a random one", Nullable: true},
		},
	}
}

// ParseEvent validates a decoded job event and extracts its input.
func ParseEvent(event interface{}) (*Input, error) {
	eventMap, ok := event.(map[string]interface{})
	if !ok {
		return nil, errors.NewValidationError("Event must be a dictionary")
	}

	input := &Input{}

	raw, present := eventMap["input"]
	if !present {
		return input, nil
	}
	inputMap, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errors.NewValidationError("Event input must be a dictionary")
	}

	if wf, present := inputMap["workflow"]; present && wf != nil {
		wfMap, ok := wf.(map[string]interface{})
		if !ok {
			return nil, errors.NewValidationError("Workflow must be a dictionary")
		}
		if len(wfMap) > 0 {
			input.Workflow = workflow.Document(wfMap)
		}
	}

	if ov, present := inputMap["overrides"]; present && !isEmpty(ov) {
		overrides, ok := ov.(map[string]interface{})
		if !ok {
			return nil, errors.NewValidationError("Overrides must be a dictionary")
		}
		if err := validateOverrides(overrides); err != nil {
			return nil, err
		}
		input.Overrides = overrides
	}

	return input, nil
}

func validateOverrides(overrides map[string]interface{}) error {
	result := validation.ValidateInput(overrides, GetOverridesSchema())
	if result.Valid {
		return nil
	}
	for _, field := range overrideCheckOrder {
		if errs := result.GetErrorsForField(field); len(errs) > 0 {
			return errors.NewValidationError(fmt.Sprintf("Parameter '%s' must be a %s", field, errs[0].Expected))
		}
	}
	return errors.NewValidationError(result.Errors[0].Message)
}

// isEmpty reports values a caller can send to mean "no overrides".
func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.String:
		return rv.Len() == 0
	case reflect.Bool:
		return !rv.Bool()
	case reflect.Float64, reflect.Float32:
		return rv.Float() == 0
	case reflect.Int, reflect.Int64, reflect.Int32:
		return rv.Int() == 0
	}
	return false
}
