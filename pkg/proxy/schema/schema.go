// SPDX-FileCopyrightText: Copyright 2026 toolgate contributors
// SPDX-License-Identifier: Apache-2.0

// Package schema validates tool call arguments against the tool's JSON
// Schema before anything touches the network. Validation coerces values
// where a conversion is unambiguous, so "42" satisfies an integer parameter
// and "true" satisfies a boolean one.
package schema

import (
	"fmt"
	"math"
	"strconv"

	"github.com/ngardiner/toolgate/pkg/proxy"
)

// Validator checks arguments for one tool.
type Validator struct {
	toolName   string
	properties map[string]any
	required   []string
}

// NewValidator creates a validator from a tool's input schema. The schema is
// assumed well-formed; tool construction compiled it already.
func NewValidator(toolName string, inputSchema map[string]any) *Validator {
	v := &Validator{toolName: toolName}
	if props, ok := inputSchema["properties"].(map[string]any); ok {
		v.properties = props
	}
	v.required = stringSlice(inputSchema["required"])
	return v
}

// Validate checks args against the schema and returns a coerced copy. The
// input map is never mutated. The first violation is returned as a
// *proxy.ValidationError.
func (v *Validator) Validate(args map[string]any) (map[string]any, error) {
	if args == nil {
		args = map[string]any{}
	}

	for _, name := range v.required {
		if _, ok := args[name]; !ok {
			return nil, &proxy.ValidationError{
				Tool:     v.toolName,
				Param:    name,
				Expected: "required parameter to be present",
			}
		}
	}

	out := make(map[string]any, len(args))
	for name, value := range args {
		prop, ok := v.properties[name].(map[string]any)
		if !ok {
			// Parameters the schema does not describe pass through untouched.
			out[name] = value
			continue
		}
		coerced, err := v.checkValue(name, prop, value)
		if err != nil {
			return nil, err
		}
		out[name] = coerced
	}
	return out, nil
}

func (v *Validator) checkValue(param string, prop map[string]any, value any) (any, error) {
	declaredType, _ := prop["type"].(string)

	switch declaredType {
	case "string":
		return v.checkString(param, prop, value)
	case "integer":
		return v.checkInteger(param, prop, value)
	case "number":
		return v.checkNumber(param, prop, value)
	case "boolean":
		return v.checkBoolean(param, value)
	case "array":
		return v.checkArray(param, prop, value)
	case "object":
		return v.checkObject(param, prop, value)
	default:
		// No type keyword means anything goes.
		return value, nil
	}
}

func (v *Validator) checkString(param string, prop map[string]any, value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, v.violation(param, "string")
	}
	if min, ok := intConstraint(prop["minLength"]); ok && len(s) < min {
		return nil, v.violation(param, fmt.Sprintf("string with at least %d characters", min))
	}
	if max, ok := intConstraint(prop["maxLength"]); ok && len(s) > max {
		return nil, v.violation(param, fmt.Sprintf("string with at most %d characters", max))
	}
	return s, nil
}

func (v *Validator) checkInteger(param string, prop map[string]any, value any) (any, error) {
	var n int64
	switch val := value.(type) {
	case int:
		n = int64(val)
	case int64:
		n = val
	case float64:
		if val != math.Trunc(val) {
			return nil, v.violation(param, "integer")
		}
		n = int64(val)
	case string:
		parsed, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, v.violation(param, "integer")
		}
		n = parsed
	default:
		return nil, v.violation(param, "integer")
	}

	if min, ok := floatConstraint(prop["minimum"]); ok && float64(n) < min {
		return nil, v.violation(param, fmt.Sprintf("value of at least %v", min))
	}
	if max, ok := floatConstraint(prop["maximum"]); ok && float64(n) > max {
		return nil, v.violation(param, fmt.Sprintf("value of at most %v", max))
	}
	return int(n), nil
}

func (v *Validator) checkNumber(param string, prop map[string]any, value any) (any, error) {
	var n float64
	switch val := value.(type) {
	case int:
		n = float64(val)
	case int64:
		n = float64(val)
	case float64:
		n = val
	case string:
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, v.violation(param, "number")
		}
		n = parsed
	default:
		return nil, v.violation(param, "number")
	}

	if min, ok := floatConstraint(prop["minimum"]); ok && n < min {
		return nil, v.violation(param, fmt.Sprintf("value of at least %v", min))
	}
	if max, ok := floatConstraint(prop["maximum"]); ok && n > max {
		return nil, v.violation(param, fmt.Sprintf("value of at most %v", max))
	}
	return n, nil
}

func (v *Validator) checkBoolean(param string, value any) (any, error) {
	switch val := value.(type) {
	case bool:
		return val, nil
	case string:
		switch val {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return nil, v.violation(param, "boolean")
}

func (v *Validator) checkArray(param string, prop map[string]any, value any) (any, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, v.violation(param, "array")
	}
	if min, ok := intConstraint(prop["minItems"]); ok && len(items) < min {
		return nil, v.violation(param, fmt.Sprintf("array with at least %d items", min))
	}
	if max, ok := intConstraint(prop["maxItems"]); ok && len(items) > max {
		return nil, v.violation(param, fmt.Sprintf("array with at most %d items", max))
	}

	itemSchema, hasItemSchema := prop["items"].(map[string]any)
	if !hasItemSchema {
		return items, nil
	}

	out := make([]any, len(items))
	for i, item := range items {
		coerced, err := v.checkValue(fmt.Sprintf("%s[%d]", param, i), itemSchema, item)
		if err != nil {
			return nil, err
		}
		out[i] = coerced
	}
	return out, nil
}

func (v *Validator) checkObject(param string, prop map[string]any, value any) (any, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, v.violation(param, "object")
	}

	for _, name := range stringSlice(prop["required"]) {
		if _, present := obj[name]; !present {
			return nil, &proxy.ValidationError{
				Tool:     v.toolName,
				Param:    param + "." + name,
				Expected: "required parameter to be present",
			}
		}
	}

	nested, hasProps := prop["properties"].(map[string]any)
	if !hasProps {
		return obj, nil
	}

	out := make(map[string]any, len(obj))
	for name, val := range obj {
		childProp, described := nested[name].(map[string]any)
		if !described {
			out[name] = val
			continue
		}
		coerced, err := v.checkValue(param+"."+name, childProp, val)
		if err != nil {
			return nil, err
		}
		out[name] = coerced
	}
	return out, nil
}

func (v *Validator) violation(param, expected string) *proxy.ValidationError {
	return &proxy.ValidationError{Tool: v.toolName, Param: param, Expected: expected}
}

// stringSlice reads a schema keyword that holds a list of strings. JSON
// decoding delivers it as []any.
func stringSlice(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func intConstraint(raw any) (int, bool) {
	f, ok := floatConstraint(raw)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func floatConstraint(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
