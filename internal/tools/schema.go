package tools

import (
	"math"
	"sort"

	"github.com/tidwall/gjson"
)

// ValidateArguments checks args against the subset of JSON-Schema tools
// declare in practice: top-level object type, required, property types,
// enum and additionalProperties:false. Nested schemas are checked one level
// deep for objects and array items.
func ValidateArguments(tool string, schema, args []byte) error {
	if len(args) == 0 {
		args = []byte("{}")
	}
	if !gjson.ValidBytes(args) {
		return invalidArgs(tool, "arguments are not valid JSON")
	}
	if len(schema) == 0 || !gjson.ValidBytes(schema) {
		return nil
	}
	return validateValue(tool, "arguments", gjson.ParseBytes(schema), gjson.ParseBytes(args), 0)
}

func validateValue(tool, path string, schema, value gjson.Result, depth int) error {
	if typ := schema.Get("type"); typ.Exists() && !matchesType(typ, value) {
		return invalidArgs(tool, "%s must be %s", path, typeNames(typ))
	}
	if enum := schema.Get("enum"); enum.IsArray() && !inEnum(enum, value) {
		return invalidArgs(tool, "%s must be one of %s", path, enum.Raw)
	}
	if depth > 2 {
		return nil
	}

	switch {
	case value.IsObject():
		return validateObject(tool, path, schema, value, depth)
	case value.IsArray():
		items := schema.Get("items")
		if !items.IsObject() {
			return nil
		}
		var err error
		value.ForEach(func(key, item gjson.Result) bool {
			err = validateValue(tool, path+"["+key.String()+"]", items, item, depth+1)
			return err == nil
		})
		return err
	}
	return nil
}

func validateObject(tool, path string, schema, value gjson.Result, depth int) error {
	for _, req := range schema.Get("required").Array() {
		if !value.Get(gjson.Escape(req.String())).Exists() {
			return invalidArgs(tool, "missing required argument %q", req.String())
		}
	}

	props := schema.Get("properties")
	closed := schema.Get("additionalProperties").Type == gjson.False

	keys := make([]string, 0)
	fields := make(map[string]gjson.Result)
	value.ForEach(func(key, v gjson.Result) bool {
		keys = append(keys, key.String())
		fields[key.String()] = v
		return true
	})
	sort.Strings(keys)

	for _, key := range keys {
		prop := props.Get(gjson.Escape(key))
		if !prop.Exists() {
			if closed {
				return invalidArgs(tool, "unknown argument %q", key)
			}
			continue
		}
		if err := validateValue(tool, key, prop, fields[key], depth+1); err != nil {
			return err
		}
	}
	return nil
}

func matchesType(typ, value gjson.Result) bool {
	if typ.IsArray() {
		for _, t := range typ.Array() {
			if matchesType(t, value) {
				return true
			}
		}
		return false
	}
	switch typ.String() {
	case "object":
		return value.IsObject()
	case "array":
		return value.IsArray()
	case "string":
		return value.Type == gjson.String
	case "boolean":
		return value.IsBool()
	case "number":
		return value.Type == gjson.Number
	case "integer":
		return value.Type == gjson.Number && value.Num == math.Trunc(value.Num)
	case "null":
		return value.Type == gjson.Null
	default:
		return true
	}
}

func typeNames(typ gjson.Result) string {
	if typ.IsArray() {
		return typ.Raw
	}
	return typ.String()
}

func inEnum(enum, value gjson.Result) bool {
	for _, e := range enum.Array() {
		if e.Type == value.Type && e.Raw == value.Raw {
			return true
		}
		if e.Type == gjson.String && value.Type == gjson.String && e.String() == value.String() {
			return true
		}
	}
	return false
}
