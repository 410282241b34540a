package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
)

var validate = newValidator()

// newValidator reports fields by their json name, matching the schema.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// TypedTool decodes arguments into T before calling fn. The input schema is
// reflected from T: json tags name the properties, fields without omitempty
// are required, jsonschema tags add descriptions and enums, and validate
// tags are enforced after decoding.
type TypedTool[T any] struct {
	name        string
	description string
	schema      json.RawMessage
	fn          func(ctx context.Context, args T) (*Status, error)
}

// NewTyped constructs a TypedTool for argument struct T.
func NewTyped[T any](name, description string, fn func(ctx context.Context, args T) (*Status, error)) *TypedTool[T] {
	return &TypedTool[T]{
		name:        name,
		description: description,
		schema:      reflectSchema[T](),
		fn:          fn,
	}
}

func reflectSchema[T any]() json.RawMessage {
	r := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(T))
	s.Version = ""

	raw, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}

func (t *TypedTool[T]) Name() string                 { return t.name }
func (t *TypedTool[T]) Description() string          { return t.description }
func (t *TypedTool[T]) InputSchema() json.RawMessage { return t.schema }

// Invoke decodes, validates and calls fn. Decode and validation failures are
// returned as *InvalidArgumentsError.
func (t *TypedTool[T]) Invoke(ctx context.Context, raw json.RawMessage) (*Status, error) {
	var args T
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&args); err != nil {
		return nil, invalidArgs(t.name, "%s", strings.TrimPrefix(err.Error(), "json: "))
	}

	if isStruct(args) {
		if err := validate.Struct(&args); err != nil {
			return nil, invalidArgs(t.name, "%s", describeValidation(err))
		}
	}
	return t.fn(ctx, args)
}

func isStruct(v any) bool {
	rt := reflect.TypeOf(v)
	return rt != nil && rt.Kind() == reflect.Struct
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
