package agenteval

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// JSONSchema renders the tool parameters as a JSON Schema object. The result is
// also what model-backed scorers send as the function definition.
func (s ToolSpec) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Parameters))
	for name, p := range s.Parameters {
		props[name] = p.jsonSchema()
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		required := append([]string(nil), s.Required...)
		sort.Strings(required)
		schema["required"] = required
	}
	return schema
}

func (p *Parameter) jsonSchema() map[string]any {
	out := map[string]any{"type": string(p.Type)}
	if p.Title != "" {
		out["title"] = p.Title
	}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		out["enum"] = p.Enum
	}
	if p.Default != nil {
		out["default"] = p.Default
	}
	if p.Minimum != nil {
		out["minimum"] = *p.Minimum
	}
	if p.Maximum != nil {
		out["maximum"] = *p.Maximum
	}
	if p.MinLength != nil {
		out["minLength"] = *p.MinLength
	}
	if p.MaxLength != nil {
		out["maxLength"] = *p.MaxLength
	}
	if p.Pattern != "" {
		out["pattern"] = p.Pattern
	}
	if p.MinItems != nil {
		out["minItems"] = *p.MinItems
	}
	if p.MaxItems != nil {
		out["maxItems"] = *p.MaxItems
	}
	if p.Items != nil {
		out["items"] = p.Items.jsonSchema()
	}
	if p.Properties != nil {
		props := make(map[string]any, len(p.Properties))
		for name, child := range p.Properties {
			props[name] = child.jsonSchema()
		}
		out["properties"] = props
	}
	if len(p.Required) > 0 {
		out["required"] = p.Required
	}
	return out
}

func compileSchema(spec ToolSpec) (*jsonschema.Schema, error) {
	doc, err := toJSONValue(spec.JSONSchema())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode tool schema", goerr.V("tool", spec.Name))
	}

	loc := "tools/" + spec.Name + ".json"
	c := jsonschema.NewCompiler()
	c.DefaultDraft(jsonschema.Draft2020)
	if err := c.AddResource(loc, doc); err != nil {
		return nil, goerr.Wrap(err, "failed to add tool schema", goerr.V("tool", spec.Name))
	}
	schema, err := c.Compile(loc)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to compile tool schema", goerr.V("tool", spec.Name))
	}
	return schema, nil
}

// toJSONValue converts v into the generic form produced by decoding JSON, which is
// what the schema validator expects.
func toJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}

var (
	ErrUnsupportedType = goerr.New("unsupported type for parameter conversion")
	ErrInvalidTag      = goerr.New("invalid struct tag")
)

// ParametersOf builds tool parameters from the exported fields of a struct.
// It returns the parameter map and the names marked required.
//
// Supported struct tags:
//   - json:"field_name" - parameter name; "-" skips the field
//   - description:"text" - parameter description
//   - enum:"a,b,c" - allowed values
//   - min:"0", max:"100" - numeric range
//   - required:"true" - mark the parameter required
//
// Example:
//
//	type lookupArgs struct {
//	    Prompt string `json:"prompt" description:"what to look up" required:"true"`
//	}
//	params, required, err := agenteval.ParametersOf(lookupArgs{})
func ParametersOf(v any) (map[string]*Parameter, []string, error) {
	t := reflect.TypeOf(v)
	if t == nil {
		return nil, nil, goerr.Wrap(ErrUnsupportedType, "nil value")
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, nil, goerr.Wrap(ErrUnsupportedType, "struct is required", goerr.V("type", t.String()))
	}

	param, err := structParameter(t, map[reflect.Type]bool{})
	if err != nil {
		return nil, nil, err
	}
	return param.Properties, param.Required, nil
}

// MustParametersOf is like ParametersOf but panics on error. It is meant for
// package-level tool definitions.
func MustParametersOf(v any) (map[string]*Parameter, []string) {
	params, required, err := ParametersOf(v)
	if err != nil {
		panic(err)
	}
	return params, required
}

func structParameter(t reflect.Type, seen map[reflect.Type]bool) (*Parameter, error) {
	if seen[t] {
		return nil, goerr.Wrap(ErrUnsupportedType, "cyclic struct reference", goerr.V("type", t.String()))
	}
	seen[t] = true
	defer delete(seen, t)

	param := &Parameter{Type: TypeObject, Properties: map[string]*Parameter{}}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		name := field.Name
		if tag := field.Tag.Get("json"); tag != "" {
			head, _, _ := strings.Cut(tag, ",")
			if head == "-" {
				continue
			}
			if head != "" {
				name = head
			}
		}

		child, err := fieldParameter(field.Type, seen)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert field", goerr.V("field", field.Name))
		}
		if err := applyTags(child, field); err != nil {
			return nil, err
		}
		if req := field.Tag.Get("required"); req != "" {
			ok, err := strconv.ParseBool(req)
			if err != nil {
				return nil, goerr.Wrap(ErrInvalidTag, "invalid required value", goerr.V("field", field.Name), goerr.V("value", req))
			}
			if ok {
				param.Required = append(param.Required, name)
			}
		}
		param.Properties[name] = child
	}
	return param, nil
}

func fieldParameter(t reflect.Type, seen map[reflect.Type]bool) (*Parameter, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.String:
		return &Parameter{Type: TypeString}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &Parameter{Type: TypeInteger}, nil
	case reflect.Float32, reflect.Float64:
		return &Parameter{Type: TypeNumber}, nil
	case reflect.Bool:
		return &Parameter{Type: TypeBoolean}, nil
	case reflect.Slice, reflect.Array:
		items, err := fieldParameter(t.Elem(), seen)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert array element type")
		}
		return &Parameter{Type: TypeArray, Items: items}, nil
	case reflect.Map:
		return &Parameter{Type: TypeObject, Properties: map[string]*Parameter{}}, nil
	case reflect.Struct:
		return structParameter(t, seen)
	default:
		return nil, goerr.Wrap(ErrUnsupportedType, "cannot convert type", goerr.V("type", t.Kind().String()))
	}
}

func applyTags(p *Parameter, field reflect.StructField) error {
	if desc := field.Tag.Get("description"); desc != "" {
		p.Description = desc
	}
	if enum := field.Tag.Get("enum"); enum != "" {
		for _, v := range strings.Split(enum, ",") {
			p.Enum = append(p.Enum, strings.TrimSpace(v))
		}
	}
	for key, dst := range map[string]**float64{"min": &p.Minimum, "max": &p.Maximum} {
		tag := field.Tag.Get(key)
		if tag == "" {
			continue
		}
		v, err := strconv.ParseFloat(tag, 64)
		if err != nil {
			return goerr.Wrap(ErrInvalidTag, "invalid "+key+" value", goerr.V("field", field.Name), goerr.V("value", tag))
		}
		*dst = &v
	}
	return nil
}
