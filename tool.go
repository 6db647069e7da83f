package agenteval

import (
	"context"
	"errors"
	"regexp"

	"github.com/m-mizutani/goerr/v2"
)

// ToolSpec is the immutable description of a tool. The router reads it to score
// candidates and the registry compiles its parameters into a JSON schema.
type ToolSpec struct {
	// Name is the unique identifier for the tool. It is also the ID recorded in
	// traces and compared by the evaluators.
	Name string `json:"name" yaml:"name"`

	// Description is a human-readable description of what the tool does.
	Description string `json:"description" yaml:"description"`

	// Keywords are extra terms that the keyword scorer matches against a query.
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`

	// Parameters defines the input parameters that the tool accepts.
	Parameters map[string]*Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// Required is the list of required parameter names.
	Required []string `json:"required,omitempty" yaml:"required,omitempty"`
}

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Validate validates the tool specification.
func (s *ToolSpec) Validate() error {
	eb := goerr.NewBuilder(goerr.V("tool", s.Name))
	if s.Name == "" {
		return eb.Wrap(ErrInvalidTool, "name is required")
	}
	if !toolNamePattern.MatchString(s.Name) {
		return eb.Wrap(ErrInvalidTool, "name must match "+toolNamePattern.String())
	}

	for name, param := range s.Parameters {
		if param == nil {
			return eb.Wrap(ErrInvalidTool, "parameter is nil", goerr.V("parameter", name))
		}
		if err := param.Validate(); err != nil {
			return eb.Wrap(ErrInvalidTool, "invalid parameter", goerr.V("parameter", name), goerr.V("cause", err.Error()))
		}
	}
	for _, req := range s.Required {
		if _, ok := s.Parameters[req]; !ok {
			return eb.Wrap(ErrInvalidTool, "required parameter not found in parameters", goerr.V("parameter", req))
		}
	}

	return nil
}

// ParameterType is the type of a parameter.
type ParameterType string

const (
	TypeString  ParameterType = "string"
	TypeNumber  ParameterType = "number"
	TypeInteger ParameterType = "integer"
	TypeBoolean ParameterType = "boolean"
	TypeArray   ParameterType = "array"
	TypeObject  ParameterType = "object"
)

func (x ParameterType) valid() bool {
	switch x {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeArray, TypeObject:
		return true
	}
	return false
}

// Parameter is a parameter of a tool.
type Parameter struct {
	Title       string        `json:"title,omitempty" yaml:"title,omitempty"`
	Type        ParameterType `json:"type" yaml:"type"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`

	// Required is the list of required field names when Type is Object.
	Required []string `json:"required,omitempty" yaml:"required,omitempty"`

	// Enum is the list of allowed values for the parameter.
	Enum []string `json:"enum,omitempty" yaml:"enum,omitempty"`

	// Properties defines the fields of an object parameter.
	Properties map[string]*Parameter `json:"properties,omitempty" yaml:"properties,omitempty"`

	// Items defines the element type of an array parameter.
	Items *Parameter `json:"items,omitempty" yaml:"items,omitempty"`

	// Number constraints
	Minimum *float64 `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum *float64 `json:"maximum,omitempty" yaml:"maximum,omitempty"`

	// String constraints
	MinLength *int   `json:"minLength,omitempty" yaml:"minLength,omitempty"`
	MaxLength *int   `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
	Pattern   string `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	// Array constraints
	MinItems *int `json:"minItems,omitempty" yaml:"minItems,omitempty"`
	MaxItems *int `json:"maxItems,omitempty" yaml:"maxItems,omitempty"`

	Default any `json:"default,omitempty" yaml:"default,omitempty"`
}

// Validate validates the parameter.
func (p *Parameter) Validate() error {
	eb := goerr.NewBuilder(goerr.V("type", p.Type))

	if p.Type == "" {
		return eb.Wrap(ErrInvalidParameter, "type is required")
	}
	if !p.Type.valid() {
		return eb.Wrap(ErrInvalidParameter, "unknown parameter type")
	}

	switch p.Type {
	case TypeObject:
		if p.Properties == nil {
			return eb.Wrap(ErrInvalidParameter, "properties is required for object type")
		}
		for name, prop := range p.Properties {
			if prop == nil {
				return eb.Wrap(ErrInvalidParameter, "property is nil", goerr.V("field", name))
			}
			if err := prop.Validate(); err != nil {
				return eb.Wrap(ErrInvalidParameter, "invalid property", goerr.V("field", name))
			}
		}
		for _, req := range p.Required {
			if _, ok := p.Properties[req]; !ok {
				return eb.Wrap(ErrInvalidParameter, "required field not found in properties", goerr.V("field", req))
			}
		}

	case TypeArray:
		if p.Items == nil {
			return eb.Wrap(ErrInvalidParameter, "items is required for array type")
		}
		if err := p.Items.Validate(); err != nil {
			return eb.Wrap(ErrInvalidParameter, "invalid items")
		}
		if p.MinItems != nil && p.MaxItems != nil && *p.MinItems > *p.MaxItems {
			return eb.Wrap(ErrInvalidParameter, "minItems must be less than or equal to maxItems")
		}

	case TypeNumber, TypeInteger:
		if p.Minimum != nil && p.Maximum != nil && *p.Minimum > *p.Maximum {
			return eb.Wrap(ErrInvalidParameter, "minimum must be less than or equal to maximum")
		}

	case TypeString:
		if p.MinLength != nil && p.MaxLength != nil && *p.MinLength > *p.MaxLength {
			return eb.Wrap(ErrInvalidParameter, "minLength must be less than or equal to maxLength")
		}
		if p.Pattern != "" {
			if _, err := regexp.Compile(p.Pattern); err != nil {
				return eb.Wrap(ErrInvalidParameter, "invalid pattern", goerr.V("pattern", p.Pattern))
			}
		}
	}

	return nil
}

// Tool is a capability the agent can invoke by ID.
type Tool interface {
	// Spec returns the specification of the tool. The registry reads it once at
	// registration.
	Spec() ToolSpec

	// Run executes the tool. Returning a *ToolError marks the failure as
	// recoverable or not; any other error is treated as non-recoverable.
	Run(ctx context.Context, args map[string]any) (map[string]any, error)
}

// ToolFunc is the execution body of a tool built by NewTool.
type ToolFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

type funcTool struct {
	spec ToolSpec
	fn   ToolFunc
}

// NewTool builds a Tool from a spec and a function.
func NewTool(spec ToolSpec, fn ToolFunc) Tool {
	return &funcTool{spec: spec, fn: fn}
}

func (x *funcTool) Spec() ToolSpec { return x.spec }

func (x *funcTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	return x.fn(ctx, args)
}

// ToolError is a failure reported by a tool. Recoverable failures let the agent
// respond with what it already has; others fail the run.
type ToolError struct {
	Message     string
	Recoverable bool
	Cause       error
}

// NewToolError creates a ToolError.
func NewToolError(msg string, recoverable bool) *ToolError {
	return &ToolError{Message: msg, Recoverable: recoverable}
}

func (e *ToolError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ToolError) Unwrap() error { return e.Cause }

// Is makes every ToolError match ErrToolExecutionFailed.
func (e *ToolError) Is(target error) bool { return target == ErrToolExecutionFailed }

// IsRecoverable reports whether err carries a recoverable ToolError.
func IsRecoverable(err error) bool {
	var te *ToolError
	return errors.As(err, &te) && te.Recoverable
}
