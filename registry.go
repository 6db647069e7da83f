package agenteval

import (
	"iter"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Registry maps tool IDs to tools. A tool's spec is captured and compiled once at
// registration; later changes to the value returned by Spec are not observed.
// A Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registered
	order []string
}

type registered struct {
	tool   Tool
	spec   ToolSpec
	schema *jsonschema.Schema
}

// NewRegistry creates a registry holding tools in the given order.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]*registered, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. It fails with ErrDuplicateTool when the ID is taken and
// ErrInvalidTool when the spec does not validate.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return goerr.Wrap(ErrInvalidTool, "tool is nil")
	}
	spec := cloneSpec(tool.Spec())
	if err := spec.Validate(); err != nil {
		return err
	}
	schema, err := compileSchema(spec)
	if err != nil {
		return goerr.Wrap(ErrInvalidTool, "tool schema does not compile", goerr.V("tool", spec.Name), goerr.V("cause", err.Error()))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tools == nil {
		r.tools = make(map[string]*registered)
	}
	if _, ok := r.tools[spec.Name]; ok {
		return goerr.Wrap(ErrDuplicateTool, "cannot register tool", goerr.V("tool", spec.Name))
	}
	r.tools[spec.Name] = &registered{tool: tool, spec: spec, schema: schema}
	r.order = append(r.order, spec.Name)
	return nil
}

// Resolve returns the tool registered under id or ErrUnknownTool.
func (r *Registry) Resolve(id string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[id]
	if !ok {
		return nil, goerr.Wrap(ErrUnknownTool, "tool is not registered", goerr.V("tool", id))
	}
	return entry.tool, nil
}

// Spec returns the spec captured when the tool was registered.
func (r *Registry) Spec(id string) (ToolSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[id]
	if !ok {
		return ToolSpec{}, goerr.Wrap(ErrUnknownTool, "tool is not registered", goerr.V("tool", id))
	}
	return cloneSpec(entry.spec), nil
}

// List yields the registered tools in registration order. The set of tools is
// fixed when iteration begins.
func (r *Registry) List() iter.Seq[Tool] {
	return func(yield func(Tool) bool) {
		r.mu.RLock()
		tools := make([]Tool, 0, len(r.order))
		for _, id := range r.order {
			tools = append(tools, r.tools[id].tool)
		}
		r.mu.RUnlock()

		for _, t := range tools {
			if !yield(t) {
				return
			}
		}
	}
}

// Specs returns the registered specs in registration order. These are the
// routing candidates.
func (r *Registry) Specs() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(r.order))
	for _, id := range r.order {
		specs = append(specs, cloneSpec(r.tools[id].spec))
	}
	return specs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// ValidateArguments checks args against the compiled schema of tool id.
func (r *Registry) ValidateArguments(id string, args map[string]any) error {
	r.mu.RLock()
	entry, ok := r.tools[id]
	r.mu.RUnlock()
	if !ok {
		return goerr.Wrap(ErrUnknownTool, "tool is not registered", goerr.V("tool", id))
	}

	if args == nil {
		args = map[string]any{}
	}
	instance, err := toJSONValue(args)
	if err != nil {
		return goerr.Wrap(ErrInvalidArguments, "arguments are not JSON encodable", goerr.V("tool", id), goerr.V("cause", err.Error()))
	}
	if err := entry.schema.Validate(instance); err != nil {
		return goerr.Wrap(ErrInvalidArguments, "arguments do not match tool schema", goerr.V("tool", id), goerr.V("cause", err.Error()))
	}
	return nil
}

func cloneSpec(s ToolSpec) ToolSpec {
	c := s
	c.Keywords = append([]string(nil), s.Keywords...)
	c.Required = append([]string(nil), s.Required...)
	if s.Parameters != nil {
		c.Parameters = make(map[string]*Parameter, len(s.Parameters))
		for k, v := range s.Parameters {
			c.Parameters[k] = v
		}
	}
	return c
}
