package agenteval_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/m-mizutani/agenteval"
	"github.com/m-mizutani/gt"
)

func newEchoTool(name string, params map[string]*agenteval.Parameter, required ...string) agenteval.Tool {
	return agenteval.NewTool(agenteval.ToolSpec{
		Name:        name,
		Description: "echo tool " + name,
		Parameters:  params,
		Required:    required,
	}, func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"echo": args}, nil
	})
}

func TestRegistry(t *testing.T) {
	lookup := newEchoTool("lookup_sales_data", map[string]*agenteval.Parameter{
		"prompt": {Type: agenteval.TypeString},
	}, "prompt")
	plot := newEchoTool("plot_chart", nil)

	reg, err := agenteval.NewRegistry(lookup, plot)
	gt.NoError(t, err)
	gt.Equal(t, reg.Len(), 2)

	t.Run("resolve registered tool", func(t *testing.T) {
		tool, err := reg.Resolve("plot_chart")
		gt.NoError(t, err)
		gt.Equal(t, tool.Spec().Name, "plot_chart")
	})

	t.Run("resolve unknown tool", func(t *testing.T) {
		_, err := reg.Resolve("unknown")
		gt.True(t, errors.Is(err, agenteval.ErrUnknownTool))
	})

	t.Run("duplicate registration", func(t *testing.T) {
		err := reg.Register(newEchoTool("plot_chart", nil))
		gt.True(t, errors.Is(err, agenteval.ErrDuplicateTool))
		gt.Equal(t, reg.Len(), 2)
	})

	t.Run("invalid spec", func(t *testing.T) {
		err := reg.Register(newEchoTool("", nil))
		gt.True(t, errors.Is(err, agenteval.ErrInvalidTool))
		gt.True(t, errors.Is(reg.Register(nil), agenteval.ErrInvalidTool))
	})

	t.Run("list in registration order", func(t *testing.T) {
		var names []string
		for tool := range reg.List() {
			names = append(names, tool.Spec().Name)
		}
		gt.Equal(t, names, []string{"lookup_sales_data", "plot_chart"})
	})

	t.Run("list stops early", func(t *testing.T) {
		count := 0
		for range reg.List() {
			count++
			break
		}
		gt.Equal(t, count, 1)
	})

	t.Run("specs in registration order", func(t *testing.T) {
		specs := reg.Specs()
		gt.A(t, specs).Length(2)
		gt.Equal(t, specs[0].Name, "lookup_sales_data")
		gt.Equal(t, specs[1].Name, "plot_chart")
	})

	t.Run("duplicate in constructor", func(t *testing.T) {
		_, err := agenteval.NewRegistry(plot, plot)
		gt.True(t, errors.Is(err, agenteval.ErrDuplicateTool))
	})
}

func TestRegistryValidateArguments(t *testing.T) {
	tool := newEchoTool("generate_visualization", map[string]*agenteval.Parameter{
		"data":  {Type: agenteval.TypeString, MinLength: ptr(1)},
		"kind":  {Type: agenteval.TypeString, Enum: []string{"bar", "line"}},
		"limit": {Type: agenteval.TypeInteger, Minimum: ptr(1.0), Maximum: ptr(10.0)},
	}, "data")
	reg, err := agenteval.NewRegistry(tool)
	gt.NoError(t, err)

	testCases := []struct {
		name    string
		args    map[string]any
		wantErr bool
	}{
		{name: "valid", args: map[string]any{"data": "a,b", "kind": "bar", "limit": 3}},
		{name: "missing required", args: map[string]any{"kind": "bar"}, wantErr: true},
		{name: "nil arguments", args: nil, wantErr: true},
		{name: "wrong type", args: map[string]any{"data": 12}, wantErr: true},
		{name: "not in enum", args: map[string]any{"data": "x", "kind": "pie"}, wantErr: true},
		{name: "out of range", args: map[string]any{"data": "x", "limit": 11}, wantErr: true},
		{name: "float for integer", args: map[string]any{"data": "x", "limit": 2.5}, wantErr: true},
		{name: "whole float for integer", args: map[string]any{"data": "x", "limit": 2.0}},
		{name: "too short", args: map[string]any{"data": ""}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := reg.ValidateArguments("generate_visualization", tc.args)
			if tc.wantErr {
				gt.True(t, errors.Is(err, agenteval.ErrInvalidArguments))
			} else {
				gt.NoError(t, err)
			}
		})
	}

	t.Run("unknown tool", func(t *testing.T) {
		err := reg.ValidateArguments("missing", map[string]any{})
		gt.True(t, errors.Is(err, agenteval.ErrUnknownTool))
	})
}

type mutableTool struct {
	spec agenteval.ToolSpec
}

func (x *mutableTool) Spec() agenteval.ToolSpec { return x.spec }
func (x *mutableTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	return nil, nil
}

func TestRegistrySpecIsCaptured(t *testing.T) {
	tool := &mutableTool{spec: agenteval.ToolSpec{Name: "first", Description: "original"}}
	reg, err := agenteval.NewRegistry(tool)
	gt.NoError(t, err)

	tool.spec.Description = "changed"
	spec, err := reg.Spec("first")
	gt.NoError(t, err)
	gt.Equal(t, spec.Description, "original")
	gt.Equal(t, reg.Specs()[0].Description, "original")
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg, err := agenteval.NewRegistry()
	gt.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("tool_%d", i)
			gt.NoError(t, reg.Register(newEchoTool(name, nil)))
			_, err := reg.Resolve(name)
			gt.NoError(t, err)
			_ = reg.Specs()
		}()
	}
	wg.Wait()
	gt.Equal(t, reg.Len(), 16)
}
