package agenteval_test

import (
	"errors"
	"testing"

	"github.com/m-mizutani/agenteval"
	"github.com/m-mizutani/gt"
)

func TestToolSpecJSONSchema(t *testing.T) {
	spec := agenteval.ToolSpec{
		Name: "generate_visualization",
		Parameters: map[string]*agenteval.Parameter{
			"data":  {Type: agenteval.TypeString, Description: "rows to plot"},
			"kind":  {Type: agenteval.TypeString, Enum: []string{"bar", "line"}},
			"limit": {Type: agenteval.TypeInteger, Minimum: ptr(1.0)},
		},
		Required: []string{"kind", "data"},
	}

	schema := spec.JSONSchema()
	gt.Equal(t, schema["type"], any("object"))
	gt.Equal(t, schema["required"], any([]string{"data", "kind"}))

	props := schema["properties"].(map[string]any)
	gt.Equal(t, len(props), 3)

	kind := props["kind"].(map[string]any)
	gt.Equal(t, kind["enum"], any([]string{"bar", "line"}))

	limit := props["limit"].(map[string]any)
	gt.Equal(t, limit["type"], any("integer"))
	gt.Equal(t, limit["minimum"], any(1.0))
}

func TestParametersOf(t *testing.T) {
	type filter struct {
		Store int `json:"store" description:"store number" min:"1"`
	}
	type args struct {
		Prompt  string   `json:"prompt" description:"question" required:"true"`
		Format  string   `json:"format" enum:"csv, json"`
		Limit   *int     `json:"limit,omitempty" max:"100"`
		Tags    []string `json:"tags"`
		Filter  filter   `json:"filter"`
		Ignored string   `json:"-"`
		hidden  string
	}

	params, required, err := agenteval.ParametersOf(args{})
	gt.NoError(t, err)
	gt.Equal(t, required, []string{"prompt"})
	gt.Equal(t, len(params), 5)

	gt.Equal(t, params["prompt"].Type, agenteval.TypeString)
	gt.Equal(t, params["prompt"].Description, "question")
	gt.Equal(t, params["format"].Enum, []string{"csv", "json"})
	gt.Equal(t, params["limit"].Type, agenteval.TypeInteger)
	gt.Equal(t, *params["limit"].Maximum, 100.0)
	gt.Equal(t, params["tags"].Items.Type, agenteval.TypeString)
	gt.Equal(t, params["filter"].Properties["store"].Type, agenteval.TypeInteger)
	gt.Equal(t, *params["filter"].Properties["store"].Minimum, 1.0)

	spec := agenteval.ToolSpec{Name: "lookup", Parameters: params, Required: required}
	gt.NoError(t, spec.Validate())
}

func TestParametersOfErrors(t *testing.T) {
	t.Run("not a struct", func(t *testing.T) {
		_, _, err := agenteval.ParametersOf("text")
		gt.True(t, errors.Is(err, agenteval.ErrUnsupportedType))
	})

	t.Run("nil", func(t *testing.T) {
		_, _, err := agenteval.ParametersOf(nil)
		gt.True(t, errors.Is(err, agenteval.ErrUnsupportedType))
	})

	t.Run("bad tag", func(t *testing.T) {
		type bad struct {
			N int `json:"n" min:"low"`
		}
		_, _, err := agenteval.ParametersOf(bad{})
		gt.True(t, errors.Is(err, agenteval.ErrInvalidTag))
	})

	t.Run("unsupported field", func(t *testing.T) {
		type bad struct {
			C chan int `json:"c"`
		}
		_, _, err := agenteval.ParametersOf(bad{})
		gt.True(t, errors.Is(err, agenteval.ErrUnsupportedType))
	})
}
