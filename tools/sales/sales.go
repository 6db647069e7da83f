// Package sales provides demo tools over an in-memory store sales sample: a
// lookup that filters rows, an analysis of the rows, and a chart configuration
// generator.
package sales

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/agenteval"
	"github.com/m-mizutani/goerr/v2"
)

const (
	LookupToolID    = "lookup_sales_data"
	AnalyzeToolID   = "analyze_sales_data"
	VisualizeToolID = "generate_visualization"
)

// Tools returns the three sales tools over rows. A nil rows uses Sample.
func Tools(rows []Row) []agenteval.Tool {
	if rows == nil {
		rows = Sample()
	}
	return []agenteval.Tool{
		&LookupTool{rows: rows},
		&AnalyzeTool{},
		&VisualizeTool{},
	}
}

// NewRegistry registers Tools(rows) in lookup, analyze, visualize order.
func NewRegistry(rows []Row) (*agenteval.Registry, error) {
	return agenteval.NewRegistry(Tools(rows)...)
}

// Prerequisites makes analysis and visualization wait for a lookup.
func Prerequisites() map[string][]string {
	return map[string][]string{
		AnalyzeToolID:   {LookupToolID},
		VisualizeToolID: {LookupToolID},
	}
}

// NewScorer returns a KeywordScorer configured with Prerequisites.
func NewScorer() *agenteval.KeywordScorer {
	return &agenteval.KeywordScorer{Prerequisites: Prerequisites()}
}

// decodeArgs maps tool arguments onto a typed input struct.
func decodeArgs(args map[string]any, dst any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal arguments")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return agenteval.NewToolError("arguments do not match input type: "+err.Error(), true)
	}
	return nil
}

type LookupTool struct {
	rows []Row
}

type lookupInput struct {
	Prompt string `json:"prompt" description:"The request, mentioning store numbers, month and year to filter by" required:"true"`
}

func (x *LookupTool) Spec() agenteval.ToolSpec {
	params, required := agenteval.MustParametersOf(lookupInput{})
	return agenteval.ToolSpec{
		Name:        LookupToolID,
		Description: "Look up store sales rows from the sales table by store number, month and year",
		Keywords:    []string{"transactions", "records", "table"},
		Parameters:  params,
		Required:    required,
	}
}

func (x *LookupTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	var in lookupInput
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	filter := ParseFilter(in.Prompt, storesOf(x.rows))
	rows := filter.Apply(x.rows)
	data, err := EncodeCSV(rows)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"data": data,
		"rows": len(rows),
	}, nil
}

type AnalyzeTool struct{}

type analyzeInput struct {
	Data   string `json:"data" description:"CSV output of lookup_sales_data" required:"true"`
	Prompt string `json:"prompt" description:"The question the analysis should answer"`
}

func (x *AnalyzeTool) Spec() agenteval.ToolSpec {
	params, required := agenteval.MustParametersOf(analyzeInput{})
	return agenteval.ToolSpec{
		Name:        AnalyzeToolID,
		Description: "Analyze sales data to find trends, totals and the best performing store",
		Keywords:    []string{"trend", "insight", "summary", "summarize", "compare", "performance", "analysis"},
		Parameters:  params,
		Required:    required,
	}
}

func (x *AnalyzeTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	var in analyzeInput
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	rows, err := DecodeCSV(in.Data)
	if err != nil {
		return nil, &agenteval.ToolError{Message: "data is not sales csv", Recoverable: true, Cause: err}
	}

	a := Analyze(rows)
	return map[string]any{
		"analysis":   a.String(),
		"best_store": a.BestStore,
	}, nil
}

type VisualizeTool struct{}

type visualizeInput struct {
	Data              string `json:"data" description:"CSV output of lookup_sales_data" required:"true"`
	VisualizationGoal string `json:"visualization_goal" description:"What the chart should show" required:"true"`
}

func (x *VisualizeTool) Spec() agenteval.ToolSpec {
	params, required := agenteval.MustParametersOf(visualizeInput{})
	return agenteval.ToolSpec{
		Name:        VisualizeToolID,
		Description: "Generate a chart configuration to visualize sales data",
		Keywords:    []string{"chart", "graph", "plot", "bar", "line", "axis", "code"},
		Parameters:  params,
		Required:    required,
	}
}

func (x *VisualizeTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	var in visualizeInput
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	rows, err := DecodeCSV(in.Data)
	if err != nil {
		return nil, &agenteval.ToolError{Message: "data is not sales csv", Recoverable: true, Cause: err}
	}
	if len(rows) == 0 {
		return nil, agenteval.NewToolError("no data to visualize", true)
	}

	chart := NewChart(rows, in.VisualizationGoal)
	return map[string]any{"chart": chart.Map()}, nil
}
