package sales

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/m-mizutani/agenteval"
)

// Chart is a chart configuration with the aggregated series to draw.
type Chart struct {
	Type   string
	XAxis  string
	YAxis  string
	Title  string
	Labels []string
	Values []float64
}

// NewChart picks the chart layout from the goal's wording and aggregates rows
// along the chosen x axis. Trend or time wording gives a line over dates; sku or
// product wording puts SKUs on the x axis; otherwise stores. Units wording sums
// units, anything else sums revenue.
func NewChart(rows []Row, goal string) Chart {
	terms := map[string]bool{}
	for _, t := range agenteval.Terms(goal) {
		terms[t] = true
	}

	c := Chart{Type: "bar", XAxis: "store", YAxis: "sales", Title: strings.TrimSpace(goal)}
	switch {
	case terms["trend"] || terms["time"] || terms["daily"] || terms["date"] || terms["line"]:
		c.Type, c.XAxis = "line", "date"
	case terms["sku"] || terms["product"]:
		c.XAxis = "sku"
	}
	if terms["unit"] {
		c.YAxis = "units"
	}
	if c.Title == "" {
		c.Title = c.YAxis + " by " + c.XAxis
	}

	sums := map[string]float64{}
	for _, r := range rows {
		var key string
		switch c.XAxis {
		case "date":
			key = r.Date.Format(dateLayout)
		case "sku":
			key = strconv.Itoa(r.SKU)
		default:
			key = strconv.Itoa(r.Store)
		}
		if c.YAxis == "units" {
			sums[key] += float64(r.Units)
		} else {
			sums[key] += r.Revenue()
		}
	}

	for k := range sums {
		c.Labels = append(c.Labels, k)
	}
	sort.Strings(c.Labels)
	for _, k := range c.Labels {
		c.Values = append(c.Values, math.Round(sums[k]*100)/100)
	}
	return c
}

// Map renders the chart as a JSON-friendly tool result.
func (x Chart) Map() map[string]any {
	return map[string]any{
		"chart_type": x.Type,
		"x_axis":     x.XAxis,
		"y_axis":     x.YAxis,
		"title":      x.Title,
		"labels":     x.Labels,
		"values":     x.Values,
	}
}
