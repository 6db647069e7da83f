package main_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	main "github.com/m-mizutani/agenteval/cmd/agenteval"
	"github.com/m-mizutani/agenteval/eval"
	"github.com/m-mizutani/agenteval/trace"
	"github.com/m-mizutani/gt"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	err := main.NewApp(&buf).Run(t.Context(), append([]string{"agenteval", "--log-level", "error"}, args...))
	return buf.String(), err
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	out, err := runApp(t, "run",
		"--query", "Show me all the sales for store 1320 on November 1st, 2021",
		"--dir", dir,
	)
	gt.NoError(t, err)
	gt.True(t, strings.Contains(out, "trajectory: lookup_sales_data"))
	gt.True(t, strings.Contains(out, "state:      done"))

	ids, err := trace.NewFileRepository(dir).List(t.Context())
	gt.NoError(t, err)
	gt.A(t, ids).Length(1)

	t.Run("show lists and renders the stored trace", func(t *testing.T) {
		out, err := runApp(t, "show", "--dir", dir)
		gt.NoError(t, err)
		gt.Equal(t, strings.TrimSpace(out), ids[0])

		out, err = runApp(t, "show", "--dir", dir, "--id", ids[0])
		gt.NoError(t, err)
		gt.True(t, strings.Contains(out, "[agent] agent_run ok"))
		gt.True(t, strings.Contains(out, "  [router] route ok"))
		gt.True(t, strings.Contains(out, "-> lookup_sales_data"))
		gt.True(t, strings.Contains(out, "  [tool] lookup_sales_data ok"))
	})

	t.Run("show raw json", func(t *testing.T) {
		out, err := runApp(t, "show", "--dir", dir, "--id", ids[0], "--json")
		gt.NoError(t, err)
		var tr trace.Trace
		gt.NoError(t, json.Unmarshal([]byte(out), &tr))
		gt.Equal(t, tr.TraceID, ids[0])
	})
}

func TestRunCommandConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	gt.NoError(t, os.WriteFile(cfgPath, []byte("max_steps: 1\nscorer: keyword\n"), 0600))

	out, err := runApp(t, "--config", cfgPath, "run",
		"--query", "what trends do you see in this data",
	)
	gt.NoError(t, err)
	gt.True(t, strings.Contains(out, "step limit exceeded"))

	t.Run("flag overrides file", func(t *testing.T) {
		out, err := runApp(t, "--config", cfgPath, "run",
			"--query", "what trends do you see in this data",
			"--max-steps", "4",
		)
		gt.NoError(t, err)
		gt.True(t, strings.Contains(out, "lookup_sales_data -> analyze_sales_data"))
	})

	t.Run("unknown scorer", func(t *testing.T) {
		_, err := runApp(t, "run", "--query", "hello", "--scorer", "magic")
		gt.Error(t, err)
	})
}

func TestEvalCommand(t *testing.T) {
	dir := t.TempDir()
	fixtures := filepath.Join(dir, "cases.yaml")
	gt.NoError(t, os.WriteFile(fixtures, []byte(`
- id: lookup
  query: Show me all the sales for store 1320 on November 1st, 2021
  expected_tool_id: lookup_sales_data
  expected_trajectory: [lookup_sales_data]
- id: trends
  query: what trends do you see in this data
  expected_trajectory: [lookup_sales_data, analyze_sales_data]
`), 0600))
	output := filepath.Join(dir, "report.jsonl")

	out, err := runApp(t, "eval", "--fixtures", fixtures, "--workers", "2", "--output", output, "--min-score", "1")
	gt.NoError(t, err)
	gt.True(t, strings.Contains(out, "aggregate"))

	raw, err := os.ReadFile(output)
	gt.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	gt.A(t, lines).Length(2)

	var c eval.Case
	gt.NoError(t, json.Unmarshal([]byte(lines[1]), &c))
	gt.Equal(t, c.ID, "trends")
	gt.Equal(t, c.Score(eval.KindTrajectory), 1.0)

	t.Run("min score", func(t *testing.T) {
		wrong := filepath.Join(dir, "wrong.jsonl")
		gt.NoError(t, os.WriteFile(wrong, []byte(`{"query":"hello","expected_trajectory":["generate_visualization"]}`+"\n"), 0600))
		_, err := runApp(t, "eval", "--fixtures", wrong, "--min-score", "0.5")
		gt.Error(t, err)
	})
}

type closeFailure struct {
	bytes.Buffer
}

func (closeFailure) Close() error { return errors.New("disk full") }

func TestWriteReportClose(t *testing.T) {
	report := &eval.Report{Cases: []*eval.Case{{ID: "lookup"}}}

	var w closeFailure
	err := main.WriteReport(&w, "report.jsonl", report)
	gt.Error(t, err)
	gt.True(t, strings.Contains(err.Error(), "failed to close output file"))
	gt.True(t, strings.Contains(w.String(), `"lookup"`))
}

func TestStoreFlags(t *testing.T) {
	_, err := runApp(t, "show")
	gt.Error(t, err)

	_, err = runApp(t, "show", "--dir", t.TempDir(), "--bucket", "b")
	gt.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	_, err := main.NewLogger("debug", "json")
	gt.NoError(t, err)
	_, err = main.NewLogger("loud", "text")
	gt.Error(t, err)
	_, err = main.NewLogger("info", "xml")
	gt.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	gt.NoError(t, os.WriteFile(path, []byte(`
max_steps: 3
threshold: 0.25
tool_timeout: 2s
strict_routing: true
scorer: openai
openai:
  model: gpt-4o
`), 0600))

	cfg, err := main.LoadConfig(path)
	gt.NoError(t, err)
	gt.Equal(t, cfg.MaxSteps, 3)
	gt.Equal(t, *cfg.Threshold, 0.25)
	gt.Equal(t, cfg.ToolTimeout, 2*time.Second)
	gt.True(t, cfg.StrictRouting)
	gt.Equal(t, cfg.Scorer, "openai")
	gt.Equal(t, cfg.OpenAI.Model, "gpt-4o")

	empty, err := main.LoadConfig("")
	gt.NoError(t, err)
	gt.Equal(t, empty.MaxSteps, 0)

	_, err = main.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	gt.Error(t, err)
}

func storedTraces(t *testing.T, n int) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	for range n {
		_, err := runApp(t, "run", "--query", "what trends do you see in this data", "--dir", dir)
		gt.NoError(t, err)
	}
	ids, err := trace.NewFileRepository(dir).List(t.Context())
	gt.NoError(t, err)
	gt.A(t, ids).Length(n)
	return dir, ids
}

func TestServer(t *testing.T) {
	dir, ids := storedTraces(t, 3)
	s := main.NewServer(main.WithStore(main.StoreFor(dir)))

	get := func(t *testing.T, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec
	}

	t.Run("health", func(t *testing.T) {
		rec := get(t, "/api/health")
		gt.Equal(t, rec.Code, http.StatusOK)
	})

	t.Run("list with pages", func(t *testing.T) {
		rec := get(t, "/api/traces?page_size=2")
		gt.Equal(t, rec.Code, http.StatusOK)
		var first main.ListTracesResponse
		gt.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
		gt.Equal(t, first.TraceIDs, ids[:2])
		gt.NotEqual(t, first.NextPageToken, "")

		rec = get(t, "/api/traces?page_size=2&page_token="+first.NextPageToken)
		var second main.ListTracesResponse
		gt.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
		gt.Equal(t, second.TraceIDs, ids[2:])
		gt.Equal(t, second.NextPageToken, "")
	})

	t.Run("invalid page size", func(t *testing.T) {
		gt.Equal(t, get(t, "/api/traces?page_size=abc").Code, http.StatusBadRequest)
	})

	t.Run("get trace", func(t *testing.T) {
		rec := get(t, "/api/traces/"+ids[0])
		gt.Equal(t, rec.Code, http.StatusOK)
		var resp map[string]any
		gt.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		gt.Equal(t, resp["trace_id"], any(ids[0]))
	})

	t.Run("tree", func(t *testing.T) {
		rec := get(t, "/api/traces/"+ids[0]+"/tree")
		gt.Equal(t, rec.Code, http.StatusOK)
		gt.True(t, strings.Contains(rec.Body.String(), "[tool] analyze_sales_data ok"))
	})

	t.Run("missing trace", func(t *testing.T) {
		gt.Equal(t, get(t, "/api/traces/nonexistent").Code, http.StatusNotFound)
	})
}

func TestPaginate(t *testing.T) {
	ids := []string{"c", "a", "b"}
	page := main.Paginate(ids, "", 2)
	gt.Equal(t, page.TraceIDs, []string{"a", "b"})
	gt.NotEqual(t, page.NextPageToken, "")

	page = main.Paginate(ids, "b", 2)
	gt.Equal(t, page.TraceIDs, []string{"c"})
	gt.Equal(t, page.NextPageToken, "")

	page = main.Paginate(nil, "", 2)
	gt.A(t, page.TraceIDs).Length(0)
}

func TestSpanLine(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	span := &trace.Span{
		ID:         "s1",
		Kind:       trace.SpanKindRouter,
		Label:      "route",
		StartedAt:  start,
		EndedAt:    start.Add(5 * time.Millisecond),
		Status:     trace.SpanStatusOK,
		Attributes: map[string]any{trace.AttrRationale: "no candidate tools"},
	}
	gt.Equal(t, main.SpanLine(span), "[router] route ok 5ms -> (no tool) (no candidate tools)")
}
