package eval

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Expectation is the ground truth for one query.
type Expectation struct {
	ID    string `json:"id,omitempty" yaml:"id,omitempty"`
	Query string `json:"query" yaml:"query"`

	// ExpectedToolID is the tool the first routing point should choose. Empty
	// with an empty trajectory means the query should be answered directly.
	ExpectedToolID string `json:"expected_tool_id,omitempty" yaml:"expected_tool_id,omitempty"`

	// ExpectedArguments are the arguments expected for ExpectedToolID. Only the
	// listed keys are compared.
	ExpectedArguments map[string]any `json:"expected_arguments,omitempty" yaml:"expected_arguments,omitempty"`

	// ExpectedTrajectory is the ordered list of tool IDs the run should invoke.
	ExpectedTrajectory []string `json:"expected_trajectory,omitempty" yaml:"expected_trajectory,omitempty"`
}

// Validate checks that the expectation is usable.
func (x *Expectation) Validate() error {
	eb := goerr.NewBuilder(goerr.V("id", x.ID))
	if strings.TrimSpace(x.Query) == "" {
		return eb.Wrap(ErrInvalidExpectation, "query is required")
	}
	if len(x.ExpectedArguments) > 0 && x.ExpectedToolID == "" {
		return eb.Wrap(ErrInvalidExpectation, "expected_arguments requires expected_tool_id")
	}
	if x.ExpectedToolID != "" && len(x.ExpectedTrajectory) > 0 && !slices.Contains(x.ExpectedTrajectory, x.ExpectedToolID) {
		return eb.Wrap(ErrInvalidExpectation, "expected_tool_id is not part of expected_trajectory",
			goerr.V("expected_tool_id", x.ExpectedToolID))
	}
	for i, id := range x.ExpectedTrajectory {
		if id == "" {
			return eb.Wrap(ErrInvalidExpectation, "empty tool id in expected_trajectory", goerr.V("index", i))
		}
	}
	return nil
}

// routing returns the expected tool ID per routing point.
func (x *Expectation) routing() []string {
	if len(x.ExpectedTrajectory) > 0 {
		return x.ExpectedTrajectory
	}
	if x.ExpectedToolID != "" {
		return []string{x.ExpectedToolID}
	}
	return nil
}

// expectedTools returns the set of tool IDs a run is expected to invoke.
func (x *Expectation) expectedTools() map[string]bool {
	set := map[string]bool{}
	for _, id := range x.routing() {
		set[id] = true
	}
	if x.ExpectedToolID != "" {
		set[x.ExpectedToolID] = true
	}
	return set
}

// LoadExpectations reads expectations in JSON Lines format. Blank lines are skipped.
func LoadExpectations(r io.Reader) ([]Expectation, error) {
	var exps []Expectation
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var exp Expectation
		if err := json.Unmarshal([]byte(text), &exp); err != nil {
			return nil, goerr.Wrap(ErrInvalidExpectation, "failed to decode expectation", goerr.V("line", line), goerr.V("cause", err.Error()))
		}
		exps = append(exps, exp)
	}
	if err := scanner.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to read expectations")
	}
	return exps, nil
}

// LoadExpectationsFile reads expectations from path. The format follows the
// extension: .jsonl, .json (array), .yaml or .yml (sequence).
func LoadExpectationsFile(path string) ([]Expectation, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open expectation file", goerr.V("path", path))
	}
	defer f.Close()

	var exps []Expectation
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".jsonl", ".ndjson":
		return LoadExpectations(f)
	case ".json":
		if err := json.NewDecoder(f).Decode(&exps); err != nil {
			return nil, goerr.Wrap(ErrInvalidExpectation, "failed to decode JSON expectations", goerr.V("path", path), goerr.V("cause", err.Error()))
		}
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(f).Decode(&exps); err != nil && err != io.EOF {
			return nil, goerr.Wrap(ErrInvalidExpectation, "failed to decode YAML expectations", goerr.V("path", path), goerr.V("cause", err.Error()))
		}
	default:
		return nil, goerr.Wrap(ErrInvalidExpectation, "unsupported expectation file format", goerr.V("path", path), goerr.V("ext", ext))
	}
	return exps, nil
}
