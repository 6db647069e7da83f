package agenteval

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"unicode"
)

// KeywordScorer is a deterministic lexical scorer. A candidate scores the share
// of query terms found in its name, description and keywords. Terms already
// matched by a tool invoked earlier in the run are consumed and do not count
// again, which lets a multi-part query walk through several tools.
type KeywordScorer struct {
	// AllowRepeat lets a tool be chosen again after it was invoked in the run.
	AllowRepeat bool

	// Prerequisites maps a tool ID to tool IDs that must have succeeded before it.
	// A candidate with a missing prerequisite hands its score to the prerequisite.
	Prerequisites map[string][]string

	// Arguments builds the call arguments for a candidate. Nil uses BuildArguments.
	Arguments func(in RouteInput, spec ToolSpec) map[string]any
}

// Score implements Scorer.
func (s *KeywordScorer) Score(ctx context.Context, in RouteInput, candidates []ToolSpec) ([]Score, error) {
	scores := make([]Score, len(candidates))
	terms := Terms(in.Query)
	if len(terms) == 0 {
		for i := range scores {
			scores[i].Reason = "query has no terms"
		}
		return scores, nil
	}

	invoked := map[string]bool{}
	succeeded := map[string]bool{}
	consumed := map[string]bool{}
	vocab := make(map[string]map[string]bool, len(candidates))
	for _, c := range candidates {
		vocab[c.Name] = Vocabulary(c)
	}
	for _, inv := range in.Invocations {
		invoked[inv.ToolID] = true
		if !inv.Succeeded() {
			continue
		}
		succeeded[inv.ToolID] = true
		for _, t := range terms {
			if vocab[inv.ToolID][t] {
				consumed[t] = true
			}
		}
	}

	index := make(map[string]int, len(candidates))
	for i, c := range candidates {
		index[c.Name] = i
		if invoked[c.Name] && !s.AllowRepeat {
			scores[i].Reason = "already invoked"
			continue
		}
		var matched []string
		for _, t := range terms {
			if !consumed[t] && vocab[c.Name][t] {
				matched = append(matched, t)
			}
		}
		if len(matched) == 0 {
			scores[i].Reason = "no matching terms"
			continue
		}
		scores[i].Value = float64(len(matched)) / float64(len(terms))
		scores[i].Reason = "matched terms: " + strings.Join(matched, ", ")
	}

	// Chains of prerequisites settle within len(candidates) passes.
	for range candidates {
		changed := false
		for i, c := range candidates {
			if scores[i].Value == 0 {
				continue
			}
			for _, pre := range s.Prerequisites[c.Name] {
				if succeeded[pre] {
					continue
				}
				j, ok := index[pre]
				if ok && (!invoked[pre] || s.AllowRepeat) && scores[j].Value < scores[i].Value {
					scores[j].Value = scores[i].Value
					scores[j].Reason = fmt.Sprintf("prerequisite of %s (%s)", c.Name, scores[i].Reason)
				}
				scores[i].Value = 0
				scores[i].Reason = "waiting for " + pre
				changed = true
				break
			}
		}
		if !changed {
			break
		}
	}

	build := s.Arguments
	if build == nil {
		build = BuildArguments
	}
	for i, c := range candidates {
		if scores[i].Value > 0 {
			scores[i].Arguments = build(in, c)
		}
	}
	return scores, nil
}

// BuildArguments fills call arguments for spec. A parameter takes the value stored
// under the same key by the latest successful invocation; otherwise a string
// parameter takes the query.
func BuildArguments(in RouteInput, spec ToolSpec) map[string]any {
	names := make([]string, 0, len(spec.Parameters))
	for name := range spec.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	args := make(map[string]any, len(names))
	for _, name := range names {
		if v, ok := latestResultValue(in.Invocations, name); ok {
			args[name] = v
			continue
		}
		if spec.Parameters[name].Type == TypeString {
			args[name] = in.Query
		}
	}
	return args
}

func latestResultValue(invocations []*ToolInvocation, key string) (any, bool) {
	for i := len(invocations) - 1; i >= 0; i-- {
		inv := invocations[i]
		if !inv.Succeeded() {
			continue
		}
		if v, ok := inv.Result[key]; ok {
			return v, true
		}
	}
	return nil, false
}

var stopwords = map[string]bool{}

func init() {
	for _, w := range strings.Fields(`a an and any are as at be by can could did do does for from
		get give i in is it its let me my need of on or our please show some tell that the
		their there these this those to up us want was we were what which who with would you your
		about all how see like have has had`) {
		stopwords[w] = true
	}
}

// Terms splits text into lower-cased, stemmed terms without stopwords, in first
// appearance order.
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var terms []string
	for _, f := range fields {
		if stopwords[f] {
			continue
		}
		t := stem(f)
		if !slices.Contains(terms, t) {
			terms = append(terms, t)
		}
	}
	return terms
}

// Vocabulary returns the set of terms a tool is known by.
func Vocabulary(spec ToolSpec) map[string]bool {
	v := map[string]bool{}
	text := []string{strings.ReplaceAll(spec.Name, "_", " "), spec.Description}
	text = append(text, spec.Keywords...)
	for _, t := range Terms(strings.Join(text, " ")) {
		v[t] = true
	}
	return v
}

func stem(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") && !strings.HasSuffix(w, "is"):
		return w[:len(w)-1]
	}
	return w
}
