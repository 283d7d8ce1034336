// Package scenario builds an atom graph from a JSON description and runs
// scripted steps against it. Scenarios back the stan CLI.
//
// A scenario declares atoms with initial values, derived cells and
// families defined by formulas, and a list of steps:
//
//	{
//	  "atoms": {"count1": 1, "count2": 1},
//	  "derived": {
//	    "sum": {
//	      "formula": "get(\"count1\") + get(\"count2\")",
//	      "set": {"count1": "value / 2", "count2": "value / 2"}
//	    }
//	  },
//	  "families": {
//	    "scaled": {"formula": "get(\"sum\") * float(key)"}
//	  },
//	  "steps": [
//	    {"op": "subscribe", "cell": "sum"},
//	    {"op": "set", "cell": "count1", "value": 2},
//	    {"op": "get", "cell": "sum", "expect": 3, "notified": 1},
//	    {"op": "get", "cell": "scaled/10", "expect": 30}
//	  ]
//	}
//
// Family members are addressed as "name/key"; keys are strings and are
// available to formulas as the variable key. Updater formulas see the
// written value as value.
package scenario

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/vango-dev/stan/internal/errors"
	"github.com/vango-dev/stan/internal/formula"
)

// Scenario is the parsed form of a scenario file.
type Scenario struct {
	Name     string          `json:"name,omitempty"`
	Engine   string          `json:"engine,omitempty"`
	Atoms    map[string]any  `json:"atoms,omitempty"`
	Derived  map[string]Cell `json:"derived,omitempty"`
	Families map[string]Cell `json:"families,omitempty"`
	Steps    []Step          `json:"steps,omitempty"`

	file string
}

// Cell defines a derived cell or a family.
type Cell struct {
	// Formula computes the value.
	Formula string `json:"formula"`

	// Engine overrides the scenario engine for this cell.
	Engine string `json:"engine,omitempty"`

	// Async resolves the cell on its own goroutine.
	Async bool `json:"async,omitempty"`

	// DelayMS delays each resolution, to simulate slow sources.
	DelayMS int `json:"delayMs,omitempty"`

	// Set makes the cell writable: each entry writes the result of a
	// formula to the named cell.
	Set map[string]string `json:"set,omitempty"`
}

// Step is one scripted operation.
type Step struct {
	// Op is get, set, subscribe, unsubscribe or settle.
	Op string `json:"op"`

	// Cell is the target, "name" or "family/key".
	Cell string `json:"cell,omitempty"`

	// Value is the value written by set.
	Value any `json:"value,omitempty"`

	// Expect is the value get must return.
	Expect json.RawMessage `json:"expect,omitempty"`

	// ExpectError is a substring the error of get or set must contain.
	ExpectError string `json:"expectError,omitempty"`

	// Notified is the number of notifications the subscribed cell must
	// have received so far.
	Notified *int `json:"notified,omitempty"`
}

// Ops supported by Step.
const (
	OpGet         = "get"
	OpSet         = "set"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpSettle      = "settle"
)

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New("S011").Wrap(err)
	}
	return Parse(data, path)
}

// Parse decodes and validates a scenario. file is used in diagnostics.
func Parse(data []byte, file string) (*Scenario, error) {
	s := &Scenario{file: file}
	if err := json.Unmarshal(data, s); err != nil {
		se := errors.New("S011").
			WithSuggestion("Check that the scenario is valid JSON").
			Wrap(err)
		var syntax *json.SyntaxError
		if stderrors.As(err, &syntax) && file != "" {
			line, col := errors.LineColumn(data, syntax.Offset)
			se.WithLocation(file, line, col)
		}
		return nil, se
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// File returns the path the scenario was loaded from.
func (s *Scenario) File() string { return s.file }

// Validate checks names, engines and steps. Formulas are compiled by Build.
func (s *Scenario) Validate() error {
	seen := make(map[string]string)
	check := func(kind, name string) error {
		if name == "" || strings.Contains(name, "/") {
			return errors.New("S011").
				WithDetail(fmt.Sprintf("%s name %q is invalid", kind, name)).
				WithSuggestion("Names must be non-empty and must not contain '/'")
		}
		if prev, ok := seen[name]; ok {
			return errors.New("S011").
				WithDetail(fmt.Sprintf("%q is defined both as %s and as %s", name, prev, kind))
		}
		seen[name] = kind
		return nil
	}

	for _, name := range sortedKeys(s.Atoms) {
		if err := check("atom", name); err != nil {
			return err
		}
	}
	for _, group := range []struct {
		kind  string
		cells map[string]Cell
	}{{"derived", s.Derived}, {"family", s.Families}} {
		for _, name := range sortedKeys(group.cells) {
			if err := check(group.kind, name); err != nil {
				return err
			}
			cell := group.cells[name]
			if cell.Formula == "" {
				return errors.New("S011").
					WithDetail(fmt.Sprintf("%s %q has no formula", group.kind, name))
			}
			if _, err := formula.New(s.engineFor(cell)); err != nil {
				return errors.New("S011").Wrap(err)
			}
		}
	}

	for i, step := range s.Steps {
		switch step.Op {
		case OpGet, OpSet, OpSubscribe, OpUnsubscribe:
			if step.Cell == "" {
				return errors.New("S011").
					WithDetail(fmt.Sprintf("step %d (%s) has no cell", i+1, step.Op))
			}
		case OpSettle:
		default:
			return errors.New("S011").
				WithDetail(fmt.Sprintf("step %d has unknown op %q", i+1, step.Op)).
				WithSuggestion("Use one of get, set, subscribe, unsubscribe, settle")
		}
	}
	return nil
}

func (s *Scenario) engineFor(cell Cell) string {
	if cell.Engine != "" {
		return cell.Engine
	}
	return s.Engine
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
