// Package locator resolves one logical UI target through an ordered list of
// element-locating strategies.
package locator

import (
	"errors"
	"fmt"
	"strings"
)

// Strategy is one way of identifying an element.
type Strategy int

const (
	// ByID matches the element id attribute.
	ByID Strategy = iota
	// ByCSS matches a CSS selector.
	ByCSS
	// ByXPath matches an XPath expression.
	ByXPath
	// ByText matches visible text. Expr is "selector|pattern" or just a pattern.
	ByText
	// ByAttr matches "attr=value" as a contains-match, or the bare attribute.
	ByAttr
	// ByScript runs a JS function body that returns the element.
	ByScript
)

var strategyNames = map[Strategy]string{
	ByID:     "id",
	ByCSS:    "css",
	ByXPath:  "xpath",
	ByText:   "text",
	ByAttr:   "attr",
	ByScript: "script",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// ErrUnknownStrategy is returned by ParseStrategy.
var ErrUnknownStrategy = errors.New("unknown locator strategy")

// ParseStrategy converts a recipe name (id, css, xpath, text, attr, script) to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range strategyNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// Locator is one (strategy, expression) pair.
type Locator struct {
	Strategy Strategy
	Expr     string
}

func (l Locator) String() string {
	return fmt.Sprintf("%s %q", l.Strategy, l.Expr)
}

// Def is the serialisable form of a Locator used in recipe files.
type Def struct {
	By   string `json:"by" yaml:"by"`
	Expr string `json:"expr" yaml:"expr"`
}

// Spec is an immutable, ordered list of locators for one logical target.
// Strategies are tried in order, most specific first.
type Spec struct {
	name     string
	locators []Locator
}

// NewSpec builds a Spec. The slice is copied.
func NewSpec(name string, locators ...Locator) Spec {
	return Spec{name: name, locators: append([]Locator(nil), locators...)}
}

// FromDefs builds a Spec from recipe definitions.
func FromDefs(name string, defs []Def) (Spec, error) {
	locators := make([]Locator, 0, len(defs))
	for i, d := range defs {
		s, err := ParseStrategy(d.By)
		if err != nil {
			return Spec{}, fmt.Errorf("%s[%d]: %w", name, i, err)
		}
		if strings.TrimSpace(d.Expr) == "" {
			return Spec{}, fmt.Errorf("%s[%d]: empty expression", name, i)
		}
		locators = append(locators, Locator{Strategy: s, Expr: d.Expr})
	}
	return NewSpec(name, locators...), nil
}

// Name identifies the target in logs and errors.
func (s Spec) Name() string { return s.name }

// Len returns the number of strategies.
func (s Spec) Len() int { return len(s.locators) }

// Empty reports whether the spec has no strategies.
func (s Spec) Empty() bool { return len(s.locators) == 0 }

// At returns the i-th locator.
func (s Spec) At(i int) Locator { return s.locators[i] }

// Locators returns a copy of the ordered locators.
func (s Spec) Locators() []Locator {
	return append([]Locator(nil), s.locators...)
}

// Bind returns a copy with every "{key}" placeholder in the expressions
// replaced by value, e.g. Bind("index", "3") for the third list row.
func (s Spec) Bind(key, value string) Spec {
	placeholder := "{" + key + "}"
	out := Spec{name: s.name, locators: make([]Locator, len(s.locators))}
	for i, l := range s.locators {
		out.locators[i] = Locator{Strategy: l.Strategy, Expr: strings.ReplaceAll(l.Expr, placeholder, value)}
	}
	return out
}
