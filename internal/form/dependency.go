package form

// dependency.go resolves cross-field influences.
//
// A source field lists Dependencies, each targeting another field with an
// Influence:
//
//	Visibility{When}                     controls the target's visibility
//	Composite{Visible, Required, Options} controls any subset of the three
//
// Resolution is a pure function of the source's new value and the form state.
// By default only the changed field's influences are evaluated (one hop per
// change). Propagate with transitive=true also re-resolves every field the
// change reached, visiting each field at most once.

import (
	"slices"

	"github.com/JonMunkholm/erpshell/internal/value"
)

// Predicate decides a boolean attribute from the source value and form state.
type Predicate interface {
	Eval(v value.Value, s State) bool
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(v value.Value, s State) bool

func (f PredicateFunc) Eval(v value.Value, s State) bool { return f(v, s) }

// OptionsProvider computes the choices of a select field.
type OptionsProvider interface {
	Options(v value.Value, s State) []Option
}

// OptionsFunc adapts a function to OptionsProvider.
type OptionsFunc func(v value.Value, s State) []Option

func (f OptionsFunc) Options(v value.Value, s State) []Option { return f(v, s) }

// Influence is either Visibility or Composite.
type Influence interface {
	isInfluence()
}

// Visibility shows the target while When holds.
type Visibility struct {
	When Predicate
}

// Composite computes any of visible, required and options for the target.
// Nil members leave that attribute untouched.
type Composite struct {
	Visible  Predicate
	Required Predicate
	Options  OptionsProvider
}

func (Visibility) isInfluence() {}
func (Composite) isInfluence()  {}

// Dependency is one influence of a source field over Target.
type Dependency struct {
	Target    string
	Influence Influence
}

// Override is the computed adjustment of one field. Nil members are not
// overridden.
type Override struct {
	Visible  *bool    `json:"visible,omitempty"`
	Required *bool    `json:"required,omitempty"`
	Options  []Option `json:"options,omitempty"`
}

// merge returns o with every attribute set in n replaced.
func (o Override) merge(n Override) Override {
	if n.Visible != nil {
		o.Visible = n.Visible
	}
	if n.Required != nil {
		o.Required = n.Required
	}
	if n.Options != nil {
		o.Options = n.Options
	}
	return o
}

func (o Override) equal(n Override) bool {
	return ptrEqual(o.Visible, n.Visible) && ptrEqual(o.Required, n.Required) && slices.Equal(o.Options, n.Options)
}

func ptrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Resolve evaluates source's influences for its value v, in declaration
// order. Several influences on the same target are merged, later ones win.
func Resolve(source FieldSpec, v value.Value, s State) map[string]Override {
	out := make(map[string]Override, len(source.Dependencies))
	for _, dep := range source.Dependencies {
		var o Override
		switch inf := dep.Influence.(type) {
		case Visibility:
			if inf.When != nil {
				b := inf.When.Eval(v, s)
				o.Visible = &b
			}
		case Composite:
			if inf.Visible != nil {
				b := inf.Visible.Eval(v, s)
				o.Visible = &b
			}
			if inf.Required != nil {
				b := inf.Required.Eval(v, s)
				o.Required = &b
			}
			if inf.Options != nil {
				o.Options = inf.Options.Options(v, s)
				if o.Options == nil {
					o.Options = []Option{}
				}
			}
		default:
			continue
		}
		out[dep.Target] = out[dep.Target].merge(o)
	}
	return out
}

// Propagate applies the influences of source to s.Overrides and returns the
// resulting override map; s is not modified. With transitive set, every
// target whose override changed is resolved in turn (breadth first), and no
// field is resolved twice, so cycles terminate.
func Propagate(fields map[string]FieldSpec, source string, s State, transitive bool) map[string]Override {
	overrides := make(map[string]Override, len(s.Overrides))
	for k, o := range s.Overrides {
		overrides[k] = o
	}
	st := State{Values: s.Values, Overrides: overrides, Log: s.Log}

	queue := []string{source}
	visited := map[string]bool{source: true}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		spec, ok := fields[name]
		if !ok || len(spec.Dependencies) == 0 {
			continue
		}

		resolved := Resolve(spec, st.Get(name), st)
		// Apply in declaration order so later hops see a stable sequence.
		for _, dep := range spec.Dependencies {
			target := dep.Target
			o, ok := resolved[target]
			if !ok {
				continue
			}
			delete(resolved, target)

			before := overrides[target]
			after := before.merge(o)
			overrides[target] = after

			if transitive && !visited[target] && !before.equal(after) {
				visited[target] = true
				queue = append(queue, target)
			}
		}
	}
	return overrides
}
