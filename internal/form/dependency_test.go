package form

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/erpshell/internal/value"
)

func equalsString(want string) Predicate {
	return PredicateFunc(func(v value.Value, _ State) bool { return v.String() == want })
}

func TestResolve_Visibility(t *testing.T) {
	country := FieldSpec{Name: "country", Dependencies: []Dependency{
		{Target: "state", Influence: Visibility{When: equalsString("US")}},
	}}

	got := Resolve(country, value.String("US"), State{})
	require.Contains(t, got, "state")
	assert.True(t, *got["state"].Visible)
	assert.Nil(t, got["state"].Required)

	got = Resolve(country, value.String("FR"), State{})
	assert.False(t, *got["state"].Visible)
}

func TestResolve_CompositeMergesInOrder(t *testing.T) {
	src := FieldSpec{Name: "type", Dependencies: []Dependency{
		{Target: "vat", Influence: Composite{
			Visible:  equalsString("business"),
			Required: equalsString("business"),
			Options: OptionsFunc(func(value.Value, State) []Option {
				return []Option{{Value: "std", Label: "Standard"}}
			}),
		}},
		{Target: "vat", Influence: Composite{
			Required: PredicateFunc(func(value.Value, State) bool { return false }),
		}},
	}}

	got := Resolve(src, value.String("business"), State{})["vat"]
	assert.True(t, *got.Visible)
	assert.False(t, *got.Required, "later influence wins")
	assert.Equal(t, []Option{{Value: "std", Label: "Standard"}}, got.Options)
}

// chain: a -> b (visible when a == "on"), b -> c (visible when b is visible).
func chainFields() map[string]FieldSpec {
	return map[string]FieldSpec{
		"a": {Name: "a", Dependencies: []Dependency{
			{Target: "b", Influence: Visibility{When: equalsString("on")}},
		}},
		"b": {Name: "b", Dependencies: []Dependency{
			{Target: "c", Influence: Visibility{When: PredicateFunc(func(_ value.Value, s State) bool {
				return s.Visible("b")
			})}},
		}},
		"c": {Name: "c"},
	}
}

func TestPropagate_SingleHopByDefault(t *testing.T) {
	st := State{Values: map[string]value.Value{"a": value.String("off")}}

	got := Propagate(chainFields(), "a", st, false)
	assert.False(t, *got["b"].Visible)
	assert.NotContains(t, got, "c", "second hop is not evaluated")
	assert.Nil(t, st.Overrides, "input state is not modified")
}

func TestPropagate_Transitive(t *testing.T) {
	st := State{Values: map[string]value.Value{"a": value.String("off")}}

	got := Propagate(chainFields(), "a", st, true)
	assert.False(t, *got["b"].Visible)
	require.Contains(t, got, "c")
	assert.False(t, *got["c"].Visible)

	st = State{Values: map[string]value.Value{"a": value.String("on")}, Overrides: got}
	got = Propagate(chainFields(), "a", st, true)
	assert.True(t, *got["b"].Visible)
	assert.True(t, *got["c"].Visible)
}

func TestPropagate_CycleTerminates(t *testing.T) {
	toggle := PredicateFunc(func(_ value.Value, s State) bool { return !s.Visible("x") })
	fields := map[string]FieldSpec{
		"x": {Name: "x", Dependencies: []Dependency{{Target: "y", Influence: Visibility{When: toggle}}}},
		"y": {Name: "y", Dependencies: []Dependency{{Target: "x", Influence: Visibility{When: PredicateFunc(
			func(_ value.Value, s State) bool { return !s.Visible("y") },
		)}}}},
	}

	got := Propagate(fields, "x", State{Values: map[string]value.Value{}}, true)
	assert.Contains(t, got, "x")
	assert.Contains(t, got, "y")
}
