package form

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/erpshell/internal/value"
)

func TestExpr_Predicate(t *testing.T) {
	x, err := CompileExpr(`value == "US"`)
	require.NoError(t, err)

	assert.True(t, x.Eval(value.String("US"), State{}))
	assert.False(t, x.Eval(value.String("FR"), State{}))
	assert.False(t, x.Eval(value.Null(), State{}))
}

func TestExpr_ReadsOtherValues(t *testing.T) {
	x := MustExpr(`values.amount > 1000.0`)
	st := State{Values: map[string]value.Value{"amount": value.Number(2500)}}
	assert.True(t, x.Eval(value.Null(), st))

	st.Values["amount"] = value.Number(10)
	assert.False(t, x.Eval(value.Null(), st))

	st.Values["amount"] = value.Null()
	assert.False(t, x.Eval(value.Null(), st), "evaluation errors are false")
}

func TestExpr_Options(t *testing.T) {
	x := MustExpr(`value == "US" ? ["CA", "NY"] : ["--"]`)

	assert.Equal(t, []Option{{Value: "CA", Label: "CA"}, {Value: "NY", Label: "NY"}}, x.Options(value.String("US"), State{}))
	assert.Equal(t, []Option{{Value: "--", Label: "--"}}, x.Options(value.String("FR"), State{}))

	labelled := MustExpr(`[{"value": "n", "label": "Net 30"}]`)
	assert.Equal(t, []Option{{Value: "n", Label: "Net 30"}}, labelled.Options(value.Null(), State{}))
}

func TestExpr_Check(t *testing.T) {
	msg := MustExpr(`size(value) >= 3 ? "" : "Too short"`)
	assert.Equal(t, "", msg.Check(value.String("abcd"), State{}))
	assert.Equal(t, "Too short", msg.Check(value.String("ab"), State{}))

	boolean := MustExpr(`value != "forbidden"`)
	assert.Equal(t, "", boolean.Check(value.String("ok"), State{}))
	assert.Equal(t, MsgCustom, boolean.Check(value.String("forbidden"), State{}))
}

func TestCompileExpr_Error(t *testing.T) {
	_, err := CompileExpr(`value ==`)
	assert.Error(t, err)
	assert.Panics(t, func() { MustExpr(`)(`) })
}

func TestExpr_FailuresLogThroughWizardLogger(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})).
		With("screen", "vendors", "session_id", "s-1")

	steps := []Step{{ID: "one", Fields: []FieldSpec{
		{Name: "country", Type: FieldText, Dependencies: []Dependency{
			{Target: "memo", Influence: Visibility{When: MustExpr(`value > 1000.0`)}},
		}},
		{Name: "memo", Type: FieldText},
	}}}
	w, _ := newWizard(steps, Options{Logger: log}, Callbacks{})

	require.NoError(t, w.SetFieldValue("country", "US"))
	assert.NotContains(t, w.Snapshot().VisibleFields, "memo")

	out := buf.String()
	assert.Contains(t, out, "expression failed")
	assert.Contains(t, out, "screen=vendors")
	assert.Contains(t, out, "session_id=s-1")
}
