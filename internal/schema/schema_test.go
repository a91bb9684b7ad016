package schema

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/erpshell/internal/form"
	"github.com/JonMunkholm/erpshell/internal/table"
	"github.com/JonMunkholm/erpshell/internal/value"
)

const ledgerYAML = `
id: ledger
title: Ledger
group: finance
table:
  pageSize: 5
  features:
    export: false
  columns:
    - key: name
      header: Name
    - key: amount
      type: currency
      filterable: true
    - key: booked
      type: date
      sortable: false
  bulkActions:
    - id: post
      set: {amount: "0"}
    - id: purge
      delete: true
  records:
    - id: a
      fields: {name: Rent, amount: "1,200.00", booked: "2024-01-31"}
    - id: b
      fields: {name: Coffee, amount: 4.5}
`

func TestParse_Table(t *testing.T) {
	s, err := ParseBytes([]byte(ledgerYAML))
	require.NoError(t, err)

	assert.Equal(t, "ledger", s.ID)
	assert.True(t, s.HasTable())
	assert.False(t, s.HasWizard())
	require.Len(t, s.Columns, 3)

	assert.Equal(t, table.ColumnText, s.Columns[0].Type)
	assert.Equal(t, table.ColumnCurrency, s.Columns[1].Type)
	assert.True(t, s.Columns[1].Filterable)
	assert.True(t, s.Columns[2].Unsortable)
	assert.Equal(t, "amount", s.Columns[1].Label())

	require.Len(t, s.Records, 2)
	assert.Equal(t, value.Number(1200), s.Records[0].Fields["amount"])
	booked, ok := s.Records[0].Fields["booked"].(value.Value).Time()
	require.True(t, ok)
	assert.Equal(t, 2024, booked.Year())

	post, ok := s.BulkAction("post")
	require.True(t, ok)
	assert.Equal(t, "post", post.Label)
	assert.Equal(t, map[string]any{"amount": value.Number(0)}, post.Set)

	purge, ok := s.BulkAction("purge")
	require.True(t, ok)
	assert.True(t, purge.Delete)

	_, ok = s.BulkAction("void")
	assert.False(t, ok)
}

func TestScreen_TableOptions(t *testing.T) {
	s, err := ParseBytes([]byte(ledgerYAML))
	require.NoError(t, err)

	opts := s.TableOptions(table.DefaultOptions())
	assert.Equal(t, 5, opts.PageSize)
	assert.False(t, opts.EnableExport)
	assert.True(t, opts.EnableSearch, "unset flags keep the base value")
}

func TestScreen_CloneRecords(t *testing.T) {
	s, err := ParseBytes([]byte(ledgerYAML))
	require.NoError(t, err)

	recs := s.CloneRecords()
	recs[0].Fields["name"] = value.String("changed")
	assert.Equal(t, value.String("Rent"), s.Records[0].Fields["name"])
}

const wizardYAML = `
id: signup
wizard:
  transitiveDependencies: true
  steps:
    - id: one
      fields:
        - name: country
          type: select
          options: [{value: US}, {value: FR, label: France}]
          dependencies:
            - target: state
              visibleWhen: value == "US"
            - target: vat
              required: value == "FR"
        - name: state
          required: true
    - id: two
      fields:
        - name: email
          type: email
          required: true
          messages:
            required: We need an email
        - name: vat
          pattern: '^FR\d+$'
        - name: code
          minLength: 2
          custom: 'value != "xx"'
        - name: proof
          type: file
          file: {maxSize: 10, accept: [".pdf"]}
`

func TestParse_Wizard(t *testing.T) {
	s, err := ParseBytes([]byte(wizardYAML))
	require.NoError(t, err)

	assert.False(t, s.HasTable())
	require.True(t, s.HasWizard())
	require.Len(t, s.Steps, 2)

	country := s.Steps[0].Fields[0]
	assert.Equal(t, form.FieldSelect, country.Type)
	assert.Equal(t, []form.Option{{Value: "US", Label: "US"}, {Value: "FR", Label: "France"}}, country.Options)
	require.Len(t, country.Dependencies, 2)
	assert.IsType(t, form.Visibility{}, country.Dependencies[0].Influence)
	assert.IsType(t, form.Composite{}, country.Dependencies[1].Influence)

	email := s.Steps[1].Fields[0]
	assert.True(t, email.Rules.Email, "email type implies the email rule")
	assert.Equal(t, "We need an email", email.Rules.Messages.Required)

	vat := s.Steps[1].Fields[1]
	require.NotNil(t, vat.Rules.Pattern)
	assert.True(t, vat.Rules.Pattern.MatchString("FR123"))

	proof := s.Steps[1].Fields[3]
	require.NotNil(t, proof.File)
	assert.Equal(t, int64(10), proof.File.MaxSize)

	opts := s.WizardOptions(form.Options{})
	assert.True(t, opts.TransitiveDependencies)
	assert.False(t, opts.AllowStepSkipping)
}

func TestParse_WizardDrivesEngine(t *testing.T) {
	s, err := ParseBytes([]byte(wizardYAML))
	require.NoError(t, err)

	w := form.New(s.Steps, s.WizardOptions(form.Options{}), form.Callbacks{})
	defer w.Dispose()

	require.NoError(t, w.SetFieldValue("country", "US"))
	snap := w.Snapshot()
	assert.Contains(t, snap.VisibleFields, "state")

	assert.Equal(t, "", w.ValidateField("code", "ok"))
	assert.Equal(t, form.MsgCustom, w.ValidateField("code", "xx"))
	assert.Equal(t, "We need an email", w.ValidateField("email", ""))
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", ``, "empty document"},
		{"unknown key", "id: x\ntable:\n  colums: []\n", "colums"},
		{"no id", "table:\n  columns: [{key: a}]\n", "id is required"},
		{"no engines", "id: x\n", "needs a table or a wizard"},
		{"duplicate column", "id: x\ntable:\n  columns: [{key: a}, {key: a}]\n", `duplicate column "a"`},
		{"bad column type", "id: x\ntable:\n  columns: [{key: a, type: money}]\n", `unknown type "money"`},
		{"bulk sets unknown column", "id: x\ntable:\n  columns: [{key: a}]\n  bulkActions: [{id: b, set: {z: 1}}]\n", `unknown column "z"`},
		{"record without id", "id: x\ntable:\n  columns: [{key: a}]\n  records: [{fields: {a: 1}}]\n", "has no id"},
		{"unreadable cell", "id: x\ntable:\n  columns: [{key: n, type: number}]\n  records: [{id: r, fields: {n: lots}}]\n", "cannot read"},
		{"bad field type", "id: x\nwizard:\n  steps: [{fields: [{name: a, type: color}]}]\n", `unknown type "color"`},
		{"duplicate field", "id: x\nwizard:\n  steps: [{fields: [{name: a}]}, {fields: [{name: a}]}]\n", `duplicate field "a"`},
		{"bad pattern", "id: x\nwizard:\n  steps: [{fields: [{name: a, pattern: '('}]}]\n", "pattern"},
		{"bad expression", "id: x\nwizard:\n  steps: [{fields: [{name: a, custom: 'value =='}]}]\n", "custom"},
		{"unknown target", "id: x\nwizard:\n  steps: [{fields: [{name: a, dependencies: [{target: z, visibleWhen: 'true'}]}]}]\n", `target "z"`},
		{"mixed rule", "id: x\nwizard:\n  steps: [{fields: [{name: a, dependencies: [{target: b, visibleWhen: 'true', required: 'true'}]}, {name: b}]}]\n", "mixes"},
		{"empty rule", "id: x\nwizard:\n  steps: [{fields: [{name: a, dependencies: [{target: b}]}, {name: b}]}]\n", "has no rule"},
		{"file on text", "id: x\nwizard:\n  steps: [{fields: [{name: a, file: {maxSize: 1}}]}]\n", "file constraints"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBytes([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("a.yaml", "id: a\ngroup: g1\ntable:\n  columns: [{key: x}]\n")
	write("b.yml", "id: b\ngroup: g2\ntable:\n  columns: [{key: x}]\n")
	write("readme.txt", "not a screen")

	screens, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, screens, 2)
	assert.Equal(t, "a", screens[0].ID)
	assert.Equal(t, "b", screens[1].ID)

	write("c.yaml", "id: a\ntable:\n  columns: [{key: x}]\n")
	_, err = LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already defined in a.yaml")
}

func TestLoadDir_ShippedScreens(t *testing.T) {
	screens, err := LoadDir(filepath.Join("..", "..", "schemas"))
	require.NoError(t, err)
	require.NotEmpty(t, screens)

	for _, s := range screens {
		if s.HasTable() {
			e := table.New(s.Columns, s.CloneRecords(), s.TableOptions(table.DefaultOptions()), table.Callbacks{})
			assert.Equal(t, len(s.Records), e.View().TotalRows, s.ID)
		}
		if s.HasWizard() {
			w := form.New(s.Steps, s.WizardOptions(form.Options{}), form.Callbacks{})
			assert.Equal(t, len(s.Steps), w.Snapshot().StepCount, s.ID)
			w.Dispose()
		}
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&Screen{ID: "b", Group: "sales"})
	r.MustRegister(&Screen{ID: "a", Group: "sales"})
	r.MustRegister(&Screen{ID: "c", Group: "finance"})

	assert.Equal(t, 3, r.Len())
	assert.Error(t, r.Register(&Screen{ID: "a"}))
	assert.Panics(t, func() { r.MustRegister(&Screen{ID: "a"}) })

	s, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", s.ID)

	_, err = r.Get("zzz")
	assert.ErrorIs(t, err, ErrNotFound)

	var ids []string
	for _, s := range r.All() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
	assert.Len(t, r.ByGroup("sales"), 2)
	assert.Equal(t, []string{"finance", "sales"}, r.Groups())

	r.Clear()
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_LoadDirAllOrNothing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.yaml"), []byte("id: x\ntable:\n  columns: [{key: k}]\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "y.yaml"), []byte("id: y\ntable:\n  columns: [{key: k}]\n"), 0o644))

	r := NewRegistry()
	r.MustRegister(&Screen{ID: "y"})

	_, err := r.LoadDir(dir)
	require.Error(t, err)
	assert.Equal(t, 1, r.Len())

	r.Clear()
	n, err := r.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRegistry_Reload(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("x.yaml", "id: x\ntable:\n  columns: [{key: k}]\n")

	r := NewRegistry()
	r.MustRegister(&Screen{ID: "old"})

	n, err := r.Reload(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = r.Get("old")
	assert.ErrorIs(t, err, ErrNotFound)

	write("broken.yaml", "id: [")
	_, err = r.Reload(dir)
	require.Error(t, err)
	_, err = r.Get("x")
	assert.NoError(t, err, "a failed reload keeps the previous screens")
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, dir, 20*time.Millisecond, func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
	}()

	// Retry the write until the watcher is registered.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	body := []byte("id: w\ntable:\n  columns: [{key: k}]\n")
loop:
	for {
		select {
		case <-changed:
			break loop
		case <-tick.C:
			require.NoError(t, os.WriteFile(filepath.Join(dir, "w.yaml"), body, 0o644))
		case <-deadline:
			t.Fatal("no change notification")
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop")
	}
}

func TestWatch_MissingDir(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope"), 0, func() {})
	assert.Error(t, err)
}
