package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	schemaDir   = "../../schemas"
	invoicesDef = schemaDir + "/invoices.yaml"
	vendorDef   = schemaDir + "/vendor_onboarding.yaml"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestScreensCmd(t *testing.T) {
	out, err := run(t, "screens", "--dir", schemaDir)
	require.NoError(t, err)
	assert.Contains(t, out, "invoices")
	assert.Contains(t, out, "vendor-onboarding")
	assert.Contains(t, out, "3 steps")
}

func TestViewCmd_FilterAndSort(t *testing.T) {
	out, err := run(t, "view", invoicesDef, "-f", "status=open", "--sort", "amount")
	require.NoError(t, err)

	small := strings.Index(out, "INV-1005")
	large := strings.Index(out, "INV-1007")
	require.NotEqual(t, -1, small, out)
	require.NotEqual(t, -1, large, out)
	assert.Less(t, small, large, "ascending by amount")
	assert.NotContains(t, out, "INV-1002", "paid invoices are filtered out")
	assert.NotContains(t, out, "NOTES", "hidden columns are not printed")
}

func TestViewCmd_RangeFilterAndTotals(t *testing.T) {
	out, err := run(t, "view", invoicesDef, "-f", "amount=100..5000", "--totals")
	require.NoError(t, err)
	assert.Contains(t, out, "INV-1001")
	assert.Contains(t, out, "INV-1003")
	assert.NotContains(t, out, "INV-1007")
	assert.Contains(t, out, "COUNT")
}

func TestViewCmd_RecordsFileAndPaging(t *testing.T) {
	recs := writeFile(t, "recs.json", `[
		{"id": "a", "fields": {"number": "A-1", "amount": 3}},
		{"id": "b", "fields": {"number": "B-2", "amount": 1}},
		{"id": "c", "fields": {"number": "C-3", "amount": 2}}
	]`)

	out, err := run(t, "view", invoicesDef, "--records", recs, "--page-size", "2", "--page", "2", "--sort", "amount,amount")
	require.NoError(t, err)
	assert.Contains(t, out, "B-2", "descending, so the smallest is alone on page 2")
	assert.NotContains(t, out, "A-1")
	assert.Contains(t, out, "page 2 of 2, 3 row(s)")
}

func TestViewCmd_Export(t *testing.T) {
	out, err := run(t, "view", invoicesDef, "--export", "csv", "-s", "globex")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Invoice,Customer,Amount,Status,Due", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "INV-1002,Globex,"), lines[1])
}

func TestViewCmd_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad filter", []string{"view", invoicesDef, "-f", "status"}, "want key=value"},
		{"not filterable", []string{"view", invoicesDef, "-f", "number=INV-1001"}, "not filterable"},
		{"not sortable", []string{"view", invoicesDef, "--sort", "notes"}, "not sortable"},
		{"bad export", []string{"view", invoicesDef, "--export", "xml"}, "unsupported export format"},
		{"missing file", []string{"view", "nope.yaml"}, "nope.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateCmd_Valid(t *testing.T) {
	vals := writeFile(t, "vals.json", `{
		"name": "Acme Ltd",
		"country": "US",
		"state": "NY",
		"email": "ap@acme.example",
		"w9": {"name": "w9.pdf", "size": 10, "mimeType": "application/pdf", "contentRef": "r1"}
	}`)

	out, err := run(t, "validate", vendorDef, vals)
	require.NoError(t, err)
	assert.Contains(t, out, "all fields valid")
}

func TestValidateCmd_ReportsEveryStep(t *testing.T) {
	vals := writeFile(t, "vals.json", `{"name": "Acme", "country": "DE", "email": "not-an-email"}`)

	out, err := run(t, "validate", vendorDef, vals)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid field(s)")
	assert.Contains(t, out, "company.vatId:")
	assert.Contains(t, out, "contact.email:")
	assert.Contains(t, out, "documents.w9:")
	assert.NotContains(t, out, "company.state:", "state is hidden outside US and CA")
}

func TestValidateCmd_UnknownField(t *testing.T) {
	vals := writeFile(t, "vals.json", `{"nope": 1}`)
	_, err := run(t, "validate", vendorDef, vals)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")
}
