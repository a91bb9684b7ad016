package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/erpshell/internal/schema"
	"github.com/JonMunkholm/erpshell/internal/table"
	"github.com/JonMunkholm/erpshell/internal/value"
)

type viewFlags struct {
	records  string
	search   string
	sorts    []string
	filters  []string
	hide     []string
	page     int
	pageSize int
	export   string
	totals   bool
}

func newViewCmd() *cobra.Command {
	var f viewFlags
	cmd := &cobra.Command{
		Use:   "view <screen.yaml>",
		Short: "Print one page of a screen's table",
		Long: `Print one page of a screen's table after search, filters and sort.

Filters are key=value for an exact match, key=a|b for membership and
key=from..to for an inclusive range (either bound may be empty).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := schema.LoadFile(args[0])
			if err != nil {
				return err
			}
			if !sc.HasTable() {
				return fmt.Errorf("screen %q has no table", sc.ID)
			}
			return runView(cmd.OutOrStdout(), sc, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.records, "records", "", "JSON file of records ([{id, fields}]) replacing the screen's seed records")
	fl.StringVarP(&f.search, "search", "s", "", "search term")
	fl.StringSliceVar(&f.sorts, "sort", nil, "sort column; repeat a column to flip it to descending")
	fl.StringArrayVarP(&f.filters, "filter", "f", nil, "column filter (key=value, key=a|b, key=from..to)")
	fl.StringSliceVar(&f.hide, "hide", nil, "columns to hide")
	fl.IntVarP(&f.page, "page", "p", 1, "page number")
	fl.IntVar(&f.pageSize, "page-size", 0, "rows per page (default from the screen)")
	fl.StringVar(&f.export, "export", "", "write the whole result as csv or json instead of a page")
	fl.BoolVar(&f.totals, "totals", false, "print numeric column aggregations")
	return cmd
}

func runView(out io.Writer, sc *schema.Screen, f viewFlags) error {
	recs := sc.CloneRecords()
	if f.records != "" {
		var err error
		if recs, err = readRecords(f.records); err != nil {
			return err
		}
	}

	opts := sc.TableOptions(table.DefaultOptions())
	if f.pageSize > 0 {
		opts.PageSize = f.pageSize
	}
	e := table.New(sc.Columns, recs, opts, table.Callbacks{})

	for _, key := range f.hide {
		if !e.SetColumnVisible(key, false) {
			return fmt.Errorf("cannot hide column %q", key)
		}
	}
	if f.search != "" {
		e.SetSearchTerm(f.search)
	}
	for _, raw := range f.filters {
		key, flt, err := parseFilter(raw)
		if err != nil {
			return err
		}
		if !e.ApplyFilter(key, flt) {
			return fmt.Errorf("column %q is not filterable", key)
		}
	}
	for _, key := range f.sorts {
		if !e.SortBy(key) {
			return fmt.Errorf("column %q is not sortable", key)
		}
	}

	if f.export != "" {
		exp, ok := table.ExporterFor(f.export)
		if !ok {
			return fmt.Errorf("unsupported export format %q", f.export)
		}
		payload, err := e.RequestExport(context.Background(), f.export)
		if err != nil {
			return err
		}
		return exp.Write(out, payload)
	}

	e.SetPage(f.page)
	vm := e.View()
	if err := printPage(out, vm); err != nil {
		return err
	}
	if f.totals {
		return printTotals(out, vm.Columns, e.Aggregations())
	}
	return nil
}

func readRecords(path string) ([]table.Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var recs []table.Record
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recs, nil
}

// parseFilter reads key=value, key=a|b or key=from..to.
func parseFilter(raw string) (string, table.Filter, error) {
	key, expr, ok := strings.Cut(raw, "=")
	if !ok || key == "" {
		return "", table.Filter{}, fmt.Errorf("filter %q: want key=value", raw)
	}
	if from, to, ok := strings.Cut(expr, ".."); ok {
		return key, table.Between(bound(from), bound(to)), nil
	}
	parts := strings.Split(expr, "|")
	vals := make([]any, len(parts))
	for i, p := range parts {
		vals[i] = p
	}
	return key, table.OneOf(vals...), nil
}

func bound(s string) any {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return s
}

func printPage(out io.Writer, vm table.ViewModel) error {
	if len(vm.Columns) == 0 {
		return errors.New("every column is hidden")
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for i, c := range vm.Columns {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, strings.ToUpper(c.Label()))
	}
	fmt.Fprintln(tw)

	for _, rec := range vm.Rows {
		for i, c := range vm.Columns {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, value.Coerce(rec.Get(c.Key), c.Type.Kind()).String())
		}
		fmt.Fprintln(tw)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(out, "\npage %d of %d, %d row(s)\n", vm.Page, vm.TotalPages, vm.TotalRows)
	return err
}

func printTotals(out io.Writer, cols []table.ColumnSpec, aggs table.Aggregations) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nCOLUMN\tCOUNT\tSUM\tAVG\tMIN\tMAX")
	for _, c := range cols {
		a, ok := aggs[c.Key]
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n", c.Label(), a.Count,
			num(a.Sum), num(a.Avg), num(a.Min), num(a.Max))
	}
	return tw.Flush()
}

func num(p *float64) string {
	if p == nil {
		return "-"
	}
	return value.FormatNumber(*p)
}
